package session_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/log"
	"github.com/pipelined/midisynth/metric"
	"github.com/pipelined/midisynth/mock"
	"github.com/pipelined/midisynth/session"
)

const (
	sampleRate = 48000
	numFrames  = 480
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(opener *mock.Opener, loader *mock.Loader) *session.Session {
	return session.New(
		session.WithSampleRate(sampleRate),
		session.WithOpener(opener),
		session.WithLoader(loader),
		session.WithLogger(log.Discard()),
	)
}

func silent(buf []float32) bool {
	for _, v := range buf {
		if v != 0 {
			return false
		}
	}
	return true
}

func peak(buf []float32) float32 {
	var p float32
	for _, v := range buf {
		if v < 0 {
			v = -v
		}
		if v > p {
			p = v
		}
	}
	return p
}

func TestOptions(t *testing.T) {
	opener := &mock.Opener{}
	s := session.New(
		session.WithSampleRate(44100),
		session.WithFramesPerBuffer(128),
		session.WithOpener(opener),
		session.WithLogger(log.Discard()),
	)
	assert.Equal(t, 44100, s.SampleRate())
	assert.NotEmpty(t, s.UID())
	assert.Equal(t, session.Uninitialized, s.State())
	assert.False(t, s.Loaded())

	assert.Nil(t, s.Initialize())
	f := opener.Last().Format
	assert.Equal(t, midisynth.NumChannels, f.NumChannels)
	assert.Equal(t, 44100, f.SampleRate)
	assert.Equal(t, 128, f.FramesPerBuffer)
	assert.True(t, f.LowLatency)
	assert.True(t, f.Exclusive)
	assert.Nil(t, s.Dispose())

	// options return previous value
	s = session.New(session.WithLogger(log.Discard()))
	undo := session.WithSampleRate(22050)(s)
	assert.Equal(t, 22050, s.SampleRate())
	undo(s)
	assert.Equal(t, midisynth.DefaultSampleRate, s.SampleRate())
}

func TestInitialize(t *testing.T) {
	opener := &mock.Opener{}
	s := newSession(opener, &mock.Loader{})

	assert.Nil(t, s.Initialize())
	assert.Equal(t, session.Running, s.State())
	assert.True(t, opener.Last().IsStarted())

	// second initialize doesn't open another stream
	assert.Nil(t, s.Initialize())
	assert.Equal(t, 1, opener.Opened())
	assert.Equal(t, session.Running, s.State())

	assert.Nil(t, s.Cleanup())
	assert.True(t, opener.Last().IsClosed())
	assert.Equal(t, session.Uninitialized, s.State())

	// cleaned up session can be initialized again
	assert.Nil(t, s.Initialize())
	assert.Equal(t, 2, opener.Opened())
	assert.Nil(t, s.Dispose())
}

func TestInitializeFailure(t *testing.T) {
	errOpen := errors.New("device busy")
	errStart := errors.New("start failed")
	errClose := errors.New("close failed")

	var tests = []struct {
		opener   *mock.Opener
		expected []error
		closed   bool
	}{
		{
			opener:   &mock.Opener{ErrorOnOpen: errOpen},
			expected: []error{session.ErrStreamOpen, errOpen},
		},
		{
			opener:   &mock.Opener{Hooks: mock.Hooks{ErrorOnStart: errStart}},
			expected: []error{session.ErrStreamStart, errStart},
			closed:   true,
		},
		{
			opener:   &mock.Opener{Hooks: mock.Hooks{ErrorOnStart: errStart, ErrorOnClose: errClose}},
			expected: []error{session.ErrStreamStart, errStart, errClose},
			closed:   true,
		},
	}
	for _, test := range tests {
		s := newSession(test.opener, &mock.Loader{})
		err := s.Initialize()
		assert.NotNil(t, err)
		for _, expected := range test.expected {
			assert.True(t, errors.Is(err, expected), "expected %v in %v", expected, err)
		}
		assert.Equal(t, session.Uninitialized, s.State())
		if test.closed {
			// half open stream is not retained
			assert.True(t, test.opener.Last().IsClosed())
		}
		// nothing to release
		assert.Nil(t, s.Cleanup())
	}

	// no opener
	s := session.New(session.WithLoader(&mock.Loader{}), session.WithLogger(log.Discard()))
	err := s.Initialize()
	assert.True(t, errors.Is(err, session.ErrStreamOpen))
	assert.Equal(t, session.Uninitialized, s.State())
}

func TestCleanup(t *testing.T) {
	errStop := errors.New("stop failed")
	errClose := errors.New("close failed")
	opener := &mock.Opener{Hooks: mock.Hooks{ErrorOnStop: errStop, ErrorOnClose: errClose}}
	loader := &mock.Loader{}
	s := newSession(opener, loader)
	assert.Nil(t, s.Initialize())
	assert.Nil(t, s.LoadSoundfont("a.sf2"))

	err := s.Cleanup()
	assert.True(t, errors.Is(err, errStop))
	assert.True(t, errors.Is(err, errClose))
	// bank is released even if stream failed
	assert.True(t, loader.Last().Closed)
	assert.False(t, s.Loaded())
	assert.Equal(t, session.Uninitialized, s.State())

	// idempotent
	assert.Nil(t, s.Cleanup())
	assert.Nil(t, s.Cleanup())
}

func TestDispose(t *testing.T) {
	opener := &mock.Opener{}
	loader := &mock.Loader{}
	s := newSession(opener, loader)
	assert.Nil(t, s.Initialize())
	assert.Nil(t, s.LoadSoundfont("a.sf2"))

	assert.Nil(t, s.Dispose())
	assert.Equal(t, session.Disposed, s.State())
	assert.True(t, opener.Last().IsClosed())
	assert.True(t, loader.Last().Closed)

	// disposed session is not reusable
	assert.Equal(t, session.ErrDisposed, s.Initialize())
	assert.Equal(t, session.ErrDisposed, s.LoadSoundfont("b.sf2"))
	assert.Equal(t, 1, opener.Opened())
	assert.Equal(t, 1, len(loader.Loaded()))
	assert.Nil(t, s.Dispose())
	assert.Nil(t, s.Cleanup())
	assert.Equal(t, session.Disposed, s.State())

	// calls after dispose are safe no-ops
	s.PlayNote(0, 60, 100)
	s.StopNote(0, 60)
	s.StopAllNotes()
	s.ChangeProgram(0, 1)
	out := make([]float32, 8)
	s.Render(out)
	assert.True(t, silent(out))
	assert.False(t, loader.Last().UsedAfterClose)
}

func TestCallsBeforeInitialize(t *testing.T) {
	s := newSession(&mock.Opener{}, &mock.Loader{})
	s.PlayNote(0, 60, 100)
	s.StopNote(0, 60)
	s.StopAllNotes()
	s.ChangeProgram(0, 1)
	assert.Nil(t, s.UnloadSoundfont())
	assert.Nil(t, s.Cleanup())
	assert.Equal(t, session.Uninitialized, s.State())
}

func TestRenderSilence(t *testing.T) {
	opener := &mock.Opener{}
	s := newSession(opener, &mock.Loader{})
	assert.Nil(t, s.Initialize())
	defer s.Dispose()

	stream := opener.Last()
	for _, frames := range []int{0, 1, 64, numFrames, 4096} {
		out := stream.Pull(frames)
		assert.Equal(t, frames*midisynth.NumChannels, len(out))
		assert.True(t, silent(out), "frames %d", frames)
	}
	s.Render(nil)
	s.Render([]float32{})

	values := metric.Get(s.UID())
	assert.Equal(t, "7", values[metric.CallbackCounter])
	assert.Equal(t, "7", values[metric.SilentCounter])
}

func TestPlayNote(t *testing.T) {
	loader := &mock.Loader{}
	s := newSession(&mock.Opener{}, loader)
	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	defer s.Dispose()
	e := loader.Last()

	for v := 0; v <= midisynth.MaxVelocity; v++ {
		s.PlayNote(v%midisynth.MidiChannels, v, v)
	}
	assert.Equal(t, midisynth.MaxVelocity+1, len(e.Events))
	for v, ev := range e.Events {
		assert.Equal(t, "NoteOn", ev.Name)
		assert.Equal(t, v%midisynth.MidiChannels, ev.Channel)
		assert.Equal(t, v, ev.Key)
		assert.Equal(t, float32(v)/127.0, ev.Amplitude)
	}
	assert.Equal(t, float32(0), e.Events[0].Amplitude)
	assert.Equal(t, float32(1), e.Events[127].Amplitude)

	// out of range events are dropped, velocity is clamped
	s.PlayNote(16, 60, 100)
	s.PlayNote(-1, 60, 100)
	s.PlayNote(0, 128, 100)
	s.StopNote(16, 60)
	s.StopNote(0, -1)
	s.ChangeProgram(16, 1)
	s.ChangeProgram(0, 128)
	assert.Equal(t, midisynth.MaxVelocity+1, len(e.Events))
	s.PlayNote(0, 60, 300)
	assert.Equal(t, float32(1), e.Events[len(e.Events)-1].Amplitude)
}

func TestControl(t *testing.T) {
	loader := &mock.Loader{}
	s := newSession(&mock.Opener{}, loader)
	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	defer s.Dispose()
	e := loader.Last()

	s.PlayNote(2, 64, 90)
	s.StopNote(2, 64)
	s.ChangeProgram(9, 33)
	assert.Equal(t, []mock.Event{
		{Name: "NoteOn", Channel: 2, Key: 64, Amplitude: float32(90) / 127},
		{Name: "NoteOff", Channel: 2, Key: 64},
		{Name: "ProgramChange", Channel: 9, Bank: 0, Program: 33},
	}, e.Events)
	assert.Equal(t, 33, e.Programs[9])
}

func TestStopAllNotes(t *testing.T) {
	loader := &mock.Loader{}
	s := newSession(&mock.Opener{}, loader)
	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	defer s.Dispose()
	e := loader.Last()

	for ch := 0; ch < midisynth.MidiChannels; ch++ {
		for key := 40; key < 40+ch+1; key++ {
			s.PlayNote(ch, key, 100)
		}
	}
	before := len(e.Events)
	s.StopAllNotes()

	released := e.Events[before:]
	assert.Equal(t, midisynth.MidiChannels, len(released))
	for ch, ev := range released {
		assert.Equal(t, "NoteOffAll", ev.Name)
		assert.Equal(t, ch, ev.Channel)
		assert.Empty(t, e.Sounding(ch), "channel %d", ch)
	}
}

func TestHotSwap(t *testing.T) {
	opener := &mock.Opener{}
	loader := &mock.Loader{}
	s := newSession(opener, loader)
	assert.Nil(t, s.Initialize())
	defer s.Dispose()
	stream := opener.Last()

	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	a := loader.Last()
	s.PlayNote(0, 60, 100)
	stream.Pull(numFrames)

	assert.Nil(t, s.LoadSoundfont("b.sf2"))
	b := loader.Last()
	assert.True(t, a.Closed)
	assert.False(t, b.Closed)
	assert.Equal(t, "b.sf2", b.Path)
	assert.Equal(t, sampleRate, b.SampleRate)

	aEvents, aRenders := len(a.Events), a.Renders
	s.PlayNote(0, 62, 100)
	s.StopNote(0, 62)
	s.StopAllNotes()
	s.ChangeProgram(0, 5)
	stream.Pull(numFrames)

	// only b observes operations after the swap
	assert.Equal(t, aEvents, len(a.Events))
	assert.Equal(t, aRenders, a.Renders)
	assert.False(t, a.UsedAfterClose)
	assert.Equal(t, 3+midisynth.MidiChannels, len(b.Events))
	assert.Equal(t, 1, b.Renders)
}

func TestLoadFailure(t *testing.T) {
	errCorrupt := errors.New("corrupt")
	opener := &mock.Opener{}
	loader := &mock.Loader{Fail: map[string]error{"corrupt.sf2": errCorrupt}}
	s := newSession(opener, loader)
	assert.Nil(t, s.Initialize())
	defer s.Dispose()
	stream := opener.Last()

	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	a := loader.Last()
	s.PlayNote(0, 60, 127)
	assert.False(t, silent(stream.Pull(numFrames)))

	err := s.LoadSoundfont("corrupt.sf2")
	assert.True(t, errors.Is(err, session.ErrLoad))
	assert.True(t, errors.Is(err, errCorrupt))
	// previous bank is not restored
	assert.False(t, s.Loaded())
	assert.True(t, a.Closed)
	for i := 0; i < 3; i++ {
		assert.True(t, silent(stream.Pull(numFrames)))
	}
	s.PlayNote(0, 60, 127)
	assert.False(t, a.UsedAfterClose)

	// load can be retried
	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	assert.True(t, s.Loaded())
}

func TestEngineFailure(t *testing.T) {
	opener := &mock.Opener{}
	loader := &mock.Loader{}
	s := newSession(opener, loader)
	assert.Nil(t, s.Initialize())
	defer s.Dispose()
	assert.Nil(t, s.LoadSoundfont("a.sf2"))

	loader.Last().ErrorOnCall = errors.New("engine failed")
	s.PlayNote(0, 60, 127)
	assert.True(t, silent(opener.Last().Pull(numFrames)))
	assert.Equal(t, "1", metric.Get(s.UID())[metric.FailureCounter])
}

// TestScenario plays a note, releases it and disposes the session.
func TestScenario(t *testing.T) {
	opener := &mock.Opener{}
	loader := &mock.Loader{}
	s := newSession(opener, loader)

	assert.Nil(t, s.Initialize())
	assert.Nil(t, s.LoadSoundfont("valid.bank"))
	stream := opener.Last()

	s.PlayNote(0, 60, 100)
	out := stream.Pull(numFrames)
	assert.False(t, silent(out))
	sustained := peak(out)

	s.StopAllNotes()
	previous := sustained
	for i := 0; i < 10; i++ {
		out = stream.Pull(numFrames)
		p := peak(out)
		assert.True(t, p <= previous, "render %d is louder than previous", i)
		previous = p
	}
	assert.True(t, silent(out))

	assert.Nil(t, s.Dispose())
	s.PlayNote(0, 60, 100)
	assert.False(t, loader.Last().UsedAfterClose)

	values := metric.Get(s.UID())
	assert.Equal(t, "11", values[metric.CallbackCounter])
	assert.Equal(t, "5280", values[metric.FrameCounter])
}

// TestConcurrent runs control plane and render callback in parallel.
// Use -race to detect unsynchronized access.
func TestConcurrent(t *testing.T) {
	opener := &mock.Opener{}
	loader := &mock.Loader{}
	s := newSession(opener, loader)
	assert.Nil(t, s.Initialize())
	assert.Nil(t, s.LoadSoundfont("a.sf2"))
	stream := opener.Last()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				stream.Pull(64)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		s.PlayNote(i%midisynth.MidiChannels, i%128, i%128)
		s.ChangeProgram(i%midisynth.MidiChannels, i%128)
		if i%10 == 0 {
			assert.Nil(t, s.LoadSoundfont("a.sf2"))
		}
		s.StopNote(i%midisynth.MidiChannels, i%128)
		if i%25 == 0 {
			s.StopAllNotes()
		}
	}
	close(done)
	wg.Wait()
	assert.Nil(t, s.Dispose())

	for _, e := range loader.Loaded() {
		assert.True(t, e.Closed)
		assert.False(t, e.UsedAfterClose)
	}
}

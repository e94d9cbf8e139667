// Package session coordinates a synthesis engine with an audio output stream.
//
// Session owns at most one output stream and at most one engine. Control
// plane calls and the render callback are serialized with a single lock, so
// an event sent by the control plane is heard no later than the first render
// callback which starts after the call returns. Lifecycle calls are
// expected from a single control goroutine.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/log"
	"github.com/pipelined/midisynth/metric"
	"github.com/pipelined/midisynth/soundfont"
)

var (
	// ErrDisposed is returned if disposed session is used.
	ErrDisposed = errors.New("session is disposed")
	// ErrStreamOpen is returned if output stream cannot be opened.
	ErrStreamOpen = errors.New("failed to open stream")
	// ErrStreamStart is returned if output stream cannot be started.
	ErrStreamStart = errors.New("failed to start stream")
	// ErrLoad is returned if instrument bank cannot be loaded.
	ErrLoad = errors.New("failed to load soundfont")
)

// Session is a synth session.
type Session struct {
	uid             string
	sampleRate      int
	framesPerBuffer int
	opener          midisynth.Opener
	loader          midisynth.Loader
	logger          log.Logger
	log             *logrus.Entry
	meter           *metric.Meter

	// lifecycle guards state and stream.
	lifecycle sync.Mutex
	state     State
	stream    midisynth.Stream

	// mu guards engine. It's shared by control plane and render callback.
	mu     sync.Mutex
	engine midisynth.Engine
}

// New creates a new session. It doesn't acquire any resources until
// Initialize or LoadSoundfont is called.
func New(options ...Option) *Session {
	s := &Session{
		uid:             midisynth.NewUID(),
		sampleRate:      midisynth.DefaultSampleRate,
		framesPerBuffer: midisynth.DefaultFramesPerBuffer,
		loader:          soundfont.Loader{},
		state:           Uninitialized,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	s.log = s.logger.WithField("session", s.uid)
	s.meter = metric.New(s.uid, s.sampleRate)
	return s
}

// Initialize opens and starts the output stream. It's a no-op if
// session is already running. If stream cannot be opened or started,
// no stream is retained and session stays uninitialized.
func (s *Session) Initialize() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	switch s.state {
	case Running:
		return nil
	case Disposed:
		return ErrDisposed
	}

	s.state = Initializing
	stream, err := s.openStream()
	if err != nil {
		s.state = Uninitialized
		s.log.WithError(err).Error("initialize failed")
		return err
	}
	s.stream = stream
	s.state = Running
	s.log.WithFields(logrus.Fields{
		"sampleRate":      s.sampleRate,
		"framesPerBuffer": s.framesPerBuffer,
	}).Debug("initialized")
	return nil
}

// openStream returns a started stream or closes whatever was opened.
func (s *Session) openStream() (midisynth.Stream, error) {
	if s.opener == nil {
		return nil, fmt.Errorf("%w: no opener configured", ErrStreamOpen)
	}
	stream, err := s.opener.Open(s.Format(), s.Render)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamOpen, err)
	}
	if err := stream.Start(); err != nil {
		if errClose := stream.Close(); errClose != nil {
			return nil, fmt.Errorf("%w: %w", ErrStreamStart, errorList{err, errClose})
		}
		return nil, fmt.Errorf("%w: %w", ErrStreamStart, err)
	}
	return stream, nil
}

// Cleanup stops and closes the stream and releases the instrument bank.
// It resets session to uninitialized state and can be called multiple
// times. All resources are released even if some of them fail.
func (s *Session) Cleanup() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.cleanup()
}

// Dispose releases all resources. Disposed session cannot be
// initialized again.
func (s *Session) Dispose() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.state == Disposed {
		return nil
	}
	err := s.cleanup()
	s.state = Disposed
	s.log.Debug("disposed")
	return err
}

func (s *Session) cleanup() error {
	var errs errorList
	// stream goes first, so render is not called during bank release.
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
		s.stream = nil
	}
	if err := s.swap(nil); err != nil {
		errs = append(errs, fmt.Errorf("release soundfont: %w", err))
	}
	if s.state != Disposed {
		s.state = Uninitialized
	}
	if err := errs.ret(); err != nil {
		s.log.WithError(err).Warn("cleanup failed")
		return err
	}
	return nil
}

// LoadSoundfont replaces the instrument bank with the one loaded from
// path. If loading fails, session is left without bank and render
// produces silence.
func (s *Session) LoadSoundfont(path string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.state == Disposed {
		return ErrDisposed
	}

	l := s.log.WithField("path", path)
	// bank is parsed outside of engine lock to keep render unblocked.
	engine, err := s.loader.Load(path, s.sampleRate)
	if err != nil {
		if errRelease := s.swap(nil); errRelease != nil {
			l.WithError(errRelease).Warn("release previous soundfont failed")
		}
		err = fmt.Errorf("%w %q: %w", ErrLoad, path, err)
		l.WithError(err).Error("load failed")
		return err
	}
	if err := s.swap(engine); err != nil {
		l.WithError(err).Warn("release previous soundfont failed")
	}
	l.Debug("soundfont loaded")
	return nil
}

// UnloadSoundfont always succeeds. The loaded bank stays in place until
// it's replaced or session is cleaned up.
func (s *Session) UnloadSoundfont() error {
	return nil
}

// swap publishes new engine and releases the previous one after it's
// not reachable by render anymore.
func (s *Session) swap(engine midisynth.Engine) error {
	s.mu.Lock()
	previous := s.engine
	s.engine = engine
	s.mu.Unlock()
	if previous == nil {
		return nil
	}
	return previous.Close()
}

// PlayNote starts a note. Velocity is clamped to [0, 127] and forwarded
// as amplitude velocity/127. Events for channels outside [0, 15] and keys
// outside [0, 127] are dropped.
func (s *Session) PlayNote(channel, key, velocity int) {
	if !midisynth.ValidChannel(channel) || !midisynth.ValidKey(key) {
		return
	}
	amplitude := midisynth.Amplitude(velocity)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.NoteOn(channel, key, amplitude)
	}
}

// StopNote releases a note.
func (s *Session) StopNote(channel, key int) {
	if !midisynth.ValidChannel(channel) || !midisynth.ValidKey(key) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.NoteOff(channel, key)
	}
}

// StopAllNotes releases every note on every channel.
func (s *Session) StopAllNotes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return
	}
	for channel := 0; channel < midisynth.MidiChannels; channel++ {
		s.engine.NoteOffAll(channel)
	}
}

// ChangeProgram selects program on channel. Bank is always 0.
func (s *Session) ChangeProgram(channel, program int) {
	if !midisynth.ValidChannel(channel) || program < 0 || program > midisynth.MaxProgram {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.ProgramChange(channel, 0, program)
	}
}

// Render is the stream callback. It fills out with interleaved stereo
// samples, or with silence if no bank is loaded or engine fails.
func (s *Session) Render(out []float32) {
	start := time.Now()
	outcome := s.render(out)
	s.meter.Measure(len(out)/midisynth.NumChannels, outcome, time.Since(start))
}

func (s *Session) render(out []float32) metric.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		midisynth.Silence(out)
		return metric.Silent
	}
	if err := s.engine.Render(out); err != nil {
		midisynth.Silence(out)
		return metric.Failed
	}
	return metric.Rendered
}

// State returns current lifecycle state.
func (s *Session) State() State {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.state
}

// Loaded returns true if instrument bank is loaded.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine != nil
}

// UID returns session's unique id. Render metrics are published under it.
func (s *Session) UID() string {
	return s.uid
}

// SampleRate returns session's sample rate.
func (s *Session) SampleRate() int {
	return s.sampleRate
}

// Format returns the output stream format.
func (s *Session) Format() midisynth.Format {
	f := midisynth.DefaultFormat(s.sampleRate)
	f.FramesPerBuffer = s.framesPerBuffer
	return f
}

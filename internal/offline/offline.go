// Package offline drives render callbacks of file streams.
//
// Runner plays the role of the audio thread: its goroutine pulls fixed
// size buffers from the render callback and hands them to the encoder.
// It can pace callbacks in real time or render as fast as possible.
package offline

import (
	"errors"
	"sync"
	"time"

	"github.com/pipelined/midisynth"
)

// ErrStarted is returned if runner is started twice.
var ErrStarted = errors.New("stream already started")

// WriteFunc encodes rendered interleaved samples.
type WriteFunc func(samples []float32) error

// Runner renders buffers on its own goroutine.
type Runner struct {
	render   midisynth.RenderFunc
	write    WriteFunc
	format   midisynth.Format
	limit    int
	realtime bool
	buf      []float32

	once    sync.Once
	started bool
	stopc   chan struct{}
	done    chan struct{}
	frames  int
	err     error
}

// New returns runner which is not started. Limit is the number of frames
// to render, zero means until stopped.
func New(format midisynth.Format, render midisynth.RenderFunc, write WriteFunc, limit int, realtime bool) *Runner {
	if format.FramesPerBuffer <= 0 {
		format.FramesPerBuffer = midisynth.DefaultFramesPerBuffer
	}
	return &Runner{
		render:   render,
		write:    write,
		format:   format,
		limit:    limit,
		realtime: realtime,
		buf:      make([]float32, format.FramesPerBuffer*format.NumChannels),
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts render goroutine.
func (r *Runner) Start() error {
	if r.started {
		return ErrStarted
	}
	r.started = true
	go r.run()
	return nil
}

func (r *Runner) run() {
	defer close(r.done)
	var tick <-chan time.Time
	if r.realtime {
		period := time.Duration(r.format.FramesPerBuffer) * time.Second / time.Duration(r.format.SampleRate)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		frames := r.format.FramesPerBuffer
		if r.limit > 0 {
			if left := r.limit - r.frames; left < frames {
				frames = left
			}
			if frames == 0 {
				return
			}
		}
		select {
		case <-r.stopc:
			return
		default:
		}
		samples := r.buf[:frames*r.format.NumChannels]
		r.render(samples)
		if err := r.write(samples); err != nil {
			r.err = err
			return
		}
		r.frames += frames
		if tick != nil {
			select {
			case <-r.stopc:
				return
			case <-tick:
			}
		}
	}
}

// Done returns a channel which is closed when render goroutine is finished.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Frames returns number of rendered frames. It should be called after
// runner is stopped or done.
func (r *Runner) Frames() int {
	return r.frames
}

// Stop stops render goroutine and waits for it to finish. It returns
// the first write error.
func (r *Runner) Stop() error {
	if !r.started {
		return nil
	}
	r.once.Do(func() { close(r.stopc) })
	<-r.done
	return r.err
}

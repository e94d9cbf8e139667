// Package oto provides output streams backed by oto.
//
// oto allows a single context per process. It's created by the first
// Open and reused by the following ones, which must request the same
// sample rate and number of channels.
package oto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/pipelined/midisynth"
)

const bytesPerSample = 4

// ErrFormatMismatch is returned if stream format differs from the format
// of already created context.
var ErrFormatMismatch = errors.New("oto context exists with different format")

var shared struct {
	sync.Mutex
	ctx    *oto.Context
	format midisynth.Format
}

type (
	// Opener opens oto output streams. Format.Exclusive is ignored.
	Opener struct{}

	// Stream represents oto player. oto pulls samples from its own
	// goroutine and the render callback is invoked there.
	Stream struct {
		player *oto.Player
		reader *reader
	}
)

// Open returns a paused stream bound to the render callback.
func (Opener) Open(format midisynth.Format, render midisynth.RenderFunc) (midisynth.Stream, error) {
	ctx, err := newContext(format)
	if err != nil {
		return nil, err
	}
	r := &reader{
		render:      render,
		numChannels: format.NumChannels,
		buf:         make([]float32, format.FramesPerBuffer*format.NumChannels),
		carry:       make([]byte, format.NumChannels*bytesPerSample),
	}
	return &Stream{
		player: ctx.NewPlayer(r),
		reader: r,
	}, nil
}

func newContext(format midisynth.Format) (*oto.Context, error) {
	shared.Lock()
	defer shared.Unlock()
	if shared.ctx != nil {
		if shared.format.SampleRate != format.SampleRate || shared.format.NumChannels != format.NumChannels {
			return nil, fmt.Errorf("%w: %d Hz %d channels", ErrFormatMismatch, shared.format.SampleRate, shared.format.NumChannels)
		}
		return shared.ctx, nil
	}
	options := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.NumChannels,
		Format:       oto.FormatFloat32LE,
	}
	if format.LowLatency && format.SampleRate > 0 {
		options.BufferSize = time.Duration(format.FramesPerBuffer) * time.Second / time.Duration(format.SampleRate)
	}
	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("create oto context: %w", err)
	}
	<-ready
	shared.ctx = ctx
	shared.format = format
	return ctx, nil
}

// Start starts playback.
func (s *Stream) Start() error {
	s.player.Play()
	return s.player.Err()
}

// Stop pauses playback.
func (s *Stream) Stop() error {
	s.player.Pause()
	return nil
}

// Close closes the player. The context stays alive for next streams.
func (s *Stream) Close() error {
	return s.player.Close()
}

// reader encodes rendered samples into float32 little-endian bytes.
type reader struct {
	render      midisynth.RenderFunc
	numChannels int
	buf         []float32
	// carry holds one encoded frame for reads shorter than a frame.
	carry   []byte
	pending []byte
}

// Read renders as many whole frames as fit into p. If p is shorter than a
// frame, one frame is rendered and the rest of it is returned by the
// following reads.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	frameBytes := r.numChannels * bytesPerSample
	if len(p) < frameBytes {
		if len(r.carry) != frameBytes {
			r.carry = make([]byte, frameBytes)
		}
		r.encode(r.carry, 1)
		n := copy(p, r.carry)
		r.pending = r.carry[n:]
		return n, nil
	}
	frames := len(p) / frameBytes
	return r.encode(p, frames), nil
}

// encode renders frames into p and returns number of written bytes.
func (r *reader) encode(p []byte, frames int) int {
	numSamples := frames * r.numChannels
	// grows only if oto asks for more than one buffer at once.
	if len(r.buf) < numSamples {
		r.buf = make([]float32, numSamples)
	}
	samples := r.buf[:numSamples]
	r.render(samples)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(v))
	}
	return numSamples * bytesPerSample
}

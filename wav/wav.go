// Package wav provides an output stream which renders into wav files.
//
// Stream pulls fixed size buffers from the render callback on its own
// goroutine and encodes them. It can pace callbacks in real time or render
// as fast as possible.
package wav

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/internal/offline"
)

// pcmFormat is the wav audio format of integer PCM.
const pcmFormat = 1

var (
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")
	// ErrStarted is returned if stream is started twice.
	ErrStarted = offline.ErrStarted
)

type (
	// Opener opens streams which save audio to wav file.
	Opener struct {
		Path     string
		BitDepth int
		// Frames limits number of rendered frames. Zero means until stopped.
		Frames int
		// Realtime paces render callbacks with buffer period.
		Realtime bool
	}

	// Stream renders into wav file. Start, Stop, Done and Frames are
	// provided by the render runner.
	Stream struct {
		*offline.Runner
		file    *os.File
		encoder *wav.Encoder
		ib      *audio.IntBuffer
	}
)

// Open creates the file and returns a stream which is not started.
func (o Opener) Open(format midisynth.Format, render midisynth.RenderFunc) (midisynth.Stream, error) {
	bitDepth := o.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	if bitDepth != 16 && bitDepth != 32 {
		return nil, ErrUnsupportedBitDepth
	}
	if format.FramesPerBuffer <= 0 {
		format.FramesPerBuffer = midisynth.DefaultFramesPerBuffer
	}
	f, err := os.Create(o.Path)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		file:    f,
		encoder: wav.NewEncoder(f, format.SampleRate, bitDepth, format.NumChannels, pcmFormat),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: format.NumChannels,
				SampleRate:  format.SampleRate,
			},
			Data:           make([]int, format.FramesPerBuffer*format.NumChannels),
			SourceBitDepth: bitDepth,
		},
	}
	s.Runner = offline.New(format, render, s.write, o.Frames, o.Realtime)
	return s, nil
}

func (s *Stream) write(samples []float32) error {
	s.ib.Data = s.ib.Data[:len(samples)]
	asInts(samples, s.ib.Data, s.ib.SourceBitDepth)
	return s.encoder.Write(s.ib)
}

// Close stops rendering, flushes encoder and closes the file.
func (s *Stream) Close() error {
	if err := s.Stop(); err != nil {
		s.file.Close()
		return err
	}
	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush wav: %w", err)
	}
	return s.file.Close()
}

// asInts converts float samples to integers of provided bit depth.
// Samples are clipped to [-1, 1].
func asInts(in []float32, out []int, bitDepth int) {
	scale := float64(int64(1)<<uint(bitDepth-1) - 1)
	for i, v := range in {
		x := float64(v)
		switch {
		case x > 1:
			x = 1
		case x < -1:
			x = -1
		}
		out[i] = int(x * scale)
	}
}

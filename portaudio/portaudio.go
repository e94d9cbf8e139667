// Package portaudio provides output streams backed by PortAudio.
package portaudio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/pipelined/midisynth"
)

type (
	// Opener opens callback driven PortAudio output streams.
	// PortAudio has no portable exclusive mode, so Format.Exclusive is
	// ignored.
	Opener struct {
		// Device is the output device. Default output device is used if nil.
		Device *portaudio.DeviceInfo
	}

	// Stream represents PortAudio output stream. The render callback is
	// invoked on PortAudio's audio thread.
	Stream struct {
		stream *portaudio.Stream
	}
)

// Open initializes PortAudio and opens an output stream. PortAudio is
// terminated if stream cannot be opened.
func (o Opener) Open(format midisynth.Format, render midisynth.RenderFunc) (midisynth.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	stream, err := o.open(format, render)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	return &Stream{stream: stream}, nil
}

func (o Opener) open(format midisynth.Format, render midisynth.RenderFunc) (*portaudio.Stream, error) {
	device := o.Device
	if device == nil {
		var err error
		if device, err = portaudio.DefaultOutputDevice(); err != nil {
			return nil, fmt.Errorf("default output device: %w", err)
		}
	}
	params := portaudio.HighLatencyParameters(nil, device)
	if format.LowLatency {
		params = portaudio.LowLatencyParameters(nil, device)
	}
	params.Output.Channels = format.NumChannels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.FramesPerBuffer
	stream, err := portaudio.OpenStream(params, func(out []float32) {
		render(out)
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device.Name, err)
	}
	return stream, nil
}

// Start starts the stream.
func (s *Stream) Start() error {
	return s.stream.Start()
}

// Stop waits for pending buffers to play and stops the stream.
func (s *Stream) Stop() error {
	return s.stream.Stop()
}

// Close closes the stream and terminates PortAudio.
func (s *Stream) Close() error {
	err := s.stream.Close()
	if err != nil {
		return err
	}
	return portaudio.Terminate()
}

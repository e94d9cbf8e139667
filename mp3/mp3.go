// Package mp3 provides an output stream which renders into mp3 files.
//
// Rendered samples are converted to 16 bit PCM and encoded with lame.
package mp3

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/viert/lame"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/internal/offline"
)

// Encoder defaults.
const (
	DefaultBitRate = 192
	DefaultQuality = 2
)

const bytesPerSample = 2

type (
	// Opener opens streams which save audio to mp3 file.
	Opener struct {
		Path    string
		BitRate int
		// Quality is lame algorithm quality, 0 is the best and 9 is the worst.
		Quality int
		// Frames limits number of rendered frames. Zero means until stopped.
		Frames int
		// Realtime paces render callbacks with buffer period.
		Realtime bool
	}

	// Stream renders into mp3 file. Start, Stop, Done and Frames are
	// provided by the render runner.
	Stream struct {
		*offline.Runner
		file *os.File
		wr   *lame.LameWriter
		pcm  []byte
	}
)

// Open creates the file and returns a stream which is not started.
func (o Opener) Open(format midisynth.Format, render midisynth.RenderFunc) (midisynth.Stream, error) {
	bitRate, quality := o.BitRate, o.Quality
	if bitRate == 0 {
		bitRate = DefaultBitRate
	}
	if quality == 0 {
		quality = DefaultQuality
	}
	if format.FramesPerBuffer <= 0 {
		format.FramesPerBuffer = midisynth.DefaultFramesPerBuffer
	}
	f, err := os.Create(o.Path)
	if err != nil {
		return nil, err
	}
	wr := lame.NewWriter(f)
	wr.Encoder.SetBitrate(bitRate)
	wr.Encoder.SetQuality(quality)
	wr.Encoder.SetNumChannels(format.NumChannels)
	wr.Encoder.SetInSamplerate(format.SampleRate)
	wr.Encoder.SetMode(lame.JOINT_STEREO)
	wr.Encoder.SetVBR(lame.VBR_RH)
	wr.Encoder.InitParams()

	s := &Stream{
		file: f,
		wr:   wr,
		pcm:  make([]byte, format.FramesPerBuffer*format.NumChannels*bytesPerSample),
	}
	s.Runner = offline.New(format, render, s.write, o.Frames, o.Realtime)
	return s, nil
}

func (s *Stream) write(samples []float32) error {
	pcm := s.pcm[:len(samples)*bytesPerSample]
	asPCM16(samples, pcm)
	_, err := s.wr.Write(pcm)
	return err
}

// Close stops rendering, flushes encoder and closes the file.
func (s *Stream) Close() error {
	if err := s.Stop(); err != nil {
		s.file.Close()
		return err
	}
	if err := s.wr.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush mp3: %w", err)
	}
	return s.file.Close()
}

// asPCM16 encodes float samples as 16 bit little-endian integers.
// Samples are clipped to [-1, 1].
func asPCM16(in []float32, out []byte) {
	for i, v := range in {
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v*32767)))
	}
}

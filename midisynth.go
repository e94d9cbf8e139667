package midisynth

import (
	"github.com/rs/xid"
)

// Fixed output format and MIDI bounds.
const (
	// NumChannels is the number of interleaved output channels.
	NumChannels = 2
	// DefaultSampleRate is the output sample rate used when none is configured.
	DefaultSampleRate = 48000
	// DefaultFramesPerBuffer is the requested hardware buffer size in frames.
	DefaultFramesPerBuffer = 256
	// MidiChannels is the number of independent MIDI channels of an engine.
	MidiChannels = 16
	// MaxKey is the highest MIDI key number.
	MaxKey = 127
	// MaxVelocity is the highest MIDI velocity.
	MaxVelocity = 127
	// MaxProgram is the highest MIDI program number.
	MaxProgram = 127
)

type (
	// Engine is a synthesis engine with one loaded instrument bank.
	// Implementations are not safe for concurrent use, callers serialize
	// all access.
	Engine interface {
		// NoteOn starts a note. Amplitude is in [0, 1].
		NoteOn(channel, key int, amplitude float32)
		// NoteOff releases a sounding note.
		NoteOff(channel, key int)
		// NoteOffAll releases every sounding note on the channel.
		NoteOffAll(channel int)
		// ProgramChange selects the program on the channel within the bank.
		ProgramChange(channel, bank, program int)
		// Render fills out with len(out)/NumChannels interleaved frames.
		Render(out []float32) error
		// Close releases the instrument bank.
		Close() error
	}

	// Loader creates engines from named instrument banks. The returned
	// engine already renders in the requested format.
	Loader interface {
		Load(path string, sampleRate int) (Engine, error)
	}

	// RenderFunc fills out with interleaved samples. It's called on the
	// stream's own thread and must return within the buffer period.
	RenderFunc func(out []float32)

	// Format describes the output stream parameters.
	Format struct {
		NumChannels     int
		SampleRate      int
		FramesPerBuffer int
		// LowLatency requests the lowest latency the device offers.
		LowLatency bool
		// Exclusive requests exclusive device access where supported.
		Exclusive bool
	}

	// Stream is an opened audio output stream.
	Stream interface {
		Start() error
		Stop() error
		Close() error
	}

	// Opener opens output streams bound to a render callback.
	Opener interface {
		Open(Format, RenderFunc) (Stream, error)
	}
)

// DefaultFormat returns the fixed stereo float format at the provided sample rate.
func DefaultFormat(sampleRate int) Format {
	return Format{
		NumChannels:     NumChannels,
		SampleRate:      sampleRate,
		FramesPerBuffer: DefaultFramesPerBuffer,
		LowLatency:      true,
		Exclusive:       true,
	}
}

// Amplitude converts MIDI velocity to amplitude. Velocity is clamped to
// [0, MaxVelocity].
func Amplitude(velocity int) float32 {
	switch {
	case velocity <= 0:
		return 0
	case velocity >= MaxVelocity:
		return 1
	}
	return float32(velocity) / MaxVelocity
}

// ValidChannel reports if channel addresses one of the engine channels.
func ValidChannel(channel int) bool {
	return channel >= 0 && channel < MidiChannels
}

// ValidKey reports if key is a MIDI key number.
func ValidKey(key int) bool {
	return key >= 0 && key <= MaxKey
}

// Silence zeroes the buffer.
func Silence(out []float32) {
	for i := range out {
		out[i] = 0
	}
}

// NewUID returns new unique id value.
func NewUID() string {
	return xid.New().String()
}

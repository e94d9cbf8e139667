// Package soundfont provides a SoundFont synthesis engine.
//
// Banks are parsed and rendered with meltysynth. An engine renders at the
// sample rate it was loaded for and produces interleaved stereo frames.
package soundfont

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/pipelined/midisynth"
)

// DefaultBlockFrames is the size of engine's intermediate buffers.
const DefaultBlockFrames = 1024

// MIDI messages used to control the synthesizer.
const (
	controlChange  = 0xB0
	programChange  = 0xC0
	bankSelect     = 0x00
	allNotesOff    = 0x7B
	maxMidiDataVal = 127
)

var (
	// ErrNotFound is returned if bank file doesn't exist.
	ErrNotFound = errors.New("soundfont not found")
	// ErrClosed is returned if closed engine is rendered.
	ErrClosed = errors.New("engine is closed")
)

// synthesizer is the part of meltysynth.Synthesizer used by engine.
type synthesizer interface {
	NoteOn(channel, key, velocity int32)
	NoteOff(channel, key int32)
	ProcessMidiMessage(channel, command, data1, data2 int32)
	Render(left, right []float32)
}

// Loader loads SoundFont banks from files.
type Loader struct {
	// BlockFrames is the size of intermediate buffers. DefaultBlockFrames is used when zero.
	BlockFrames int
}

// Load reads the bank and returns engine which renders at sample rate.
func (l Loader) Load(path string, sampleRate int) (midisynth.Engine, error) {
	sf, err := Read(path)
	if err != nil {
		return nil, err
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	return newEngine(synth, l.BlockFrames), nil
}

// Read reads and parses the bank file.
func Read(path string) (*meltysynth.SoundFont, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read soundfont: %w", err)
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse soundfont: %w", err)
	}
	return sf, nil
}

// Preset describes a program available in the bank.
type Preset struct {
	Name    string
	Bank    int
	Program int
}

func (p Preset) String() string {
	return fmt.Sprintf("%03d:%03d %s", p.Bank, p.Program, p.Name)
}

// Presets returns presets of the bank file.
func Presets(path string) ([]Preset, error) {
	sf, err := Read(path)
	if err != nil {
		return nil, err
	}
	presets := make([]Preset, 0, len(sf.Presets))
	for _, p := range sf.Presets {
		presets = append(presets, Preset{
			Name:    p.Name,
			Bank:    int(p.BankNumber),
			Program: int(p.PatchNumber),
		})
	}
	return presets, nil
}

// Engine renders one loaded bank. It's not safe for concurrent use.
type Engine struct {
	synth synthesizer
	left  []float32
	right []float32
}

func newEngine(synth synthesizer, blockFrames int) *Engine {
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}
	return &Engine{
		synth: synth,
		left:  make([]float32, blockFrames),
		right: make([]float32, blockFrames),
	}
}

// NoteOn implements midisynth.Engine.
func (e *Engine) NoteOn(channel, key int, amplitude float32) {
	if e.synth == nil {
		return
	}
	e.synth.NoteOn(int32(channel), int32(key), velocity(amplitude))
}

// NoteOff implements midisynth.Engine.
func (e *Engine) NoteOff(channel, key int) {
	if e.synth == nil {
		return
	}
	e.synth.NoteOff(int32(channel), int32(key))
}

// NoteOffAll implements midisynth.Engine. Notes are released, not cut.
func (e *Engine) NoteOffAll(channel int) {
	if e.synth == nil {
		return
	}
	e.synth.ProcessMidiMessage(int32(channel), controlChange, allNotesOff, 0)
}

// ProgramChange implements midisynth.Engine. meltysynth treats channel 9
// as the percussion channel and offsets its bank by 128, so a program
// selected there is a drum kit rather than a melodic program.
func (e *Engine) ProgramChange(channel, bank, program int) {
	if e.synth == nil {
		return
	}
	e.synth.ProcessMidiMessage(int32(channel), controlChange, bankSelect, int32(bank))
	e.synth.ProcessMidiMessage(int32(channel), programChange, int32(program), 0)
}

// Render implements midisynth.Engine. Frames are rendered in blocks of
// pre-allocated buffers, so render doesn't allocate.
func (e *Engine) Render(out []float32) error {
	if e.synth == nil {
		return ErrClosed
	}
	frames := len(out) / midisynth.NumChannels
	for done := 0; done < frames; {
		n := frames - done
		if n > len(e.left) {
			n = len(e.left)
		}
		left, right := e.left[:n], e.right[:n]
		e.synth.Render(left, right)
		for i := 0; i < n; i++ {
			out[(done+i)*midisynth.NumChannels] = left[i]
			out[(done+i)*midisynth.NumChannels+1] = right[i]
		}
		done += n
	}
	return nil
}

// Close implements midisynth.Engine.
func (e *Engine) Close() error {
	e.synth = nil
	return nil
}

// velocity converts amplitude back to MIDI velocity.
func velocity(amplitude float32) int32 {
	v := int32(math.Round(float64(amplitude) * maxMidiDataVal))
	switch {
	case v < 0:
		return 0
	case v > maxMidiDataVal:
		return maxMidiDataVal
	}
	return v
}

// Package mock provides mocks for synth session collaborators and allows to execute integration tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/pipelined/midisynth"
)

// DefaultDecay is the per-frame gain applied to released voices.
const DefaultDecay = 0.95

// silenceLevel is the level below which released voices are dropped.
const silenceLevel = 1e-6

// Hooks allows to mock stream hooks.
type Hooks struct {
	Started bool
	Stopped bool
	Closed  bool

	ErrorOnStart error
	ErrorOnStop  error
	ErrorOnClose error
}

// Opener mocks a midisynth.Opener interface.
type Opener struct {
	mu          sync.Mutex
	opened      int
	last        *Stream
	ErrorOnOpen error
	// Hooks are copied into every opened stream.
	Hooks
}

// Open returns a new stream bound to the render function.
func (o *Opener) Open(format midisynth.Format, render midisynth.RenderFunc) (midisynth.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ErrorOnOpen != nil {
		return nil, o.ErrorOnOpen
	}
	o.opened++
	o.last = &Stream{
		Format: format,
		render: render,
		Hooks: Hooks{
			ErrorOnStart: o.ErrorOnStart,
			ErrorOnStop:  o.ErrorOnStop,
			ErrorOnClose: o.ErrorOnClose,
		},
	}
	return o.last, nil
}

// Opened returns number of successfully opened streams.
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// Last returns the latest opened stream.
func (o *Opener) Last() *Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Stream mocks a midisynth.Stream interface. It doesn't run its own
// thread, Pull plays the role of the audio callback.
type Stream struct {
	mu     sync.Mutex
	render midisynth.RenderFunc
	pulls  int
	Format midisynth.Format
	Hooks
}

// Start implements midisynth.Stream.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrorOnStart != nil {
		return s.ErrorOnStart
	}
	s.Started = true
	return nil
}

// Stop implements midisynth.Stream.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stopped = true
	s.Started = false
	return s.ErrorOnStop
}

// Close implements midisynth.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.ErrorOnClose
}

// Pull invokes the render callback for numFrames frames and returns the
// rendered buffer. Buffer is prefilled with noise so untouched samples
// are visible.
func (s *Stream) Pull(numFrames int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	numChannels := s.Format.NumChannels
	if numChannels == 0 {
		numChannels = midisynth.NumChannels
	}
	out := make([]float32, numFrames*numChannels)
	for i := range out {
		out[i] = float32(i%7) + 1
	}
	s.pulls++
	s.render(out)
	return out
}

// Pulls returns number of render callbacks.
func (s *Stream) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

// IsStarted returns true if stream is started and not stopped.
func (s *Stream) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Started
}

// IsClosed returns true if stream is closed.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

// Loader mocks a midisynth.Loader interface. Paths listed in Fail return
// the associated error.
type Loader struct {
	mu     sync.Mutex
	loaded []*Engine
	Fail   map[string]error
	Decay  float32
	Level  float32
}

// Load returns a new engine for the path.
func (l *Loader) Load(path string, sampleRate int) (midisynth.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.Fail[path]; ok {
		return nil, err
	}
	e := NewEngine(path, sampleRate)
	if l.Decay != 0 {
		e.Decay = l.Decay
	}
	if l.Level != 0 {
		e.Level = l.Level
	}
	l.loaded = append(l.loaded, e)
	return e, nil
}

// Loaded returns all engines created by the loader.
func (l *Loader) Loaded() []*Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Engine(nil), l.loaded...)
}

// Last returns the latest loaded engine or nil.
func (l *Loader) Last() *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.loaded) == 0 {
		return nil
	}
	return l.loaded[len(l.loaded)-1]
}

// Event is a recorded engine call.
type Event struct {
	Name      string
	Channel   int
	Key       int
	Amplitude float32
	Bank      int
	Program   int
}

func (e Event) String() string {
	return fmt.Sprintf("%s ch=%d key=%d amp=%v bank=%d prog=%d", e.Name, e.Channel, e.Key, e.Amplitude, e.Bank, e.Program)
}

// Engine mocks a midisynth.Engine interface. Every sounding voice adds
// its amplitude scaled by Level to every sample, released voices decay
// by Decay per frame.
// Engine is not thread-safe, it should be inspected only when no render
// is in progress.
type Engine struct {
	Path        string
	SampleRate  int
	Decay       float32
	Level       float32
	ErrorOnCall error
	Closed      bool
	// UsedAfterClose is set if any method except Close is called on closed engine.
	UsedAfterClose bool

	Events   []Event
	Programs [midisynth.MidiChannels]int
	Renders  int
	voices   [midisynth.MidiChannels]map[int]*voice
}

type voice struct {
	level    float32
	released bool
}

// NewEngine returns engine for the path.
func NewEngine(path string, sampleRate int) *Engine {
	e := &Engine{
		Path:       path,
		SampleRate: sampleRate,
		Decay:      DefaultDecay,
		Level:      0.1,
	}
	for i := range e.voices {
		e.voices[i] = make(map[int]*voice)
	}
	return e
}

// NoteOn implements midisynth.Engine.
func (e *Engine) NoteOn(channel, key int, amplitude float32) {
	e.record(Event{Name: "NoteOn", Channel: channel, Key: key, Amplitude: amplitude})
	e.voices[channel][key] = &voice{level: amplitude}
}

// NoteOff implements midisynth.Engine.
func (e *Engine) NoteOff(channel, key int) {
	e.record(Event{Name: "NoteOff", Channel: channel, Key: key})
	if v, ok := e.voices[channel][key]; ok {
		v.released = true
	}
}

// NoteOffAll implements midisynth.Engine.
func (e *Engine) NoteOffAll(channel int) {
	e.record(Event{Name: "NoteOffAll", Channel: channel})
	for _, v := range e.voices[channel] {
		v.released = true
	}
}

// ProgramChange implements midisynth.Engine.
func (e *Engine) ProgramChange(channel, bank, program int) {
	e.record(Event{Name: "ProgramChange", Channel: channel, Bank: bank, Program: program})
	e.Programs[channel] = program
}

// Render implements midisynth.Engine.
func (e *Engine) Render(out []float32) error {
	e.Renders++
	e.checkClosed()
	if e.ErrorOnCall != nil {
		return e.ErrorOnCall
	}
	for i := 0; i < len(out); i += midisynth.NumChannels {
		var sample float32
		for ch := range e.voices {
			for key, v := range e.voices[ch] {
				sample += v.level * e.Level
				if v.released {
					v.level *= e.Decay
					if v.level < silenceLevel {
						delete(e.voices[ch], key)
					}
				}
			}
		}
		for j := i; j < i+midisynth.NumChannels && j < len(out); j++ {
			out[j] = sample
		}
	}
	return nil
}

// Close implements midisynth.Engine.
func (e *Engine) Close() error {
	e.Closed = true
	return nil
}

// Sounding returns keys of voices which are not released on the channel.
func (e *Engine) Sounding(channel int) []int {
	var keys []int
	for key, v := range e.voices[channel] {
		if !v.released {
			keys = append(keys, key)
		}
	}
	return keys
}

// Voices returns number of voices, including released ones, on the channel.
func (e *Engine) Voices(channel int) int {
	return len(e.voices[channel])
}

func (e *Engine) record(ev Event) {
	e.checkClosed()
	e.Events = append(e.Events, ev)
}

func (e *Engine) checkClosed() {
	if e.Closed {
		e.UsedAfterClose = true
	}
}

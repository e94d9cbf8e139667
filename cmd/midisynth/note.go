package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/session"
)

// note holds flags shared by commands which play a single note.
type note struct {
	soundfont string
	channel   int
	key       int
	velocity  int
	program   int
	rate      int
	duration  time.Duration
	release   time.Duration
}

func (n *note) register(fs *flag.FlagSet) {
	fs.StringVar(&n.soundfont, "sf", "", "soundfont bank to load (required)")
	fs.IntVar(&n.channel, "channel", 0, "MIDI channel [0, 15]")
	fs.IntVar(&n.key, "key", 60, "MIDI key [0, 127]")
	fs.IntVar(&n.velocity, "velocity", 100, "MIDI velocity [0, 127]")
	fs.IntVar(&n.program, "program", 0, "program to select before note [0, 127]")
	fs.IntVar(&n.rate, "rate", midisynth.DefaultSampleRate, "sample rate")
	fs.DurationVar(&n.duration, "duration", time.Second, "note duration")
	fs.DurationVar(&n.release, "release", 500*time.Millisecond, "time to render after note is released")
}

func (n *note) validate() error {
	var errs []string
	if n.soundfont == "" {
		errs = append(errs, "missing -sf required flag")
	}
	if !midisynth.ValidChannel(n.channel) {
		errs = append(errs, fmt.Sprintf("channel out of range: %d", n.channel))
	}
	if !midisynth.ValidKey(n.key) {
		errs = append(errs, fmt.Sprintf("key out of range: %d", n.key))
	}
	if n.program < 0 || n.program > midisynth.MaxProgram {
		errs = append(errs, fmt.Sprintf("program out of range: %d", n.program))
	}
	if n.rate <= 0 {
		errs = append(errs, fmt.Sprintf("invalid sample rate: %d", n.rate))
	}
	if n.duration < 0 || n.release < 0 {
		errs = append(errs, "durations must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "\n"))
	}
	return nil
}

// play loads the bank and plays the note on initialized session. The
// session is disposed after the release.
func (n *note) play(s *session.Session) error {
	defer s.Dispose()
	if err := s.LoadSoundfont(n.soundfont); err != nil {
		return err
	}
	s.ChangeProgram(n.channel, n.program)
	s.PlayNote(n.channel, n.key, n.velocity)
	if err := s.Initialize(); err != nil {
		return err
	}
	time.Sleep(n.duration)
	s.StopNote(n.channel, n.key)
	time.Sleep(n.release)
	return s.Dispose()
}

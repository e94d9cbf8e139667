package main

import (
	"flag"
	"fmt"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/log"
	"github.com/pipelined/midisynth/oto"
	"github.com/pipelined/midisynth/portaudio"
	"github.com/pipelined/midisynth/session"
)

type playCommand struct {
	note
	backend string
	frames  int
}

//Implement command interface
func (cmd *playCommand) Name() string {
	return "play"
}

func (cmd *playCommand) Help() string {
	return "Play a note on the audio device"
}

func (cmd *playCommand) Register(fs *flag.FlagSet) {
	cmd.note.register(fs)
	fs.StringVar(&cmd.backend, "backend", "portaudio", "audio backend: portaudio or oto")
	fs.IntVar(&cmd.frames, "frames", midisynth.DefaultFramesPerBuffer, "frames per buffer")
}

func (cmd *playCommand) Run() error {
	if err := cmd.validate(); err != nil {
		return err
	}
	opener, err := cmd.opener()
	if err != nil {
		return err
	}
	return cmd.play(session.New(
		session.WithSampleRate(cmd.rate),
		session.WithFramesPerBuffer(cmd.frames),
		session.WithOpener(opener),
		session.WithLogger(log.GetLogger()),
	))
}

func (cmd *playCommand) opener() (midisynth.Opener, error) {
	switch cmd.backend {
	case "portaudio":
		return portaudio.Opener{}, nil
	case "oto":
		return oto.Opener{}, nil
	}
	return nil, fmt.Errorf("unknown backend: %s", cmd.backend)
}

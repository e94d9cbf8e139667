package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/log"
	"github.com/pipelined/midisynth/mp3"
	"github.com/pipelined/midisynth/session"
	"github.com/pipelined/midisynth/wav"
)

type renderCommand struct {
	note
	out      string
	format   string
	bitDepth int
	bitRate  int
	realtime bool
}

//Implement command interface
func (cmd *renderCommand) Name() string {
	return "render"
}

func (cmd *renderCommand) Help() string {
	return "Render a note into wav or mp3 file"
}

func (cmd *renderCommand) Register(fs *flag.FlagSet) {
	cmd.note.register(fs)
	fs.StringVar(&cmd.out, "out", "", "output file (required)")
	fs.StringVar(&cmd.format, "format", "wav", "output format: wav or mp3")
	fs.IntVar(&cmd.bitDepth, "bitdepth", 16, "wav bit depth: 16 or 32")
	fs.IntVar(&cmd.bitRate, "bitrate", mp3.DefaultBitRate, "mp3 bit rate in kbps")
	fs.BoolVar(&cmd.realtime, "realtime", true, "pace rendering in real time, otherwise the note is held for whole file")
}

func (cmd *renderCommand) Run() error {
	err := cmd.validate()
	if cmd.out == "" {
		err = errors.Join(err, errors.New("missing -out required flag"))
	}
	if err != nil {
		return err
	}
	opener, err := cmd.opener()
	if err != nil {
		return err
	}
	return cmd.play(session.New(
		session.WithSampleRate(cmd.rate),
		session.WithOpener(opener),
		session.WithLogger(log.GetLogger()),
	))
}

func (cmd *renderCommand) opener() (midisynth.Opener, error) {
	switch cmd.format {
	case "wav":
		return wav.Opener{
			Path:     cmd.out,
			BitDepth: cmd.bitDepth,
			Frames:   cmd.frames(),
			Realtime: cmd.realtime,
		}, nil
	case "mp3":
		return mp3.Opener{
			Path:     cmd.out,
			BitRate:  cmd.bitRate,
			Frames:   cmd.frames(),
			Realtime: cmd.realtime,
		}, nil
	}
	return nil, fmt.Errorf("unknown format: %s", cmd.format)
}

// frames returns length of the file.
func (cmd *renderCommand) frames() int {
	return int((cmd.duration + cmd.release) * time.Duration(cmd.rate) / time.Second)
}

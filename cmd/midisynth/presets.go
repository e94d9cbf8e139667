package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/pipelined/midisynth/soundfont"
)

type presetsCommand struct {
	soundfont string
}

//Implement command interface
func (cmd *presetsCommand) Name() string {
	return "presets"
}

func (cmd *presetsCommand) Help() string {
	return "Show the list of bank presets"
}

func (cmd *presetsCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.soundfont, "sf", "", "soundfont bank (required)")
}

func (cmd *presetsCommand) Run() error {
	if cmd.soundfont == "" {
		return errors.New("missing -sf required flag")
	}
	presets, err := soundfont.Presets(cmd.soundfont)
	if err != nil {
		return err
	}
	fmt.Printf("Presets of %s:\n", cmd.soundfont)
	for _, p := range presets {
		fmt.Printf(" %v\n", p)
	}
	return nil
}

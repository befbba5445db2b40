// Package script provides scripted sub-detectors for the detect package.
//
// A [Timeline] describes, in frames, when the wake phrase is heard and which
// commands are spoken afterwards. The scripted detectors replay it against
// the real frame stream, so a simulation exercises the same state machine,
// timeout windows and mailbox traffic as a device with trained models.
//
// Wake-word frames count only frames fed to the wake-word detector. Command
// frames are relative to the start of each command phase; each phase consumes
// the next entry of Commands.
package script

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Timeline is the YAML-loadable script.
type Timeline struct {
	// WakeWords lists the wake-word detector frames that match the phrase.
	WakeWords []int `yaml:"wake_words"`

	// BoundaryInterval is the number of wake-word frames between
	// "not detected" decisions. Zero never reports one.
	BoundaryInterval int `yaml:"boundary_interval"`

	// Commands are consumed one per command phase. Once exhausted, phases
	// stay silent and end in a pre-silence timeout.
	Commands []Command `yaml:"commands"`

	// LicenseExpiresAtFrame makes both detectors fail with a license error
	// from that overall frame on. Zero never expires.
	LicenseExpiresAtFrame int `yaml:"license_expires_at_frame"`
}

// Command is one spoken command within a command phase.
type Command struct {
	// Text is the transcript reported by the command detector.
	Text string `yaml:"text"`

	// Intent is the intent index in the active model.
	Intent int `yaml:"intent"`

	// Variables are the recognised intent variables.
	Variables []Variable `yaml:"variables"`

	// SpeechStart is the phase frame at which speech begins. A negative
	// value means the user stays silent.
	SpeechStart int `yaml:"speech_start"`

	// CompleteAt is the phase frame at which the intent is parsed. Zero
	// means the command never completes and the phase times out.
	CompleteAt int `yaml:"complete_at"`
}

// Variable mirrors detect.Variable in YAML.
type Variable struct {
	Value int32 `yaml:"value"`
	Unit  int   `yaml:"unit"`
}

// Load reads and validates the timeline at path.
func Load(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()

	tl, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", path, err)
	}
	return tl, nil
}

// Parse decodes a YAML timeline from r and validates it.
func Parse(r io.Reader) (*Timeline, error) {
	tl := &Timeline{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(tl); err != nil {
		return nil, fmt.Errorf("script: decode yaml: %w", err)
	}
	if err := tl.Validate(); err != nil {
		return nil, err
	}
	return tl, nil
}

// Validate checks frame indexes for consistency. It returns a joined error
// listing every problem.
func (tl *Timeline) Validate() error {
	var errs []error
	prev := -1
	for i, f := range tl.WakeWords {
		if f < 0 {
			errs = append(errs, fmt.Errorf("wake_words[%d]: frame %d is negative", i, f))
		}
		if f <= prev {
			errs = append(errs, fmt.Errorf("wake_words[%d]: frame %d is not after %d", i, f, prev))
		}
		prev = f
	}
	if tl.BoundaryInterval < 0 {
		errs = append(errs, fmt.Errorf("boundary_interval %d is negative", tl.BoundaryInterval))
	}
	if tl.LicenseExpiresAtFrame < 0 {
		errs = append(errs, fmt.Errorf("license_expires_at_frame %d is negative", tl.LicenseExpiresAtFrame))
	}
	for i, c := range tl.Commands {
		if c.CompleteAt < 0 {
			errs = append(errs, fmt.Errorf("commands[%d]: complete_at %d is negative", i, c.CompleteAt))
		}
		if c.CompleteAt > 0 && c.SpeechStart < 0 {
			errs = append(errs, fmt.Errorf("commands[%d]: completes without speech", i))
		}
		if c.CompleteAt > 0 && c.CompleteAt <= c.SpeechStart {
			errs = append(errs, fmt.Errorf("commands[%d]: complete_at %d must follow speech_start %d", i, c.CompleteAt, c.SpeechStart))
		}
		if c.Intent < 0 {
			errs = append(errs, fmt.Errorf("commands[%d]: intent %d is negative", i, c.Intent))
		}
	}
	return errors.Join(errs...)
}

// Default is a Smart Lights session of five wake-word cycles with one command
// each. The last command starts but never completes. Frames are 10 ms.
func Default() *Timeline {
	return &Timeline{
		WakeWords:        []int{100, 300, 500, 700, 900},
		BoundaryInterval: 50,
		Commands: []Command{
			{Text: "turn on all the lights", Intent: 2, SpeechStart: 20, CompleteAt: 120},
			{Text: "turn off the kitchen lights", Intent: 1, SpeechStart: 15, CompleteAt: 110,
				Variables: []Variable{{Value: 3, Unit: 13}}},
			{Text: "dim the lights to level four", Intent: 3, SpeechStart: 25, CompleteAt: 150,
				Variables: []Variable{{Value: 4, Unit: 3}}},
			{Text: "turn on the living room lights", Intent: 0, SpeechStart: 10, CompleteAt: 130,
				Variables: []Variable{{Value: 2, Unit: 13}}},
			{Text: "", SpeechStart: 30},
		},
	}
}

package script

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/vabridge/pkg/detect"
)

var errNoCommand = errors.New("script: no command detected yet")

// license counts frames across both detectors of one timeline.
type license struct {
	mu        sync.Mutex
	expiresAt int
	frames    int
}

// tick accounts for one frame and reports a license error once expired.
func (l *license) tick() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames++
	if l.expiresAt > 0 && l.frames > l.expiresAt {
		return fmt.Errorf("%w: evaluation expired after %d frames", detect.ErrLicenseRestricted, l.expiresAt)
	}
	return nil
}

// Detectors returns a wake-word and a command detector replaying tl. The
// command detector derives its timeouts from the given windows (see
// [detect.NewCommandTimer]).
func (tl *Timeline) Detectors(preSilence, command, frameDuration time.Duration) (*WakeWord, *CommandDetector) {
	lic := &license{expiresAt: tl.LicenseExpiresAtFrame}
	ww := &WakeWord{
		lic:      lic,
		interval: tl.BoundaryInterval,
		wake:     slices.Clone(tl.WakeWords),
	}
	cmd := &CommandDetector{
		lic:      lic,
		commands: slices.Clone(tl.Commands),
		timer:    detect.NewCommandTimer(preSilence, command, frameDuration),
	}
	return ww, cmd
}

// WakeWord replays the wake-word part of a timeline.
type WakeWord struct {
	lic      *license
	interval int

	mu    sync.Mutex
	wake  []int
	frame int
}

// ProcessFrame implements detect.WakeWordDetector.
func (w *WakeWord) ProcessFrame(_ []int16) (detect.WakeWordState, error) {
	if err := w.lic.tick(); err != nil {
		return detect.WakeWordPending, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.frame
	w.frame++
	if len(w.wake) > 0 && w.wake[0] == n {
		w.wake = w.wake[1:]
		return detect.WakeWordDetected, nil
	}
	if w.interval > 0 && (n+1)%w.interval == 0 {
		return detect.WakeWordNotDetected, nil
	}
	return detect.WakeWordPending, nil
}

// CommandDetector replays the command part of a timeline.
type CommandDetector struct {
	lic *license

	mu       sync.Mutex
	commands []Command
	timer    *detect.CommandTimer
	frame    int
	last     string
	detected bool
}

// ProcessFrame implements detect.CommandDetector. Each phase ends in a
// detection or a timeout and advances to the next scripted command.
func (c *CommandDetector) ProcessFrame(_ []int16) (detect.CommandOutcome, error) {
	if err := c.lic.tick(); err != nil {
		return detect.CommandOutcome{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := Command{SpeechStart: -1}
	if len(c.commands) > 0 {
		cur = c.commands[0]
	}
	n := c.frame
	c.frame++

	if cur.CompleteAt > 0 && n == cur.CompleteAt {
		c.last = cur.Text
		c.detected = true
		c.next()
		vars := make([]detect.Variable, len(cur.Variables))
		for i, v := range cur.Variables {
			vars[i] = detect.Variable{Value: v.Value, UnitIndex: v.Unit}
		}
		return detect.CommandOutcome{State: detect.CommandDetected, IntentIndex: cur.Intent, Variables: vars}, nil
	}

	speech := cur.SpeechStart >= 0 && n >= cur.SpeechStart
	switch c.timer.Observe(speech) {
	case detect.TimerPreSilence:
		c.next()
		return detect.CommandOutcome{State: detect.CommandPreSilenceTimedOut}, nil
	case detect.TimerCommand:
		c.next()
		return detect.CommandOutcome{State: detect.CommandTimedOut}, nil
	}
	return detect.CommandOutcome{State: detect.CommandListening}, nil
}

// next consumes the current command and restarts the phase. Must be called
// with c.mu held.
func (c *CommandDetector) next() {
	if len(c.commands) > 0 {
		c.commands = c.commands[1:]
	}
	c.frame = 0
	c.timer.Reset()
}

// Command implements detect.CommandDetector.
func (c *CommandDetector) Command() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.detected {
		return "", errNoCommand
	}
	return c.last, nil
}

// Reset implements detect.CommandDetector. It restarts the current phase
// without consuming its command.
func (c *CommandDetector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = 0
	c.timer.Reset()
}

// Remaining returns the number of scripted commands not yet consumed.
func (c *CommandDetector) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commands)
}

var (
	_ detect.WakeWordDetector = (*WakeWord)(nil)
	_ detect.CommandDetector  = (*CommandDetector)(nil)
)

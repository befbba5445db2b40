package detect

import "time"

// Default command windows and frame duration.
const (
	DefaultPreSilenceTimeout = 2000 * time.Millisecond
	DefaultCommandTimeout    = 5000 * time.Millisecond
	DefaultFrameDuration     = 10 * time.Millisecond
)

// TimerVerdict is the outcome of [CommandTimer.Observe].
type TimerVerdict int

const (
	// TimerRunning means neither window has elapsed.
	TimerRunning TimerVerdict = iota
	// TimerPreSilence means no speech arrived within the pre-silence window.
	TimerPreSilence
	// TimerCommand means speech started but the command window elapsed.
	TimerCommand
)

// String implements fmt.Stringer.
func (v TimerVerdict) String() string {
	switch v {
	case TimerPreSilence:
		return "pre_silence"
	case TimerCommand:
		return "command"
	default:
		return "running"
	}
}

// CommandTimer tracks the two command-phase windows in frames. Both windows
// start at the first observed frame after construction or [CommandTimer.Reset].
// A verdict other than TimerRunning is reported once; the timer then restarts.
//
// CommandTimer is not safe for concurrent use.
type CommandTimer struct {
	preSilenceFrames int
	commandFrames    int

	frames int
	speech bool
}

// NewCommandTimer converts the window durations into frame counts. Non-positive
// arguments fall back to the defaults. Windows shorter than one frame are
// rounded up to one frame.
func NewCommandTimer(preSilence, command, frameDuration time.Duration) *CommandTimer {
	if preSilence <= 0 {
		preSilence = DefaultPreSilenceTimeout
	}
	if command <= 0 {
		command = DefaultCommandTimeout
	}
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	return &CommandTimer{
		preSilenceFrames: framesFor(preSilence, frameDuration),
		commandFrames:    framesFor(command, frameDuration),
	}
}

func framesFor(window, frame time.Duration) int {
	n := int((window + frame - 1) / frame)
	return max(n, 1)
}

// PreSilenceFrames returns the pre-silence window in frames.
func (t *CommandTimer) PreSilenceFrames() int { return t.preSilenceFrames }

// CommandFrames returns the command window in frames.
func (t *CommandTimer) CommandFrames() int { return t.commandFrames }

// Observe accounts for one frame. speech reports whether the frame carried
// voice activity.
func (t *CommandTimer) Observe(speech bool) TimerVerdict {
	t.frames++
	if speech {
		t.speech = true
	}
	switch {
	case !t.speech && t.frames >= t.preSilenceFrames:
		t.Reset()
		return TimerPreSilence
	case t.speech && t.frames >= t.commandFrames:
		t.Reset()
		return TimerCommand
	}
	return TimerRunning
}

// Reset restarts both windows.
func (t *CommandTimer) Reset() {
	t.frames = 0
	t.speech = false
}

// Package detect implements the detection state machine of the voice
// assistant: it feeds fixed-size audio frames to a wake-word detector or a
// command detector, whichever currently owns the stream, and turns their
// outcomes into events.
//
// The machine has two run states. [RunWakeWord] listens for the wake phrase;
// [RunCommand] listens for a spoken command. Which transitions are taken
// depends on the [Mode] chosen at construction time:
//
//	Current      Outcome               Event                     Next state
//	WakeWord     phrase matched        EventWakeWordDetected      Command (WakeWord in ww_only)
//	WakeWord     boundary, no match    EventWakeWordNotDetected   WakeWord
//	Command      intent parsed         EventCommandDetected       WakeWord in ww_single_cmd, else Command
//	Command      no speech in window   EventCommandSilenceTimeout Command in ww_multi_cmd and cmd_only, else WakeWord
//	Command      deadline elapsed      EventCommandTimeout        Command in cmd_only, else WakeWord
//
// Sub-detectors are external collaborators behind [WakeWordDetector] and
// [CommandDetector]; timeouts are derived from frame counts (see
// [CommandTimer]), never from wall-clock timers.
package detect

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed calls. It is raised before
	// any sub-detector runs and never changes state.
	ErrInvalidArgument = errors.New("detect: invalid argument")

	// ErrLicenseRestricted is returned when a sub-detector runs in a
	// restricted or expired mode. The session should stop feeding frames.
	ErrLicenseRestricted = errors.New("detect: license restricted")

	// ErrDetectorFailure wraps any other sub-detector error. The frame
	// produces no event and the session may continue.
	ErrDetectorFailure = errors.New("detect: detector failure")
)

// Mode selects which detectors run and how the machine cycles between them.
// It is fixed for the life of a [Detector] except through [Detector.Reinit].
type Mode int

const (
	// ModeWakeWordSingleCommand listens for one command after each wake word.
	ModeWakeWordSingleCommand Mode = iota
	// ModeWakeWordMultiCommand keeps listening for commands after the first
	// wake word.
	ModeWakeWordMultiCommand
	// ModeWakeWordOnly only runs the wake-word detector.
	ModeWakeWordOnly
	// ModeCommandOnly only runs the command detector.
	ModeCommandOnly
)

var modeNames = [...]string{
	ModeWakeWordSingleCommand: "ww_single_cmd",
	ModeWakeWordMultiCommand:  "ww_multi_cmd",
	ModeWakeWordOnly:          "ww_only",
	ModeCommandOnly:           "cmd_only",
}

// String returns the configuration name of m.
func (m Mode) String() string {
	if m.valid() {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) valid() bool {
	return m >= ModeWakeWordSingleCommand && m <= ModeCommandOnly
}

// needsWakeWord reports whether m runs the wake-word detector.
func (m Mode) needsWakeWord() bool { return m != ModeCommandOnly }

// needsCommand reports whether m runs the command detector.
func (m Mode) needsCommand() bool { return m != ModeWakeWordOnly }

// ParseMode parses a configuration name such as "ww_single_cmd".
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
}

// RunState is the detector that currently owns the audio stream.
type RunState int

const (
	// RunWakeWord feeds frames to the wake-word detector.
	RunWakeWord RunState = iota
	// RunCommand feeds frames to the command detector.
	RunCommand
)

// String implements fmt.Stringer.
func (s RunState) String() string {
	switch s {
	case RunWakeWord:
		return "wake_word"
	case RunCommand:
		return "command"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Event is the outcome of one processed frame.
type Event int

const (
	NoEvent Event = iota
	EventWakeWordDetected
	EventWakeWordNotDetected
	EventCommandDetected
	EventCommandTimeout
	EventCommandSilenceTimeout
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case NoEvent:
		return "none"
	case EventWakeWordDetected:
		return "ww_detected"
	case EventWakeWordNotDetected:
		return "ww_not_detected"
	case EventCommandDetected:
		return "cmd_detected"
	case EventCommandTimeout:
		return "cmd_timeout"
	case EventCommandSilenceTimeout:
		return "cmd_silence_timeout"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Qualifying reports whether e is forwarded to the application side.
// Non-boundary frames and "wake word not detected" are not.
func (e Event) Qualifying() bool {
	switch e {
	case EventWakeWordDetected, EventCommandDetected, EventCommandTimeout, EventCommandSilenceTimeout:
		return true
	}
	return false
}

// MaxVariables is the number of intent variables copied into a [Result].
const MaxVariables = 4

// Variable is one recognised intent variable.
type Variable struct {
	// Value is the variable index for text variables, or the parsed number
	// for numeric ones.
	Value int32
	// UnitIndex indexes the model's unit table.
	UnitIndex int
}

// Result receives the intent of a command detection.
type Result struct {
	IntentIndex int
	// Variables holds at most MaxVariables entries.
	Variables []Variable
	// Dropped counts the variables beyond MaxVariables that did not fit.
	Dropped int
}

// reset clears r while keeping the Variables backing array.
func (r *Result) reset() {
	r.IntentIndex = 0
	r.Variables = r.Variables[:0]
	r.Dropped = 0
}

// WakeWordState is the per-frame outcome of a [WakeWordDetector].
type WakeWordState int

const (
	// WakeWordPending means the frame is not a decision boundary.
	WakeWordPending WakeWordState = iota
	WakeWordDetected
	WakeWordNotDetected
)

// WakeWordDetector recognises the wake phrase.
//
// Implementations return an error wrapping [ErrLicenseRestricted] when they
// run in restricted mode.
type WakeWordDetector interface {
	ProcessFrame(frame []int16) (WakeWordState, error)
}

// CommandState is the per-frame outcome of a [CommandDetector].
type CommandState int

const (
	// CommandListening means no decision has been reached on this frame.
	CommandListening CommandState = iota
	CommandDetected
	// CommandTimedOut means speech started but did not complete in time.
	CommandTimedOut
	// CommandPreSilenceTimedOut means no speech arrived within the
	// pre-command window.
	CommandPreSilenceTimedOut
)

// CommandOutcome is the result of one frame fed to a [CommandDetector].
// IntentIndex and Variables are only meaningful with CommandDetected.
type CommandOutcome struct {
	State       CommandState
	IntentIndex int
	Variables   []Variable
}

// CommandDetector recognises spoken commands and parses them into intents.
//
// Implementations return an error wrapping [ErrLicenseRestricted] when they
// run in restricted mode.
type CommandDetector interface {
	ProcessFrame(frame []int16) (CommandOutcome, error)

	// Command returns the text of the last detected command.
	Command() (string, error)

	// Reset discards any partial command and restarts the timeout windows.
	Reset()
}

// Detectors bundles the sub-detectors. Only those needed by the mode are
// required.
type Detectors struct {
	WakeWord WakeWordDetector
	Command  CommandDetector
}

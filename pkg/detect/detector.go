package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Config holds the construction-time settings of a [Detector].
type Config struct {
	Mode Mode
	// FrameSamples, when positive, is the exact frame length Process accepts.
	FrameSamples int
}

// Recorder receives detector observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordFrame is called for every frame handed to a sub-detector.
	RecordFrame(ctx context.Context, state RunState)

	// RecordEvent is called for every frame that produced an event other
	// than NoEvent.
	RecordEvent(ctx context.Context, ev Event)

	// RecordDetectorError is called when a sub-detector fails. kind is
	// "license" or "failure".
	RecordDetectorError(ctx context.Context, state RunState, kind string)

	// RecordDroppedVariables is called when a detection carried more than
	// MaxVariables variables.
	RecordDroppedVariables(ctx context.Context, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordFrame(context.Context, RunState) {}
func (nopRecorder) RecordEvent(context.Context, Event) {}
func (nopRecorder) RecordDetectorError(context.Context, RunState, string) {}
func (nopRecorder) RecordDroppedVariables(context.Context, int) {}

// Option configures a [Detector].
type Option func(*Detector)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Detector) {
		if r != nil {
			d.rec = r
		}
	}
}

// Detector is the detection state machine. All methods are safe for
// concurrent use, although frames are expected to come from a single
// processing goroutine.
type Detector struct {
	log *slog.Logger
	rec Recorder

	mu           sync.Mutex
	mode         Mode
	state        RunState
	frameSamples int
	dets         Detectors
}

// New validates cfg against the supplied detectors and returns a Detector in
// its initial state: [RunCommand] for [ModeCommandOnly], [RunWakeWord]
// otherwise.
func New(cfg Config, dets Detectors, opts ...Option) (*Detector, error) {
	if cfg.FrameSamples < 0 {
		return nil, fmt.Errorf("%w: frame_samples %d", ErrInvalidArgument, cfg.FrameSamples)
	}
	d := &Detector{
		log:          slog.Default(),
		rec:          nopRecorder{},
		frameSamples: cfg.FrameSamples,
		dets:         dets,
	}
	for _, o := range opts {
		o(d)
	}
	if err := d.init(cfg.Mode); err != nil {
		return nil, err
	}
	return d, nil
}

// Reinit switches to mode and restores the mode's initial state. It is the
// only way to change the mode of a running Detector.
func (d *Detector) Reinit(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.init(mode)
}

// init must be called with d.mu held or before d is shared.
func (d *Detector) init(mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("%w: mode %d", ErrInvalidArgument, int(mode))
	}
	if mode.needsWakeWord() && d.dets.WakeWord == nil {
		return fmt.Errorf("%w: mode %s needs a wake-word detector", ErrInvalidArgument, mode)
	}
	if mode.needsCommand() && d.dets.Command == nil {
		return fmt.Errorf("%w: mode %s needs a command detector", ErrInvalidArgument, mode)
	}
	d.mode = mode
	d.state = RunWakeWord
	if mode == ModeCommandOnly {
		d.state = RunCommand
	}
	if d.dets.Command != nil {
		d.dets.Command.Reset()
	}
	d.log.Debug("detect: initialised", "mode", mode, "state", d.state)
	return nil
}

// ChangeState overrides the run state. Switching to a state whose detector
// is missing is rejected.
func (d *Detector) ChangeState(state RunState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch state {
	case RunWakeWord:
		if d.dets.WakeWord == nil {
			return fmt.Errorf("%w: no wake-word detector", ErrInvalidArgument)
		}
	case RunCommand:
		if d.dets.Command == nil {
			return fmt.Errorf("%w: no command detector", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: run state %d", ErrInvalidArgument, int(state))
	}
	d.setState(state)
	return nil
}

// setState moves to next. Entering RunCommand from RunWakeWord restarts the
// command detector's windows. Must be called with d.mu held.
func (d *Detector) setState(next RunState) {
	if next == d.state {
		return
	}
	if next == RunCommand {
		d.dets.Command.Reset()
	}
	d.log.Debug("detect: state change", "from", d.state, "to", next, "mode", d.mode)
	d.state = next
}

// State returns the current run state.
func (d *Detector) State() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Mode returns the current mode.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Process feeds one frame to the detector that owns the stream and returns
// the resulting event.
//
// res receives the intent on [EventCommandDetected] and is required while in
// [RunCommand]; it may be nil in [RunWakeWord]. Argument errors are returned
// before any sub-detector runs. Sub-detector errors are returned wrapped in
// [ErrLicenseRestricted] or [ErrDetectorFailure]; in both cases the event is
// [NoEvent] and the state is unchanged.
func (d *Detector) Process(frame []int16, res *Result) (Event, error) {
	if len(frame) == 0 {
		return NoEvent, fmt.Errorf("%w: empty frame", ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frameSamples > 0 && len(frame) != d.frameSamples {
		return NoEvent, fmt.Errorf("%w: frame has %d samples, want %d", ErrInvalidArgument, len(frame), d.frameSamples)
	}
	if d.state == RunCommand && res == nil {
		return NoEvent, fmt.Errorf("%w: nil result in command state", ErrInvalidArgument)
	}

	ctx := context.Background()
	d.rec.RecordFrame(ctx, d.state)

	var (
		ev  Event
		err error
	)
	if d.state == RunWakeWord {
		ev, err = d.processWakeWord(frame)
	} else {
		ev, err = d.processCommand(frame, res)
	}
	if err != nil {
		kind := "failure"
		if errors.Is(err, ErrLicenseRestricted) {
			kind = "license"
		}
		d.rec.RecordDetectorError(ctx, d.state, kind)
		return NoEvent, err
	}
	if ev != NoEvent {
		d.rec.RecordEvent(ctx, ev)
	}
	return ev, nil
}

func (d *Detector) processWakeWord(frame []int16) (Event, error) {
	ws, err := d.dets.WakeWord.ProcessFrame(frame)
	if err != nil {
		return NoEvent, classify("wake word", err)
	}
	switch ws {
	case WakeWordDetected:
		if d.mode != ModeWakeWordOnly {
			d.setState(RunCommand)
		}
		return EventWakeWordDetected, nil
	case WakeWordNotDetected:
		return EventWakeWordNotDetected, nil
	default:
		return NoEvent, nil
	}
}

func (d *Detector) processCommand(frame []int16, res *Result) (Event, error) {
	out, err := d.dets.Command.ProcessFrame(frame)
	if err != nil {
		return NoEvent, classify("command", err)
	}
	switch out.State {
	case CommandDetected:
		d.copyResult(out, res)
		if d.mode == ModeWakeWordSingleCommand {
			d.setState(RunWakeWord)
		}
		return EventCommandDetected, nil
	case CommandTimedOut:
		if d.mode != ModeCommandOnly {
			d.setState(RunWakeWord)
		}
		return EventCommandTimeout, nil
	case CommandPreSilenceTimedOut:
		if d.mode != ModeCommandOnly && d.mode != ModeWakeWordMultiCommand {
			d.setState(RunWakeWord)
		}
		return EventCommandSilenceTimeout, nil
	default:
		return NoEvent, nil
	}
}

// copyResult copies the intent and up to MaxVariables variables into res.
func (d *Detector) copyResult(out CommandOutcome, res *Result) {
	res.reset()
	res.IntentIndex = out.IntentIndex
	n := min(len(out.Variables), MaxVariables)
	res.Variables = append(res.Variables, out.Variables[:n]...)
	if dropped := len(out.Variables) - n; dropped > 0 {
		res.Dropped = dropped
		d.rec.RecordDroppedVariables(context.Background(), dropped)
		d.log.Warn("detect: intent variables dropped",
			"intent_index", out.IntentIndex,
			"variables", len(out.Variables),
			"kept", n,
		)
	}
}

// Command returns the text of the last detected command.
func (d *Detector) Command() (string, error) {
	d.mu.Lock()
	cmd := d.dets.Command
	d.mu.Unlock()
	if cmd == nil {
		return "", fmt.Errorf("%w: no command detector", ErrInvalidArgument)
	}
	text, err := cmd.Command()
	if err != nil {
		return "", classify("command text", err)
	}
	return text, nil
}

// classify wraps a sub-detector error into the package taxonomy.
func classify(stage string, err error) error {
	if errors.Is(err, ErrLicenseRestricted) {
		return fmt.Errorf("detect: %s: %w", stage, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDetectorFailure, stage, err)
}

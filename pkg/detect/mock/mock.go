// Package mock provides test doubles for the detect sub-detector interfaces.
//
// Both doubles replay a queue of outcomes, one per processed frame, and fall
// back to a fixed outcome once the queue is drained:
//
//	ww := &mock.WakeWord{Queue: []detect.WakeWordState{detect.WakeWordPending, detect.WakeWordDetected}}
//	cmd := &mock.Command{Queue: []detect.CommandOutcome{{State: detect.CommandDetected, IntentIndex: 2}}}
//	d, _ := detect.New(detect.Config{Mode: detect.ModeWakeWordSingleCommand}, detect.Detectors{WakeWord: ww, Command: cmd})
package mock

import (
	"sync"

	"github.com/MrWong99/vabridge/pkg/detect"
)

// WakeWord is a mock implementation of detect.WakeWordDetector.
type WakeWord struct {
	mu sync.Mutex

	// Queue holds the states returned by successive ProcessFrame calls.
	Queue []detect.WakeWordState

	// State is returned once Queue is empty.
	State detect.WakeWordState

	// Err, if non-nil, is returned by every ProcessFrame call.
	Err error

	// --- Call records ---

	// Frames is the number of ProcessFrame calls.
	Frames int
}

// ProcessFrame records the call and returns the next queued state.
func (w *WakeWord) ProcessFrame(_ []int16) (detect.WakeWordState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Frames++
	if w.Err != nil {
		return detect.WakeWordPending, w.Err
	}
	if len(w.Queue) > 0 {
		s := w.Queue[0]
		w.Queue = w.Queue[1:]
		return s, nil
	}
	return w.State, nil
}

// FrameCount returns the number of processed frames. Thread-safe.
func (w *WakeWord) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Frames
}

// Ensure WakeWord implements detect.WakeWordDetector at compile time.
var _ detect.WakeWordDetector = (*WakeWord)(nil)

// Command is a mock implementation of detect.CommandDetector.
type Command struct {
	mu sync.Mutex

	// Queue holds the outcomes returned by successive ProcessFrame calls.
	Queue []detect.CommandOutcome

	// Outcome is returned once Queue is empty.
	Outcome detect.CommandOutcome

	// Err, if non-nil, is returned by every ProcessFrame call.
	Err error

	// Text and TextErr are returned by Command.
	Text    string
	TextErr error

	// --- Call records ---

	// Frames is the number of ProcessFrame calls.
	Frames int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int
}

// ProcessFrame records the call and returns the next queued outcome.
func (c *Command) ProcessFrame(_ []int16) (detect.CommandOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames++
	if c.Err != nil {
		return detect.CommandOutcome{}, c.Err
	}
	if len(c.Queue) > 0 {
		o := c.Queue[0]
		c.Queue = c.Queue[1:]
		return o, nil
	}
	return c.Outcome, nil
}

// Command returns Text, TextErr.
func (c *Command) Command() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Text, c.TextErr
}

// Reset records the call by incrementing ResetCallCount.
func (c *Command) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCallCount++
}

// Resets returns ResetCallCount. Thread-safe.
func (c *Command) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ResetCallCount
}

// Ensure Command implements detect.CommandDetector at compile time.
var _ detect.CommandDetector = (*Command)(nil)

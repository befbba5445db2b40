// Package payload defines DetectionPayload, the unit of transfer between the
// audio-processing side and the application side of the voice assistant.
//
// Every text field has a fixed capacity inherited from the shared-memory
// layout of the mailbox (the capacity counts the terminating NUL of that
// layout, so the usable length is capacity-1 bytes). Setters reject values
// that do not fit instead of truncating them: a payload is either stored
// intact or not at all.
//
// A payload crosses the mailbox as one msgpack-encoded unit (see [Encode] and
// [Decode]); a decoded payload that violates any capacity or invariant is
// rejected as a whole.
package payload

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field capacities in bytes, including the terminating NUL of the shared
// memory layout.
const (
	EventCapacity  = 256
	IntentCapacity = 50
	ParamCapacity  = 50
)

// Well-known event tags written by the producer for non-command events.
const (
	EventWake    = "WAKE"
	EventTimeout = "TIMEOUT"
)

var (
	// ErrFieldTooLong is returned when a text value exceeds its capacity.
	ErrFieldTooLong = errors.New("payload: field too long")

	// ErrInvalidText is returned for text that is not valid UTF-8 or that
	// contains a NUL byte.
	ErrInvalidText = errors.New("payload: invalid text")

	// ErrInconsistent is returned when a payload without an event carries
	// event or intent text.
	ErrInconsistent = errors.New("payload: event text without has_event")
)

// DetectionPayload carries the outcome of one processed audio frame.
//
// The zero value is a valid payload with no event.
type DetectionPayload struct {
	// SourceActive reports whether the audio source is currently feeding data.
	SourceActive bool `msgpack:"sa"`

	// HasEvent is true only for frames on which a qualifying event was emitted.
	HasEvent bool `msgpack:"he"`

	// Event is the human-readable event tag ([EventWake], [EventTimeout] or the
	// detected command text).
	Event string `msgpack:"ev"`

	// IntentName is the name of the recognised intent, empty for non-command events.
	IntentName string `msgpack:"in"`

	// IntentParamText is the first text parameter of the intent (e.g. a room).
	IntentParamText string `msgpack:"pt"`

	// IntentParamNumber is the first numeric parameter of the intent.
	IntentParamNumber int32 `msgpack:"pn"`
}

// Reset zeroes p so it can be filled for a new process cycle.
func (p *DetectionPayload) Reset() {
	*p = DetectionPayload{}
}

// ClearEvent drops the event and intent fields but keeps SourceActive.
func (p *DetectionPayload) ClearEvent() {
	*p = DetectionPayload{SourceActive: p.SourceActive}
}

// SetEvent stores the event tag. It returns an error wrapping
// [ErrFieldTooLong] or [ErrInvalidText] and leaves the field unchanged when s
// does not fit.
func (p *DetectionPayload) SetEvent(s string) error {
	if err := checkText("event", s, EventCapacity); err != nil {
		return err
	}
	p.Event = s
	return nil
}

// SetIntent stores the intent name. See [DetectionPayload.SetEvent] for the
// rejection rules.
func (p *DetectionPayload) SetIntent(s string) error {
	if err := checkText("intent_name", s, IntentCapacity); err != nil {
		return err
	}
	p.IntentName = s
	return nil
}

// SetParamText stores the text parameter. See [DetectionPayload.SetEvent] for
// the rejection rules.
func (p *DetectionPayload) SetParamText(s string) error {
	if err := checkText("intent_param_text", s, ParamCapacity); err != nil {
		return err
	}
	p.IntentParamText = s
	return nil
}

// Validate checks every field against its capacity and the has_event
// invariant. It returns a joined error listing all violations.
func (p *DetectionPayload) Validate() error {
	var errs []error
	if err := checkText("event", p.Event, EventCapacity); err != nil {
		errs = append(errs, err)
	}
	if err := checkText("intent_name", p.IntentName, IntentCapacity); err != nil {
		errs = append(errs, err)
	}
	if err := checkText("intent_param_text", p.IntentParamText, ParamCapacity); err != nil {
		errs = append(errs, err)
	}
	if !p.HasEvent && (p.Event != "" || p.IntentName != "") {
		errs = append(errs, ErrInconsistent)
	}
	return errors.Join(errs...)
}

// String renders p for log lines.
func (p DetectionPayload) String() string {
	if !p.HasEvent {
		return fmt.Sprintf("payload{active=%t}", p.SourceActive)
	}
	return fmt.Sprintf("payload{active=%t event=%q intent=%q text=%q number=%d}",
		p.SourceActive, p.Event, p.IntentName, p.IntentParamText, p.IntentParamNumber)
}

// checkText validates s against capacity, which includes one byte reserved
// for the terminator.
func checkText(field, s string, capacity int) error {
	if len(s) > capacity-1 {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrFieldTooLong, field, len(s), capacity-1)
	}
	if !utf8.ValidString(s) || strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidText, field)
	}
	return nil
}

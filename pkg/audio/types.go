// Package audio feeds fixed-size PCM frames to the detectors.
//
// Sources produce frames of [FrameSamples] 16 kHz mono samples. Raw input in
// other formats passes through a [Converter] and a [Framer] first.
package audio

import (
	"context"
	"errors"
	"time"
)

const (
	// SampleRate is the detector sample rate in Hz.
	SampleRate = 16000

	// FrameSamples is the number of samples per detector frame.
	FrameSamples = 160

	// FrameDuration is the playback time of one frame.
	FrameDuration = time.Second * FrameSamples / SampleRate
)

// ErrEndOfStream is returned by a finite source after its last frame.
var ErrEndOfStream = errors.New("audio: end of stream")

// Frame is one detector frame.
type Frame struct {
	// Samples holds exactly FrameSamples mono samples.
	Samples []int16

	// Index counts frames from the start of the stream.
	Index int

	// Timestamp is the stream time at the start of the frame.
	Timestamp time.Duration
}

// Source produces detector frames. Next blocks until the next frame is ready
// and returns [ErrEndOfStream] once a finite source is exhausted.
// Implementations need not be safe for concurrent use.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

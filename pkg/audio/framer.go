package audio

import "time"

// Framer cuts a sample stream into detector frames.
type Framer struct {
	buf  []int16
	next int
}

// Write appends samples and returns every full frame now available. The
// returned frames own their sample slices.
func (f *Framer) Write(samples []int16) []Frame {
	f.buf = append(f.buf, samples...)
	var frames []Frame
	for len(f.buf) >= FrameSamples {
		frames = append(frames, f.frame(f.buf[:FrameSamples]))
		f.buf = f.buf[FrameSamples:]
	}
	return frames
}

// Flush returns the buffered remainder zero-padded to a full frame, or false
// when nothing is buffered.
func (f *Framer) Flush() (Frame, bool) {
	if len(f.buf) == 0 {
		return Frame{}, false
	}
	padded := make([]int16, FrameSamples)
	copy(padded, f.buf)
	f.buf = f.buf[:0]
	return f.frame(padded), true
}

// Pending returns the number of buffered samples.
func (f *Framer) Pending() int { return len(f.buf) }

func (f *Framer) frame(samples []int16) Frame {
	fr := Frame{
		Samples:   append([]int16(nil), samples...),
		Index:     f.next,
		Timestamp: FrameDuration * time.Duration(f.next),
	}
	f.next++
	return fr
}

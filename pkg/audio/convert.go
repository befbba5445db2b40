package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of interleaved PCM.
type Format struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// DetectorFormat is the format the detectors consume.
var DetectorFormat = Format{SampleRate: SampleRate, Channels: 1}

// Validate reports whether f describes a usable stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate %d must be positive", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: %d channels not supported, want 1 or 2", f.Channels)
	}
	return nil
}

// String renders f as e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Converter turns little-endian s16 PCM in a source format into detector
// samples (16 kHz mono). Create one per stream.
type Converter struct {
	From Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Convert decodes pcm and converts it to [DetectorFormat]. A trailing partial
// sample or stereo pair is dropped with a one-time warning.
func (c *Converter) Convert(pcm []byte) []int16 {
	unit := 2 * c.From.Channels
	if rem := len(pcm) % unit; rem != 0 {
		c.warnOdd.Do(func() {
			slog.Warn("audio converter: trailing partial sample dropped",
				"bytes", len(pcm),
				"format", c.From.String(),
			)
		})
		pcm = pcm[:len(pcm)-rem]
	}
	samples := DecodeS16LE(pcm)

	if c.From == DetectorFormat {
		return samples
	}
	c.warnMismatch.Do(func() {
		slog.Info("audio converter: converting input",
			"from", c.From.String(),
			"to", DetectorFormat.String(),
		)
	})
	if c.From.Channels == 2 {
		samples = StereoToMono(samples)
	}
	return Resample(samples, c.From.SampleRate, SampleRate)
}

// DecodeS16LE decodes little-endian int16 samples. An odd trailing byte is
// ignored.
func DecodeS16LE(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodeS16LE encodes samples as little-endian int16 PCM.
func EncodeS16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// StereoToMono averages each interleaved L/R pair. A trailing unpaired
// sample is dropped.
func StereoToMono(samples []int16) []int16 {
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation. Equal or non-positive rates return the input unchanged.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

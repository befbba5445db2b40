package audio_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/vabridge/pkg/audio"
)

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestS16LE_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768}
	equalSamples(t, audio.DecodeS16LE(audio.EncodeS16LE(in)), in)
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := audio.StereoToMono([]int16{100, 200, -100, -200, 32767, 32767})
	equalSamples(t, got, []int16{150, -150, 32767})
}

func TestResample(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		wantLen  int
	}{
		{"same rate", []int16{1, 2, 3}, 16000, 16000, 3},
		{"downsample 48k", make([]int16, 480), 48000, 16000, 160},
		{"upsample 8k", make([]int16, 80), 8000, 16000, 160},
		{"zero rate", []int16{1, 2}, 0, 16000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Resample(tt.in, tt.src, tt.dst); len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()
	got := audio.Resample([]int16{0, 100}, 8000, 16000)
	equalSamples(t, got, []int16{0, 50, 100, 100})
}

func TestConverter(t *testing.T) {
	t.Parallel()

	t.Run("detector format passes through", func(t *testing.T) {
		t.Parallel()
		c := audio.Converter{From: audio.DetectorFormat}
		equalSamples(t, c.Convert(audio.EncodeS16LE([]int16{5, 6, 7})), []int16{5, 6, 7})
	})

	t.Run("48k stereo", func(t *testing.T) {
		t.Parallel()
		c := audio.Converter{From: audio.Format{SampleRate: 48000, Channels: 2}}
		in := make([]int16, 960) // 10 ms of stereo
		for i := range in {
			in[i] = 1000
		}
		got := c.Convert(audio.EncodeS16LE(in))
		if len(got) != audio.FrameSamples {
			t.Fatalf("len = %d, want %d", len(got), audio.FrameSamples)
		}
		if got[0] != 1000 {
			t.Errorf("sample 0 = %d, want 1000", got[0])
		}
	})

	t.Run("partial sample dropped", func(t *testing.T) {
		t.Parallel()
		c := audio.Converter{From: audio.DetectorFormat}
		equalSamples(t, c.Convert([]byte{1, 0, 9}), []int16{1})
	})
}

func TestFormat_Validate(t *testing.T) {
	t.Parallel()
	if err := audio.DetectorFormat.Validate(); err != nil {
		t.Errorf("DetectorFormat: %v", err)
	}
	for _, f := range []audio.Format{{SampleRate: 0, Channels: 1}, {SampleRate: 16000, Channels: 3}} {
		if err := f.Validate(); err == nil {
			t.Errorf("%+v: want error", f)
		}
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
}

func TestFramer(t *testing.T) {
	t.Parallel()
	var f audio.Framer

	if frames := f.Write(make([]int16, 100)); len(frames) != 0 {
		t.Fatalf("100 samples: %d frames, want 0", len(frames))
	}
	frames := f.Write(make([]int16, 250))
	if len(frames) != 2 {
		t.Fatalf("350 samples: %d frames, want 2", len(frames))
	}
	if frames[1].Index != 1 || frames[1].Timestamp != 10*time.Millisecond {
		t.Errorf("frame 1 = index %d at %v", frames[1].Index, frames[1].Timestamp)
	}
	if f.Pending() != 30 {
		t.Errorf("Pending() = %d, want 30", f.Pending())
	}

	last, ok := f.Flush()
	if !ok || len(last.Samples) != audio.FrameSamples || last.Index != 2 {
		t.Fatalf("Flush() = %d samples index %d, %t", len(last.Samples), last.Index, ok)
	}
	if _, ok := f.Flush(); ok {
		t.Error("second Flush: want nothing buffered")
	}
}

func TestPCMSource(t *testing.T) {
	t.Parallel()
	samples := make([]int16, 2*audio.FrameSamples+10)
	for i := range samples {
		samples[i] = int16(i)
	}
	src, err := audio.NewPCMSource(bytes.NewReader(audio.EncodeS16LE(samples)), audio.DetectorFormat)
	if err != nil {
		t.Fatalf("NewPCMSource: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	var got []audio.Frame
	for {
		fr, err := src.Next(ctx)
		if errors.Is(err, audio.ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, fr)
	}
	if len(got) != 3 {
		t.Fatalf("frames = %d, want 3", len(got))
	}
	if got[1].Samples[0] != audio.FrameSamples {
		t.Errorf("frame 1 sample 0 = %d, want %d", got[1].Samples[0], audio.FrameSamples)
	}
	if got[2].Samples[9] != int16(2*audio.FrameSamples+9) || got[2].Samples[10] != 0 {
		t.Errorf("last frame not zero padded: %v", got[2].Samples[:12])
	}
}

func TestOpenPCMFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.raw")
	if err := os.WriteFile(path, audio.EncodeS16LE(make([]int16, audio.FrameSamples)), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := audio.OpenPCMFile(path, audio.DetectorFormat)
	if err != nil {
		t.Fatalf("OpenPCMFile: %v", err)
	}
	if _, err := src.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, audio.ErrEndOfStream) {
		t.Errorf("err = %v, want ErrEndOfStream", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := audio.OpenPCMFile(path, audio.Format{}); err == nil {
		t.Error("invalid format: want error")
	}
}

func TestSilenceSource(t *testing.T) {
	t.Parallel()
	src := audio.NewSilenceSource(3)
	for i := range 3 {
		fr, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if fr.Index != i || len(fr.Samples) != audio.FrameSamples {
			t.Errorf("frame %d = index %d, %d samples", i, fr.Index, len(fr.Samples))
		}
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, audio.ErrEndOfStream) {
		t.Errorf("err = %v, want ErrEndOfStream", err)
	}
}

func TestSilenceSource_RealtimeHonoursContext(t *testing.T) {
	t.Parallel()
	src := audio.NewSilenceSource(0, audio.WithRealtime())
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	var n int
	for {
		if _, err := src.Next(ctx); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("err = %v, want deadline exceeded", err)
			}
			break
		}
		n++
	}
	// Frames 0..3 are due within 35 ms; allow scheduling slack downwards.
	if n < 1 || n > 5 {
		t.Errorf("frames before deadline = %d, want about 4", n)
	}
}

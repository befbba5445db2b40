package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// readChunk is the number of bytes read from a PCM stream at a time.
const readChunk = 4096

// SourceOption configures a source.
type SourceOption func(*pacer)

// WithRealtime paces the source so that frames are released no faster than
// their playback time.
func WithRealtime() SourceOption {
	return func(p *pacer) { p.realtime = true }
}

// pacer releases frames at playback speed when realtime is set.
type pacer struct {
	realtime bool
	start    time.Time
}

func (p *pacer) wait(ctx context.Context, fr Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.realtime {
		return nil
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	d := time.Until(p.start.Add(fr.Timestamp))
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PCMSource reads raw little-endian s16 PCM and frames it.
type PCMSource struct {
	r      io.Reader
	closer io.Closer
	conv   *Converter
	framer Framer
	queue  []Frame
	pace   pacer
	eof    bool
}

// NewPCMSource wraps r, which yields PCM in format from.
func NewPCMSource(r io.Reader, from Format, opts ...SourceOption) (*PCMSource, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	s := &PCMSource{r: r, conv: &Converter{From: from}}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	for _, o := range opts {
		o(&s.pace)
	}
	return s, nil
}

// OpenPCMFile opens the raw PCM file at path.
func OpenPCMFile(path string, from Format, opts ...SourceOption) (*PCMSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	s, err := NewPCMSource(f, from, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Next implements [Source]. The last partial frame is zero-padded.
func (s *PCMSource) Next(ctx context.Context) (Frame, error) {
	for len(s.queue) == 0 {
		if s.eof {
			fr, ok := s.framer.Flush()
			if !ok {
				return Frame{}, ErrEndOfStream
			}
			s.queue = append(s.queue, fr)
			break
		}
		if err := s.fill(); err != nil {
			return Frame{}, err
		}
	}
	fr := s.queue[0]
	s.queue = s.queue[1:]
	if err := s.pace.wait(ctx, fr); err != nil {
		return Frame{}, err
	}
	return fr, nil
}

func (s *PCMSource) fill() error {
	buf := make([]byte, readChunk)
	n, err := io.ReadFull(s.r, buf)
	if n > 0 {
		s.queue = append(s.queue, s.framer.Write(s.conv.Convert(buf[:n]))...)
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true
	case err != nil:
		return fmt.Errorf("audio: read pcm: %w", err)
	}
	return nil
}

// Close closes the underlying reader when it is an [io.Closer].
func (s *PCMSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SilenceSource produces silent frames.
type SilenceSource struct {
	total int
	n     int
	pace  pacer
}

// NewSilenceSource returns a source of total silent frames. A total of zero
// or less never ends.
func NewSilenceSource(total int, opts ...SourceOption) *SilenceSource {
	s := &SilenceSource{total: total}
	for _, o := range opts {
		o(&s.pace)
	}
	return s
}

// Next implements [Source].
func (s *SilenceSource) Next(ctx context.Context) (Frame, error) {
	if s.total > 0 && s.n >= s.total {
		return Frame{}, ErrEndOfStream
	}
	fr := Frame{
		Samples:   make([]int16, FrameSamples),
		Index:     s.n,
		Timestamp: FrameDuration * time.Duration(s.n),
	}
	if err := s.pace.wait(ctx, fr); err != nil {
		return Frame{}, err
	}
	s.n++
	return fr, nil
}

// Close implements [Source].
func (s *SilenceSource) Close() error { return nil }

var (
	_ Source = (*PCMSource)(nil)
	_ Source = (*SilenceSource)(nil)
)

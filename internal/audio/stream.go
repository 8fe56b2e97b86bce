package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// StreamBackend decodes progressively through FFmpeg, trading the buffer
// backend's sample-accurate seeks for constant memory. It has no in-place
// rate or pitch control: both require a restart, where the new rate is
// applied through FFmpeg's tempo filter (pitch-preserving, so no separate
// compensation stage is inserted).
type StreamBackend struct {
	mu   sync.Mutex
	out  Output
	dec  *FFmpegDecoder
	path string

	duration float64
	rate     float64

	generation uint64
	running    bool
	written    int // bytes pushed to the output this session
	startedAt  float64
	onEnded    func()
	cancel     context.CancelFunc
}

// NewStreamBackend creates a streaming backend for one asset.
func NewStreamBackend(out Output, dec *FFmpegDecoder, path string) *StreamBackend {
	return &StreamBackend{out: out, dec: dec, path: path, rate: 1.0}
}

// Prepare probes the asset duration.
func (s *StreamBackend) Prepare(ctx context.Context) (float64, error) {
	s.mu.Lock()
	if s.duration > 0 {
		d := s.duration
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	d, err := s.dec.Duration(s.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	s.mu.Lock()
	s.duration = d.Seconds()
	s.mu.Unlock()
	return d.Seconds(), nil
}

// Start begins streaming at the given song offset. Seek precision is
// whatever FFmpeg's input seek gives, which is coarser than the buffer
// backend; the drift monitor absorbs the residue.
func (s *StreamBackend) Start(ctx context.Context, offset float64) error {
	if _, err := s.Prepare(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stopLocked()
	}

	s.generation++
	gen := s.generation
	feedCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.written = 0
	s.startedAt = offset
	s.running = true

	go s.stream(feedCtx, gen, offset, s.rate)
	return nil
}

func (s *StreamBackend) stream(ctx context.Context, gen uint64, offset, rate float64) {
	err := s.dec.DecodeFrom(ctx, s.path, &streamWriter{backend: s, gen: gen},
		s.out.SampleRate(), s.out.Channels(), offset, rate)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errStale) {
		log.Printf("[AUDIO] stream decode error: %v", err)
	}
	if err != nil {
		return
	}

	// Decode finished; wait for the output to drain before reporting the
	// natural end.
	for s.out.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.mu.Lock()
	if s.generation != gen || !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ended := s.onEnded
	s.mu.Unlock()

	if ended != nil {
		ended()
	}
}

var errStale = errors.New("stale stream generation")

// streamWriter forwards decoded PCM to the output while counting bytes,
// and fails writes from a superseded session so a stale FFmpeg process
// cannot leak sound into a new one.
type streamWriter struct {
	backend *StreamBackend
	gen     uint64
}

func (w *streamWriter) Write(p []byte) (int, error) {
	s := w.backend
	s.mu.Lock()
	if s.generation != w.gen {
		s.mu.Unlock()
		return 0, errStale
	}
	s.mu.Unlock()

	n, err := s.out.Write(p)

	s.mu.Lock()
	if s.generation == w.gen {
		s.written += n
	}
	s.mu.Unlock()
	return n, err
}

// Stop halts streaming and discards buffered audio. Idempotent.
func (s *StreamBackend) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *StreamBackend) stopLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.out.Flush()
}

// SetRate stores the rate for the next Start and reports that this
// variant cannot apply it in place.
func (s *StreamBackend) SetRate(rate float64) bool {
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
	return false
}

// SetPitchOffset is unsupported for the streaming variant; the tempo
// filter already preserves pitch and user transpose is not applied to
// the audio.
func (s *StreamBackend) SetPitchOffset(semitones float64) bool {
	return false
}

// Position estimates the audible song position from bytes pushed minus
// bytes still unplayed. The output stream runs at 1x wall speed; atempo
// compresses rate source-seconds into each wall second.
func (s *StreamBackend) Position() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0, false
	}
	bps := float64(bytesPerSecond(s.out.SampleRate(), s.out.Channels()))
	audible := float64(s.written-s.out.Buffered()) / bps * s.rate
	if audible < 0 {
		audible = 0
	}
	return s.startedAt + audible, true
}

// Duration returns the probed asset duration.
func (s *StreamBackend) Duration() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration, s.duration > 0
}

// SetOnEnded registers the natural-end notification.
func (s *StreamBackend) SetOnEnded(f func()) {
	s.mu.Lock()
	s.onEnded = f
	s.mu.Unlock()
}

// Close stops streaming.
func (s *StreamBackend) Close() error {
	s.Stop()
	return nil
}

var _ Backend = (*StreamBackend)(nil)
var _ io.Writer = (*streamWriter)(nil)

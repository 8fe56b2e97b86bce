package audio

import (
	"context"
	"io"
	"sync"
	"time"
)

// BufferBackend decodes the whole asset up front and feeds PCM to the
// output from memory. Start offsets are sample-accurate, and both rate
// and pitch changes apply in place by rebuilding the feeder's processing
// chain at the current source position.
type BufferBackend struct {
	mu   sync.Mutex
	out  Output
	path string

	pcm      []byte // decoded, 16-bit stereo at the output rate
	duration float64

	rate   float64
	offset float64 // pitch compensation, semitones

	generation uint64
	running    bool
	srcPos     int // feeder position in pcm, bytes
	startedAt  float64
	onEnded    func()
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewBufferBackend creates a decoded-buffer backend for one asset.
func NewBufferBackend(out Output, path string) *BufferBackend {
	return &BufferBackend{out: out, path: path, rate: 1.0}
}

// Prepare decodes the asset if it has not been decoded yet and returns
// the audio duration. Safe to call multiple times.
func (b *BufferBackend) Prepare(ctx context.Context) (float64, error) {
	b.mu.Lock()
	if b.pcm != nil {
		d := b.duration
		b.mu.Unlock()
		return d, nil
	}
	path := b.path
	rate := b.out.SampleRate()
	b.mu.Unlock()

	// Decode outside the lock; Stop/SetRate may arrive mid-decode.
	pcm, err := decodeAsset(ctx, path, rate)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pcm = pcm
	b.duration = float64(len(pcm)) / float64(bytesPerSecond(rate, b.out.Channels()))
	return b.duration, nil
}

// Start begins playback at the given song offset.
func (b *BufferBackend) Start(ctx context.Context, offset float64) error {
	if _, err := b.Prepare(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		b.stopLocked()
	}

	bps := bytesPerSecond(b.out.SampleRate(), b.out.Channels())
	pos := int(offset*float64(bps)) &^ (frameBytes - 1)
	if pos < 0 {
		pos = 0
	}
	if pos > len(b.pcm) {
		pos = len(b.pcm)
	}

	b.srcPos = pos
	b.startedAt = float64(pos) / float64(bps)
	b.running = true
	b.startFeederLocked()
	return nil
}

// startFeederLocked launches a feeder goroutine for the current source
// position and processing parameters. Callers hold b.mu.
func (b *BufferBackend) startFeederLocked() {
	b.generation++
	gen := b.generation
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done

	src := &countingReader{backend: b, gen: gen, pos: b.srcPos}
	chain := buildStages(src, b.rate, b.offset)

	go func() {
		defer close(done)
		b.feed(ctx, gen, chain)
	}()
}

// countingReader serves pcm bytes to the processing chain and records
// consumption back on the backend so Position and chain rebuilds see how
// far into the source the feeder got. Reads from a stale generation
// return EOF instead of touching shared state.
type countingReader struct {
	backend *BufferBackend
	gen     uint64
	pos     int
}

func (r *countingReader) Read(p []byte) (int, error) {
	b := r.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != r.gen {
		return 0, io.EOF
	}
	if r.pos >= len(b.pcm) {
		return 0, io.EOF
	}
	n := copy(p, b.pcm[r.pos:])
	r.pos += n
	b.srcPos = r.pos
	return n, nil
}

func (b *BufferBackend) feed(ctx context.Context, gen uint64, chain io.Reader) {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := chain.Read(buf)
		if n > 0 {
			if _, werr := b.out.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			break
		}
	}

	// Source exhausted: wait for the output buffer to drain, then report
	// the natural end, unless this feeder has been superseded.
	for b.out.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	b.mu.Lock()
	if b.generation != gen || !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	ended := b.onEnded
	b.mu.Unlock()

	if ended != nil {
		ended()
	}
}

// Stop halts playback and discards buffered audio. Idempotent.
func (b *BufferBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *BufferBackend) stopLocked() {
	b.generation++ // orphan any in-flight feeder completion
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.running = false
	b.out.Flush()
}

// SetRate rebuilds the processing chain at the current source position
// with the new rate. Always applies in place.
func (b *BufferBackend) SetRate(rate float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = rate
	if b.running {
		b.restartChainLocked()
	}
	return true
}

// SetPitchOffset rebuilds the processing chain with a new pitch
// compensation. Always applies in place.
func (b *BufferBackend) SetPitchOffset(semitones float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offset = semitones
	if b.running {
		b.restartChainLocked()
	}
	return true
}

func (b *BufferBackend) restartChainLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.out.Flush()
	b.startFeederLocked()
}

// Position estimates the audible song position: how far the feeder has
// consumed the source, minus what is still sitting unplayed in the
// output buffer (which is source-domain rate times larger per second).
func (b *BufferBackend) Position() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running || b.pcm == nil {
		return 0, false
	}
	bps := float64(bytesPerSecond(b.out.SampleRate(), b.out.Channels()))
	pos := float64(b.srcPos)/bps - float64(b.out.Buffered())/bps*b.rate
	if pos < b.startedAt {
		pos = b.startedAt
	}
	return pos, true
}

// Duration returns the decoded audio duration.
func (b *BufferBackend) Duration() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pcm == nil {
		return 0, false
	}
	return b.duration, true
}

// SetOnEnded registers the natural-end notification.
func (b *BufferBackend) SetOnEnded(f func()) {
	b.mu.Lock()
	b.onEnded = f
	b.mu.Unlock()
}

// Close stops playback and drops the decoded buffer.
func (b *BufferBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	b.pcm = nil
	return nil
}

var _ Backend = (*BufferBackend)(nil)

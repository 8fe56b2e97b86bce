package audio

import (
	"context"
	"sync"
)

// SilentBackend produces no sound. It exists so the transport always has
// a backend to own: notes-only songs, decode failures and missing output
// devices all run on it, with the logical clock advancing from the
// hardware clock alone. It reports no position, so drift monitoring is
// effectively inert; natural end is detected by the transport when the
// clock reaches the song duration.
type SilentBackend struct {
	mu      sync.Mutex
	running bool
}

// NewSilentBackend creates a silent backend.
func NewSilentBackend() *SilentBackend {
	return &SilentBackend{}
}

// Start never fails; there is nothing to prepare.
func (s *SilentBackend) Start(ctx context.Context, offset float64) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

// Stop is a no-op beyond bookkeeping. Idempotent.
func (s *SilentBackend) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// SetRate trivially succeeds; the clock alone defines tempo.
func (s *SilentBackend) SetRate(rate float64) bool { return true }

// SetPitchOffset trivially succeeds; there is no audio to shift.
func (s *SilentBackend) SetPitchOffset(semitones float64) bool { return true }

// Position reports that no backend position exists.
func (s *SilentBackend) Position() (float64, bool) { return 0, false }

// Duration reports that no audio duration exists.
func (s *SilentBackend) Duration() (float64, bool) { return 0, false }

// SetOnEnded is accepted but never fired; end-of-song for silent
// playback comes from the logical clock hitting the duration.
func (s *SilentBackend) SetOnEnded(f func()) {}

// Close is a no-op.
func (s *SilentBackend) Close() error { return nil }

var _ Backend = (*SilentBackend)(nil)

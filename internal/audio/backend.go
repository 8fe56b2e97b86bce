// Package audio owns sound production: the output device, the backend
// variants that feed it, and the pitch compensation stage. The transport
// is the only caller allowed to start or stop a backend.
package audio

import "context"

// Backend produces audio for one song. At most one backend is active at a
// time; the transport tears the previous one down fully before starting
// the next.
type Backend interface {
	// Start begins producing audio such that the first sample out
	// corresponds to offset seconds into the song. Blocks until the
	// backend is actually producing (or has failed); the context cancels
	// preparation. Returns ErrUnsupportedFormat, ErrDecodeFailed or
	// ErrBackendStart as appropriate.
	Start(ctx context.Context, offset float64) error

	// Stop halts production and discards buffered audio. Idempotent and
	// safe to call even if Start was never called. A stopped backend does
	// not fire its end notification.
	Stop()

	// SetRate applies a new playback rate in place if the variant
	// supports it, returning false when the caller must restart the
	// backend instead.
	SetRate(rate float64) bool

	// SetPitchOffset applies a pitch compensation in semitones if the
	// variant supports it, returning false otherwise.
	SetPitchOffset(semitones float64) bool

	// Position reports the backend's own idea of the current song
	// position in seconds, and whether one is available. Used only by
	// drift monitoring; the logical clock is authoritative.
	Position() (float64, bool)

	// Duration reports the decoded audio duration once known.
	Duration() (float64, bool)

	// SetOnEnded registers f to run exactly once per Start when playback
	// reaches the natural end of the audio. Must be set before Start.
	SetOnEnded(f func())

	// Close releases all resources. The backend is unusable afterwards.
	Close() error
}

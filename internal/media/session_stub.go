//go:build !linux

package media

import "fmt"

// NewSession creates a platform media session. Only Linux (MPRIS) is
// implemented; other platforms fall back to the no-op session.
func NewSession() (Session, error) {
	return nil, fmt.Errorf("media session not supported on this platform")
}

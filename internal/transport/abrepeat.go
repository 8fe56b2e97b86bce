package transport

import "sync"

// ABRepeat holds the user's loop region. Bounds are independently
// settable and may be left nil; the loop is only enforced while enabled
// with both bounds set. Bound ordering is not auto-corrected here - the
// UI owns that - but an inverted region is never enforced, so a
// half-edited region cannot cause a seek storm.
type ABRepeat struct {
	mu      sync.Mutex
	start   *float64
	end     *float64
	enabled bool
}

// NewABRepeat creates a disabled loop with no region.
func NewABRepeat() *ABRepeat {
	return &ABRepeat{}
}

// SetStart sets the loop start bound.
func (l *ABRepeat) SetStart(t float64) {
	l.mu.Lock()
	l.start = &t
	l.mu.Unlock()
}

// SetEnd sets the loop end bound.
func (l *ABRepeat) SetEnd(t float64) {
	l.mu.Lock()
	l.end = &t
	l.mu.Unlock()
}

// SetRegion sets both bounds at once.
func (l *ABRepeat) SetRegion(start, end float64) {
	l.mu.Lock()
	l.start = &start
	l.end = &end
	l.mu.Unlock()
}

// Clear removes both bounds, leaving the enabled flag alone.
func (l *ABRepeat) Clear() {
	l.mu.Lock()
	l.start = nil
	l.end = nil
	l.mu.Unlock()
}

// SetEnabled toggles loop enforcement.
func (l *ABRepeat) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Enabled reports whether loop enforcement is on.
func (l *ABRepeat) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Region returns the bounds; nil means unset.
func (l *ABRepeat) Region() (start, end *float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.start, l.end
}

// HasRegion reports whether both bounds are set.
func (l *ABRepeat) HasRegion() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.start != nil && l.end != nil
}

// ShouldReset reports whether logical time t has run past the loop end,
// and if so where to seek back to.
func (l *ABRepeat) ShouldReset(t float64) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.start == nil || l.end == nil || *l.start >= *l.end {
		return 0, false
	}
	if t >= *l.end {
		return *l.start, true
	}
	return 0, false
}

package clock

import (
	"math"
	"sync"
)

// DriftMonitor decides when the divergence between the backend-reported
// position and the logical clock warrants a resynchronization. It is a
// pure decision helper: the transport observes it on its own cadence and
// performs the corrective reseek itself. It never runs a timer.
// Arm and Disarm run on connection goroutines while Exceeded runs on the
// tick goroutine, so the armed flag is mutex-guarded.
type DriftMonitor struct {
	mu        sync.Mutex
	threshold float64
	armed     bool
}

// NewDriftMonitor creates a monitor with the given threshold in seconds.
func NewDriftMonitor(threshold float64) *DriftMonitor {
	if threshold <= 0 {
		threshold = 0.2
	}
	return &DriftMonitor{threshold: threshold}
}

// Arm enables drift checking. Called on the transition to playing.
func (m *DriftMonitor) Arm() {
	m.mu.Lock()
	m.armed = true
	m.mu.Unlock()
}

// Disarm disables drift checking. Called on pause and stop.
func (m *DriftMonitor) Disarm() {
	m.mu.Lock()
	m.armed = false
	m.mu.Unlock()
}

// Armed reports whether drift checking is active.
func (m *DriftMonitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Threshold returns the configured threshold in seconds.
func (m *DriftMonitor) Threshold() float64 { return m.threshold }

// Exceeded reports whether the backend position has diverged from the
// clock-derived time by more than the threshold. Always false while
// disarmed.
func (m *DriftMonitor) Exceeded(backendTime, clockTime float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed {
		return false
	}
	return math.Abs(backendTime-clockTime) > m.threshold
}

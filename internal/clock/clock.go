// Package clock computes the authoritative logical song time from hardware
// clock readings, and watches for drift against backend-reported positions.
package clock

import (
	"sync"
	"time"
)

// Clock reads a monotonic hardware time in seconds. The playback engine
// never calls time.Now directly so tests can substitute a fake.
type Clock interface {
	Now() float64
}

type systemClock struct {
	epoch time.Time
}

// NewSystemClock returns a Clock backed by the monotonic system clock.
func NewSystemClock() Clock {
	return &systemClock{epoch: time.Now()}
}

func (c *systemClock) Now() float64 {
	return time.Since(c.epoch).Seconds()
}

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now float64
}

func (c *FakeClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d seconds.
func (c *FakeClock) Advance(d float64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set moves the fake clock to an absolute reading.
func (c *FakeClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Reference anchors logical song time to a hardware clock reading at a
// given speed. References are values: every sync point (play, seek, speed
// change, resync) replaces the whole reference, never patches a field of
// a live one.
type Reference struct {
	HardwareAt float64 // hardware reading at the last sync point
	LogicalAt  float64 // logical song time at the last sync point
	Speed      float64 // playback speed multiplier
}

// logicalAt maps a hardware reading through the reference.
func (r Reference) logicalAt(hw float64) float64 {
	return (hw-r.HardwareAt)*r.Speed + r.LogicalAt
}

// PlaybackClock is the single source of logical song time. While running
// it derives time from the hardware clock through the current Reference;
// while frozen (paused or stopped) it reports the anchored logical time.
type PlaybackClock struct {
	mu       sync.RWMutex
	hw       Clock
	ref      Reference
	running  bool
	duration float64 // <= 0 means unknown
	minSpeed float64
	maxSpeed float64
}

// NewPlaybackClock creates a clock anchored at logical time zero, frozen,
// with the given speed bounds.
func NewPlaybackClock(hw Clock, minSpeed, maxSpeed float64) *PlaybackClock {
	if minSpeed <= 0 {
		minSpeed = 0.5
	}
	if maxSpeed < minSpeed {
		maxSpeed = minSpeed
	}
	return &PlaybackClock{
		hw:       hw,
		ref:      Reference{HardwareAt: hw.Now(), LogicalAt: 0, Speed: 1.0},
		minSpeed: minSpeed,
		maxSpeed: maxSpeed,
	}
}

// LogicalTime reads the hardware clock and applies the current reference,
// clamped to [0, duration] when the duration is known.
func (c *PlaybackClock) LogicalTime() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logicalTimeLocked()
}

func (c *PlaybackClock) logicalTimeLocked() float64 {
	t := c.ref.LogicalAt
	if c.running {
		t = c.ref.logicalAt(c.hw.Now())
	}
	if t < 0 {
		t = 0
	}
	if c.duration > 0 && t > c.duration {
		t = c.duration
	}
	return t
}

// Resync replaces the reference, anchoring the given logical time at "now".
// The running/frozen state and speed are preserved.
func (c *PlaybackClock) Resync(logical float64) {
	c.mu.Lock()
	c.ref = Reference{HardwareAt: c.hw.Now(), LogicalAt: logical, Speed: c.ref.Speed}
	c.mu.Unlock()
}

// Run anchors the current logical time at "now" and lets the clock advance.
func (c *PlaybackClock) Run() {
	c.mu.Lock()
	logical := c.logicalTimeLocked()
	c.ref = Reference{HardwareAt: c.hw.Now(), LogicalAt: logical, Speed: c.ref.Speed}
	c.running = true
	c.mu.Unlock()
}

// Freeze fixes logical time at its current value; LogicalTime keeps
// returning that value until Run or Resync+Run.
func (c *PlaybackClock) Freeze() {
	c.mu.Lock()
	logical := c.logicalTimeLocked()
	c.ref = Reference{HardwareAt: c.hw.Now(), LogicalAt: logical, Speed: c.ref.Speed}
	c.running = false
	c.mu.Unlock()
}

// Running reports whether the clock is advancing.
func (c *PlaybackClock) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// SetSpeed re-anchors the reference at the current logical time with the
// new speed, clamped to the configured bounds, so already elapsed logical
// time is never rescaled. Returns the speed actually applied.
func (c *PlaybackClock) SetSpeed(speed float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if speed < c.minSpeed {
		speed = c.minSpeed
	}
	if speed > c.maxSpeed {
		speed = c.maxSpeed
	}
	logical := c.logicalTimeLocked()
	c.ref = Reference{HardwareAt: c.hw.Now(), LogicalAt: logical, Speed: speed}
	return speed
}

// Speed returns the configured playback speed.
func (c *PlaybackClock) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ref.Speed
}

// SetDuration records the song duration once known; zero clears it.
func (c *PlaybackClock) SetDuration(d float64) {
	c.mu.Lock()
	c.duration = d
	c.mu.Unlock()
}

// Duration returns the known duration and whether one is set.
func (c *PlaybackClock) Duration() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duration, c.duration > 0
}

// Reference returns a copy of the current reference.
func (c *PlaybackClock) Reference() Reference {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ref
}

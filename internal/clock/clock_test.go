package clock

import (
	"math"
	"sync"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLogicalTimeAdvancesWithHardwareClock(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)
	c.SetDuration(100)

	c.Resync(10)
	c.Run()

	hw.Advance(2)
	if got := c.LogicalTime(); !almostEqual(got, 12) {
		t.Errorf("Expected logical time 12, got %v", got)
	}

	hw.Advance(0.5)
	if got := c.LogicalTime(); !almostEqual(got, 12.5) {
		t.Errorf("Expected logical time 12.5, got %v", got)
	}
}

func TestLogicalTimeScalesWithSpeed(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)
	c.SetDuration(100)

	c.Resync(0)
	if applied := c.SetSpeed(0.75); !almostEqual(applied, 0.75) {
		t.Fatalf("Expected applied speed 0.75, got %v", applied)
	}
	c.Run()

	hw.Advance(4)
	if got := c.LogicalTime(); !almostEqual(got, 3) {
		t.Errorf("Expected logical time 3 at 0.75x, got %v", got)
	}
}

func TestSpeedChangeKeepsTimeContinuous(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)
	c.SetDuration(100)

	c.Resync(0)
	c.Run()
	hw.Advance(10)

	before := c.LogicalTime()
	c.SetSpeed(1.5)
	after := c.LogicalTime()

	if !almostEqual(before, after) {
		t.Errorf("Speed change moved logical time: before=%v after=%v", before, after)
	}

	// Time advances at the new rate from the change point
	hw.Advance(2)
	if got := c.LogicalTime(); !almostEqual(got, before+3) {
		t.Errorf("Expected %v after 2s at 1.5x, got %v", before+3, got)
	}
}

func TestSpeedClampedToBounds(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)

	if applied := c.SetSpeed(3.0); !almostEqual(applied, 1.5) {
		t.Errorf("Expected speed clamped to 1.5, got %v", applied)
	}
	if applied := c.SetSpeed(0.1); !almostEqual(applied, 0.5) {
		t.Errorf("Expected speed clamped to 0.5, got %v", applied)
	}
	if applied := c.SetSpeed(1.0); !almostEqual(applied, 1.0) {
		t.Errorf("Expected in-range speed unchanged, got %v", applied)
	}
}

func TestLogicalTimeClampedToDuration(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)
	c.SetDuration(10)

	c.Resync(9)
	c.Run()
	hw.Advance(5)

	if got := c.LogicalTime(); !almostEqual(got, 10) {
		t.Errorf("Expected logical time clamped to duration 10, got %v", got)
	}
}

func TestNegativeResyncClampsToZero(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)
	c.SetDuration(10)

	c.Resync(-3)
	if got := c.LogicalTime(); !almostEqual(got, 0) {
		t.Errorf("Expected logical time 0 after negative resync, got %v", got)
	}
}

func TestFreezeHoldsLogicalTime(t *testing.T) {
	hw := &FakeClock{}
	c := NewPlaybackClock(hw, 0.5, 1.5)
	c.SetDuration(100)

	c.Resync(5)
	c.Run()
	hw.Advance(2)

	c.Freeze()
	frozen := c.LogicalTime()
	hw.Advance(100)

	if got := c.LogicalTime(); !almostEqual(got, frozen) {
		t.Errorf("Frozen clock moved: was %v, now %v", frozen, got)
	}
	if c.Running() {
		t.Error("Expected clock not running after freeze")
	}

	// Resuming continues from the frozen position
	c.Run()
	hw.Advance(1)
	if got := c.LogicalTime(); !almostEqual(got, frozen+1) {
		t.Errorf("Expected %v after resume, got %v", frozen+1, got)
	}
}

func TestDriftMonitorArming(t *testing.T) {
	m := NewDriftMonitor(0.2)

	if m.Exceeded(5.0, 5.5) {
		t.Error("Disarmed monitor should never report drift")
	}

	m.Arm()
	if !m.Exceeded(5.0, 5.5) {
		t.Error("Expected drift of 0.5s to exceed 0.2s threshold")
	}
	if m.Exceeded(5.0, 5.1) {
		t.Error("Drift of 0.1s should be within 0.2s threshold")
	}
	if !m.Exceeded(5.5, 5.0) {
		t.Error("Drift detection should be symmetric")
	}

	m.Disarm()
	if m.Exceeded(5.0, 5.5) {
		t.Error("Disarmed monitor should never report drift")
	}
}

func TestDriftMonitorConcurrentToggle(t *testing.T) {
	// Arm/Disarm arrive from connection goroutines while the tick
	// goroutine polls Exceeded.
	m := NewDriftMonitor(0.2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Arm()
			m.Disarm()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Exceeded(1.0, 2.0)
		}
	}()
	wg.Wait()

	if m.Armed() {
		t.Error("Expected disarmed after the final toggle")
	}
}

func TestDriftExactlyAtThreshold(t *testing.T) {
	m := NewDriftMonitor(0.2)
	m.Arm()

	// The threshold itself is still acceptable
	if m.Exceeded(5.0, 5.2) {
		t.Error("Drift equal to the threshold should not trigger")
	}
}

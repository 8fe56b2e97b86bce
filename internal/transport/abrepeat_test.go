package transport

import "testing"

func TestABRepeatDisabledNeverResets(t *testing.T) {
	l := NewABRepeat()
	l.SetRegion(2, 4)

	if _, ok := l.ShouldReset(5); ok {
		t.Error("Disabled loop should never reset")
	}
}

func TestABRepeatResetPastEnd(t *testing.T) {
	l := NewABRepeat()
	l.SetRegion(2, 4)
	l.SetEnabled(true)

	if _, ok := l.ShouldReset(3.9); ok {
		t.Error("Should not reset before the end bound")
	}
	start, ok := l.ShouldReset(4.0)
	if !ok || start != 2 {
		t.Errorf("Expected reset to 2 at the end bound, got %v ok=%v", start, ok)
	}
	start, ok = l.ShouldReset(7.0)
	if !ok || start != 2 {
		t.Errorf("Expected reset to 2 past the end bound, got %v ok=%v", start, ok)
	}
}

func TestABRepeatPartialRegion(t *testing.T) {
	l := NewABRepeat()
	l.SetEnabled(true)
	l.SetStart(2)

	if _, ok := l.ShouldReset(10); ok {
		t.Error("Loop with only a start bound should not reset")
	}
	if l.HasRegion() {
		t.Error("Half-set region should not report as complete")
	}
}

func TestABRepeatInvertedRegionNotEnforced(t *testing.T) {
	l := NewABRepeat()
	l.SetEnabled(true)
	l.SetRegion(4, 2)

	// A half-edited region with end before start must not seek
	if _, ok := l.ShouldReset(10); ok {
		t.Error("Inverted region should not be enforced")
	}

	// Zero-width region is inverted too
	l.SetRegion(3, 3)
	if _, ok := l.ShouldReset(10); ok {
		t.Error("Zero-width region should not be enforced")
	}
}

func TestABRepeatClearKeepsEnabled(t *testing.T) {
	l := NewABRepeat()
	l.SetRegion(2, 4)
	l.SetEnabled(true)
	l.Clear()

	if !l.Enabled() {
		t.Error("Clear should not touch the enabled flag")
	}
	if l.HasRegion() {
		t.Error("Clear should remove both bounds")
	}
	if _, ok := l.ShouldReset(10); ok {
		t.Error("No region, no reset")
	}
}

package notes

import "testing"

func TestHighlightUnionAcrossSources(t *testing.T) {
	h := NewHighlights(0.15)

	edge, changed := h.Press(60, SourceManual, 0)
	if !changed || !edge.Active || edge.Pitch != 60 {
		t.Fatalf("Expected on-edge for first press, got %+v changed=%v", edge, changed)
	}

	// Second source on the same key produces no edge
	if _, changed := h.Press(60, SourceExternal, 0); changed {
		t.Error("Union already on; second source should not edge")
	}

	// Releasing one source keeps the key lit
	if _, changed := h.Release(60, SourceManual); changed {
		t.Error("Key still held by another source; no edge expected")
	}
	if !h.Active(60) {
		t.Error("Key should stay lit while any source holds it")
	}

	// Releasing the last source turns the key off
	edge, changed = h.Release(60, SourceExternal)
	if !changed || edge.Active {
		t.Errorf("Expected off-edge, got %+v changed=%v", edge, changed)
	}
	if h.Active(60) {
		t.Error("Key should be dark after all sources release")
	}
}

func TestReleaseUnlitKeyIsNoOp(t *testing.T) {
	h := NewHighlights(0.15)

	if _, changed := h.Release(60, SourceManual); changed {
		t.Error("Releasing an unlit key should not edge")
	}
}

func TestSelfExpiringSources(t *testing.T) {
	h := NewHighlights(0.15)

	h.Press(72, SourceGuide, 1.0)
	if !h.Active(72) {
		t.Fatal("Guide press should light the key")
	}

	// Before the deadline nothing expires
	if edges := h.Tick(1.1); len(edges) != 0 {
		t.Errorf("Expected no expiry at t=1.1, got %v", edges)
	}

	edges := h.Tick(1.2)
	if len(edges) != 1 || edges[0].Pitch != 72 || edges[0].Active {
		t.Errorf("Expected off-edge for pitch 72, got %v", edges)
	}
	if h.Active(72) {
		t.Error("Key should be dark after expiry")
	}
}

func TestHeldSourceBlocksExpiry(t *testing.T) {
	h := NewHighlights(0.15)

	h.Press(72, SourceJudgment, 1.0)
	h.Press(72, SourceExternal, 1.0)

	// The judgment flash expires but the held external source remains
	if edges := h.Tick(2.0); len(edges) != 0 {
		t.Errorf("Held key should not go dark, got %v", edges)
	}
	if !h.Active(72) {
		t.Error("Key should stay lit by the held source")
	}

	if edge, changed := h.Release(72, SourceExternal); !changed || edge.Active {
		t.Error("Expected off-edge once the held source releases")
	}
}

func TestRepeatedGuidePressExtendsDeadline(t *testing.T) {
	h := NewHighlights(0.15)

	h.Press(72, SourceGuide, 1.0)
	h.Press(72, SourceGuide, 1.1)

	if edges := h.Tick(1.2); len(edges) != 0 {
		t.Errorf("Re-press should extend the deadline, got %v", edges)
	}
	if edges := h.Tick(1.3); len(edges) != 1 {
		t.Errorf("Expected expiry at extended deadline, got %v", edges)
	}
}

func TestHighlightReset(t *testing.T) {
	h := NewHighlights(0.15)

	h.Press(60, SourceManual, 0)
	h.Press(72, SourceGuide, 0)
	h.Reset()

	if h.Active(60) || h.Active(72) {
		t.Error("Reset should clear all highlights")
	}
}

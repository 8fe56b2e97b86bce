package notes

import (
	"testing"

	"github.com/notefall/trainerd/internal/song"
)

func testNotes() []song.NoteEvent {
	return []song.NoteEvent{
		{Pitch: 60, Time: 1.0, Duration: 0.5},
		{Pitch: 64, Time: 2.0, Duration: 0.5},
		{Pitch: 60, Time: 3.0, Duration: 0.5},
		{Pitch: 72, Time: 3.05, Duration: 0.5},
		{Pitch: 67, Time: 20.0, Duration: 1.0},
	}
}

func TestActiveWindow(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	active := s.Active(3.0)
	if len(active) != 4 {
		t.Fatalf("Expected 4 notes in window at t=3, got %d", len(active))
	}
	if active[0].Index != 0 || active[0].Note.Pitch != 60 {
		t.Errorf("Unexpected first active note: %+v", active[0])
	}

	// Note at t=20 is beyond the 12s lookahead from t=3
	for _, a := range active {
		if a.Note.Time == 20.0 {
			t.Error("Note beyond lookahead should not be active")
		}
	}

	// Behind the past window, notes drop out of the active set
	active = s.Active(5.5)
	if len(active) != 0 {
		t.Errorf("Expected empty window at t=5.5, got %d notes", len(active))
	}
}

func TestJudgmentSurvivesLeavingWindow(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	if !s.Mark(0, ResultPerfect) {
		t.Fatal("Expected Mark to succeed on pending note")
	}

	// Scroll away and back; the judgment must still be there
	_ = s.Active(50.0)
	active := s.Active(1.0)
	if len(active) == 0 || active[0].Result != ResultPerfect {
		t.Errorf("Judgment lost after leaving window: %+v", active)
	}
}

func TestMarkIsPendingOnly(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	if !s.Mark(1, ResultGood) {
		t.Fatal("First Mark should succeed")
	}
	if s.Mark(1, ResultPerfect) {
		t.Error("Second Mark on a judged note should fail")
	}
	if s.Mark(-1, ResultGood) || s.Mark(99, ResultGood) {
		t.Error("Mark with out-of-range index should fail")
	}
}

func TestMatchPrefersEarliestTarget(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	// Two pitch-60 candidates would need overlapping windows; here only
	// the one at t=3.0 is within tolerance of a press at 2.95.
	idx, ok := s.Match(60, 2.95, 0.15, false)
	if !ok || idx != 2 {
		t.Fatalf("Expected match at index 2, got idx=%d ok=%v", idx, ok)
	}

	// After judging it, the same press matches nothing
	s.Mark(2, ResultGood)
	if _, ok := s.Match(60, 2.95, 0.15, false); ok {
		t.Error("Judged note should not match again")
	}
}

func TestMatchOctaveFold(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	// Without folding, pitch 48 never matches the pitch-60 note
	if _, ok := s.Match(48, 1.0, 0.15, false); ok {
		t.Error("Expected no match without octave folding")
	}

	// With folding, 48 matches 60 (one octave below)
	idx, ok := s.Match(48, 1.0, 0.15, true)
	if !ok || idx != 0 {
		t.Errorf("Expected folded match at index 0, got idx=%d ok=%v", idx, ok)
	}
}

func TestMatchExactOctaveBeatsFolded(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	// At t=3.0 both the pitch-60 note (t=3.0) and the pitch-72 note
	// (t=3.05) are in tolerance for a folded press of 72. The exact
	// octave wins even though the folded candidate is earlier.
	idx, ok := s.Match(72, 3.05, 0.15, true)
	if !ok || idx != 3 {
		t.Errorf("Expected exact-octave match at index 3, got idx=%d ok=%v", idx, ok)
	}
}

func TestCloseExpired(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	s.Mark(0, ResultPerfect)

	missed := s.CloseExpired(2.5, 0.15)
	if len(missed) != 1 {
		t.Fatalf("Expected 1 missed note, got %d", len(missed))
	}
	if missed[0].Index != 1 || missed[0].Result != ResultMissed {
		t.Errorf("Unexpected missed note: %+v", missed[0])
	}

	// Second pass finds nothing new
	if again := s.CloseExpired(2.5, 0.15); len(again) != 0 {
		t.Errorf("Expected no further misses, got %d", len(again))
	}
}

func TestCompleteAndReset(t *testing.T) {
	s := NewScheduler(testNotes(), 2.0, 12.0)

	if s.Complete() {
		t.Error("Fresh scheduler should not be complete")
	}
	for i := 0; i < s.Len(); i++ {
		s.Mark(i, ResultGood)
	}
	if !s.Complete() {
		t.Error("All judged should be complete")
	}

	s.Reset()
	if s.Complete() {
		t.Error("Reset should clear judgments")
	}
	if !s.Mark(0, ResultPerfect) {
		t.Error("Mark should succeed after reset")
	}
}

package song

import (
	"errors"
	"math"
	"testing"
)

func TestNewValidatesOrdering(t *testing.T) {
	notes := []NoteEvent{
		{Pitch: 60, Time: 2.0, Duration: 0.5},
		{Pitch: 64, Time: 1.0, Duration: 0.5},
	}
	if _, err := New("bad", 10, "", notes); !errors.Is(err, ErrUnsortedNotes) {
		t.Errorf("Expected ErrUnsortedNotes, got %v", err)
	}
}

func TestNewValidatesPitchRange(t *testing.T) {
	notes := []NoteEvent{{Pitch: 200, Time: 1.0, Duration: 0.5}}
	if _, err := New("bad", 10, "", notes); err == nil {
		t.Error("Expected error for out-of-range pitch")
	}
}

func TestNewAcceptsEqualTimes(t *testing.T) {
	// A chord: several notes at the same target time
	notes := []NoteEvent{
		{Pitch: 60, Time: 1.0, Duration: 0.5},
		{Pitch: 64, Time: 1.0, Duration: 0.5},
		{Pitch: 67, Time: 1.0, Duration: 0.5},
	}
	s, err := New("chord", 10, "", notes)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(s.Notes) != 3 {
		t.Errorf("Expected 3 notes, got %d", len(s.Notes))
	}
}

func TestHasAudio(t *testing.T) {
	s, err := New("silent", 10, "", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.HasAudio() {
		t.Error("Song without an audio path should report no audio")
	}

	s, err = New("backed", 10, "/tmp/track.mp3", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !s.HasAudio() {
		t.Error("Song with an audio path should report audio")
	}
}

func TestEnd(t *testing.T) {
	notes := []NoteEvent{{Pitch: 60, Time: 9.0, Duration: 0.5}}
	s, err := New("s", 12, "", notes)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := s.End(); math.Abs(got-9.5) > 1e-9 {
		t.Errorf("Expected song end 9.5, got %v", got)
	}

	empty, err := New("empty", 12, "", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if empty.End() != 0 {
		t.Errorf("Expected end 0 for empty song, got %v", empty.End())
	}
}

package notes

import (
	"math"
	"testing"

	"github.com/notefall/trainerd/internal/song"
)

func newTestJudge() *Judge {
	notes := []song.NoteEvent{
		{Pitch: 60, Time: 5.0, Duration: 0.5},
		{Pitch: 64, Time: 5.4, Duration: 0.5},
		{Pitch: 67, Time: 8.0, Duration: 0.5},
	}
	sched := NewScheduler(notes, 2.0, 12.0)
	return NewJudge(sched, 0.15, 0.05, false)
}

func TestPressWithinPerfectTolerance(t *testing.T) {
	j := newTestJudge()

	jd, ok := j.Press(60, 5.02)
	if !ok {
		t.Fatal("Expected press to match")
	}
	if jd.Result != ResultPerfect {
		t.Errorf("Expected perfect at 20ms delta, got %s", jd.Result)
	}
	if math.Abs(jd.Delta-0.02) > 1e-9 {
		t.Errorf("Expected delta 0.02, got %v", jd.Delta)
	}
}

func TestPressWithinHitTolerance(t *testing.T) {
	j := newTestJudge()

	jd, ok := j.Press(60, 5.10)
	if !ok {
		t.Fatal("Expected press to match")
	}
	if jd.Result != ResultGood {
		t.Errorf("Expected good at 100ms delta, got %s", jd.Result)
	}
}

func TestPressOutsideToleranceIgnored(t *testing.T) {
	j := newTestJudge()

	if _, ok := j.Press(60, 5.50); ok {
		t.Error("Press 500ms late should not match")
	}
	if _, ok := j.Press(61, 5.0); ok {
		t.Error("Wrong pitch should not match")
	}

	// Stray presses leave the score untouched
	if sc := j.Score(); sc != (Score{}) {
		t.Errorf("Expected empty score after stray presses, got %+v", sc)
	}
}

func TestEarlyPressCounts(t *testing.T) {
	j := newTestJudge()

	jd, ok := j.Press(60, 4.90)
	if !ok {
		t.Fatal("Early press within tolerance should match")
	}
	if jd.Result != ResultGood {
		t.Errorf("Expected good for early press, got %s", jd.Result)
	}
	if jd.Delta >= 0 {
		t.Errorf("Expected negative delta for early press, got %v", jd.Delta)
	}
}

func TestDoublePressSecondIgnored(t *testing.T) {
	j := newTestJudge()

	if _, ok := j.Press(60, 5.0); !ok {
		t.Fatal("First press should match")
	}
	if _, ok := j.Press(60, 5.05); ok {
		t.Error("Second press on the same judged note should not match")
	}

	sc := j.Score()
	if sc.Perfect != 1 || sc.Good != 0 {
		t.Errorf("Expected exactly one perfect, got %+v", sc)
	}
}

func TestExpireMarksMisses(t *testing.T) {
	j := newTestJudge()

	j.Press(60, 5.0)
	missed := j.Expire(6.0)
	if len(missed) != 1 {
		t.Fatalf("Expected 1 miss, got %d", len(missed))
	}
	if missed[0].Note.Note.Pitch != 64 || missed[0].Result != ResultMissed {
		t.Errorf("Unexpected miss: %+v", missed[0])
	}

	sc := j.Score()
	if sc.Perfect != 1 || sc.Missed != 1 {
		t.Errorf("Unexpected score: %+v", sc)
	}
	if j.Complete() {
		t.Error("Song should not be complete with a pending note")
	}

	j.Expire(100)
	if !j.Complete() {
		t.Error("Expected complete after expiring all notes")
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	j := newTestJudge()

	j.Enqueue(InputEvent{Pitch: 60, Time: 5.0})
	j.Enqueue(InputEvent{Pitch: 64, Time: 5.4})

	drained := j.Drain()
	if len(drained) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(drained))
	}
	if drained[0].Pitch != 60 || drained[1].Pitch != 64 {
		t.Errorf("Events out of order: %+v", drained)
	}
	if len(j.Drain()) != 0 {
		t.Error("Second drain should be empty")
	}
}

func TestJudgeReset(t *testing.T) {
	j := newTestJudge()

	j.Press(60, 5.0)
	j.Expire(100)
	j.Reset()

	if sc := j.Score(); sc != (Score{}) {
		t.Errorf("Expected empty score after reset, got %+v", sc)
	}
	if _, ok := j.Press(60, 5.0); !ok {
		t.Error("Press should match again after reset")
	}
}

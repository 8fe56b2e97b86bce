package notes

import (
	"math"
	"sync"
)

// InputEvent is one key press from any input device, stamped with the
// logical time at arrival. Devices enqueue; the engine drains once per
// tick, so judgment never runs on a device callback goroutine.
type InputEvent struct {
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity,omitempty"`
	Time     float64 `json:"time"`
}

// Judgment is the outcome of evaluating one press or one expiry.
type Judgment struct {
	Note   ActiveNote `json:"note"`
	Result Result     `json:"result"`
	Delta  float64    `json:"delta"` // pressTime - targetTime; 0 for misses
}

// Score aggregates terminal judgments.
type Score struct {
	Perfect int `json:"perfect"`
	Good    int `json:"good"`
	Missed  int `json:"missed"`
}

// Judge classifies key presses against the scheduler's pending notes.
type Judge struct {
	mu         sync.Mutex
	sched      *Scheduler
	hitTol     float64
	perfectTol float64
	octaveFold bool
	queue      []InputEvent
	score      Score
}

// NewJudge creates a judge over a scheduler with the given tolerances.
func NewJudge(sched *Scheduler, hitTol, perfectTol float64, octaveFold bool) *Judge {
	if hitTol <= 0 {
		hitTol = 0.15
	}
	if perfectTol <= 0 || perfectTol > hitTol {
		perfectTol = hitTol / 3
	}
	return &Judge{
		sched:      sched,
		hitTol:     hitTol,
		perfectTol: perfectTol,
		octaveFold: octaveFold,
	}
}

// Enqueue adds a device event for the next tick. Safe from any goroutine.
func (j *Judge) Enqueue(ev InputEvent) {
	j.mu.Lock()
	j.queue = append(j.queue, ev)
	j.mu.Unlock()
}

// Drain removes and returns all queued events.
func (j *Judge) Drain() []InputEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	q := j.queue
	j.queue = nil
	return q
}

// Press judges one key press at logical time t. Returns false when no
// pending note of that pitch is within the hit tolerance; the stray
// press is simply ignored.
func (j *Judge) Press(pitch int, t float64) (Judgment, bool) {
	index, ok := j.sched.Match(pitch, t, j.hitTol, j.octaveFold)
	if !ok {
		return Judgment{}, false
	}

	note := j.sched.notes[index]
	delta := t - note.Time
	result := ResultGood
	if math.Abs(delta) < j.perfectTol {
		result = ResultPerfect
	}
	if !j.sched.Mark(index, result) {
		return Judgment{}, false
	}

	j.mu.Lock()
	switch result {
	case ResultPerfect:
		j.score.Perfect++
	default:
		j.score.Good++
	}
	j.mu.Unlock()

	return Judgment{
		Note:   ActiveNote{Index: index, Note: note, Result: result},
		Result: result,
		Delta:  delta,
	}, true
}

// Expire fails every note whose judgment window has closed behind t.
func (j *Judge) Expire(t float64) []Judgment {
	missed := j.sched.CloseExpired(t, j.hitTol)
	if len(missed) == 0 {
		return nil
	}

	j.mu.Lock()
	j.score.Missed += len(missed)
	j.mu.Unlock()

	out := make([]Judgment, len(missed))
	for i, n := range missed {
		out[i] = Judgment{Note: n, Result: ResultMissed}
	}
	return out
}

// Score returns the aggregate score so far.
func (j *Judge) Score() Score {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.score
}

// Complete reports whether every note of the song has been judged.
func (j *Judge) Complete() bool {
	return j.sched.Complete()
}

// Reset clears the score, the queue and all judgment states.
func (j *Judge) Reset() {
	j.mu.Lock()
	j.score = Score{}
	j.queue = nil
	j.mu.Unlock()
	j.sched.Reset()
}

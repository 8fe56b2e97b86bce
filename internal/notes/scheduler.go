// Package notes schedules falling notes against logical time and judges
// key presses against them.
package notes

import (
	"sort"
	"sync"

	"github.com/notefall/trainerd/internal/song"
)

// Result is the judgment state of a note.
type Result int

const (
	ResultPending Result = iota
	ResultPerfect
	ResultGood
	ResultMissed
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultPerfect:
		return "perfect"
	case ResultGood:
		return "good"
	case ResultMissed:
		return "missed"
	default:
		return "pending"
	}
}

// Terminal reports whether the result is final.
func (r Result) Terminal() bool {
	return r != ResultPending
}

// ActiveNote is the runtime projection of a note inside the visible
// window, carrying its judgment state. Notes leaving the window are
// dropped from the active set only; the master note list and the
// judgment states are permanent.
type ActiveNote struct {
	Index  int            `json:"index"`
	Note   song.NoteEvent `json:"note"`
	Result Result         `json:"result"`
}

// Scheduler maintains the sliding window of active notes and owns the
// per-note judgment states for the whole song.
type Scheduler struct {
	mu        sync.Mutex
	notes     []song.NoteEvent
	results   []Result
	past      float64
	lookahead float64
}

// NewScheduler creates a scheduler over an ordered note list. The window
// spans [t-past, t+lookahead]; the renderer derives its fall speed from
// the lookahead, so it is independent of playback speed.
func NewScheduler(notes []song.NoteEvent, past, lookahead float64) *Scheduler {
	if past <= 0 {
		past = 2.0
	}
	if lookahead <= 0 {
		lookahead = 12.0
	}
	return &Scheduler{
		notes:     notes,
		results:   make([]Result, len(notes)),
		past:      past,
		lookahead: lookahead,
	}
}

// Active returns the notes whose target time lies within the window
// around t, with their current judgment states.
func (s *Scheduler) Active(t float64) []ActiveNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := sort.Search(len(s.notes), func(i int) bool {
		return s.notes[i].Time >= t-s.past
	})
	var active []ActiveNote
	for i := lo; i < len(s.notes) && s.notes[i].Time <= t+s.lookahead; i++ {
		active = append(active, ActiveNote{Index: i, Note: s.notes[i], Result: s.results[i]})
	}
	return active
}

// Match finds the best unjudged note for a press of pitch at time t:
// matching pitch within tolerance, earliest target time first. With
// octaveFold, any octave of the pitch qualifies, but an exact-octave
// candidate wins over a folded one.
func (s *Scheduler) Match(pitch int, t, tolerance float64, octaveFold bool) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := sort.Search(len(s.notes), func(i int) bool {
		return s.notes[i].Time >= t-tolerance
	})

	exact, folded := -1, -1
	for i := lo; i < len(s.notes) && s.notes[i].Time <= t+tolerance; i++ {
		if s.results[i] != ResultPending {
			continue
		}
		switch {
		case s.notes[i].Pitch == pitch:
			if exact < 0 {
				exact = i // earliest target wins; notes are time-ordered
			}
		case octaveFold && (s.notes[i].Pitch-pitch)%12 == 0:
			if folded < 0 {
				folded = i
			}
		}
	}
	if exact >= 0 {
		return exact, true
	}
	if folded >= 0 {
		return folded, true
	}
	return -1, false
}

// Mark records a terminal judgment for a note. Pending-only: a judged
// note never transitions again.
func (s *Scheduler) Mark(index int, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.results) || s.results[index] != ResultPending {
		return false
	}
	s.results[index] = r
	return true
}

// CloseExpired marks every pending note whose target time has fallen
// more than tolerance behind t as missed, and returns them.
func (s *Scheduler) CloseExpired(t, tolerance float64) []ActiveNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missed []ActiveNote
	for i, n := range s.notes {
		if n.Time >= t-tolerance {
			break
		}
		if s.results[i] == ResultPending {
			s.results[i] = ResultMissed
			missed = append(missed, ActiveNote{Index: i, Note: n, Result: ResultMissed})
		}
	}
	return missed
}

// Complete reports whether every note has a terminal judgment.
func (s *Scheduler) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if !r.Terminal() {
			return false
		}
	}
	return true
}

// Reset clears all judgment states, for replaying the song.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.results {
		s.results[i] = ResultPending
	}
}

// Len returns the number of notes.
func (s *Scheduler) Len() int {
	return len(s.notes)
}

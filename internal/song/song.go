// Package song provides the immutable note and song model that the
// transport, scheduler and judgment components consume.
package song

import (
	"errors"
	"fmt"
	"sort"
)

// NoteEvent is a single note to be played at a target time. Time is the
// moment the note is expected at the judgment line, in song seconds.
type NoteEvent struct {
	Pitch    int     `json:"pitch"` // MIDI note number
	Time     float64 `json:"time"`  // seconds
	Duration float64 `json:"duration,omitempty"`
}

// Song is an immutable song descriptor: identity, optional audio asset,
// and the ordered note list. A zero Duration means the duration is not
// known until the audio asset has been decoded. An empty AudioPath means
// notes-only mode: the logical clock advances from the hardware clock alone.
type Song struct {
	ID        string      `json:"id"`
	Duration  float64     `json:"duration,omitempty"` // seconds, 0 = unknown
	AudioPath string      `json:"audioPath,omitempty"`
	Notes     []NoteEvent `json:"notes"`
}

// ErrUnsortedNotes is returned when a note list is not ordered by time.
var ErrUnsortedNotes = errors.New("note list not ordered by time")

// New validates and builds a Song. Notes must already be ordered by time;
// out-of-order input is an error rather than silently re-sorted so loader
// bugs surface early.
func New(id string, duration float64, audioPath string, notes []NoteEvent) (*Song, error) {
	if id == "" {
		return nil, errors.New("song id must not be empty")
	}
	if duration < 0 {
		return nil, fmt.Errorf("negative duration %f", duration)
	}
	if !sort.SliceIsSorted(notes, func(i, j int) bool {
		return notes[i].Time < notes[j].Time
	}) {
		return nil, ErrUnsortedNotes
	}
	for i, n := range notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			return nil, fmt.Errorf("note %d: pitch %d out of MIDI range", i, n.Pitch)
		}
		if n.Time < 0 {
			return nil, fmt.Errorf("note %d: negative time %f", i, n.Time)
		}
	}
	return &Song{
		ID:        id,
		Duration:  duration,
		AudioPath: audioPath,
		Notes:     notes,
	}, nil
}

// End returns the time the last note target passes, or 0 for an empty song.
func (s *Song) End() float64 {
	if len(s.Notes) == 0 {
		return 0
	}
	last := s.Notes[len(s.Notes)-1]
	return last.Time + last.Duration
}

// HasAudio reports whether the song carries an audio asset.
func (s *Song) HasAudio() bool {
	return s.AudioPath != ""
}

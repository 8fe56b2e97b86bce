package song

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"
)

// tempoChange is one entry of a tempo map: at tick, the piece runs at bpm.
type tempoChange struct {
	tick    uint64
	bpm     float64
	seconds float64 // absolute time at tick, precomputed
}

// tempoMap converts absolute MIDI ticks to seconds across tempo changes.
type tempoMap struct {
	ppq     float64
	changes []tempoChange
}

func newTempoMap(ppq uint16, raw []tempoChange) *tempoMap {
	changes := raw
	if len(changes) == 0 || changes[0].tick != 0 {
		// MIDI default is 120 BPM until the first tempo event
		changes = append([]tempoChange{{tick: 0, bpm: 120}}, changes...)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].tick < changes[j].tick })

	tm := &tempoMap{ppq: float64(ppq), changes: changes}
	for i := 1; i < len(tm.changes); i++ {
		prev := tm.changes[i-1]
		ticks := float64(tm.changes[i].tick - prev.tick)
		tm.changes[i].seconds = prev.seconds + ticks*60.0/(prev.bpm*tm.ppq)
	}
	return tm
}

// timeAt returns the absolute time in seconds of the given absolute tick.
func (tm *tempoMap) timeAt(tick uint64) float64 {
	seg := tm.changes[0]
	for _, c := range tm.changes {
		if c.tick > tick {
			break
		}
		seg = c
	}
	return seg.seconds + float64(tick-seg.tick)*60.0/(seg.bpm*tm.ppq)
}

// LoadSMF builds a Song from a Standard MIDI File on disk. The audio asset,
// if any, lives next to the notation and is resolved by the caller.
func LoadSMF(path string, audioPath string) (s *Song, e error) {
	// Some malformed files make the SMF parser panic instead of returning
	// an error; recover so a bad asset cannot take the daemon down.
	defer func() {
		if r := recover(); r != nil {
			s = nil
			e = fmt.Errorf("malformed midi file: %v", r)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read midi file: %w", err)
	}

	mf, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse midi file: %w", err)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return FromSMF(id, mf, audioPath)
}

// FromSMF converts a parsed SMF into a Song: note on/off pairs become
// NoteEvents with durations, tick offsets are converted to seconds
// through the file's tempo map.
func FromSMF(id string, mf *smf.SMF, audioPath string) (*Song, error) {
	ticks, ok := mf.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("unsupported SMF time format %v", mf.TimeFormat)
	}

	// Tempo events can appear on any track; collect them all first.
	var raw []tempoChange
	for _, track := range mf.Tracks {
		var abs uint64
		for _, evt := range track {
			abs += uint64(evt.Delta)
			var bpm float64
			if evt.Message.GetMetaTempo(&bpm) && bpm > 0 {
				raw = append(raw, tempoChange{tick: abs, bpm: bpm})
			}
		}
	}
	tm := newTempoMap(ticks.Resolution(), raw)

	type openNote struct {
		tick uint64
	}

	var notes []NoteEvent
	var lastEnd float64
	for _, track := range mf.Tracks {
		open := map[uint8][]openNote{} // key -> stack of unclosed note-ons
		var abs uint64
		for _, evt := range track {
			abs += uint64(evt.Delta)

			var ch, key, vel uint8
			switch {
			case evt.Message.GetNoteStart(&ch, &key, &vel):
				open[key] = append(open[key], openNote{tick: abs})
			case evt.Message.GetNoteEnd(&ch, &key):
				stack := open[key]
				if len(stack) == 0 {
					continue // stray note-off
				}
				// Close the earliest open note of this pitch
				start := stack[0]
				open[key] = stack[1:]

				at := tm.timeAt(start.tick)
				end := tm.timeAt(abs)
				notes = append(notes, NoteEvent{
					Pitch:    int(key),
					Time:     at,
					Duration: end - at,
				})
				if end > lastEnd {
					lastEnd = end
				}
			}
		}
	}

	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Time < notes[j].Time })

	// Audio decode may later reveal the true duration; until then the last
	// note end is the best estimate for a notes-only song.
	duration := 0.0
	if audioPath == "" {
		duration = lastEnd
	}

	return New(id, duration, audioPath, notes)
}

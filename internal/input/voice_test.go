package input

import (
	"math"
	"sync"
	"testing"

	"github.com/notefall/trainerd/internal/notes"
)

type recordedEvent struct {
	pitch int
	on    bool
}

type recordSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordSink) Input(ev notes.InputEvent) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{ev.Pitch, true})
	r.mu.Unlock()
}

func (r *recordSink) InputRelease(pitch int) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{pitch, false})
	r.mu.Unlock()
}

func (r *recordSink) recorded() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// tonePCM synthesizes a harmonic-rich tone (fundamental plus three
// overtones, roughly a sung vowel) as 16-bit mono PCM.
func tonePCM(hz float64, sampleRate, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(sampleRate)
		v := 0.5*math.Sin(2*math.Pi*hz*t) +
			0.25*math.Sin(2*math.Pi*2*hz*t) +
			0.15*math.Sin(2*math.Pi*3*hz*t) +
			0.1*math.Sin(2*math.Pi*4*hz*t)
		s := int16(v * 16000)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestVoiceDetectorToneThenRelease(t *testing.T) {
	sink := &recordSink{}
	v := NewVoiceDetector(sink, 44100, 1)

	// One second of A4
	v.ProcessSamples(tonePCM(440, 44100, 44100))
	events := sink.recorded()
	if len(events) == 0 {
		t.Fatal("Expected a note-on from a sustained tone")
	}
	last := events[len(events)-1]
	if !last.on || last.pitch != 69 {
		t.Fatalf("Expected the sounding note to be MIDI 69, got %+v", events)
	}

	// One second of silence releases it
	v.ProcessSamples(make([]byte, 2*44100))
	events = sink.recorded()
	released := false
	for _, ev := range events {
		if !ev.on && ev.pitch == 69 {
			released = true
		}
	}
	if !released {
		t.Errorf("Expected a release of MIDI 69, got %+v", events)
	}
	if last = events[len(events)-1]; last.on {
		t.Errorf("Nothing should be sounding after silence, got %+v", events)
	}
}

func TestVoiceDetectorSilenceEmitsNothing(t *testing.T) {
	sink := &recordSink{}
	v := NewVoiceDetector(sink, 44100, 1)

	v.ProcessSamples(make([]byte, 2*16384))
	if got := sink.recorded(); len(got) != 0 {
		t.Errorf("Silence should produce no events, got %+v", got)
	}
}

func TestVoiceDetectorResetReleasesSoundingNote(t *testing.T) {
	sink := &recordSink{}
	v := NewVoiceDetector(sink, 44100, 1)

	v.ProcessSamples(tonePCM(440, 44100, 44100))
	before := len(sink.recorded())
	if before == 0 {
		t.Fatal("Expected a note-on before reset")
	}

	v.Reset()
	events := sink.recorded()
	last := events[len(events)-1]
	if last.on {
		t.Errorf("Reset should release the sounding note, got %+v", last)
	}

	// A second reset has nothing left to release
	v.Reset()
	if got := sink.recorded(); len(got) != len(events) {
		t.Errorf("Idempotent reset emitted extra events: %+v", got)
	}
}

func TestMIDIConversion(t *testing.T) {
	if got := MIDIFromHz(440); got != 69 {
		t.Errorf("440Hz should map to MIDI 69, got %d", got)
	}
	if got := MIDIFromHz(261.63); got != 60 {
		t.Errorf("261.63Hz should map to MIDI 60, got %d", got)
	}
	if got := MIDIFromHz(0); got != -1 {
		t.Errorf("0Hz should be out of range, got %d", got)
	}
	if got := MIDIFromHz(30000); got != -1 {
		t.Errorf("30kHz should be out of range, got %d", got)
	}
	if hz := HzFromMIDI(69); math.Abs(hz-440) > 1e-9 {
		t.Errorf("MIDI 69 should be 440Hz, got %v", hz)
	}
}

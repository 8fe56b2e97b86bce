package input

import (
	"bufio"
	"context"
	"io"
	"log"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/notefall/trainerd/internal/notes"
)

const (
	// FFT size - must be power of 2. 4096 at 44100Hz gives ~10.8Hz bin
	// resolution, enough to separate adjacent semitones above C2 once
	// parabolic interpolation is applied.
	voiceFFTSize = 4096
	// Hop between analysis windows, in mono samples
	voiceHopSize = 1024
	// RMS below this is treated as silence
	silenceRMS = 0.01
	// Detectable range: A1 through C7
	minVoiceHz = 55.0
	maxVoiceHz = 2093.0
	// A detection must repeat this many consecutive windows before a
	// note-on fires, filtering out onset transients
	stableWindows = 2
)

// VoiceDetector estimates the fundamental pitch of a monophonic signal
// (sung or hummed input) and forwards note on/off transitions to a
// sink. Samples are 16-bit little-endian PCM.
type VoiceDetector struct {
	mu sync.Mutex

	fft    *fourier.FFT
	window []float64

	sampleBuffer []float64
	bufferIndex  int
	sinceHop     int

	sampleRate int
	channels   int

	sink Sink

	// note-on hysteresis
	candidate  int
	stableRuns int
	sounding   int // active MIDI pitch, -1 when silent
}

// NewVoiceDetector creates a detector for the given input format.
func NewVoiceDetector(sink Sink, sampleRate, channels int) *VoiceDetector {
	window := make([]float64, voiceFFTSize)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(voiceFFTSize-1)))
	}
	return &VoiceDetector{
		fft:          fourier.NewFFT(voiceFFTSize),
		window:       window,
		sampleBuffer: make([]float64, voiceFFTSize),
		sampleRate:   sampleRate,
		channels:     channels,
		sink:         sink,
		candidate:    -1,
		sounding:     -1,
	}
}

// ProcessSamples consumes raw PCM and emits note transitions as windows
// complete. Partial frames at the end of data are dropped.
func (v *VoiceDetector) ProcessSamples(data []byte) {
	v.mu.Lock()

	type transition struct {
		pitch int
		on    bool
	}
	var events []transition

	stride := 2 * v.channels
	for i := 0; i+stride <= len(data); i += stride {
		var sum float64
		for ch := 0; ch < v.channels; ch++ {
			off := i + ch*2
			sample := int16(data[off]) | int16(data[off+1])<<8
			sum += float64(sample) / 32768.0
		}
		v.sampleBuffer[v.bufferIndex] = sum / float64(v.channels)
		v.bufferIndex = (v.bufferIndex + 1) % voiceFFTSize

		v.sinceHop++
		if v.sinceHop < voiceHopSize {
			continue
		}
		v.sinceHop = 0

		pitch := v.detect()
		if pitch == v.sounding {
			v.candidate = -1
			v.stableRuns = 0
			continue
		}
		if pitch != v.candidate {
			v.candidate = pitch
			v.stableRuns = 1
			continue
		}
		v.stableRuns++
		if v.stableRuns < stableWindows {
			continue
		}
		// Stable transition: release the old note, sound the new one
		if v.sounding >= 0 {
			events = append(events, transition{v.sounding, false})
		}
		if pitch >= 0 {
			events = append(events, transition{pitch, true})
		}
		v.sounding = pitch
		v.candidate = -1
		v.stableRuns = 0
	}

	sink := v.sink
	v.mu.Unlock()

	// Deliver outside the lock
	for _, ev := range events {
		if ev.on {
			sink.Input(notes.InputEvent{Pitch: ev.pitch, Velocity: 100})
		} else {
			sink.InputRelease(ev.pitch)
		}
	}
}

// detect runs one FFT over the current window and returns a MIDI pitch,
// or -1 for silence / no confident fundamental. Caller holds the lock.
func (v *VoiceDetector) detect() int {
	windowed := make([]float64, voiceFFTSize)
	var energy float64
	for i := 0; i < voiceFFTSize; i++ {
		idx := (v.bufferIndex + i) % voiceFFTSize
		s := v.sampleBuffer[idx]
		energy += s * s
		windowed[i] = s * v.window[i]
	}
	if math.Sqrt(energy/voiceFFTSize) < silenceRMS {
		return -1
	}

	coeffs := v.fft.Coefficients(nil, windowed)
	freqPerBin := float64(v.sampleRate) / float64(voiceFFTSize)

	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = math.Hypot(real(c), imag(c))
	}

	// Harmonic product spectrum collapses overtones onto the
	// fundamental, which for voices often carries less energy than the
	// second or third harmonic.
	minBin := int(minVoiceHz / freqPerBin)
	if minBin < 1 {
		minBin = 1
	}
	maxBin := int(maxVoiceHz / freqPerBin)
	if maxBin >= len(mags) {
		maxBin = len(mags) - 1
	}

	bestBin, bestScore := -1, 0.0
	for bin := minBin; bin <= maxBin; bin++ {
		score := mags[bin]
		for h := 2; h <= 4; h++ {
			hb := bin * h
			if hb >= len(mags) {
				break
			}
			score *= mags[hb]
		}
		if score > bestScore {
			bestScore = score
			bestBin = bin
		}
	}
	if bestBin < 0 {
		return -1
	}

	// Parabolic interpolation around the peak refines the frequency
	// well below bin resolution.
	freq := float64(bestBin) * freqPerBin
	if bestBin > 0 && bestBin < len(mags)-1 {
		a, b, c := mags[bestBin-1], mags[bestBin], mags[bestBin+1]
		denom := a - 2*b + c
		if denom != 0 {
			delta := 0.5 * (a - c) / denom
			freq = (float64(bestBin) + delta) * freqPerBin
		}
	}

	return MIDIFromHz(freq)
}

// Reset clears the sample buffer and releases any sounding note.
func (v *VoiceDetector) Reset() {
	v.mu.Lock()
	sounding := v.sounding
	v.sounding = -1
	v.candidate = -1
	v.stableRuns = 0
	v.bufferIndex = 0
	v.sinceHop = 0
	for i := range v.sampleBuffer {
		v.sampleBuffer[i] = 0
	}
	sink := v.sink
	v.mu.Unlock()

	if sounding >= 0 {
		sink.InputRelease(sounding)
	}
}

// Run pumps PCM from a capture stream (an arecord or ffmpeg pipe)
// through the detector until the stream ends or the context is
// cancelled.
func (v *VoiceDetector) Run(ctx context.Context, r io.Reader) error {
	defer v.Reset()

	br := bufio.NewReaderSize(r, voiceHopSize*2*v.channels)
	buf := make([]byte, voiceHopSize*2*v.channels)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := br.Read(buf)
		if n > 0 {
			v.ProcessSamples(buf[:n])
		}
		if err == io.EOF {
			log.Printf("[VOICE] Capture stream ended")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// MIDIFromHz converts a frequency to the nearest MIDI pitch, or -1 when
// out of range.
func MIDIFromHz(hz float64) int {
	if hz <= 0 {
		return -1
	}
	pitch := int(math.Round(69 + 12*math.Log2(hz/440.0)))
	if pitch < 0 || pitch > 127 {
		return -1
	}
	return pitch
}

// HzFromMIDI converts a MIDI pitch to its equal-temperament frequency.
func HzFromMIDI(pitch int) float64 {
	return 440.0 * math.Pow(2, float64(pitch-69)/12)
}

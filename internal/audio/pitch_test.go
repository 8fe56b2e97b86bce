package audio

import (
	"bytes"
	"io"
	"math"
	"testing"
)

// pcmFromSamples builds an interleaved 16-bit stereo stream with the
// same value on both channels.
func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*frameBytes)
	for i, s := range samples {
		out[i*4+0] = byte(s)
		out[i*4+1] = byte(s >> 8)
		out[i*4+2] = byte(s)
		out[i*4+3] = byte(s >> 8)
	}
	return out
}

func leftSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/frameBytes)
	for i := range out {
		out[i] = int16(pcm[i*4]) | int16(pcm[i*4+1])<<8
	}
	return out
}

func TestSemitonesForRate(t *testing.T) {
	if got := SemitonesForRate(1.0); math.Abs(got) > 1e-9 {
		t.Errorf("Rate 1.0 should shift 0 semitones, got %v", got)
	}
	if got := SemitonesForRate(2.0); math.Abs(got-12) > 1e-9 {
		t.Errorf("Doubling the rate should shift 12 semitones, got %v", got)
	}
	if got := SemitonesForRate(0.5); math.Abs(got+12) > 1e-9 {
		t.Errorf("Halving the rate should shift -12 semitones, got %v", got)
	}
}

func TestEffectiveOffset(t *testing.T) {
	// No transpose at unit speed: nothing to correct
	if got := EffectiveOffset(0, 1.0); math.Abs(got) > 1e-9 {
		t.Errorf("Expected zero offset, got %v", got)
	}

	// Pure speed change: correction cancels the resampling shift
	want := -SemitonesForRate(1.25)
	if got := EffectiveOffset(0, 1.25); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %v, got %v", want, got)
	}

	// Transpose at unit speed passes through
	if got := EffectiveOffset(3, 1.0); math.Abs(got-3) > 1e-9 {
		t.Errorf("Expected 3, got %v", got)
	}

	// A transpose can exactly cancel a speed-induced shift
	exactSpeed := math.Pow(2, 2.0/12)
	if got := EffectiveOffset(2, exactSpeed); math.Abs(got) > 1e-9 {
		t.Errorf("Expected exact cancellation, got %v", got)
	}
}

func TestBuildStagesIdentityBypass(t *testing.T) {
	src := pcmFromSamples([]int16{100, 200, 300, 400})

	// Unit speed and negligible offset must pass the stream through
	// untouched, not merely approximately.
	out := buildStages(bytes.NewReader(src), 1.0, 0.0)
	got, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Error("Identity chain modified the stream")
	}

	// Sub-epsilon offsets bypass the pitch stage too
	out = buildStages(bytes.NewReader(src), 1.0, pitchEpsilon/2)
	if _, isPitch := out.(*pitchReader); isPitch {
		t.Error("Sub-epsilon offset should bypass the pitch stage")
	}
}

func TestBuildStagesSelection(t *testing.T) {
	src := bytes.NewReader(nil)

	if _, ok := buildStages(src, 1.25, 0.0).(*rateReader); !ok {
		t.Error("Speed change should install the rate stage")
	}
	if _, ok := buildStages(src, 1.0, 2.0).(*pitchReader); !ok {
		t.Error("Offset should install the pitch stage")
	}
	out := buildStages(src, 1.25, EffectiveOffset(0, 1.25))
	if _, ok := out.(*pitchReader); !ok {
		t.Error("Speed with correction should stack pitch over rate")
	}
}

func TestRateReaderConsumesAtRatio(t *testing.T) {
	// 100 source frames at ratio 2.0 yield roughly 50 output frames
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	r := newRateReader(bytes.NewReader(pcmFromSamples(samples)), 2.0)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	frames := len(got) / frameBytes
	if frames < 48 || frames > 52 {
		t.Errorf("Expected ~50 output frames at 2x, got %d", frames)
	}
}

func TestRateReaderInterpolates(t *testing.T) {
	// Ratio 0.5 doubles the frame count and places midpoints between
	// neighbours.
	r := newRateReader(bytes.NewReader(pcmFromSamples([]int16{0, 1000, 2000})), 0.5)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	out := leftSamples(got)
	if len(out) < 4 {
		t.Fatalf("Expected at least 4 output frames, got %d", len(out))
	}
	expected := []int16{0, 500, 1000, 1500}
	for i, want := range expected {
		if out[i] != want {
			t.Errorf("Frame %d: expected %d, got %d", i, want, out[i])
		}
	}
}

func TestRateReaderEmptySource(t *testing.T) {
	r := newRateReader(bytes.NewReader(nil), 1.5)
	buf := make([]byte, 64)
	if _, err := r.Read(buf); err != io.EOF {
		t.Errorf("Expected EOF from empty source, got %v", err)
	}
}

func TestPitchReaderPreservesLength(t *testing.T) {
	// Pitch shifting re-tiles grains to their original length, so the
	// output frame count matches the input frame count.
	samples := make([]int16, grainFrames+512)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)*0.05))
	}
	src := pcmFromSamples(samples)

	g := newPitchReader(bytes.NewReader(src), 4.0)
	got, err := io.ReadAll(g)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(src) {
		t.Errorf("Expected output length %d, got %d", len(src), len(got))
	}
}

func TestClampSample(t *testing.T) {
	if got := clampSample(40000); got != 32767 {
		t.Errorf("Expected clamp to 32767, got %v", got)
	}
	if got := clampSample(-40000); got != -32768 {
		t.Errorf("Expected clamp to -32768, got %v", got)
	}
	if got := clampSample(123); got != 123 {
		t.Errorf("In-range sample changed: %v", got)
	}
}

package audio

import (
	"io"
	"math"
)

// pitchEpsilon is the effective offset, in semitones, below which the
// pitch stage is bypassed entirely instead of burning latency on a no-op.
const pitchEpsilon = 0.001

// SemitonesForRate returns the pitch change implied by resampling at the
// given rate: playing 5% faster raises pitch by 12*log2(1.05) semitones.
func SemitonesForRate(rate float64) float64 {
	return 12 * math.Log2(rate)
}

// EffectiveOffset is the pitch correction the shift stage must apply so
// the audible key stays put under a speed change plus a user transpose.
func EffectiveOffset(transpose int, speed float64) float64 {
	return float64(transpose) - SemitonesForRate(speed)
}

// pitchRatio converts semitones to a frequency ratio.
func pitchRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

const frameBytes = 4 // 16-bit stereo

type frame struct {
	l, r float64
}

func getFrame(b []byte) frame {
	l := int16(b[0]) | int16(b[1])<<8
	r := int16(b[2]) | int16(b[3])<<8
	return frame{float64(l), float64(r)}
}

func putFrame(b []byte, f frame) {
	l := int16(clampSample(f.l))
	r := int16(clampSample(f.r))
	b[0] = byte(l)
	b[1] = byte(l >> 8)
	b[2] = byte(r)
	b[3] = byte(r >> 8)
}

func clampSample(v float64) float64 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

func lerp(a, b frame, t float64) frame {
	return frame{a.l + (b.l-a.l)*t, a.r + (b.r-a.r)*t}
}

// rateReader resamples 16-bit stereo PCM by a fixed ratio with linear
// interpolation between adjacent frames. ratio source frames are consumed
// per output frame, so ratio > 1 plays faster (and, uncorrected, higher).
// The ratio is fixed for the reader's lifetime; a speed change rebuilds
// the whole stage rather than patching a live one.
type rateReader struct {
	src    io.Reader
	ratio  float64
	prev   frame
	next   frame
	frac   float64
	primed bool
	srcErr error
	inBuf  []byte
	inLen  int
	inPos  int
}

func newRateReader(src io.Reader, ratio float64) *rateReader {
	return &rateReader{
		src:   src,
		ratio: ratio,
		inBuf: make([]byte, 8192),
	}
}

// readFrame pulls the next source frame, buffering reads.
func (r *rateReader) readFrame() (frame, bool) {
	for r.inLen-r.inPos < frameBytes {
		if r.srcErr != nil {
			return frame{}, false
		}
		// shift the partial frame to the front
		rem := r.inLen - r.inPos
		copy(r.inBuf, r.inBuf[r.inPos:r.inLen])
		n, err := r.src.Read(r.inBuf[rem:])
		r.inPos = 0
		r.inLen = rem + n
		if err != nil {
			r.srcErr = err
		}
		if n == 0 && err != nil {
			if r.inLen < frameBytes {
				return frame{}, false
			}
		}
	}
	f := getFrame(r.inBuf[r.inPos:])
	r.inPos += frameBytes
	return f, true
}

func (r *rateReader) Read(p []byte) (int, error) {
	p = p[:len(p)-(len(p)%frameBytes)]
	if !r.primed {
		var ok bool
		if r.prev, ok = r.readFrame(); !ok {
			return 0, io.EOF
		}
		if r.next, ok = r.readFrame(); !ok {
			r.next = r.prev
		}
		r.primed = true
	}

	served := 0
	for served < len(p) {
		putFrame(p[served:], lerp(r.prev, r.next, r.frac))
		served += frameBytes
		r.frac += r.ratio
		for r.frac >= 1.0 {
			f, ok := r.readFrame()
			if !ok {
				if served > 0 {
					return served, nil
				}
				return 0, io.EOF
			}
			r.prev = r.next
			r.next = f
			r.frac -= 1.0
		}
	}
	return served, nil
}

// pitchReader shifts pitch without changing duration using fixed-size
// grains: each grain is resampled by the pitch ratio and re-tiled to its
// original length, with a short crossfade between grains to soften the
// boundaries. Crude next to a phase vocoder, but cheap and latency-free
// enough for practice playback.
type pitchReader struct {
	src   io.Reader
	ratio float64

	grainIn  []byte
	grainOut []byte
	outPos   int
	outLen   int
	tail     []frame // last fadeFrames of the previous grain
	srcErr   error
}

const (
	grainFrames = 4096
	fadeFrames  = 256
)

func newPitchReader(src io.Reader, semitones float64) *pitchReader {
	return &pitchReader{
		src:      src,
		ratio:    pitchRatio(semitones),
		grainIn:  make([]byte, grainFrames*frameBytes),
		grainOut: make([]byte, grainFrames*frameBytes),
		tail:     make([]frame, 0, fadeFrames),
	}
}

// grainFrameAt samples the input grain at a fractional frame position,
// wrapping around when the pitch ratio runs past the grain end.
func grainFrameAt(in []byte, frames int, pos float64) frame {
	if frames == 1 {
		return getFrame(in)
	}
	span := float64(frames - 1)
	pos = math.Mod(pos, span)
	i := int(pos)
	a := getFrame(in[i*frameBytes:])
	b := getFrame(in[(i+1)*frameBytes:])
	return lerp(a, b, pos-float64(i))
}

func (g *pitchReader) fillGrain() error {
	if g.srcErr != nil {
		return g.srcErr
	}
	n, err := io.ReadFull(g.src, g.grainIn)
	if err != nil && err != io.ErrUnexpectedEOF {
		g.srcErr = err
		if n == 0 {
			return err
		}
	}
	frames := n / frameBytes
	if frames == 0 {
		if g.srcErr == nil {
			g.srcErr = io.EOF
		}
		return g.srcErr
	}

	for i := 0; i < frames; i++ {
		f := grainFrameAt(g.grainIn, frames, float64(i)*g.ratio)
		// crossfade the grain head with the previous grain's tail
		if i < len(g.tail) {
			w := float64(i) / float64(len(g.tail))
			f = lerp(g.tail[i], f, w)
		}
		putFrame(g.grainOut[i*frameBytes:], f)
	}

	// remember the tail for the next grain's crossfade
	g.tail = g.tail[:0]
	for i := frames - fadeFrames; i < frames; i++ {
		if i < 0 {
			continue
		}
		g.tail = append(g.tail, grainFrameAt(g.grainIn, frames, float64(i)*g.ratio))
	}

	g.outPos = 0
	g.outLen = frames * frameBytes
	return nil
}

func (g *pitchReader) Read(p []byte) (int, error) {
	served := 0
	for served < len(p) {
		if g.outPos >= g.outLen {
			if err := g.fillGrain(); err != nil {
				if served > 0 {
					return served, nil
				}
				return 0, err
			}
		}
		n := copy(p[served:], g.grainOut[g.outPos:g.outLen])
		served += n
		g.outPos += n
	}
	return served, nil
}

// buildStages wraps a PCM stream with optional rate resampling and pitch
// compensation. The chain is rebuilt from scratch on every speed or
// transpose change; when the effective offset is negligible the pitch
// stage is skipped entirely.
func buildStages(src io.Reader, speed, offsetSemitones float64) io.Reader {
	out := src
	if math.Abs(speed-1.0) > 1e-9 {
		out = newRateReader(out, speed)
	}
	if math.Abs(offsetSemitones) > pitchEpsilon {
		out = newPitchReader(out, offsetSemitones)
	}
	return out
}

package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	defaultBitDepth   = 2 // 16-bit = 2 bytes
)

// bytesPerSecond for the output's PCM format.
func bytesPerSecond(sampleRate, channels int) int {
	return sampleRate * channels * defaultBitDepth
}

// Output is the device backends write 16-bit little-endian PCM into.
type Output interface {
	io.WriteCloser
	SampleRate() int
	Channels() int
	Buffered() int
	Flush()
}

// OtoOutput is the process-wide audio output using the Oto library.
// The internal buffer is bounded, so Write throttles feeders to playback
// speed and Buffered stays an honest latency figure.
type OtoOutput struct {
	context    *oto.Context
	player     oto.Player // oto.Player is an interface, not a pointer
	sampleRate int
	channels   int
	maxBuffer  int
	mu         sync.Mutex
	buffer     *bytes.Buffer
	volume     float64 // 0.0 - 1.0
	closed     bool
}

// NewOtoOutput creates the audio output with default settings.
func NewOtoOutput() (*OtoOutput, error) {
	return NewOtoOutputWithConfig(defaultSampleRate, defaultChannels, 100)
}

// NewOtoOutputWithConfig creates the audio output with a custom sample
// rate, channel count and buffer size in milliseconds.
func NewOtoOutputWithConfig(sampleRate, channels, bufferMs int) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(sampleRate, channels, defaultBitDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnsupported, err)
	}

	// Wait for context to be ready
	<-ready

	if bufferMs <= 0 {
		bufferMs = 100
	}
	output := &OtoOutput{
		context:    ctx,
		sampleRate: sampleRate,
		channels:   channels,
		maxBuffer:  bytesPerSecond(sampleRate, channels) * bufferMs / 1000,
		buffer:     &bytes.Buffer{},
		volume:     1.0,
	}

	// The player pulls from us through Read
	output.player = ctx.NewPlayer(output)

	return output, nil
}

// Read implements io.Reader for the player to read from.
func (o *OtoOutput) Read(p []byte) (n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, io.EOF
	}

	// If the buffer is empty, return silence to keep the stream alive;
	// the feeder may simply be between writes.
	if o.buffer.Len() == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n, err = o.buffer.Read(p)
	if err != nil {
		return n, err
	}

	// Apply volume scaling to 16-bit PCM samples
	if o.volume < 1.0 && n > 0 {
		o.applyVolume(p[:n])
	}

	return n, nil
}

// applyVolume scales 16-bit little-endian PCM samples by the current volume.
func (o *OtoOutput) applyVolume(data []byte) {
	vol := o.volume
	if vol >= 1.0 {
		return
	}

	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

// SetVolume sets the playback volume (0.0 - 1.0).
func (o *OtoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.volume = v
}

// GetVolume returns the current volume.
func (o *OtoOutput) GetVolume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Write writes PCM audio data to the output buffer. Blocks while the
// buffer is full, which throttles backend feeders to playback speed.
func (o *OtoOutput) Write(data []byte) (int, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if o.buffer.Len() < o.maxBuffer {
			break
		}
		o.mu.Unlock()
		// Buffer full, wait for playback to consume some
		time.Sleep(5 * time.Millisecond)
	}
	defer o.mu.Unlock()

	n, err := o.buffer.Write(data)
	if err != nil {
		return n, err
	}

	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}

	return n, nil
}

// Buffered returns the number of written-but-unplayed bytes.
func (o *OtoOutput) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Len()
}

// Flush halts output and discards buffered audio so a restart at a new
// offset does not replay stale samples.
func (o *OtoOutput) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		o.player.Pause()
	}
	o.buffer.Reset()
}

// SampleRate returns the sample rate.
func (o *OtoOutput) SampleRate() int {
	return o.sampleRate
}

// Channels returns the number of channels.
func (o *OtoOutput) Channels() int {
	return o.channels
}

// Close releases the audio output resources.
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return err
		}
	}
	return nil
}

var _ io.Reader = (*OtoOutput)(nil)
var _ Output = (*OtoOutput)(nil)

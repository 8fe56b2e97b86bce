package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// decodeAsset fully decodes an audio file into 16-bit little-endian
// stereo PCM at the target sample rate. The container is sniffed from the
// leading bytes; unrecognized containers fail with ErrUnsupportedFormat.
func decodeAsset(ctx context.Context, path string, targetRate int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pcm []byte
	var srcRate int
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		pcm, srcRate, err = decodeOgg(data)
	case bytes.HasPrefix(data, []byte("RIFF")):
		pcm, srcRate, err = decodeWav(data)
	default:
		pcm, srcRate, err = decodeMp3(data)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if srcRate != targetRate {
		pcm, err = resamplePCM(pcm, srcRate, targetRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
	}
	return pcm, nil
}

func decodeMp3(data []byte) ([]byte, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	// go-mp3 always outputs 16-bit stereo at the source rate
	var buf bytes.Buffer
	if dec.Length() > 0 {
		buf.Grow(int(dec.Length()))
	}
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), dec.SampleRate(), nil
}

func decodeOgg(data []byte) ([]byte, int, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if format.Channels != 1 && format.Channels != 2 {
		return nil, 0, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.Channels)
	}
	frames := len(samples) / format.Channels
	pcm := make([]byte, frames*frameBytes)
	for i := 0; i < frames; i++ {
		l := samples[i*format.Channels]
		r := l
		if format.Channels == 2 {
			r = samples[i*format.Channels+1]
		}
		putFrame(pcm[i*frameBytes:], frame{
			l: clampSample(float64(l) * 32767),
			r: clampSample(float64(r) * 32767),
		})
	}
	return pcm, format.SampleRate, nil
}

// decodeWav handles plain 16-bit PCM RIFF files, which is all the
// trainer's bundled assets use.
func decodeWav(data []byte) ([]byte, int, error) {
	if len(data) < 44 || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a WAVE file", ErrUnsupportedFormat)
	}

	var sampleRate, channels, bits int
	var raw []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := data[pos+8:]
		if size > len(body) {
			size = len(body)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrDecodeFailed)
			}
			if format := binary.LittleEndian.Uint16(body); format != 1 {
				return nil, 0, fmt.Errorf("%w: wav format %d", ErrUnsupportedFormat, format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:]))
			bits = int(binary.LittleEndian.Uint16(body[14:]))
		case "data":
			raw = body[:size]
		}
		pos += 8 + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if raw == nil || sampleRate == 0 {
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", ErrDecodeFailed)
	}
	if bits != 16 || (channels != 1 && channels != 2) {
		return nil, 0, fmt.Errorf("%w: %d-bit %d-channel wav", ErrUnsupportedFormat, bits, channels)
	}

	if channels == 2 {
		return raw, sampleRate, nil
	}
	// mono: duplicate onto both channels
	frames := len(raw) / 2
	pcm := make([]byte, frames*frameBytes)
	for i := 0; i < frames; i++ {
		pcm[i*4] = raw[i*2]
		pcm[i*4+1] = raw[i*2+1]
		pcm[i*4+2] = raw[i*2]
		pcm[i*4+3] = raw[i*2+1]
	}
	return pcm, sampleRate, nil
}

// resamplePCM converts stereo PCM between sample rates.
func resamplePCM(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	r := newRateReader(bytes.NewReader(pcm), float64(srcRate)/float64(dstRate))
	var out bytes.Buffer
	out.Grow(len(pcm) * dstRate / srcRate)
	if _, err := io.Copy(&out, r); err != nil && err != io.EOF {
		return nil, err
	}
	return out.Bytes(), nil
}

package audio

import "errors"

// Error taxonomy for backend preparation and startup. The transport
// inspects these with errors.Is to decide between retry, silent fallback
// and surfacing a non-fatal notification.
var (
	// ErrUnsupportedFormat means the asset container/codec cannot be
	// decoded by this backend variant.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrDecodeFailed means the asset was recognized but decoding failed.
	ErrDecodeFailed = errors.New("audio decode failed")

	// ErrDeviceUnsupported means no usable audio output device exists.
	// Playback continues silently; only audio features are lost.
	ErrDeviceUnsupported = errors.New("audio output device unsupported")

	// ErrBackendStart means the backend failed to start producing audio.
	ErrBackendStart = errors.New("audio backend start failed")
)

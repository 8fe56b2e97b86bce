// Package media provides OS-level media session integration so desktop
// media keys and applets can drive a practice session.
package media

import (
	"time"
)

// PlaybackState mirrors the transport state for media session display.
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// Metadata describes the loaded song for media session display.
type Metadata struct {
	Title    string
	Duration time.Duration
}

// Session is the interface for OS media session integration.
type Session interface {
	// UpdateMetadata updates the loaded song shown by the OS
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state and position
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	// UpdateRate publishes the practice speed to rate-aware clients
	UpdateRate(rate float64) error

	// UpdateLooping reports whether an AB-repeat region is active
	UpdateLooping(enabled bool) error

	// SetCommandHandler sets the handler for media commands
	SetCommandHandler(handler CommandHandler)

	// Close releases resources
	Close() error
}

// Command is a media command from the OS.
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdSeek
	CmdSetRate
	CmdSetLooping
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdSeek:
		return "Seek"
	case CmdSetRate:
		return "SetRate"
	case CmdSetLooping:
		return "SetLooping"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS.
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc is a function adapter for CommandHandler.
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession is used when media session integration is unavailable.
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session.
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(metadata Metadata) error {
	return nil
}

func (s *NoOpSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	return nil
}

func (s *NoOpSession) UpdateRate(rate float64) error {
	return nil
}

func (s *NoOpSession) UpdateLooping(enabled bool) error {
	return nil
}

func (s *NoOpSession) SetCommandHandler(handler CommandHandler) {
}

func (s *NoOpSession) Close() error {
	return nil
}

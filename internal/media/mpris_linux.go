//go:build linux

package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusName         = "org.mpris.MediaPlayer2.trainerd"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"

	// Advertised rate bounds, matching the transport's speed clamp
	mprisMinRate = 0.5
	mprisMaxRate = 1.5
)

// MPRISSession exposes the practice session over MPRIS on Linux.
// Update* run on IPC and tick goroutines while the DBus methods run on
// godbus dispatch goroutines, so every field access goes through mu.
type MPRISSession struct {
	conn *dbus.Conn

	mu       sync.Mutex
	handler  CommandHandler
	metadata Metadata
	state    PlaybackState
	position time.Duration
	rate     float64
	looping  bool
}

// NewSession connects to the session bus and claims the MPRIS name.
func NewSession() (Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name already taken")
	}

	session := &MPRISSession{
		conn:  conn,
		state: StateStopped,
		rate:  1.0,
	}

	if err := session.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}

	return session, nil
}

func (s *MPRISSession) exportInterfaces() error {
	if err := s.conn.Export(s, dbus.ObjectPath(mprisObjectPath), mprisInterface); err != nil {
		return err
	}
	if err := s.conn.Export(s, dbus.ObjectPath(mprisObjectPath), mprisPlayerInterface); err != nil {
		return err
	}
	return s.conn.Export(s, dbus.ObjectPath(mprisObjectPath), "org.freedesktop.DBus.Properties")
}

// UpdateMetadata updates the loaded song.
func (s *MPRISSession) UpdateMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	meta := s.getMetadataMap()
	s.mu.Unlock()

	props := map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(meta),
	}
	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

// UpdatePlaybackState updates the playback state and position.
func (s *MPRISSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	s.mu.Lock()
	oldState := s.state
	s.state = state
	s.position = position
	status := s.getPlaybackStatus()
	s.mu.Unlock()

	// Clients derive position from Rate; only state changes are pushed
	props := map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(status),
	}

	if oldState != state && state == StatePlaying {
		s.emitSeeked(position)
	}

	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

// UpdateRate publishes the practice speed.
func (s *MPRISSession) UpdateRate(rate float64) error {
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()

	props := map[string]dbus.Variant{
		"Rate": dbus.MakeVariant(rate),
	}
	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

// UpdateLooping reports AB-repeat as the MPRIS track loop.
func (s *MPRISSession) UpdateLooping(enabled bool) error {
	s.mu.Lock()
	s.looping = enabled
	status := s.getLoopStatus()
	s.mu.Unlock()

	props := map[string]dbus.Variant{
		"LoopStatus": dbus.MakeVariant(status),
	}
	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

// SetCommandHandler sets the handler for media commands.
func (s *MPRISSession) SetCommandHandler(handler CommandHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Close releases the bus connection.
func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MPRISSession) getHandler() CommandHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func (s *MPRISSession) emitSeeked(position time.Duration) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		mprisPlayerInterface+".Seeked",
		position.Microseconds(),
	)
}

// MPRIS DBus method implementations

// org.mpris.MediaPlayer2 methods

func (s *MPRISSession) Raise() *dbus.Error {
	return nil
}

func (s *MPRISSession) Quit() *dbus.Error {
	return nil
}

// org.mpris.MediaPlayer2.Player methods

func (s *MPRISSession) Play() *dbus.Error {
	if h := s.getHandler(); h != nil {
		h.OnCommand(CmdPlay, nil)
	}
	return nil
}

func (s *MPRISSession) Pause() *dbus.Error {
	if h := s.getHandler(); h != nil {
		h.OnCommand(CmdPause, nil)
	}
	return nil
}

func (s *MPRISSession) PlayPause() *dbus.Error {
	s.mu.Lock()
	playing := s.state == StatePlaying
	s.mu.Unlock()

	if playing {
		return s.Pause()
	}
	return s.Play()
}

func (s *MPRISSession) Stop() *dbus.Error {
	if h := s.getHandler(); h != nil {
		h.OnCommand(CmdStop, nil)
	}
	return nil
}

// Next and Previous have no playlist to act on; they are accepted and
// ignored so media keys do not error.

func (s *MPRISSession) Next() *dbus.Error {
	return nil
}

func (s *MPRISSession) Previous() *dbus.Error {
	return nil
}

func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	s.mu.Lock()
	h := s.handler
	newPos := s.position + time.Duration(offset)*time.Microsecond
	s.mu.Unlock()

	if h != nil {
		if newPos < 0 {
			newPos = 0
		}
		h.OnCommand(CmdSeek, newPos)
	}
	return nil
}

func (s *MPRISSession) SetPosition(trackId dbus.ObjectPath, position int64) *dbus.Error {
	if h := s.getHandler(); h != nil {
		h.OnCommand(CmdSeek, time.Duration(position)*time.Microsecond)
	}
	return nil
}

// org.freedesktop.DBus.Properties methods

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return s.getMediaPlayer2Property(prop)
	case mprisPlayerInterface:
		return s.getPlayerProperty(prop)
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return s.getAllMediaPlayer2Properties(), nil
	case mprisPlayerInterface:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.getAllPlayerProperties(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}

	switch prop {
	case "Rate":
		rate, ok := value.Value().(float64)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Rate"))
		}
		s.mu.Lock()
		s.rate = rate
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h.OnCommand(CmdSetRate, rate)
		}
	case "LoopStatus":
		status, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		looping := status == "Track"
		s.mu.Lock()
		s.looping = looping
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h.OnCommand(CmdSetLooping, looping)
		}
	}

	return nil
}

func (s *MPRISSession) getMediaPlayer2Property(prop string) (dbus.Variant, *dbus.Error) {
	switch prop {
	case "CanQuit":
		return dbus.MakeVariant(false), nil
	case "CanRaise":
		return dbus.MakeVariant(false), nil
	case "HasTrackList":
		return dbus.MakeVariant(false), nil
	case "Identity":
		return dbus.MakeVariant("trainerd"), nil
	case "DesktopEntry":
		return dbus.MakeVariant("trainerd"), nil
	case "SupportedUriSchemes":
		return dbus.MakeVariant([]string{"file"}), nil
	case "SupportedMimeTypes":
		return dbus.MakeVariant([]string{"audio/mpeg", "audio/ogg", "audio/wav", "audio/midi"}), nil
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
}

func (s *MPRISSession) getPlayerProperty(prop string) (dbus.Variant, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch prop {
	case "PlaybackStatus":
		return dbus.MakeVariant(s.getPlaybackStatus()), nil
	case "Metadata":
		return dbus.MakeVariant(s.getMetadataMap()), nil
	case "Position":
		return dbus.MakeVariant(s.position.Microseconds()), nil
	case "Rate":
		return dbus.MakeVariant(s.rate), nil
	case "MinimumRate":
		return dbus.MakeVariant(mprisMinRate), nil
	case "MaximumRate":
		return dbus.MakeVariant(mprisMaxRate), nil
	case "CanGoNext":
		return dbus.MakeVariant(false), nil
	case "CanGoPrevious":
		return dbus.MakeVariant(false), nil
	case "CanPlay":
		return dbus.MakeVariant(true), nil
	case "CanPause":
		return dbus.MakeVariant(true), nil
	case "CanSeek":
		return dbus.MakeVariant(true), nil
	case "CanControl":
		return dbus.MakeVariant(true), nil
	case "Volume":
		return dbus.MakeVariant(1.0), nil
	case "LoopStatus":
		return dbus.MakeVariant(s.getLoopStatus()), nil
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
}

func (s *MPRISSession) getAllMediaPlayer2Properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant("trainerd"),
		"DesktopEntry":        dbus.MakeVariant("trainerd"),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"file"}),
		"SupportedMimeTypes":  dbus.MakeVariant([]string{"audio/mpeg", "audio/ogg", "audio/wav", "audio/midi"}),
	}
}

// getAllPlayerProperties requires s.mu held.
func (s *MPRISSession) getAllPlayerProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(s.getPlaybackStatus()),
		"Metadata":       dbus.MakeVariant(s.getMetadataMap()),
		"Position":       dbus.MakeVariant(s.position.Microseconds()),
		"Rate":           dbus.MakeVariant(s.rate),
		"MinimumRate":    dbus.MakeVariant(mprisMinRate),
		"MaximumRate":    dbus.MakeVariant(mprisMaxRate),
		"CanGoNext":      dbus.MakeVariant(false),
		"CanGoPrevious":  dbus.MakeVariant(false),
		"CanPlay":        dbus.MakeVariant(true),
		"CanPause":       dbus.MakeVariant(true),
		"CanSeek":        dbus.MakeVariant(true),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(1.0),
		"LoopStatus":     dbus.MakeVariant(s.getLoopStatus()),
	}
}

// getPlaybackStatus requires s.mu held.
func (s *MPRISSession) getPlaybackStatus() string {
	switch s.state {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// getLoopStatus requires s.mu held.
func (s *MPRISSession) getLoopStatus() string {
	if s.looping {
		return "Track"
	}
	return "None"
}

// getMetadataMap requires s.mu held.
func (s *MPRISSession) getMetadataMap() map[string]dbus.Variant {
	m := make(map[string]dbus.Variant)

	m["mpris:trackid"] = dbus.MakeVariant(dbus.ObjectPath("/org/trainerd/song/1"))

	if s.metadata.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(s.metadata.Title)
	}
	if s.metadata.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(s.metadata.Duration.Microseconds())
	}

	return m
}

func (s *MPRISSession) emitPropertiesChanged(iface string, props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		"org.freedesktop.DBus.Properties.PropertiesChanged",
		iface,
		props,
		[]string{},
	)
}

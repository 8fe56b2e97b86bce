// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdLoad         CommandType = "load"
	CmdPlay         CommandType = "play"
	CmdPause        CommandType = "pause"
	CmdStop         CommandType = "stop"
	CmdSeek         CommandType = "seek"
	CmdSetSpeed     CommandType = "setSpeed"
	CmdSetTranspose CommandType = "setTranspose"
	CmdSetLoop      CommandType = "setLoop"
	CmdEnableLoop   CommandType = "enableLoop"
	CmdNoteOn       CommandType = "noteOn"
	CmdNoteOff      CommandType = "noteOff"
	CmdGuide        CommandType = "guide"
	CmdActiveNotes  CommandType = "activeNotes"
	CmdStatus       CommandType = "status"
	CmdGetConfig    CommandType = "getConfig"
	CmdSetConfig    CommandType = "setConfig"

	// MIDI device management
	CmdMidiPorts      CommandType = "midiPorts"
	CmdMidiConnect    CommandType = "midiConnect"
	CmdMidiDisconnect CommandType = "midiDisconnect"

	// Voice input
	CmdVoiceStart CommandType = "voiceStart"
	CmdVoiceStop  CommandType = "voiceStop"

	// Event streaming
	CmdSubscribeEvents   CommandType = "subscribeEvents"
	CmdUnsubscribeEvents CommandType = "unsubscribeEvents"
)

// Push message types sent to event subscribers
const (
	PushTime      = "time"
	PushState     = "state"
	PushJudgment  = "judgment"
	PushHighlight = "highlight"
	PushComplete  = "complete"
	PushNotice    = "notice"
)

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NoteSpec is a single expected note in a load request
type NoteSpec struct {
	Pitch    int     `json:"pitch"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
}

// LoadRequest is the data for a load command. Exactly one of Path and
// Notes must describe the song content: an SMF path, or inline notes
// with an optional audio path.
type LoadRequest struct {
	ID        string     `json:"id,omitempty"`
	Path      string     `json:"path,omitempty"`
	AudioPath string     `json:"audioPath,omitempty"`
	Duration  float64    `json:"duration,omitempty"`
	Notes     []NoteSpec `json:"notes,omitempty"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position float64 `json:"position"` // seconds
}

// SpeedRequest is the data for a setSpeed command
type SpeedRequest struct {
	Speed float64 `json:"speed"`
}

// SpeedResponse reports the speed actually applied after clamping
type SpeedResponse struct {
	Speed float64 `json:"speed"`
}

// TransposeRequest is the data for a setTranspose command
type TransposeRequest struct {
	Semitones int `json:"semitones"`
}

// LoopRequest is the data for a setLoop command. Nil bounds clear the
// corresponding marker.
type LoopRequest struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
	Clear bool     `json:"clear,omitempty"`
}

// EnableLoopRequest is the data for an enableLoop command
type EnableLoopRequest struct {
	Enabled bool `json:"enabled"`
}

// NoteRequest is the data for noteOn, noteOff and guide commands
type NoteRequest struct {
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity,omitempty"`
	Time     float64 `json:"time,omitempty"` // logical seconds; zero means "now"
}

// MidiConnectRequest is the data for a midiConnect command
type MidiConnectRequest struct {
	Port string `json:"port,omitempty"`
}

// MidiPortsResponse lists available MIDI input ports
type MidiPortsResponse struct {
	Ports     []string `json:"ports"`
	Connected string   `json:"connected,omitempty"`
}

// VoiceStartRequest is the data for a voiceStart command. Path names a
// pipe or file carrying raw 16-bit little-endian PCM from the client's
// capture process.
type VoiceStartRequest struct {
	Path       string `json:"path"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// VoiceStatusResponse reports the voice capture state
type VoiceStatusResponse struct {
	Running bool   `json:"running"`
	Path    string `json:"path,omitempty"`
}

// ConfigRequest is the data for a setConfig command
type ConfigRequest struct {
	SampleRate          *int     `json:"sampleRate,omitempty"`
	BufferSizeMs        *int     `json:"bufferSizeMs,omitempty"`
	DefaultVolume       *float64 `json:"defaultVolume,omitempty"`
	PreferStream        *bool    `json:"preferStream,omitempty"`
	DriftThresholdSec   *float64 `json:"driftThresholdSec,omitempty"`
	HitToleranceSec     *float64 `json:"hitToleranceSec,omitempty"`
	PerfectToleranceSec *float64 `json:"perfectToleranceSec,omitempty"`
	OctaveFold          *bool    `json:"octaveFold,omitempty"`
	HighlightMs         *int     `json:"highlightMs,omitempty"`
}

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	ConfigPath          string  `json:"configPath"`
	SampleRate          int     `json:"sampleRate"`
	BufferSizeMs        int     `json:"bufferSizeMs"`
	DefaultVolume       float64 `json:"defaultVolume"`
	PreferStream        bool    `json:"preferStream"`
	MinSpeed            float64 `json:"minSpeed"`
	MaxSpeed            float64 `json:"maxSpeed"`
	DriftThresholdSec   float64 `json:"driftThresholdSec"`
	HitToleranceSec     float64 `json:"hitToleranceSec"`
	PerfectToleranceSec float64 `json:"perfectToleranceSec"`
	OctaveFold          bool    `json:"octaveFold"`
	HighlightMs         int     `json:"highlightMs"`
}

// ActiveNoteInfo is one note in the visible window
type ActiveNoteInfo struct {
	Index    int     `json:"index"`
	Pitch    int     `json:"pitch"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Result   string  `json:"result"`
}

// ActiveNotesResponse is the response to an activeNotes command
type ActiveNotesResponse struct {
	Position float64          `json:"position"`
	Notes    []ActiveNoteInfo `json:"notes"`
}

// TimeEvent is pushed at tick rate to event subscribers
type TimeEvent struct {
	Position float64 `json:"position"`
	State    string  `json:"state"`
}

// JudgmentEvent is pushed when a note window resolves
type JudgmentEvent struct {
	Index  int     `json:"index"`
	Pitch  int     `json:"pitch"`
	Time   float64 `json:"time"`
	Result string  `json:"result"`
	Delta  float64 `json:"delta"`
}

// HighlightEvent is pushed when a key's visible highlight changes
type HighlightEvent struct {
	Pitch  int  `json:"pitch"`
	Active bool `json:"active"`
}

// CompleteEvent is pushed once when a song finishes
type CompleteEvent struct {
	Perfect int `json:"perfect"`
	Good    int `json:"good"`
	Missed  int `json:"missed"`
}

// NoticeEvent is pushed for user-visible warnings (audio fallback etc.)
type NoticeEvent struct {
	Message string `json:"message"`
}

// StateEvent is pushed when the transport state changes
type StateEvent struct {
	State string `json:"state"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming events
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}

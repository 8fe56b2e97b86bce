package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/notefall/trainerd/internal/config"
	"github.com/notefall/trainerd/internal/input"
	"github.com/notefall/trainerd/internal/media"
	"github.com/notefall/trainerd/internal/notes"
	"github.com/notefall/trainerd/internal/song"
	"github.com/notefall/trainerd/internal/transport"
)

// Server handles IPC communication with clients
type Server struct {
	socketPath   string
	configMgr    *config.Manager
	ctrl         *transport.Controller
	midi         *input.MIDIBridge
	mediaSession media.Session
	listener     net.Listener

	mu      sync.Mutex
	clients map[net.Conn]struct{}

	// Voice capture pump, at most one at a time. The generation guards
	// a finished pump's cleanup against a newer session's state.
	voiceMu     sync.Mutex
	voiceGen    uint64
	voiceCancel context.CancelFunc
	voiceFile   *os.File
	voicePath   string

	// Event streaming (callback-based, no polling)
	eventSubsMu sync.RWMutex
	eventSubs   map[net.Conn]bool
}

// NewServer creates a new IPC server and wires the transport's event
// surface to push subscribers and the OS media session.
func NewServer(
	socketPath string,
	configMgr *config.Manager,
	ctrl *transport.Controller,
	mediaSession media.Session,
) *Server {
	s := &Server{
		socketPath:   socketPath,
		configMgr:    configMgr,
		ctrl:         ctrl,
		mediaSession: mediaSession,
		clients:      make(map[net.Conn]struct{}),
		eventSubs:    make(map[net.Conn]bool),
	}
	s.midi = input.NewMIDIBridge(ctrl)

	ctrl.SetCallbacks(transport.Callbacks{
		OnLogicalTime: func(t float64) {
			s.pushEvent(PushTime, TimeEvent{Position: t, State: s.ctrl.State().String()})
		},
		OnStateChange: func(st transport.State) {
			s.pushEvent(PushState, StateEvent{State: st.String()})
			s.syncMediaState(st)
		},
		OnJudgment: func(j notes.Judgment) {
			s.pushEvent(PushJudgment, JudgmentEvent{
				Index:  j.Note.Index,
				Pitch:  j.Note.Note.Pitch,
				Time:   j.Note.Note.Time,
				Result: j.Result.String(),
				Delta:  j.Delta,
			})
		},
		OnHighlight: func(e notes.HighlightEdge) {
			s.pushEvent(PushHighlight, HighlightEvent{Pitch: e.Pitch, Active: e.Active})
		},
		OnComplete: func(sc notes.Score) {
			log.Printf("[TRANSPORT] Score: perfect=%d good=%d missed=%d", sc.Perfect, sc.Good, sc.Missed)
			s.pushEvent(PushComplete, CompleteEvent{Perfect: sc.Perfect, Good: sc.Good, Missed: sc.Missed})
		},
		OnNotice: func(msg string) {
			log.Printf("[TRANSPORT] Notice: %s", msg)
			s.pushEvent(PushNotice, NoticeEvent{Message: msg})
		},
	})

	mediaSession.SetCommandHandler(media.CommandHandlerFunc(func(cmd media.Command, data interface{}) error {
		return s.handleMediaCommand(cmd, data)
	}))

	return s
}

// handleMediaCommand translates OS media controls into transport calls.
func (s *Server) handleMediaCommand(cmd media.Command, data interface{}) error {
	log.Printf("[MEDIA] OS command: %s", cmd)
	switch cmd {
	case media.CmdPlay:
		return s.ctrl.Play()
	case media.CmdPause:
		return s.ctrl.Pause()
	case media.CmdPlayPause:
		if s.ctrl.State() == transport.Playing {
			return s.ctrl.Pause()
		}
		return s.ctrl.Play()
	case media.CmdStop:
		return s.ctrl.Stop(true)
	case media.CmdSeek:
		if pos, ok := data.(time.Duration); ok {
			return s.ctrl.Seek(pos.Seconds())
		}
	case media.CmdSetRate:
		if rate, ok := data.(float64); ok {
			applied := s.ctrl.SetSpeed(rate)
			s.mediaSession.UpdateRate(applied)
		}
	case media.CmdSetLooping:
		if enabled, ok := data.(bool); ok {
			s.ctrl.EnableLoop(enabled)
		}
	}
	return nil
}

// syncMediaState mirrors transport state changes to the OS session.
func (s *Server) syncMediaState(st transport.State) {
	var mstate media.PlaybackState
	switch st {
	case transport.Playing:
		mstate = media.StatePlaying
	case transport.Paused:
		mstate = media.StatePaused
	default:
		mstate = media.StateStopped
	}
	pos := time.Duration(s.ctrl.LogicalTime() * float64(time.Second))
	if err := s.mediaSession.UpdatePlaybackState(mstate, pos); err != nil {
		log.Printf("[MEDIA] Failed to update playback state: %v", err)
	}
}

// Start starts the IPC server
func (s *Server) Start(ctx context.Context) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	log.Printf("[IPC] Creating socket at %s", s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// Socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	log.Printf("[IPC] Server listening, waiting for connections...")

	go s.acceptLoop(ctx)

	<-ctx.Done()

	log.Printf("[IPC] Shutting down server...")

	s.mu.Lock()
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	log.Printf("[IPC] Closed %d client connections", clientCount)

	listener.Close()
	os.RemoveAll(s.socketPath)
	s.midi.Disconnect()
	s.stopVoice()

	log.Printf("[IPC] Server stopped")

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("[IPC] Accept error: %v", err)
				continue
			}
		}

		s.mu.Lock()
		s.clients[conn] = struct{}{}
		clientCount := len(s.clients)
		s.mu.Unlock()

		log.Printf("[IPC] New client connection (active: %d)", clientCount)

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.eventSubsMu.Lock()
		delete(s.eventSubs, conn)
		s.eventSubsMu.Unlock()
		log.Printf("[IPC] Client disconnected (active: %d)", clientCount)
	}()

	reader := bufio.NewReader(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Newline-delimited JSON
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("[IPC] Read error: %v", err)
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			log.Printf("[IPC] Invalid request format: %v", err)
			s.sendError(conn, "invalid request format")
			continue
		}

		// Frequent polling commands stay out of the log
		isPollingCmd := req.Cmd == CmdStatus || req.Cmd == CmdActiveNotes

		if !isPollingCmd {
			log.Printf("[IPC] Command: %s", req.Cmd)
		}

		resp := s.handleRequest(conn, req)

		if !isPollingCmd && !resp.Success {
			log.Printf("[IPC] Response: error=%q", resp.Error)
		}

		if err := s.sendResponse(conn, resp); err != nil {
			log.Printf("[IPC] Send error: %v", err)
			return
		}
	}
}

func (s *Server) handleRequest(conn net.Conn, req *Request) *Response {
	switch req.Cmd {
	case CmdLoad:
		return s.handleLoad(req)
	case CmdPlay:
		return s.handlePlay()
	case CmdPause:
		return s.handlePause()
	case CmdStop:
		return s.handleStop()
	case CmdSeek:
		return s.handleSeek(req)
	case CmdSetSpeed:
		return s.handleSetSpeed(req)
	case CmdSetTranspose:
		return s.handleSetTranspose(req)
	case CmdSetLoop:
		return s.handleSetLoop(req)
	case CmdEnableLoop:
		return s.handleEnableLoop(req)
	case CmdNoteOn:
		return s.handleNoteOn(req)
	case CmdNoteOff:
		return s.handleNoteOff(req)
	case CmdGuide:
		return s.handleGuide(req)
	case CmdActiveNotes:
		return s.handleActiveNotes()
	case CmdStatus:
		return s.handleStatus()
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdSetConfig:
		return s.handleSetConfig(req)
	case CmdMidiPorts:
		return s.handleMidiPorts()
	case CmdMidiConnect:
		return s.handleMidiConnect(req)
	case CmdMidiDisconnect:
		s.midi.Disconnect()
		return s.handleMidiPorts()
	case CmdVoiceStart:
		return s.handleVoiceStart(req)
	case CmdVoiceStop:
		s.stopVoice()
		return s.voiceStatus()
	case CmdSubscribeEvents:
		return s.handleSubscribeEvents(conn)
	case CmdUnsubscribeEvents:
		return s.handleUnsubscribeEvents(conn)
	default:
		return NewErrorResponse("unknown command")
	}
}

func (s *Server) handleLoad(req *Request) *Response {
	var loadReq LoadRequest
	if err := json.Unmarshal(req.Data, &loadReq); err != nil {
		return NewErrorResponse("invalid load request")
	}

	var (
		sng *song.Song
		err error
	)
	switch {
	case loadReq.Path != "":
		sng, err = song.LoadSMF(loadReq.Path, loadReq.AudioPath)
	case len(loadReq.Notes) > 0 || loadReq.Duration > 0:
		evs := make([]song.NoteEvent, len(loadReq.Notes))
		for i, n := range loadReq.Notes {
			evs[i] = song.NoteEvent{Pitch: n.Pitch, Time: n.Time, Duration: n.Duration}
		}
		sng, err = song.New(loadReq.ID, loadReq.Duration, loadReq.AudioPath, evs)
	default:
		return NewErrorResponse("load requires a path or inline notes")
	}
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	s.ctrl.SetSong(sng)

	dur := time.Duration(sng.Duration * float64(time.Second))
	if err := s.mediaSession.UpdateMetadata(media.Metadata{Title: sng.ID, Duration: dur}); err != nil {
		log.Printf("[MEDIA] Failed to update metadata: %v", err)
	}

	return s.handleStatus()
}

func (s *Server) handlePlay() *Response {
	if err := s.ctrl.Play(); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handlePause() *Response {
	if err := s.ctrl.Pause(); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleStop() *Response {
	if err := s.ctrl.Stop(true); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleSeek(req *Request) *Response {
	var seekReq SeekRequest
	if err := json.Unmarshal(req.Data, &seekReq); err != nil {
		return NewErrorResponse("invalid seek request")
	}
	if err := s.ctrl.Seek(seekReq.Position); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleSetSpeed(req *Request) *Response {
	var speedReq SpeedRequest
	if err := json.Unmarshal(req.Data, &speedReq); err != nil {
		return NewErrorResponse("invalid setSpeed request")
	}
	applied := s.ctrl.SetSpeed(speedReq.Speed)
	if err := s.mediaSession.UpdateRate(applied); err != nil {
		log.Printf("[MEDIA] Failed to update rate: %v", err)
	}
	resp, err := NewSuccessResponse(SpeedResponse{Speed: applied})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleSetTranspose(req *Request) *Response {
	var trReq TransposeRequest
	if err := json.Unmarshal(req.Data, &trReq); err != nil {
		return NewErrorResponse("invalid setTranspose request")
	}
	s.ctrl.SetTranspose(trReq.Semitones)
	return s.handleStatus()
}

func (s *Server) handleSetLoop(req *Request) *Response {
	var loopReq LoopRequest
	if err := json.Unmarshal(req.Data, &loopReq); err != nil {
		return NewErrorResponse("invalid setLoop request")
	}
	loop := s.ctrl.Loop()
	if loopReq.Clear {
		loop.Clear()
	} else {
		if loopReq.Start != nil {
			loop.SetStart(*loopReq.Start)
		}
		if loopReq.End != nil {
			loop.SetEnd(*loopReq.End)
		}
	}
	return s.handleStatus()
}

func (s *Server) handleEnableLoop(req *Request) *Response {
	var enReq EnableLoopRequest
	if err := json.Unmarshal(req.Data, &enReq); err != nil {
		return NewErrorResponse("invalid enableLoop request")
	}
	s.ctrl.EnableLoop(enReq.Enabled)
	if err := s.mediaSession.UpdateLooping(enReq.Enabled); err != nil {
		log.Printf("[MEDIA] Failed to update looping: %v", err)
	}
	return s.handleStatus()
}

func (s *Server) handleNoteOn(req *Request) *Response {
	var noteReq NoteRequest
	if err := json.Unmarshal(req.Data, &noteReq); err != nil {
		return NewErrorResponse("invalid noteOn request")
	}
	s.ctrl.Input(notes.InputEvent{
		Pitch:    noteReq.Pitch,
		Velocity: noteReq.Velocity,
		Time:     noteReq.Time,
	})
	resp, _ := NewSuccessResponse(nil)
	return resp
}

func (s *Server) handleNoteOff(req *Request) *Response {
	var noteReq NoteRequest
	if err := json.Unmarshal(req.Data, &noteReq); err != nil {
		return NewErrorResponse("invalid noteOff request")
	}
	s.ctrl.InputRelease(noteReq.Pitch)
	resp, _ := NewSuccessResponse(nil)
	return resp
}

func (s *Server) handleGuide(req *Request) *Response {
	var noteReq NoteRequest
	if err := json.Unmarshal(req.Data, &noteReq); err != nil {
		return NewErrorResponse("invalid guide request")
	}
	s.ctrl.Guide(noteReq.Pitch)
	resp, _ := NewSuccessResponse(nil)
	return resp
}

func (s *Server) handleActiveNotes() *Response {
	active := s.ctrl.ActiveNotes()
	infos := make([]ActiveNoteInfo, len(active))
	for i, a := range active {
		infos[i] = ActiveNoteInfo{
			Index:    a.Index,
			Pitch:    a.Note.Pitch,
			Time:     a.Note.Time,
			Duration: a.Note.Duration,
			Result:   a.Result.String(),
		}
	}
	resp, err := NewSuccessResponse(ActiveNotesResponse{
		Position: s.ctrl.LogicalTime(),
		Notes:    infos,
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleStatus() *Response {
	resp, err := NewSuccessResponse(s.ctrl.Status())
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleGetConfig() *Response {
	cfg := s.configMgr.Get()
	resp, err := NewSuccessResponse(ConfigResponse{
		ConfigPath:          s.configMgr.GetPath(),
		SampleRate:          cfg.Audio.SampleRate,
		BufferSizeMs:        cfg.Audio.BufferSizeMs,
		DefaultVolume:       cfg.Audio.DefaultVolume,
		PreferStream:        cfg.Audio.PreferStream,
		MinSpeed:            cfg.Timing.MinSpeed,
		MaxSpeed:            cfg.Timing.MaxSpeed,
		DriftThresholdSec:   cfg.Timing.DriftThresholdSec,
		HitToleranceSec:     cfg.Judgment.HitToleranceSec,
		PerfectToleranceSec: cfg.Judgment.PerfectToleranceSec,
		OctaveFold:          cfg.Judgment.OctaveFold,
		HighlightMs:         cfg.Judgment.HighlightMs,
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleSetConfig(req *Request) *Response {
	var cfgReq ConfigRequest
	if err := json.Unmarshal(req.Data, &cfgReq); err != nil {
		return NewErrorResponse("invalid setConfig request")
	}

	cfg := s.configMgr.Get()
	if cfgReq.SampleRate != nil {
		cfg.Audio.SampleRate = *cfgReq.SampleRate
	}
	if cfgReq.BufferSizeMs != nil {
		cfg.Audio.BufferSizeMs = *cfgReq.BufferSizeMs
	}
	if cfgReq.DefaultVolume != nil {
		cfg.Audio.DefaultVolume = *cfgReq.DefaultVolume
	}
	if cfgReq.PreferStream != nil {
		cfg.Audio.PreferStream = *cfgReq.PreferStream
	}
	if cfgReq.DriftThresholdSec != nil {
		cfg.Timing.DriftThresholdSec = *cfgReq.DriftThresholdSec
	}
	if cfgReq.HitToleranceSec != nil {
		cfg.Judgment.HitToleranceSec = *cfgReq.HitToleranceSec
	}
	if cfgReq.PerfectToleranceSec != nil {
		cfg.Judgment.PerfectToleranceSec = *cfgReq.PerfectToleranceSec
	}
	if cfgReq.OctaveFold != nil {
		cfg.Judgment.OctaveFold = *cfgReq.OctaveFold
	}
	if cfgReq.HighlightMs != nil {
		cfg.Judgment.HighlightMs = *cfgReq.HighlightMs
	}

	if err := s.configMgr.Update(cfg); err != nil {
		return NewErrorResponse(err.Error())
	}
	s.ctrl.ApplyConfig(cfg)

	log.Printf("[CONFIG] Configuration updated")
	return s.handleGetConfig()
}

func (s *Server) handleMidiPorts() *Response {
	resp, err := NewSuccessResponse(MidiPortsResponse{
		Ports:     input.Ports(),
		Connected: s.midi.Port(),
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

// handleVoiceStart spawns a pump that reads raw PCM from the named pipe
// or file and feeds pitch detections into the judgment queue, the same
// sink the MIDI bridge uses. The client owns microphone capture; the
// daemon only analyzes.
func (s *Server) handleVoiceStart(req *Request) *Response {
	var vreq VoiceStartRequest
	if err := json.Unmarshal(req.Data, &vreq); err != nil {
		return NewErrorResponse("invalid voiceStart request")
	}
	if vreq.Path == "" {
		return NewErrorResponse("voiceStart requires a capture path")
	}
	sampleRate := vreq.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	channels := vreq.Channels
	if channels <= 0 {
		channels = 1
	}

	s.voiceMu.Lock()
	if s.voiceCancel != nil {
		s.voiceMu.Unlock()
		return NewErrorResponse("voice capture already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.voiceGen++
	gen := s.voiceGen
	s.voiceCancel = cancel
	s.voicePath = vreq.Path
	s.voiceMu.Unlock()

	det := input.NewVoiceDetector(s.ctrl, sampleRate, channels)
	go func() {
		defer func() {
			s.voiceMu.Lock()
			if s.voiceGen == gen {
				s.voiceCancel = nil
				s.voiceFile = nil
				s.voicePath = ""
			}
			s.voiceMu.Unlock()
			cancel()
		}()

		f, err := os.Open(vreq.Path)
		if err != nil {
			log.Printf("[VOICE] Failed to open capture stream %s: %v", vreq.Path, err)
			return
		}
		defer f.Close()

		s.voiceMu.Lock()
		stopped := s.voiceGen != gen || s.voiceCancel == nil
		if !stopped {
			s.voiceFile = f
		}
		s.voiceMu.Unlock()
		if stopped {
			return
		}

		log.Printf("[VOICE] Capturing from %s (%dHz, %dch)", vreq.Path, sampleRate, channels)
		if err := det.Run(ctx, f); err != nil && ctx.Err() == nil {
			log.Printf("[VOICE] Capture failed: %v", err)
		}
	}()

	resp, err := NewSuccessResponse(VoiceStatusResponse{Running: true, Path: vreq.Path})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

// stopVoice cancels the running capture pump, if any. Closing the file
// unblocks a pump stuck in a pipe read.
func (s *Server) stopVoice() {
	s.voiceMu.Lock()
	cancel := s.voiceCancel
	f := s.voiceFile
	s.voiceCancel = nil
	s.voiceFile = nil
	s.voicePath = ""
	s.voiceMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if f != nil {
		f.Close()
	}
}

func (s *Server) voiceStatus() *Response {
	s.voiceMu.Lock()
	running := s.voiceCancel != nil
	path := s.voicePath
	s.voiceMu.Unlock()

	resp, err := NewSuccessResponse(VoiceStatusResponse{Running: running, Path: path})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleMidiConnect(req *Request) *Response {
	var connReq MidiConnectRequest
	if req.Data != nil {
		if err := json.Unmarshal(req.Data, &connReq); err != nil {
			return NewErrorResponse("invalid midiConnect request")
		}
	}
	if err := s.midi.Connect(connReq.Port); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleMidiPorts()
}

func (s *Server) sendResponse(conn net.Conn, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

func (s *Server) sendError(conn net.Conn, msg string) {
	s.sendResponse(conn, NewErrorResponse(msg))
}

// Event subscription handlers

func (s *Server) handleSubscribeEvents(conn net.Conn) *Response {
	s.eventSubsMu.Lock()
	s.eventSubs[conn] = true
	count := len(s.eventSubs)
	s.eventSubsMu.Unlock()

	log.Printf("[IPC] Client subscribed to events (total: %d)", count)

	resp, _ := NewSuccessResponse(map[string]bool{"subscribed": true})
	return resp
}

func (s *Server) handleUnsubscribeEvents(conn net.Conn) *Response {
	s.eventSubsMu.Lock()
	delete(s.eventSubs, conn)
	count := len(s.eventSubs)
	s.eventSubsMu.Unlock()

	log.Printf("[IPC] Client unsubscribed from events (remaining: %d)", count)

	resp, _ := NewSuccessResponse(map[string]bool{"subscribed": false})
	return resp
}

// pushEvent delivers a transport event to all subscribers immediately.
func (s *Server) pushEvent(msgType string, data interface{}) {
	s.eventSubsMu.RLock()
	if len(s.eventSubs) == 0 {
		s.eventSubsMu.RUnlock()
		return
	}
	subs := make([]net.Conn, 0, len(s.eventSubs))
	for conn := range s.eventSubs {
		subs = append(subs, conn)
	}
	s.eventSubsMu.RUnlock()

	msgBytes, err := NewPushMessage(msgType, data)
	if err != nil {
		return
	}
	msgBytes = append(msgBytes, '\n')

	for _, conn := range subs {
		if _, err := conn.Write(msgBytes); err != nil {
			s.eventSubsMu.Lock()
			delete(s.eventSubs, conn)
			s.eventSubsMu.Unlock()
		}
	}
}

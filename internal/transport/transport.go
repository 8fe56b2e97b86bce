// Package transport orchestrates the playback clock, the audio backend
// and the judgment engine behind one explicit state machine. All state
// transitions go through the Controller's public operations; nothing
// else may start or stop a backend.
package transport

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/notefall/trainerd/internal/audio"
	"github.com/notefall/trainerd/internal/clock"
	"github.com/notefall/trainerd/internal/config"
	"github.com/notefall/trainerd/internal/notes"
	"github.com/notefall/trainerd/internal/song"
)

// State is the transport state. Single owner: the Controller.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// ErrNoSong is returned by transport operations before a song is loaded.
var ErrNoSong = errors.New("no song loaded")

// BackendFactory produces candidate backends for a song in preference
// order. The controller tries them in turn and always falls back to the
// silent backend when every candidate fails.
type BackendFactory func(s *song.Song) []audio.Backend

// DefaultBackendFactory prefers the decoded-buffer backend, with the
// FFmpeg streaming backend as a second chance for formats the in-memory
// decoders reject. A nil output or a notes-only song yields no audio
// candidates at all.
func DefaultBackendFactory(out audio.Output, preferStream bool) BackendFactory {
	return func(s *song.Song) []audio.Backend {
		if out == nil || !s.HasAudio() {
			return nil
		}
		var candidates []audio.Backend
		dec, ffmpegErr := audio.NewFFmpegDecoder()
		if preferStream && ffmpegErr == nil {
			candidates = append(candidates, audio.NewStreamBackend(out, dec, s.AudioPath))
		}
		candidates = append(candidates, audio.NewBufferBackend(out, s.AudioPath))
		if !preferStream && ffmpegErr == nil {
			candidates = append(candidates, audio.NewStreamBackend(out, dec, s.AudioPath))
		}
		return candidates
	}
}

// Callbacks is the event surface consumed by the renderer, the IPC
// server and the OS media session. All callbacks fire outside the
// controller's locks; nil entries are skipped.
type Callbacks struct {
	OnLogicalTime func(t float64)
	OnStateChange func(s State)
	OnJudgment    func(j notes.Judgment)
	OnHighlight   func(e notes.HighlightEdge)
	OnComplete    func(score notes.Score)
	OnNotice      func(msg string)
}

// Status is a point-in-time snapshot of the transport.
type Status struct {
	State       string      `json:"state"`
	SongID      string      `json:"songId,omitempty"`
	Position    float64     `json:"position"`
	Duration    float64     `json:"duration,omitempty"`
	Speed       float64     `json:"speed"`
	Transpose   int         `json:"transpose"`
	Score       notes.Score `json:"score"`
	LoopStart   *float64    `json:"loopStart,omitempty"`
	LoopEnd     *float64    `json:"loopEnd,omitempty"`
	LoopEnabled bool        `json:"loopEnabled"`
	Completed   bool        `json:"completed"`
}

// Controller is the transport state machine.
type Controller struct {
	// opMu serializes whole transitions so a seek arriving mid-start
	// waits instead of interleaving; mu guards field access only and is
	// never held across backend calls that can block.
	opMu sync.Mutex
	mu   sync.Mutex

	cfg     *config.Config
	hw      clock.Clock
	clk     *clock.PlaybackClock
	drift   *clock.DriftMonitor
	factory BackendFactory
	loop    *ABRepeat

	song    *song.Song
	sched   *notes.Scheduler
	judge   *notes.Judge
	lights  *notes.Highlights
	backend audio.Backend

	state      State
	speed      float64
	transpose  int
	generation uint64
	completed  bool
	closed     bool

	cb Callbacks
}

// New creates a stopped controller with no song.
func New(cfg *config.Config, hw clock.Clock, factory BackendFactory) *Controller {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Controller{
		cfg:     cfg,
		hw:      hw,
		clk:     clock.NewPlaybackClock(hw, cfg.Timing.MinSpeed, cfg.Timing.MaxSpeed),
		drift:   clock.NewDriftMonitor(cfg.Timing.DriftThresholdSec),
		factory: factory,
		loop:    NewABRepeat(),
		speed:   1.0,
	}
}

// SetCallbacks installs the event surface. Call before playback starts.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// Loop exposes the AB-repeat region for bound edits.
func (c *Controller) Loop() *ABRepeat { return c.loop }

// EnableLoop toggles loop enforcement. When enabling with no region set
// and the configured default is on, a region around the current position
// is created first.
func (c *Controller) EnableLoop(enabled bool) {
	c.mu.Lock()
	loopCfg := c.cfg.Loop
	c.mu.Unlock()

	if enabled && !c.loop.HasRegion() && loopCfg.AutoRegion {
		now := c.clk.LogicalTime()
		start := now - loopCfg.AutoBeforeSec
		if start < 0 {
			start = 0
		}
		c.loop.SetRegion(start, now+loopCfg.AutoAfterSec)
	}
	c.loop.SetEnabled(enabled)
}

// ApplyConfig installs a new configuration snapshot. Judgment and window
// settings take effect on the next song load, loop defaults immediately;
// audio device and clock bound settings apply from the next daemon start.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// SetSong loads a song: the running backend is torn down, judgment and
// highlight state reset, and the position returns to zero.
func (c *Controller) SetSong(s *song.Song) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardownBackend()

	c.mu.Lock()
	c.song = s
	c.sched = notes.NewScheduler(s.Notes, c.cfg.Timing.PastWindowSec, c.cfg.Timing.LookaheadSec)
	c.judge = notes.NewJudge(c.sched, c.cfg.Judgment.HitToleranceSec,
		c.cfg.Judgment.PerfectToleranceSec, c.cfg.Judgment.OctaveFold)
	c.lights = notes.NewHighlights(float64(c.cfg.Judgment.HighlightMs) / 1000)
	c.state = Stopped
	c.completed = false
	stateCb := c.cb.OnStateChange
	c.mu.Unlock()

	c.loop.Clear()
	c.clk.SetDuration(s.Duration)
	c.clk.Freeze()
	c.clk.Resync(0)
	c.drift.Disarm()

	log.Printf("[TRANSPORT] Loaded song %s (%d notes, audio=%v)", s.ID, len(s.Notes), s.HasAudio())
	if stateCb != nil {
		stateCb(Stopped)
	}
}

// Song returns the loaded song, or nil.
func (c *Controller) Song() *song.Song {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.song
}

// Play starts or resumes playback at the current logical time.
func (c *Controller) Play() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.song == nil {
		c.mu.Unlock()
		return ErrNoSong
	}
	if c.state == Playing {
		c.mu.Unlock()
		return nil
	}
	stateCb := c.cb.OnStateChange
	wasCompleted := c.completed
	c.mu.Unlock()

	offset := c.clampOffset(c.clk.LogicalTime())
	if wasCompleted {
		// A fresh attempt starts from the top, not the frozen end
		// position, or from the loop start when a loop is active.
		offset = 0
		if start, _ := c.loop.Region(); c.loop.Enabled() && c.loop.HasRegion() {
			offset = c.clampOffset(*start)
		}
	}
	if err := c.startBackend(offset); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Playing
	if c.completed {
		// Replaying after completion starts a fresh attempt
		c.completed = false
		c.judge.Reset()
	}
	c.mu.Unlock()

	c.clk.Resync(offset)
	c.clk.Run()
	c.drift.Arm()

	log.Printf("[TRANSPORT] Playing from %.3fs", offset)
	if stateCb != nil {
		stateCb(Playing)
	}
	return nil
}

// Pause freezes logical time at the current clock reading and stops the
// backend. Idempotent; a no-op while stopped.
func (c *Controller) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return nil
	}
	c.state = Paused
	c.generation++ // orphan pending backend notifications
	backend := c.backend
	stateCb := c.cb.OnStateChange
	c.mu.Unlock()

	c.clk.Freeze()
	c.drift.Disarm()
	if backend != nil {
		backend.Stop()
	}

	log.Printf("[TRANSPORT] Paused at %.3fs", c.clk.LogicalTime())
	if stateCb != nil {
		stateCb(Paused)
	}
	return nil
}

// Seek moves the logical position. While playing this is a full backend
// stop-and-restart at the new offset, never a live jump; while paused or
// stopped only the frozen clock moves.
func (c *Controller) Seek(t float64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.seekLocked(t)
}

func (c *Controller) seekLocked(t float64) error {
	c.mu.Lock()
	if c.song == nil {
		c.mu.Unlock()
		return ErrNoSong
	}
	playing := c.state == Playing
	c.generation++
	backend := c.backend
	if c.completed {
		// A manual seek on a finished song begins a new attempt there
		c.completed = false
		c.judge.Reset()
	}
	c.mu.Unlock()

	t = c.clampOffset(t)
	if playing && backend != nil {
		backend.Stop()
	}
	c.clk.Resync(t)

	if playing {
		if err := c.startBackend(t); err != nil {
			return err
		}
		c.clk.Resync(t)
		c.clk.Run()
	}
	return nil
}

// Stop halts playback. With reset, the position returns to zero.
// Idempotent: stopping a stopped transport does nothing.
func (c *Controller) Stop(reset bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	wasStopped := c.state == Stopped
	c.state = Stopped
	c.generation++
	backend := c.backend
	stateCb := c.cb.OnStateChange
	c.mu.Unlock()

	c.drift.Disarm()
	if backend != nil {
		backend.Stop()
	}
	c.clk.Freeze()
	if reset {
		c.clk.Resync(0)
	}

	if !wasStopped {
		log.Printf("[TRANSPORT] Stopped (reset=%v)", reset)
		if stateCb != nil {
			stateCb(Stopped)
		}
	}
	return nil
}

// SetSpeed changes the playback speed, re-anchoring the clock at the
// current logical time so elapsed time is continuous across the change.
// Returns the speed actually applied after clamping.
func (c *Controller) SetSpeed(speed float64) float64 {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	applied := c.clk.SetSpeed(speed)

	c.mu.Lock()
	c.speed = applied
	playing := c.state == Playing
	backend := c.backend
	transpose := c.transpose
	c.mu.Unlock()

	if playing && backend != nil {
		if backend.SetRate(applied) {
			backend.SetPitchOffset(audio.EffectiveOffset(transpose, applied))
		} else {
			// Variant cannot change rate in place; restart at the
			// current position through the normal seek path.
			log.Printf("[TRANSPORT] Backend requires restart for rate %.2f", applied)
			if err := c.seekLocked(c.clk.LogicalTime()); err != nil {
				log.Printf("[TRANSPORT] Restart after rate change failed: %v", err)
			}
		}
	}
	return applied
}

// Speed returns the configured playback speed.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetTranspose shifts expected pitches by the given semitones and, when
// the backend supports it, the audible pitch as well.
func (c *Controller) SetTranspose(semitones int) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.transpose = semitones
	playing := c.state == Playing
	backend := c.backend
	speed := c.speed
	c.mu.Unlock()

	if playing && backend != nil {
		backend.SetPitchOffset(audio.EffectiveOffset(semitones, speed))
	}
}

// Transpose returns the configured transpose in semitones.
func (c *Controller) Transpose() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transpose
}

// LogicalTime returns the authoritative song position.
func (c *Controller) LogicalTime() float64 {
	return c.clk.LogicalTime()
}

// State returns the transport state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Input feeds a device key press into the judgment queue. A zero Time is
// stamped with the current logical time. The external highlight for the
// key lights immediately; judgment happens on the next tick.
func (c *Controller) Input(ev notes.InputEvent) {
	c.mu.Lock()
	judge := c.judge
	lights := c.lights
	highlightCb := c.cb.OnHighlight
	c.mu.Unlock()
	if judge == nil {
		return
	}

	if ev.Time == 0 {
		ev.Time = c.clk.LogicalTime()
	}
	judge.Enqueue(ev)

	if edge, changed := lights.Press(ev.Pitch, notes.SourceExternal, c.hw.Now()); changed && highlightCb != nil {
		highlightCb(edge)
	}
}

// InputRelease clears the external highlight for a key.
func (c *Controller) InputRelease(pitch int) {
	c.mu.Lock()
	lights := c.lights
	highlightCb := c.cb.OnHighlight
	c.mu.Unlock()
	if lights == nil {
		return
	}
	if edge, changed := lights.Release(pitch, notes.SourceExternal); changed && highlightCb != nil {
		highlightCb(edge)
	}
}

// ActiveNotes returns the notes in the visible window around the
// current logical time.
func (c *Controller) ActiveNotes() []notes.ActiveNote {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Active(c.clk.LogicalTime())
}

// Status returns a snapshot for status queries and media sessions.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:       c.state.String(),
		Position:    c.clk.LogicalTime(),
		Speed:       c.speed,
		Transpose:   c.transpose,
		LoopEnabled: c.loop.Enabled(),
		Completed:   c.completed,
	}
	if c.song != nil {
		st.SongID = c.song.ID
	}
	if d, ok := c.clk.Duration(); ok {
		st.Duration = d
	}
	if c.judge != nil {
		st.Score = c.judge.Score()
	}
	st.LoopStart, st.LoopEnd = c.loop.Region()
	return st
}

// Tick is the host cadence entry point: called at animation-frame rate,
// it advances everything that depends on logical time - loop and drift
// enforcement, input judgment, note expiry, highlight expiry - and
// reports the time to observers.
func (c *Controller) Tick() {
	c.mu.Lock()
	if c.closed || c.song == nil {
		c.mu.Unlock()
		return
	}
	state := c.state
	transpose := c.transpose
	judge := c.judge
	lights := c.lights
	cb := c.cb
	backend := c.backend
	c.mu.Unlock()

	t := c.clk.LogicalTime()

	if state == Playing {
		// AB-repeat: reuse the transport seek path
		if start, ok := c.loop.ShouldReset(t); ok {
			log.Printf("[TRANSPORT] Loop reset %.3fs -> %.3fs", t, start)
			if err := c.Seek(start); err != nil {
				log.Printf("[TRANSPORT] Loop seek failed: %v", err)
			}
			t = c.clk.LogicalTime()
		}

		// Drift: restart at the clock-derived position, never patch
		if backend != nil {
			if pos, ok := backend.Position(); ok && c.drift.Exceeded(pos, t) {
				log.Printf("[TRANSPORT] Drift %.3fs exceeds %.3fs, resyncing",
					pos-t, c.drift.Threshold())
				if err := c.Seek(t); err != nil {
					log.Printf("[TRANSPORT] Drift resync failed: %v", err)
				}
			}
		}

		// Natural end for songs whose backend reports no position
		// (silent variant): the clock alone reaches the duration.
		if d, known := c.clk.Duration(); known && t >= d {
			hasPos := false
			if backend != nil {
				_, hasPos = backend.Position()
			}
			if !hasPos {
				c.finish()
				return
			}
		}

		// Judge queued input, then close expired windows
		var judgments []notes.Judgment
		for _, ev := range judge.Drain() {
			jd, ok := judge.Press(ev.Pitch-transpose, ev.Time)
			if !ok {
				continue
			}
			judgments = append(judgments, jd)
			if edge, changed := lights.Press(jd.Note.Note.Pitch+transpose, notes.SourceJudgment, c.hw.Now()); changed && cb.OnHighlight != nil {
				cb.OnHighlight(edge)
			}
		}
		judgments = append(judgments, judge.Expire(t)...)
		if cb.OnJudgment != nil {
			for _, jd := range judgments {
				cb.OnJudgment(jd)
			}
		}
	}

	if lights != nil && cb.OnHighlight != nil {
		for _, edge := range lights.Tick(c.hw.Now()) {
			cb.OnHighlight(edge)
		}
	}

	if cb.OnLogicalTime != nil {
		cb.OnLogicalTime(t)
	}
}

// Guide lights a key as practice-guide feedback; it expires on its own.
func (c *Controller) Guide(pitch int) {
	c.mu.Lock()
	lights := c.lights
	highlightCb := c.cb.OnHighlight
	c.mu.Unlock()
	if lights == nil {
		return
	}
	if edge, changed := lights.Press(pitch, notes.SourceGuide, c.hw.Now()); changed && highlightCb != nil {
		highlightCb(edge)
	}
}

// Close tears everything down. The controller is unusable afterwards.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardownBackend()

	c.mu.Lock()
	c.closed = true
	c.state = Stopped
	c.mu.Unlock()
	c.drift.Disarm()
	c.clk.Freeze()
	return nil
}

// clampOffset bounds an offset to [0, duration].
func (c *Controller) clampOffset(t float64) float64 {
	if t < 0 {
		return 0
	}
	if d, ok := c.clk.Duration(); ok && t > d {
		return d
	}
	return t
}

// teardownBackend stops and releases the active backend. Caller holds opMu.
func (c *Controller) teardownBackend() {
	c.mu.Lock()
	c.generation++
	backend := c.backend
	c.backend = nil
	c.mu.Unlock()

	if backend != nil {
		backend.Stop()
		backend.Close()
	}
}

// startBackend resolves and starts a backend at the given offset: each
// factory candidate is tried with one retry for plain start failures,
// and the silent backend is the unconditional last resort. Caller holds
// opMu. On success c.backend is the running backend and the clock knows
// any newly discovered duration.
func (c *Controller) startBackend(offset float64) error {
	c.teardownBackend()

	c.mu.Lock()
	s := c.song
	gen := c.generation
	speed := c.speed
	transpose := c.transpose
	notice := c.cb.OnNotice
	c.mu.Unlock()

	candidates := append(c.factory(s), audio.NewSilentBackend())
	ctx := context.Background()

	var lastErr error
	for i, backend := range candidates {
		backend.SetOnEnded(func() { c.handleEnded(gen) })
		backend.SetRate(speed)
		backend.SetPitchOffset(audio.EffectiveOffset(transpose, speed))

		err := backend.Start(ctx, offset)
		if err != nil && errors.Is(err, audio.ErrBackendStart) {
			// One automatic retry at the same offset
			log.Printf("[TRANSPORT] Backend start failed, retrying: %v", err)
			err = backend.Start(ctx, offset)
		}
		if err != nil {
			lastErr = err
			log.Printf("[TRANSPORT] Backend %d/%d unusable: %v", i+1, len(candidates), err)
			backend.Close()
			continue
		}

		c.mu.Lock()
		if c.generation != gen {
			// A newer operation superseded this start
			c.mu.Unlock()
			backend.Stop()
			backend.Close()
			return nil
		}
		c.backend = backend
		c.mu.Unlock()

		if d, ok := backend.Duration(); ok {
			c.clk.SetDuration(d)
		}
		if _, silent := backend.(*audio.SilentBackend); silent && lastErr != nil && notice != nil {
			notice("audio unavailable, continuing without sound: " + lastErr.Error())
		}
		return nil
	}

	// Unreachable: the silent backend never fails to start.
	return lastErr
}

// handleEnded runs when the backend reaches the natural end of its
// audio. Stale generations (a seek or stop raced the notification) are
// discarded without touching state.
func (c *Controller) handleEnded(gen uint64) {
	c.mu.Lock()
	stale := c.generation != gen || c.state != Playing
	c.mu.Unlock()
	if stale {
		return
	}
	c.finish()
}

// finish handles the natural end of the song: logical time clamps to the
// duration, remaining windows close as misses, and the completion signal
// fires once.
func (c *Controller) finish() {
	c.opMu.Lock()

	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		c.opMu.Unlock()
		return
	}
	c.state = Stopped
	c.generation++
	backend := c.backend
	judge := c.judge
	alreadyDone := c.completed
	c.completed = true
	cb := c.cb
	c.mu.Unlock()

	c.drift.Disarm()
	if backend != nil {
		backend.Stop()
	}
	if d, ok := c.clk.Duration(); ok {
		c.clk.Resync(d)
	}
	c.clk.Freeze()

	// Any note still pending at the end is a miss
	var judgments []notes.Judgment
	if judge != nil {
		// Close every remaining window, not just those near the end
		judgments = judge.Expire(c.clk.LogicalTime() + 3600)
	}
	c.opMu.Unlock()

	log.Printf("[TRANSPORT] Song finished")
	if cb.OnJudgment != nil {
		for _, jd := range judgments {
			cb.OnJudgment(jd)
		}
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(Stopped)
	}
	if !alreadyDone && cb.OnComplete != nil && judge != nil {
		cb.OnComplete(judge.Score())
	}
}

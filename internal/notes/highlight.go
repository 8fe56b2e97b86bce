package notes

import "sync"

// HighlightSource identifies who lit a key. Multiple sources may
// highlight the same key at once; the rendered state is their union.
type HighlightSource int

const (
	SourceManual   HighlightSource = iota // pointer press, explicit release
	SourceExternal                        // MIDI/voice device, explicit release
	SourceGuide                           // practice-guide auto-play, self-expiring
	SourceJudgment                        // judgment feedback flash, self-expiring
)

// String returns the string representation of the source.
func (s HighlightSource) String() string {
	switch s {
	case SourceManual:
		return "manual"
	case SourceExternal:
		return "external"
	case SourceGuide:
		return "guide"
	default:
		return "judgment"
	}
}

// selfExpiring sources represent transient feedback with no release
// event, so they carry a deadline instead.
func (s HighlightSource) selfExpiring() bool {
	return s == SourceGuide || s == SourceJudgment
}

// HighlightEdge is a transition of a key's union highlight state.
type HighlightEdge struct {
	Pitch  int  `json:"pitch"`
	Active bool `json:"active"`
}

// Highlights tracks per-key highlight state across sources. Held sources
// stay until released; guide and judgment sources expire on their own
// after the configured duration.
type Highlights struct {
	mu      sync.Mutex
	ttl     float64
	entries map[int]map[HighlightSource]float64 // pitch -> source -> deadline (0 = held)
}

// NewHighlights creates the tracker with the auto-expire duration in
// seconds for self-expiring sources.
func NewHighlights(ttl float64) *Highlights {
	if ttl <= 0 {
		ttl = 0.15
	}
	return &Highlights{
		ttl:     ttl,
		entries: make(map[int]map[HighlightSource]float64),
	}
}

// Press lights a key for a source at hardware time now. Returns the edge
// if the key's union state turned on.
func (h *Highlights) Press(pitch int, source HighlightSource, now float64) (HighlightEdge, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sources := h.entries[pitch]
	wasActive := len(sources) > 0
	if sources == nil {
		sources = make(map[HighlightSource]float64)
		h.entries[pitch] = sources
	}

	deadline := 0.0
	if source.selfExpiring() {
		deadline = now + h.ttl
	}
	sources[source] = deadline

	if wasActive {
		return HighlightEdge{}, false
	}
	return HighlightEdge{Pitch: pitch, Active: true}, true
}

// Release clears a held source. Returns the edge if the key went dark.
func (h *Highlights) Release(pitch int, source HighlightSource) (HighlightEdge, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sources := h.entries[pitch]
	if _, ok := sources[source]; !ok {
		return HighlightEdge{}, false
	}
	delete(sources, source)
	if len(sources) > 0 {
		return HighlightEdge{}, false
	}
	delete(h.entries, pitch)
	return HighlightEdge{Pitch: pitch, Active: false}, true
}

// Tick expires self-expiring sources past their deadline and returns the
// keys that went dark.
func (h *Highlights) Tick(now float64) []HighlightEdge {
	h.mu.Lock()
	defer h.mu.Unlock()

	var edges []HighlightEdge
	for pitch, sources := range h.entries {
		for source, deadline := range sources {
			if deadline > 0 && now >= deadline {
				delete(sources, source)
			}
		}
		if len(sources) == 0 {
			delete(h.entries, pitch)
			edges = append(edges, HighlightEdge{Pitch: pitch, Active: false})
		}
	}
	return edges
}

// Active reports whether any source currently lights the key.
func (h *Highlights) Active(pitch int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries[pitch]) > 0
}

// Reset drops all highlight state.
func (h *Highlights) Reset() {
	h.mu.Lock()
	h.entries = make(map[int]map[HighlightSource]float64)
	h.mu.Unlock()
}

// Package config handles daemon configuration file management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config represents the daemon configuration
type Config struct {
	// Audio settings
	Audio AudioConfig `json:"audio"`

	// Timing settings for the playback clock and drift recovery
	Timing TimingConfig `json:"timing"`

	// Judgment settings for note hit classification
	Judgment JudgmentConfig `json:"judgment"`

	// Loop settings for AB-repeat behavior
	Loop LoopConfig `json:"loop"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate"`

	// BufferSizeMs is the output buffer size in milliseconds (default: 100)
	BufferSizeMs int `json:"bufferSizeMs"`

	// DefaultVolume level 0.0 - 1.0 (default: 1.0)
	DefaultVolume float64 `json:"defaultVolume"`

	// PreferStream forces the streaming backend even for fully decodable assets
	PreferStream bool `json:"preferStream"`
}

// TimingConfig contains playback clock settings
type TimingConfig struct {
	// MinSpeed and MaxSpeed bound the playback speed multiplier
	MinSpeed float64 `json:"minSpeed"`
	MaxSpeed float64 `json:"maxSpeed"`

	// DriftThresholdSec is the clock/backend divergence that forces a resync
	DriftThresholdSec float64 `json:"driftThresholdSec"`

	// LookaheadSec is how far ahead of the judgment line notes become active
	LookaheadSec float64 `json:"lookaheadSec"`

	// PastWindowSec is how long judged notes stay active behind the line
	PastWindowSec float64 `json:"pastWindowSec"`
}

// JudgmentConfig contains note judgment tolerances
type JudgmentConfig struct {
	// HitToleranceSec is the widest press-to-target distance that still counts
	HitToleranceSec float64 `json:"hitToleranceSec"`

	// PerfectToleranceSec is the press-to-target distance for a perfect hit
	PerfectToleranceSec float64 `json:"perfectToleranceSec"`

	// OctaveFold accepts presses in any octave of the target pitch
	OctaveFold bool `json:"octaveFold"`

	// HighlightMs is how long guide/judgment key highlights stay lit
	HighlightMs int `json:"highlightMs"`
}

// LoopConfig contains AB-repeat settings
type LoopConfig struct {
	// AutoRegion creates a default region around the current position when
	// the loop is enabled with no bounds set
	AutoRegion bool `json:"autoRegion"`

	// AutoBeforeSec / AutoAfterSec size the auto-created region
	AutoBeforeSec float64 `json:"autoBeforeSec"`
	AutoAfterSec  float64 `json:"autoAfterSec"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    44100,
			BufferSizeMs:  100,
			DefaultVolume: 1.0,
		},
		Timing: TimingConfig{
			MinSpeed:          0.5,
			MaxSpeed:          1.5,
			DriftThresholdSec: 0.2,
			LookaheadSec:      12.0,
			PastWindowSec:     2.0,
		},
		Judgment: JudgmentConfig{
			HitToleranceSec:     0.15,
			PerfectToleranceSec: 0.05,
			OctaveFold:          false,
			HighlightMs:         150,
		},
		Loop: LoopConfig{
			AutoRegion:    true,
			AutoBeforeSec: 5.0,
			AutoAfterSec:  10.0,
		},
	}
}

// Manager handles loading and saving configuration. The held Config is
// treated as immutable: Get hands out a copy and Update installs a new
// one whole, so readers on other goroutines always see a consistent
// snapshot.
type Manager struct {
	configDir  string
	configPath string

	mu     sync.RWMutex
	config *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk
func (m *Manager) Load() error {
	// Ensure config directory exists
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Check if config file exists
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		// Create default config
		m.config = DefaultConfig()
		return m.Save()
	}

	// Read existing config
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	// Parse JSON
	config := DefaultConfig() // Start with defaults
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	// Ensure config directory exists
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to JSON with indentation
	m.mu.RLock()
	data, err := json.MarshalIndent(m.config, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns a copy of the current configuration. All fields are plain
// values, so a shallow copy is a full snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.config
	return &cp
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update installs a new configuration and saves it. The caller must not
// retain and mutate the passed Config afterwards.
func (m *Manager) Update(config *Config) error {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return m.Save()
}

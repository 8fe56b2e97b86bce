package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timing.MinSpeed != 0.5 || cfg.Timing.MaxSpeed != 1.5 {
		t.Errorf("Unexpected speed bounds: %v - %v", cfg.Timing.MinSpeed, cfg.Timing.MaxSpeed)
	}
	if cfg.Judgment.HitToleranceSec <= cfg.Judgment.PerfectToleranceSec {
		t.Error("Hit tolerance should be wider than perfect tolerance")
	}
}

func TestManagerGetReturnsSnapshot(t *testing.T) {
	m := NewManager(t.TempDir())

	cfg := m.Get()
	cfg.Judgment.OctaveFold = !cfg.Judgment.OctaveFold
	cfg.Timing.DriftThresholdSec = 99

	held := m.Get()
	if held.Judgment.OctaveFold == cfg.Judgment.OctaveFold {
		t.Error("Mutating a Get result must not touch the stored config")
	}
	if held.Timing.DriftThresholdSec == 99 {
		t.Error("Mutating a Get result must not touch the stored config")
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	cfg.Judgment.HitToleranceSec = 0.25
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A fresh manager reads the saved value back
	m2 := NewManager(dir)
	if err := m2.Load(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := m2.Get().Judgment.HitToleranceSec; got != 0.25 {
		t.Errorf("Expected saved tolerance 0.25, got %v", got)
	}
}

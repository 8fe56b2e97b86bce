// Package main is the entry point for the trainerd daemon.
// trainerd is a headless note-trainer playback daemon: it keeps the
// authoritative practice clock, judges played notes against the loaded
// song, and talks to front-end clients over IPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notefall/trainerd/internal/audio"
	"github.com/notefall/trainerd/internal/clock"
	"github.com/notefall/trainerd/internal/config"
	"github.com/notefall/trainerd/internal/ipc"
	"github.com/notefall/trainerd/internal/media"
	"github.com/notefall/trainerd/internal/transport"
)

// Version is set at build time via ldflags
var Version = "dev"

// tickInterval paces the transport's update loop, roughly one tick per
// display frame.
const tickInterval = time.Second / 60

// Config holds daemon configuration
type Config struct {
	SocketPath string
	ConfigDir  string
	Verbose    bool
}

func main() {
	cfg := parseFlags()

	if cfg.Verbose {
		log.Printf("trainerd version %s starting...", Version)
	}

	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.SocketPath, "socket", "", "IPC socket path (default: auto-generated based on UID)")
	flag.StringVar(&cfg.ConfigDir, "config", "", "Configuration directory (default: ~/.config/trainerd)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if cfg.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		cfg.ConfigDir = homeDir + "/.config/trainerd"
	}

	if cfg.SocketPath == "" {
		cfg.SocketPath = fmt.Sprintf("/tmp/trainerd-%d.sock", os.Getuid())
	}

	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	// Initialize config manager
	configMgr := config.NewManager(cfg.ConfigDir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	daemonCfg := configMgr.Get()

	// Initialize media session (platform-specific)
	mediaSession, err := media.NewSession()
	if err != nil {
		log.Printf("[MEDIA] Warning: failed to initialize media session: %v", err)
		log.Printf("[MEDIA] Continuing without OS media integration")
		mediaSession = media.NewNoOpSession()
	} else {
		log.Printf("[MEDIA] Media session initialized successfully")
	}
	defer mediaSession.Close()

	// Initialize audio output. A missing audio device is not fatal; the
	// transport falls back to clock-only playback.
	var output audio.Output
	out, err := audio.NewOtoOutputWithConfig(
		daemonCfg.Audio.SampleRate, 2, daemonCfg.Audio.BufferSizeMs)
	if err != nil {
		log.Printf("[AUDIO] Warning: audio device unavailable: %v", err)
		log.Printf("[AUDIO] Continuing without sound")
	} else {
		out.SetVolume(daemonCfg.Audio.DefaultVolume)
		output = out
		defer out.Close()
	}

	// Initialize the transport controller
	factory := transport.DefaultBackendFactory(output, daemonCfg.Audio.PreferStream)
	ctrl := transport.New(daemonCfg, clock.NewSystemClock(), factory)
	defer ctrl.Close()

	// Drive the transport at frame rate
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ctrl.Tick()
			}
		}
	}()

	// Initialize and start the IPC server
	server := ipc.NewServer(cfg.SocketPath, configMgr, ctrl, mediaSession)

	log.Printf("Starting IPC server on %s", cfg.SocketPath)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}

	return nil
}

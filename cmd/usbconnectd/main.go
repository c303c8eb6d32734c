// Package main is the entry point for the usbconnectd hotplug daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uudruid74/picoreplayer-usbconnectd/internal/arbiter"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/config"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/fifo"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/player"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/playerconf"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/policy"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/registry"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/udev"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/version"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to the daemon config file (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	versionInfo := version.GetInfo()
	log.Info().Msgf("%s starting", versionInfo.String())

	// Daemon configuration
	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	settings := cfg.Settings()

	log.Info().
		Str("fifo", settings.FifoPath).
		Str("rules", settings.RulesPath).
		Str("playerConfig", settings.PlayerConfigPath).
		Str("backend", settings.Backend).
		Str("restartMode", settings.RestartMode).
		Msg("Configuration")

	// Exclusion list: read once, immutable for the daemon's lifetime
	exclusions, err := policy.LoadExclusions(settings.ExclusionsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load exclusion list")
	}

	ctrl := newController(settings)
	selector := arbiter.NewSelector(registry.NewAlsaRegistry(""), exclusions)
	filters := udev.NewInstaller(settings.RulesPath, settings.FifoPath)
	store := playerconf.NewStore(settings.PlayerConfigPath)

	arb := arbiter.New(selector, ctrl, filters, store, arbiter.ParseMode(settings.RestartMode))

	// Event pipe: remove any stale instance, then own it for our lifetime
	reader := fifo.NewReader(settings.FifoPath)
	if err := reader.Create(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create event pipe")
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick up restart-mode changes without a daemon restart
	go func() {
		for settings := range cfg.SubscribeToChanges() {
			arb.SetMode(arbiter.ParseMode(settings.RestartMode))
		}
	}()
	cfg.Watch()

	// Initial binding before the first event is read
	arb.Startup()

	if err := reader.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open event pipe")
	}
	go arb.Run(ctx, reader.Events())

	// Status surface
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if arb.Status().Bound {
			w.Write([]byte(`{"status":"ok","output":"bound"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","output":"unbound"}`))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	mux.HandleFunc("/api/v1/output", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(arb.Status())
	})

	server := &http.Server{
		Addr:         settings.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()
		reader.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", settings.ListenAddr).Msg("HTTP status endpoint listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Daemon stopped")
}

// newController picks the playback backend from configuration.
func newController(settings config.Settings) player.Controller {
	switch settings.Backend {
	case "mpd":
		return player.NewMPD(settings.MPDHost, settings.MPDPort)
	default:
		return player.NewSqueezelite(settings.InitScript, settings.PidFile, settings.ProcName)
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"siren/internal/alarm"
	"siren/internal/api"
	"siren/internal/config"
	"siren/internal/device"
	"siren/internal/lock"
	"siren/internal/preferences"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	configPath := os.Getenv("SIREN_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.NewLoader(configPath, logger).Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting Siren",
		zap.String("api_url", cfg.Lock.BaseURL),
		zap.Duration("poll_interval", cfg.Lock.PollInterval),
		zap.Int("http_port", cfg.Server.Port))

	client := lock.NewClient(cfg.Lock.BaseURL, cfg.Lock.Timeout, logger)

	reconciler := device.NewReconciler(client, logger, cfg.Lock.PollInterval)
	defer reconciler.Stop()

	prefs := preferences.NewStore(initialPreferences(cfg.Preferences, logger), logger)

	trigger := alarm.NewTrigger(reconciler, prefs, newPlayer(cfg.Audio, logger), logger, cfg.Audio.Preview)
	trigger.Start()
	defer trigger.Close()

	sub := reconciler.Subscribe(func(oldSnap, newSnap device.Snapshot) {
		if newSnap.Status.Error != "" && newSnap.Status.Error != oldSnap.Status.Error {
			logger.Warn("Lock backend error", zap.String("error", newSnap.Status.Error))
		}
		if oldSnap.Device.Paired != newSnap.Device.Paired {
			logger.Info("Pairing changed", zap.Bool("paired", newSnap.Device.Paired))
		}
	})
	defer sub.Unsubscribe()

	server := api.NewServer(reconciler, prefs, trigger, logger, cfg.Server)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start HTTP API server", zap.Error(err))
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Error("Failed to stop HTTP API server", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Pair the device with POST /api/pair. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")
}

// initialPreferences converts configured preferences, falling back to the
// default sound when the configured one is unknown
func initialPreferences(cfg config.PreferencesConfig, logger *zap.Logger) preferences.Preferences {
	prefs := preferences.Defaults()

	sound, err := preferences.ParseAlarmSound(cfg.AlarmSound)
	if err != nil {
		logger.Warn("Ignoring configured alarm sound", zap.Error(err))
	} else {
		prefs.AlarmSound = sound
	}
	if cfg.Volume != nil {
		prefs.Volume = *cfg.Volume
	}
	if cfg.MotionAlertsEnabled != nil {
		prefs.MotionAlertsEnabled = *cfg.MotionAlertsEnabled
	}

	return prefs
}

// newPlayer selects the native player when an audio command is configured
func newPlayer(cfg config.AudioConfig, logger *zap.Logger) alarm.Player {
	if len(cfg.Command) == 0 {
		logger.Warn("No audio command configured, alarms will be silent")
		return alarm.NewStubPlayer(logger)
	}

	logger.Info("Using audio command",
		zap.Strings("command", cfg.Command),
		zap.String("asset_dir", cfg.AssetDir))
	return alarm.NewNativePlayer(cfg.AssetDir, alarm.NewCommandOutput(cfg.Command, logger), logger)
}

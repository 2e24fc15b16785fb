package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Default values used when neither the config file nor the environment sets them
const (
	DefaultAPIURL              = "https://lockedin-gn7w.onrender.com"
	DefaultPollIntervalSeconds = 5
	DefaultHTTPPort            = 8081
	DefaultRateLimitPerSec     = 5.0
	DefaultRateLimitBurst      = 10
	DefaultPreviewSeconds      = 3
	DefaultAlarmSound          = "Alarm"
	DefaultVolume              = 75
)

// Config represents the config.yaml structure
type Config struct {
	Lock        LockConfig        `yaml:"lock"`
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Preferences PreferencesConfig `yaml:"preferences"`
}

// LockConfig describes the remote lock backend
type LockConfig struct {
	BaseURL             string        `yaml:"base_url"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration `yaml:"-"`
	// TimeoutSeconds of 0 leaves the HTTP client without a timeout
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// ServerConfig holds the control API settings
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// AudioConfig selects the alarm player. An empty Command selects the stub player.
type AudioConfig struct {
	Command        []string      `yaml:"command"`
	AssetDir       string        `yaml:"asset_dir"`
	PreviewSeconds int           `yaml:"preview_seconds"`
	Preview        time.Duration `yaml:"-"`
}

// PreferencesConfig holds the preference values a fresh session starts with
type PreferencesConfig struct {
	AlarmSound          string `yaml:"alarm_sound"`
	Volume              *int   `yaml:"volume"`
	MotionAlertsEnabled *bool  `yaml:"motion_alerts_enabled"`
}

// Loader reads the YAML config file and layers environment overrides on top
type Loader struct {
	path   string
	logger *zap.Logger
	getenv func(string) string
}

// NewLoader creates a loader for the given path. An empty path skips the file.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger,
		getenv: os.Getenv,
	}
}

// Load builds the configuration: defaults, then the file, then the environment
func (l *Loader) Load() (*Config, error) {
	var cfg Config

	if l.path != "" {
		l.logger.Debug("Loading config file", zap.String("path", l.path))

		data, err := os.ReadFile(l.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			l.logger.Warn("Config file not found, using defaults", zap.String("path", l.path))
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
			l.logger.Info("Config file loaded", zap.String("path", l.path))
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnv overrides file values with SIREN_* environment variables
func (l *Loader) applyEnv(cfg *Config) error {
	if v := l.getenv("SIREN_API_URL"); v != "" {
		cfg.Lock.BaseURL = v
	}

	if v := l.getenv("SIREN_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SIREN_POLL_INTERVAL %q: %w", v, err)
		}
		cfg.Lock.PollInterval = d
	}

	if v := l.getenv("SIREN_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SIREN_HTTP_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}

	if v := l.getenv("SIREN_AUDIO_COMMAND"); v != "" {
		cfg.Audio.Command = []string{"sh", "-c", v}
	}

	if v := l.getenv("SIREN_ASSET_DIR"); v != "" {
		cfg.Audio.AssetDir = v
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Lock.BaseURL == "" {
		cfg.Lock.BaseURL = DefaultAPIURL
	}
	if cfg.Lock.PollInterval <= 0 {
		if cfg.Lock.PollIntervalSeconds <= 0 {
			cfg.Lock.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		cfg.Lock.PollInterval = time.Duration(cfg.Lock.PollIntervalSeconds) * time.Second
	}
	if cfg.Lock.TimeoutSeconds > 0 {
		cfg.Lock.Timeout = time.Duration(cfg.Lock.TimeoutSeconds) * time.Second
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultHTTPPort
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = DefaultRateLimitPerSec
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = DefaultRateLimitBurst
	}

	if cfg.Audio.AssetDir == "" {
		cfg.Audio.AssetDir = "assets/sounds"
	}
	if cfg.Audio.PreviewSeconds <= 0 {
		cfg.Audio.PreviewSeconds = DefaultPreviewSeconds
	}
	cfg.Audio.Preview = time.Duration(cfg.Audio.PreviewSeconds) * time.Second

	if cfg.Preferences.AlarmSound == "" {
		cfg.Preferences.AlarmSound = DefaultAlarmSound
	}
	if cfg.Preferences.Volume == nil {
		v := DefaultVolume
		cfg.Preferences.Volume = &v
	}
	if cfg.Preferences.MotionAlertsEnabled == nil {
		enabled := true
		cfg.Preferences.MotionAlertsEnabled = &enabled
	}
}

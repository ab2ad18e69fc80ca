// Package config loads the service configuration from config.yaml and
// CALLSCREEN_-prefixed environment variables.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Twilio    TwilioConfig    `koanf:"twilio"`
	Speech    SpeechConfig    `koanf:"speech"`
	Calendar  CalendarConfig  `koanf:"calendar"`
	Screening ScreeningConfig `koanf:"screening"`
	Decision  DecisionConfig  `koanf:"decision"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite
	DSN    string `koanf:"dsn"`
	// MaxConns is the connection-pool ceiling shared by all sessions.
	MaxConns int `koanf:"max_conns"`
	// CheckoutTimeout bounds waiting for a pooled connection before the
	// attempt fails with resource_exhausted.
	CheckoutTimeout time.Duration `koanf:"checkout_timeout"`
}

type TwilioConfig struct {
	AccountSID string `koanf:"account_sid"`
	AuthToken  string `koanf:"auth_token"`
	// StreamURL is the public wss:// URL Twilio connects media streams to.
	StreamURL string `koanf:"stream_url"`
	// BaseURL overrides the REST API endpoint (tests).
	BaseURL string `koanf:"base_url"`
}

type SpeechConfig struct {
	URL         string  `koanf:"url"`
	APIKey      string  `koanf:"api_key"`
	Voice       string  `koanf:"voice"`
	Temperature float64 `koanf:"temperature"`
}

// CalendarConfig points at the free/busy service. An empty base_url disables
// calendar lookups; screening then treats availability as unknown.
type CalendarConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	// Window is how far ahead the busy check looks.
	Window time.Duration `koanf:"window"`
}

type ScreeningConfig struct {
	// MaxSessions caps concurrently live call sessions; admissions beyond
	// it fail with capacity_exceeded.
	MaxSessions int `koanf:"max_sessions"`
	// SetupTimeout bounds Ringing: a call that has not reached Screening
	// in time closes with setup_failed.
	SetupTimeout time.Duration `koanf:"setup_timeout"`
	// IdleTimeout closes sessions with no frame or event activity.
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// MaxDuration bounds total screening time before the engine forces a
	// scheduling offer.
	MaxDuration time.Duration `koanf:"max_duration"`
	// AvailabilityTTL is the validity window of a calendar snapshot.
	AvailabilityTTL time.Duration `koanf:"availability_ttl"`
	// RelayQueueDepth is the per-direction frame queue capacity.
	RelayQueueDepth int `koanf:"relay_queue_depth"`
	// RelayWriteTimeout bounds a single transport write before the frame
	// is counted as dropped.
	RelayWriteTimeout time.Duration `koanf:"relay_write_timeout"`
}

// DecisionConfig holds the product-tunable classification thresholds. These
// are deliberately configuration, not code.
type DecisionConfig struct {
	SpamThreshold     float64 `koanf:"spam_threshold"`
	TransferThreshold float64 `koanf:"transfer_threshold"`
	ScheduleThreshold float64 `koanf:"schedule_threshold"`
}

type DispatchConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Try to load from the config file first
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("CALLSCREEN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CALLSCREEN_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]interface{}{
		"server.port":                 8080,
		"storage.driver":              "sqlite",
		"storage.dsn":                 "./data/callscreen.db",
		"storage.max_conns":           10,
		"storage.checkout_timeout":    "5s",
		"speech.url":                  "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01",
		"speech.voice":                "alloy",
		"speech.temperature":          0.8,
		"calendar.window":             "30m",
		"screening.max_sessions":      100,
		"screening.setup_timeout":     "15s",
		"screening.idle_timeout":      "60s",
		"screening.sweep_interval":    "10s",
		"screening.max_duration":      "3m",
		"screening.availability_ttl":  "5m",
		"screening.relay_queue_depth": 64,
		"screening.relay_write_timeout": "2s",
		"decision.spam_threshold":     0.85,
		"decision.transfer_threshold": 0.75,
		"decision.schedule_threshold": 0.6,
		"dispatch.max_attempts":       3,
		"dispatch.base_backoff":       "250ms",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	cfg.Twilio.AccountSID = substituteEnvVars(cfg.Twilio.AccountSID)
	cfg.Twilio.AuthToken = substituteEnvVars(cfg.Twilio.AuthToken)
	cfg.Speech.APIKey = substituteEnvVars(cfg.Speech.APIKey)
	cfg.Calendar.APIKey = substituteEnvVars(cfg.Calendar.APIKey)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Package server provides configuration for the relay: network settings,
// origin allow-list, rate limiting, and file upload limits.
package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration. Fields map to environment
// variables via envconfig tags; NewConfig returns the defaults.
type Config struct {
	Port                    string        `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins          []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	MaxMessageSize          int64         `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	RateLimitBurst          int           `envconfig:"RATE_LIMIT_BURST" default:"20"`
	RateLimitRefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	UploadDir               string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxUploadSize           int64         `envconfig:"MAX_UPLOAD_SIZE" default:"10485760"`
	PublicBaseURL           string        `envconfig:"PUBLIC_BASE_URL"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	var cfg Config
	// Kept in sync with the envconfig default tags.
	cfg.Port = ":8080"
	cfg.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.MaxMessageSize = 4096
	cfg.RateLimitBurst = 20
	cfg.RateLimitRefillInterval = time.Second
	cfg.UploadDir = "uploads"
	cfg.MaxUploadSize = 10 << 20
	return cfg
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = time.Second
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(copied)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig returns a Config populated with default values.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv builds a Config from environment variables, falling back
// to the tag defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Logging       LogConfig
	RateLimit     RateLimitConfig
	Relay         RelayConfig
	Scripts       ScriptsConfig
	Cache         CacheConfig
	Buffer        BufferConfig
	ServiceWorker ServiceWorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Dev  bool   `envconfig:"DEV" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// RelayConfig holds asset relay configuration.
type RelayConfig struct {
	Prefix       string        `envconfig:"RELAY_PREFIX" default:"/relay"`
	Timeout      time.Duration `envconfig:"RELAY_TIMEOUT" default:"10s"`
	MaxBody      int64         `envconfig:"RELAY_MAX_BODY" default:"5242880"`
	Retries      int           `envconfig:"RELAY_RETRIES" default:"1"`
	AllowPrivate bool          `envconfig:"RELAY_ALLOW_PRIVATE" default:"false"`
	AllowedHosts []string      `envconfig:"RELAY_ALLOWED_HOSTS"`
}

// ScriptsConfig holds registry and manifest configuration.
type ScriptsConfig struct {
	Enabled       bool              `envconfig:"SCRIPTS_ENABLED" default:"true"`
	CollectPrefix string            `envconfig:"SCRIPTS_COLLECT_PREFIX" default:"/_scripts/c"`
	ManifestDir   string            `envconfig:"SCRIPTS_MANIFEST_DIR"`
	Routes        map[string]string `envconfig:"SCRIPTS_ROUTES"`
}

// CacheConfig holds persisted cache configuration.
type CacheConfig struct {
	Dir      string        `envconfig:"CACHE_DIR" default:".scriptkit/cache"`
	InMemory bool          `envconfig:"CACHE_IN_MEMORY" default:"false"`
	TTL      time.Duration `envconfig:"CACHE_TTL" default:"24h"`
}

// BufferConfig holds event buffer configuration.
type BufferConfig struct {
	Debounce time.Duration `envconfig:"BUFFER_DEBOUNCE" default:"300ms"`
	Endpoint string        `envconfig:"BUFFER_ENDPOINT"`
}

// ServiceWorkerConfig holds service-worker trigger configuration.
type ServiceWorkerConfig struct {
	Timeout time.Duration `envconfig:"SW_TIMEOUT" default:"3s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Relay: RelayConfig{
			Prefix:  "/relay",
			Timeout: 10 * time.Second,
			MaxBody: 5 << 20,
			Retries: 1,
		},
		Scripts: ScriptsConfig{
			Enabled:       true,
			CollectPrefix: "/_scripts/c",
		},
		Cache: CacheConfig{
			Dir: ".scriptkit/cache",
			TTL: 24 * time.Hour,
		},
		Buffer: BufferConfig{
			Debounce: 300 * time.Millisecond,
		},
		ServiceWorker: ServiceWorkerConfig{
			Timeout: 3 * time.Second,
		},
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

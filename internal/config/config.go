// Package config loads the dialer daemon configuration from command line
// flags, with environment variables taking precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sebas/dialer/internal/logger"
)

// Presence backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds the dialer configuration
type Config struct {
	// Listeners
	HTTPAddr string `env:"HTTP_ADDR"`
	GRPCAddr string `env:"GRPC_ADDR"`
	LogLevel string `env:"LOGLEVEL"`
	NodeID   string `env:"NODE_ID"`

	// Dial defaults
	RingbackAudio string `env:"RINGBACK_AUDIO_FILE"`
	RecordingsURL string `env:"RECORDINGS_URL"`
	Region        string `env:"DEFAULT_REGION"`

	// Presence storage
	PresenceBackend string `env:"PRESENCE_BACKEND"`
	RedisAddr       string `env:"PRESENCE_REDIS_ADDR"`
	// PostgresDSN contains credentials and must not be logged.
	PostgresDSN string `env:"PRESENCE_POSTGRES_DSN"`
	SQLitePath  string `env:"PRESENCE_SQLITE_PATH"`

	// Event and trace export. Empty disables.
	NATSURL      string `env:"NATS_URL"`
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// JWTSecret enables bearer token checks on the API when set.
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// Load parses args (without the program name) and then applies environment
// overrides. The result is validated.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialer", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http", ":8080", "HTTP API listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc", ":9090", "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.NodeID, "node", defaultNodeID(), "Node identifier stamped on events")
	fs.StringVar(&cfg.RingbackAudio, "ringback", "resources/audio/ringback.wav", "Audio file played while legs ring")
	fs.StringVar(&cfg.RecordingsURL, "recordings", "http://localhost:8080/recordings", "Base URL recordings are written under")
	fs.StringVar(&cfg.Region, "region", "US", "Default phone number region")
	fs.StringVar(&cfg.PresenceBackend, "presence", BackendMemory, "Presence backend (memory, redis, postgres, sqlite)")
	fs.StringVar(&cfg.RedisAddr, "redis", "localhost:6379", "Redis address for the redis presence backend")
	fs.StringVar(&cfg.SQLitePath, "sqlite", "dialer.db", "Database file for the sqlite presence backend")
	fs.StringVar(&cfg.NATSURL, "nats", "", "NATS URL for event publishing")
	fs.StringVar(&cfg.OTELEndpoint, "otel", "", "OTLP/HTTP trace endpoint URL")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", "", "Required issuer of API tokens")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Region = strings.ToUpper(strings.TrimSpace(cfg.Region))
	cfg.PresenceBackend = strings.ToLower(strings.TrimSpace(cfg.PresenceBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if !logger.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if len(c.Region) != 2 {
		errs = append(errs, fmt.Errorf("invalid region %q", c.Region))
	}
	if c.RecordingsURL != "" {
		if u, err := url.Parse(c.RecordingsURL); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("invalid recordings url %q", c.RecordingsURL))
		}
	}

	switch c.PresenceBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis presence backend requires PRESENCE_REDIS_ADDR"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres presence backend requires PRESENCE_POSTGRES_DSN"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite presence backend requires PRESENCE_SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown presence backend %q", c.PresenceBackend))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func defaultNodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "dialer-0"
}

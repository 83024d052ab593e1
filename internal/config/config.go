// Package config defines the server configuration, its defaults and the
// loader that layers a YAML file and CHAT_ environment variables on top.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Backend and driver names.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreValkey = "valkey"

	SessionShared   = "shared"
	SessionDocument = "document"

	RateLimitLocal  = "local"
	RateLimitShared = "shared"

	BusMemory = "memory"
	BusNATS   = "nats"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Database  DatabaseConfig  `koanf:"database"`
	Bus       BusConfig       `koanf:"bus"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ThrottleConfig bounds inbound frames per connection.
type ThrottleConfig struct {
	Burst          int           `koanf:"burst"`
	RefillInterval time.Duration `koanf:"refill_interval"`
}

type ServerConfig struct {
	Addr            string         `koanf:"addr"`
	AllowedOrigins  []string       `koanf:"allowed_origins"`
	MaxMessageSize  int64          `koanf:"max_message_size"`
	Throttle        ThrottleConfig `koanf:"throttle"`
	ShutdownTimeout time.Duration  `koanf:"shutdown_timeout"`
	// Node names this process in presence records; empty uses the hostname.
	Node string `koanf:"node"`
}

// StoreConfig selects the shared store. The memory driver keeps every
// component process-local and is only valid for a single node.
type StoreConfig struct {
	Driver      string        `koanf:"driver"`
	Addr        string        `koanf:"addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

type SessionConfig struct {
	Backend       string        `koanf:"backend"`
	TTL           time.Duration `koanf:"ttl"`
	Secret        string        `koanf:"secret"`
	SingleSession bool          `koanf:"single_session"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type RateLimitConfig struct {
	Backend      string        `koanf:"backend"`
	Window       time.Duration `koanf:"window"`
	MaxPerWindow int64         `koanf:"max_per_window"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type BusConfig struct {
	Driver        string `koanf:"driver"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Default returns a single-node configuration that needs no external
// services.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: 4096,
			Throttle: ThrottleConfig{
				Burst:          20,
				RefillInterval: 50 * time.Millisecond,
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:      StoreMemory,
			Addr:        "localhost:6379",
			DialTimeout: 2 * time.Second,
		},
		Session: SessionConfig{
			Backend:       SessionDocument,
			TTL:           30 * time.Minute,
			SingleSession: true,
			SweepInterval: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:      RateLimitLocal,
			Window:       time.Second,
			MaxPerWindow: 50,
		},
		Database: DatabaseConfig{
			Path: "data/chat.db",
		},
		Bus: BusConfig{
			Driver:        BusMemory,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "chat",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Sanitize fills zero values with defaults and normalizes lists.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if cfg.Server.Throttle.Burst <= 0 {
		cfg.Server.Throttle.Burst = def.Server.Throttle.Burst
	}
	if cfg.Server.Throttle.RefillInterval <= 0 {
		cfg.Server.Throttle.RefillInterval = def.Server.Throttle.RefillInterval
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.DialTimeout <= 0 {
		cfg.Store.DialTimeout = def.Store.DialTimeout
	}

	cfg.Session.Backend = strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = def.Session.Backend
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = def.Session.TTL
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = def.Session.SweepInterval
	}

	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = def.RateLimit.Backend
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.RateLimit.MaxPerWindow <= 0 {
		cfg.RateLimit.MaxPerWindow = def.RateLimit.MaxPerWindow
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}

	cfg.Bus.Driver = strings.ToLower(strings.TrimSpace(cfg.Bus.Driver))
	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = def.Bus.Driver
	}
	if cfg.Bus.SubjectPrefix == "" {
		cfg.Bus.SubjectPrefix = def.Bus.SubjectPrefix
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = "/" + cfg.Metrics.Path
	}

	return cfg
}

// Validate rejects unknown backends and combinations that cannot work.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreRedis, StoreValkey:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Session.Backend {
	case SessionDocument:
	case SessionShared:
		if c.Store.Driver == StoreMemory {
			return fmt.Errorf("config: session backend %q needs a redis or valkey store", c.Session.Backend)
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}

	switch c.RateLimit.Backend {
	case RateLimitLocal:
	case RateLimitShared:
		if c.Store.Driver == StoreMemory {
			return fmt.Errorf("config: rate limit backend %q needs a redis or valkey store", c.RateLimit.Backend)
		}
	default:
		return fmt.Errorf("config: unknown rate limit backend %q", c.RateLimit.Backend)
	}

	switch c.Bus.Driver {
	case BusMemory:
	case BusNATS:
		if c.Bus.URL == "" {
			return fmt.Errorf("config: bus driver %q needs a url", c.Bus.Driver)
		}
	default:
		return fmt.Errorf("config: unknown bus driver %q", c.Bus.Driver)
	}
	return nil
}

// Shared reports whether the store is external, which every multi-node
// deployment requires.
func (c Config) Shared() bool {
	return c.Store.Driver == StoreRedis || c.Store.Driver == StoreValkey
}

// splitList trims entries, splits comma-joined values coming from the
// environment and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

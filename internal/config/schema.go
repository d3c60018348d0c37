package config

import (
	"time"

	"github.com/gyaneshwarpardhi/policytrace/internal/telemetry"
)

// Fallback modes.
const (
	FallbackBeacon = "beacon"
	FallbackSpool  = "spool"
	FallbackNone   = "none"
)

// Config is the top-level YAML structure.
type Config struct {
	Collector CollectorConf `yaml:"collector"`
	Fallback  FallbackConf  `yaml:"fallback"`
	Buffer    BufferConf    `yaml:"buffer"`
	Session   SessionConf   `yaml:"session"`
	Logging   LoggingConf   `yaml:"logging"`
	Server    ServerConf    `yaml:"server"`
}

// CollectorConf points at the remote collector.
type CollectorConf struct {
	Endpoint        string `yaml:"endpoint"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	BeaconTimeoutMs int    `yaml:"beacon_timeout_ms"`
}

// FallbackConf selects the secondary transport.
type FallbackConf struct {
	Mode      string `yaml:"mode"` // beacon | spool | none
	SpoolPath string `yaml:"spool_path"`
}

// BufferConf holds the hot-reloadable buffer knobs.
type BufferConf struct {
	MaxBatch         int `yaml:"max_batch"`
	FlushIntervalMs  int `yaml:"flush_interval_ms"`
	SliderDebounceMs int `yaml:"slider_debounce_ms"`
}

type SessionConf struct {
	Actor string `yaml:"actor"`
	Page  string `yaml:"page"`
}

type LoggingConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// ServerConf configures the local bridge.
type ServerConf struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty = same-origin only
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Collector.TimeoutMs == 0 {
		cfg.Collector.TimeoutMs = 10000
	}
	if cfg.Collector.BeaconTimeoutMs == 0 {
		cfg.Collector.BeaconTimeoutMs = 5000
	}
	if cfg.Fallback.Mode == "" {
		cfg.Fallback.Mode = FallbackBeacon
	}
	if cfg.Fallback.SpoolPath == "" {
		cfg.Fallback.SpoolPath = "policytrace-spool.db"
	}
	if cfg.Buffer.MaxBatch == 0 {
		cfg.Buffer.MaxBatch = telemetry.MaxBatch
	}
	if cfg.Buffer.FlushIntervalMs == 0 {
		cfg.Buffer.FlushIntervalMs = int(telemetry.FlushInterval / time.Millisecond)
	}
	if cfg.Buffer.SliderDebounceMs == 0 {
		cfg.Buffer.SliderDebounceMs = int(telemetry.SliderDebounce / time.Millisecond)
	}
	if cfg.Session.Page == "" {
		cfg.Session.Page = "/"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8765"
	}
}

// Tunables converts the buffer section for telemetry.Buffer.
func (c *Config) Tunables() telemetry.Tunables {
	return telemetry.Tunables{
		MaxBatch:       c.Buffer.MaxBatch,
		FlushInterval:  ms(c.Buffer.FlushIntervalMs),
		SliderDebounce: ms(c.Buffer.SliderDebounceMs),
	}
}

func (c *Config) CollectorTimeout() time.Duration { return ms(c.Collector.TimeoutMs) }
func (c *Config) BeaconTimeout() time.Duration    { return ms(c.Collector.BeaconTimeoutMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

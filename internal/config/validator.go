package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks the config for:
//   - a collector endpoint that parses as an http(s) URL, when set
//   - positive timeouts and buffer knobs
//   - a known fallback mode, with a spool path when the mode is spool
//   - a known log level and format, and a host:port listen address
func Validate(cfg *Config) error {
	var errs []string

	if ep := cfg.Collector.Endpoint; ep != "" {
		u, err := url.Parse(ep)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("collector.endpoint: %v", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Sprintf("collector.endpoint: scheme must be http or https, got %q", u.Scheme))
		case u.Host == "":
			errs = append(errs, "collector.endpoint: host is required")
		}
	}
	if cfg.Collector.TimeoutMs < 1 {
		errs = append(errs, "collector.timeout_ms must be positive")
	}
	if cfg.Collector.BeaconTimeoutMs < 1 {
		errs = append(errs, "collector.beacon_timeout_ms must be positive")
	}

	switch cfg.Fallback.Mode {
	case FallbackBeacon, FallbackNone:
	case FallbackSpool:
		if cfg.Fallback.SpoolPath == "" {
			errs = append(errs, "fallback.spool_path is required when mode is spool")
		}
	default:
		errs = append(errs, fmt.Sprintf("fallback.mode: unknown mode %q (want beacon, spool or none)", cfg.Fallback.Mode))
	}

	if cfg.Buffer.MaxBatch < 1 {
		errs = append(errs, "buffer.max_batch must be at least 1")
	}
	if cfg.Buffer.FlushIntervalMs < 1 {
		errs = append(errs, "buffer.flush_interval_ms must be positive")
	}
	if cfg.Buffer.SliderDebounceMs < 1 {
		errs = append(errs, "buffer.slider_debounce_ms must be positive")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if f := cfg.Logging.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Sprintf("logging.format: unknown format %q (want text or json)", f))
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		errs = append(errs, fmt.Sprintf("server.addr: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

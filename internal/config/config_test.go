package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesBufferConstants(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20, cfg.Buffer.MaxBatch)
	assert.Equal(t, 60000, cfg.Buffer.FlushIntervalMs)
	assert.Equal(t, 1000, cfg.Buffer.SliderDebounceMs)
	assert.Equal(t, FallbackBeacon, cfg.Fallback.Mode)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr)
	require.NoError(t, Validate(cfg))

	tun := cfg.Tunables()
	assert.Equal(t, 20, tun.MaxBatch)
	assert.Equal(t, time.Minute, tun.FlushInterval)
	assert.Equal(t, time.Second, tun.SliderDebounce)
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
collector:
  endpoint: https://collector.example.com/events
buffer:
  max_batch: 5
session:
  actor: ana
`))
	require.NoError(t, err)
	assert.Equal(t, "https://collector.example.com/events", cfg.Collector.Endpoint)
	assert.Equal(t, 5, cfg.Buffer.MaxBatch)
	assert.Equal(t, 60000, cfg.Buffer.FlushIntervalMs)
	assert.Equal(t, "ana", cfg.Session.Actor)
	assert.Equal(t, "/", cfg.Session.Page)
	assert.Equal(t, 10*time.Second, cfg.CollectorTimeout())
	assert.Equal(t, 5*time.Second, cfg.BeaconTimeout())
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("buffer: [unterminated"))
	assert.Error(t, err)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Collector.Endpoint = "ftp://collector"
	cfg.Fallback.Mode = "carrier-pigeon"
	cfg.Buffer.MaxBatch = -1
	cfg.Logging.Level = "loud"
	cfg.Server.Addr = "nope"

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"collector.endpoint", "fallback.mode", "buffer.max_batch", "logging.level", "server.addr"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_TimeoutsMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.Collector.TimeoutMs = 0
	cfg.Collector.BeaconTimeoutMs = -5
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector.timeout_ms must be positive")
	assert.Contains(t, err.Error(), "collector.beacon_timeout_ms must be positive")

	// Zero in a file means "use the default".
	parsed, err := Parse([]byte("collector:\n  timeout_ms: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 10000, parsed.Collector.TimeoutMs)
}

func TestValidate_SpoolNeedsPath(t *testing.T) {
	cfg := Default()
	cfg.Fallback.Mode = FallbackSpool
	cfg.Fallback.SpoolPath = ""
	assert.ErrorContains(t, Validate(cfg), "spool_path")
}

func TestLoader_MissingFileYieldsDefaults(t *testing.T) {
	l, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), l.Config())
}

func TestLoader_InvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policytrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback:\n  mode: smoke\n"), 0o644))
	_, err := NewLoader(path, nil)
	assert.Error(t, err)
}

func TestSaveThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policytrace.yaml")
	l, err := NewLoader(path, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	l.OnChange(func(*Config) { calls.Add(1) })

	cfg := Default()
	cfg.Session.Actor = "ben"
	require.NoError(t, Save(path, cfg))

	got, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, "ben", got.Session.Actor)
	assert.Equal(t, "ben", l.Config().Session.Actor)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWatch_HotReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policytrace.yaml")
	require.NoError(t, Save(path, Default()))

	l, err := NewLoader(path, nil)
	require.NoError(t, err)
	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	cfg := Default()
	cfg.Buffer.MaxBatch = 7
	require.NoError(t, Save(path, cfg))

	assert.Eventually(t, func() bool {
		return l.Config().Buffer.MaxBatch == 7
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_KeepsPreviousOnBadEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policytrace.yaml")
	require.NoError(t, Save(path, Default()))

	l, err := NewLoader(path, nil)
	require.NoError(t, err)
	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("buffer: [broken"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 20, l.Config().Buffer.MaxBatch)
}

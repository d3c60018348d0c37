package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/gyaneshwarpardhi/policytrace/internal/config"
	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
	"github.com/gyaneshwarpardhi/policytrace/internal/session"
	"github.com/gyaneshwarpardhi/policytrace/internal/telemetry"
	"github.com/gyaneshwarpardhi/policytrace/internal/transport"
)

// app carries state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgPath string
}

// load reads the config file and applies flag and environment overrides.
func (a *app) load(logger *slog.Logger) (*config.Loader, *config.Config, error) {
	loader, err := config.NewLoader(a.cfgPath, logger)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := a.overlay(loader.Config())
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// overlay returns a copy of base with overrides applied and validated.
func (a *app) overlay(base *config.Config) (*config.Config, error) {
	cfg := *base
	cfg.Server.AllowedOrigins = append([]string(nil), base.Server.AllowedOrigins...)
	set := func(key string, dst *string) {
		if s := a.v.GetString(key); s != "" {
			*dst = s
		}
	}
	set("collector.endpoint", &cfg.Collector.Endpoint)
	set("fallback.mode", &cfg.Fallback.Mode)
	set("fallback.spool_path", &cfg.Fallback.SpoolPath)
	set("session.actor", &cfg.Session.Actor)
	set("logging.level", &cfg.Logging.Level)
	set("logging.format", &cfg.Logging.Format)
	set("server.addr", &cfg.Server.Addr)
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, w)
}

// pipeline is a ready-to-use buffer plus what must be released with it.
type pipeline struct {
	buf      *telemetry.Buffer
	session  *session.Session
	fallback io.Closer
	logger   *slog.Logger
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	if cfg.Collector.Endpoint == "" {
		logger.Warn("collector endpoint not configured; primary sends will fail")
	}
	primary := transport.New(cfg.Collector.Endpoint, cfg.CollectorTimeout())

	var (
		fallback transport.Beacon
		closer   io.Closer
	)
	switch cfg.Fallback.Mode {
	case config.FallbackBeacon:
		if cfg.Collector.Endpoint != "" {
			b := transport.NewBeacon(cfg.Collector.Endpoint, cfg.BeaconTimeout(), transport.WithBeaconLogger(logger))
			fallback, closer = b, b
		}
	case config.FallbackSpool:
		sp, err := transport.OpenSpool(cfg.Fallback.SpoolPath)
		if err != nil {
			return nil, err
		}
		fallback, closer = sp, sp
	}

	sess := session.New(cfg.Session.Actor, cfg.Session.Page)
	buf, err := telemetry.New(telemetry.Options{
		Primary:  primary,
		Fallback: fallback,
		Session:  sess,
		Logger:   logger.With(logging.Session(sess.ID())),
		Tunables: cfg.Tunables(),
	})
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	buf.Start()
	logger.Debug("pipeline ready",
		slog.String("fallback", cfg.Fallback.Mode),
		logging.Session(sess.ID()),
		slog.Int("max_batch", buf.MaxBatchSize()),
	)
	return &pipeline{buf: buf, session: sess, fallback: closer, logger: logger}, nil
}

// finish waits for armed debounce slots to fire, then flushes until the
// buffer is empty. It returns the outcome of every non-skipped flush.
func (p *pipeline) finish(ctx context.Context, debounce time.Duration) []telemetry.Outcome {
	deadline := time.Now().Add(debounce + time.Second)
	for p.buf.PendingDebounced() > 0 && time.Now().Before(deadline) {
		if sleepCtx(ctx, 10*time.Millisecond) != nil {
			break
		}
	}

	var outcomes []telemetry.Outcome
	for p.buf.Len() > 0 && ctx.Err() == nil {
		o := p.buf.Flush(ctx)
		if o == telemetry.OutcomeSkipped {
			_ = sleepCtx(ctx, 10*time.Millisecond)
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (p *pipeline) close() error {
	err := p.buf.Close()
	if p.fallback != nil {
		if cerr := p.fallback.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printOutcomes(w io.Writer, outcomes []telemetry.Outcome) {
	counts := map[telemetry.Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	fmt.Fprintf(w, "Final flushes: %d", len(outcomes))
	for _, o := range []telemetry.Outcome{
		telemetry.OutcomeDelivered, telemetry.OutcomeFallback, telemetry.OutcomeDropped,
	} {
		if counts[o] > 0 {
			fmt.Fprintf(w, ", %s=%d", o, counts[o])
		}
	}
	fmt.Fprintln(w)
}

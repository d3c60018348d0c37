package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/policytrace/internal/api"
	"github.com/gyaneshwarpardhi/policytrace/internal/config"
	"github.com/gyaneshwarpardhi/policytrace/internal/lifecycle"
	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the local bridge that buffers and ships dashboard events",
		Long: `Start the HTTP bridge the dashboard page reports interactions to.

SIGHUP is treated as the page becoming hidden and SIGINT/SIGTERM as the page
unloading. Both ship whatever is buffered through the teardown path; unload
then shuts the bridge down. Edits to the config file are applied live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loader, cfg, err := a.load(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, nil)
	slog.SetDefault(logger)

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	loader.OnChange(func(newCfg *config.Config) {
		merged, err := a.overlay(newCfg)
		if err != nil {
			logger.Warn("hot-reload skipped: config invalid", logging.Err(err))
			return
		}
		p.buf.Reconfigure(merged.Tunables())
		p.session.SetActor(merged.Session.Actor)
		logger.Info("config hot-reloaded",
			slog.Int("max_batch", merged.Buffer.MaxBatch),
			slog.String("actor", p.session.Actor()),
		)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", logging.Err(err))
	} else {
		defer stopWatch()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.New(p.buf, p.session, logger, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("bridge starting", slog.String("addr", cfg.Server.Addr), logging.Session(p.session.ID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	watchErr := lifecycle.Default().Run(ctx, func(phase lifecycle.Phase) {
		outcome := p.buf.TeardownFlush()
		logger.Info("lifecycle signal", slog.String("phase", string(phase)), logging.Outcome(string(outcome)))
	})
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	// Events that arrived while the server drained.
	p.buf.TeardownFlush()

	select {
	case err := <-serveErr:
		return fmt.Errorf("bridge: %w", err)
	default:
	}
	if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
		return watchErr
	}
	return nil
}

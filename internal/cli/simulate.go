package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/policytrace/internal/dashboard"
	"github.com/gyaneshwarpardhi/policytrace/internal/simulate"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		steps int
		seed  int64
		pause time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the buffer with a synthetic dashboard session",
		Long: `Generate a reproducible session of scenario switches, year-slider drags,
lever changes, axis changes and chart clicks, and ship the resulting events to
the configured collector.

Examples:
  # 500 steps, no pauses
  policytrace simulate --steps 500 --pause 0

  # Same session as last time, against a local collector
  policytrace simulate --seed 42 --endpoint http://127.0.0.1:9000/events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			_, cfg, err := a.load(nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			p, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer p.close()

			tracker, err := dashboard.NewTracker(dashboard.DefaultSelection(), p.buf)
			if err != nil {
				return err
			}
			gen := simulate.NewGenerator(seed)
			gen.Pause = pause

			start := time.Now()
			counts, runErr := gen.Run(cmd.Context(), tracker, steps)
			outcomes := p.finish(cmd.Context(), cfg.Tunables().SliderDebounce)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Simulated %d steps in %s (seed %d)\n", counts.Total(), time.Since(start).Round(time.Millisecond), seed)
			for _, k := range []simulate.Kind{
				simulate.KindScenario, simulate.KindYearDrag, simulate.KindLever, simulate.KindAxis, simulate.KindClick,
			} {
				fmt.Fprintf(out, "  %-10s %d\n", k, counts[k])
			}
			printOutcomes(out, outcomes)
			if runErr != nil {
				return fmt.Errorf("simulation stopped: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 100, "number of user actions to simulate")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().DurationVar(&pause, "pause", 200*time.Millisecond, "pause between actions")
	return cmd
}

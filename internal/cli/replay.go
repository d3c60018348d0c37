package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
)

// replayLine is one JSON line of a replay file.
type replayLine struct {
	Event    string         `json:"event"`
	Payload  map[string]any `json:"payload"`
	Page     string         `json:"page"`
	Debounce bool           `json:"debounce"`
}

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [file]",
		Short: "Feed recorded interactions through the buffer",
		Long: `Read one JSON object per line and push it through the telemetry buffer:

  {"event":"lever_change","payload":{"lever":"dam_levee","before":0,"after":2}}
  {"event":"period_change","payload":{"after":2051},"debounce":true,"page":"/explore"}

Reads stdin when no file is given. Malformed lines are skipped. A final
flush ships whatever is left once the input ends.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open replay file: %w", err)
				}
				defer f.Close()
				in = f
			}
			return a.replay(cmd, in)
		},
	}
}

func (a *app) replay(cmd *cobra.Command, in io.Reader) error {
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

	var read, enqueued, skipped int
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		read++
		var rl replayLine
		if err := json.Unmarshal([]byte(line), &rl); err != nil || rl.Event == "" {
			skipped++
			logger.Warn("skipping replay line", "line", read, logging.Err(err))
			continue
		}
		if rl.Page != "" {
			p.session.Navigate(rl.Page)
		}
		if rl.Debounce {
			p.buf.EnqueueDebounced(rl.Event, rl.Payload)
		} else {
			p.buf.Enqueue(rl.Event, rl.Payload)
		}
		enqueued++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read replay input: %w", err)
	}

	outcomes := p.finish(cmd.Context(), cfg.Tunables().SliderDebounce)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Lines: %d, enqueued: %d, skipped: %d\n", read, enqueued, skipped)
	printOutcomes(out, outcomes)
	return nil
}

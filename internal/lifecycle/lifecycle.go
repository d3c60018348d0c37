// Package lifecycle turns host teardown signals into handler calls.
//
// A browser page has two teardown-style signals: the page becoming hidden,
// after which it may come back, and navigation away, after which it is gone.
// A process has the same pair in its signal set. Hidden maps to SIGHUP by
// default and unload maps to SIGINT or SIGTERM.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Phase names a teardown signal.
type Phase string

const (
	PhaseHidden Phase = "hidden"
	PhaseUnload Phase = "unload"
)

// ParsePhase maps a phase name to a Phase.
func ParsePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhaseHidden:
		return PhaseHidden, true
	case PhaseUnload:
		return PhaseUnload, true
	}
	return "", false
}

// Handler is called once per received signal.
type Handler func(Phase)

// Watcher subscribes to the hidden and unload signal sets.
type Watcher struct {
	Hidden []os.Signal
	Unload []os.Signal
}

// Default returns the process signal mapping.
func Default() *Watcher {
	return &Watcher{
		Hidden: []os.Signal{syscall.SIGHUP},
		Unload: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// Run blocks until an unload signal has been handled or ctx is done. Hidden
// signals are handled and watching continues. It returns nil after unload and
// ctx.Err() otherwise.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	hidden := make(chan os.Signal, 1)
	unload := make(chan os.Signal, 1)
	if len(w.Hidden) > 0 {
		signal.Notify(hidden, w.Hidden...)
	}
	if len(w.Unload) > 0 {
		signal.Notify(unload, w.Unload...)
	}
	defer signal.Stop(hidden)
	defer signal.Stop(unload)

	return run(ctx, h, hidden, unload)
}

func run(ctx context.Context, h Handler, hidden, unload <-chan os.Signal) error {
	for {
		select {
		case <-hidden:
			h(PhaseHidden)
		case <-unload:
			h(PhaseUnload)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

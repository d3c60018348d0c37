// Package transport delivers serialized event batches to the remote collector.
//
// There are two roles. A Sender is the primary path: it blocks until the
// collector answers and reports failure as an error. A Beacon is the fallback:
// it never waits on the network and only reports whether it took the payload,
// which makes it usable while the host is shutting down.
package transport

import (
	"context"
	"fmt"
)

// Sender is the primary transport.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Beacon is the best-effort fallback transport.
type Beacon interface {
	Beacon(body []byte) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, body []byte) error

func (f SenderFunc) Send(ctx context.Context, body []byte) error { return f(ctx, body) }

// BeaconFunc adapts a function to Beacon.
type BeaconFunc func(body []byte) bool

func (f BeaconFunc) Beacon(body []byte) bool { return f(body) }

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector response status %d", e.Code)
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

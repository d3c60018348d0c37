package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
	"github.com/gyaneshwarpardhi/policytrace/internal/metrics"
)

const (
	// MaxBeaconBytes mirrors the browser beacon quota.
	MaxBeaconBytes = 64 << 10

	defaultBeaconSlots   = 4
	defaultBeaconTimeout = 5 * time.Second
)

// HTTPBeacon is a fire-and-forget HTTP fallback. Accepted payloads are posted
// from a background goroutine that does not inherit any caller context, so a
// send survives the cancellation that usually accompanies shutdown.
type HTTPBeacon struct {
	endpoint   string
	httpClient *http.Client
	maxBytes   int
	logger     *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight chan struct{}
	wg       sync.WaitGroup
}

// BeaconOption tunes an HTTPBeacon.
type BeaconOption func(*HTTPBeacon)

// WithSlots bounds the number of concurrent sends.
func WithSlots(n int) BeaconOption {
	return func(b *HTTPBeacon) {
		if n > 0 {
			b.inflight = make(chan struct{}, n)
		}
	}
}

// WithMaxBytes overrides the payload quota.
func WithMaxBytes(n int) BeaconOption {
	return func(b *HTTPBeacon) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

func WithBeaconLogger(l *slog.Logger) BeaconOption {
	return func(b *HTTPBeacon) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBeacon constructs an HTTPBeacon. A zero timeout uses 5s.
func NewBeacon(endpoint string, timeout time.Duration, opts ...BeaconOption) *HTTPBeacon {
	if timeout <= 0 {
		timeout = defaultBeaconTimeout
	}
	b := &HTTPBeacon{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   MaxBeaconBytes,
		logger:     slog.Default(),
		inflight:   make(chan struct{}, defaultBeaconSlots),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Beacon queues body for delivery and reports whether it was accepted.
func (b *HTTPBeacon) Beacon(body []byte) bool {
	ok := b.accept(body)
	metrics.BeaconResults.WithLabelValues("http", boolLabel(ok)).Inc()
	return ok
}

func (b *HTTPBeacon) accept(body []byte) bool {
	if b == nil || b.endpoint == "" || len(body) == 0 || len(body) > b.maxBytes {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.inflight <- struct{}{}:
	default:
		return false
	}

	payload := bytes.Clone(body)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.inflight }()
		b.send(payload)
	}()
	return true
}

func (b *HTTPBeacon) send(body []byte) {
	resp, err := post(context.Background(), b.httpClient, b.endpoint, body)
	if err != nil {
		b.logger.Debug("beacon send failed", logging.Transport("beacon"), logging.Err(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if !isSuccess(resp.StatusCode) {
		b.logger.Debug("beacon rejected", logging.Transport("beacon"), slog.Int(logging.FieldStatus, resp.StatusCode))
	}
}

// Wait blocks until every accepted payload has settled.
func (b *HTTPBeacon) Wait() {
	b.wg.Wait()
}

// Close refuses further payloads and waits for in-flight ones.
func (b *HTTPBeacon) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Wait()
	return nil
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

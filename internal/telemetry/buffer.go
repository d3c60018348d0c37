// Package telemetry buffers dashboard interaction events in memory and ships
// them to the collector in batches.
//
// A flush runs on any of three triggers: the buffer reaching MaxBatch, the
// FlushInterval ticker, or a teardown signal from the host. At most one
// Flush is in flight at a time. Delivery is at-most-once per batch: the
// primary transport is tried once, the fallback once after it, and then the
// batch is gone. No error ever reaches the caller.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/policytrace/internal/event"
	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
	"github.com/gyaneshwarpardhi/policytrace/internal/metrics"
	"github.com/gyaneshwarpardhi/policytrace/internal/session"
	"github.com/gyaneshwarpardhi/policytrace/internal/transport"
)

const (
	MaxBatch       = 20
	FlushInterval  = 60 * time.Second
	SliderDebounce = time.Second
)

// Trigger names what started a flush.
type Trigger string

const (
	TriggerThreshold Trigger = "threshold"
	TriggerInterval  Trigger = "interval"
	TriggerManual    Trigger = "manual"
	TriggerTeardown  Trigger = "teardown"
)

// Outcome is the result of a flush attempt.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"    // another flush held the flag
	OutcomeEmpty      Outcome = "empty"      // nothing to send
	OutcomeDelivered  Outcome = "delivered"  // primary transport succeeded
	OutcomeFallback   Outcome = "fallback"   // fallback transport accepted the batch
	OutcomeDispatched Outcome = "dispatched" // teardown fired the primary without waiting
	OutcomeDropped    Outcome = "dropped"
)

// Tunables are the hot-reloadable knobs. Zero values mean the package constants.
type Tunables struct {
	MaxBatch       int
	FlushInterval  time.Duration
	SliderDebounce time.Duration
}

// Options configures a Buffer. Primary is required; a nil Fallback means the
// fallback transport is unavailable.
type Options struct {
	Primary  transport.Sender
	Fallback transport.Beacon
	Session  session.Context
	Logger   *slog.Logger
	Now      func() time.Time
	Tunables
}

// Buffer is the telemetry buffer. Create with New, call Start to arm the
// interval timer and Close to dispose of it.
type Buffer struct {
	primary  transport.Sender
	fallback transport.Beacon
	session  session.Context
	logger   *slog.Logger
	now      func() time.Time

	maxBatch atomic.Int64
	debounce atomic.Int64
	interval atomic.Int64

	mu     sync.Mutex
	events []event.Event

	flushing atomic.Bool

	slotMu      sync.Mutex
	slots       map[string]*slot
	slotsClosed bool

	ctx      context.Context
	cancel   context.CancelFunc
	dispatch *workerPool[Trigger]
	sends    sync.WaitGroup

	lifeMu   sync.Mutex
	started  bool
	closed   bool
	ticker   *time.Ticker
	stopTick chan struct{}
	loopWG   sync.WaitGroup
}

type anonymousSession struct{}

func (anonymousSession) Actor() string { return "" }
func (anonymousSession) Page() string  { return "" }

// New creates a Buffer. Threshold flushes work immediately; the interval
// timer waits for Start.
func New(opts Options) (*Buffer, error) {
	if opts.Primary == nil {
		return nil, errors.New("telemetry: primary transport is required")
	}
	b := &Buffer{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		session:  opts.Session,
		logger:   opts.Logger,
		now:      opts.Now,
		slots:    make(map[string]*slot),
		stopTick: make(chan struct{}),
	}
	if b.session == nil {
		b.session = anonymousSession{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.applyTunables(opts.Tunables)

	b.ctx, b.cancel = context.WithCancel(context.Background())
	// One worker and a one-slot queue: a trigger that finds a flush already
	// queued is redundant, since that flush detaches everything.
	b.dispatch = newWorkerPool[Trigger](b.ctx, 1, 1, func(ctx context.Context, t Trigger) {
		b.flush(ctx, t)
	})
	return b, nil
}

func (b *Buffer) applyTunables(t Tunables) {
	if t.MaxBatch <= 0 {
		t.MaxBatch = MaxBatch
	}
	if t.FlushInterval <= 0 {
		t.FlushInterval = FlushInterval
	}
	if t.SliderDebounce <= 0 {
		t.SliderDebounce = SliderDebounce
	}
	b.maxBatch.Store(int64(t.MaxBatch))
	b.debounce.Store(int64(t.SliderDebounce))
	b.interval.Store(int64(t.FlushInterval))
}

// Reconfigure applies new tunables to a live buffer.
func (b *Buffer) Reconfigure(t Tunables) {
	before := time.Duration(b.interval.Load())
	b.applyTunables(t)
	after := time.Duration(b.interval.Load())

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.ticker != nil && !b.closed && before != after {
		b.ticker.Reset(after)
	}
}

// Start arms the periodic flush. Calling it twice, or after Close, does nothing.
func (b *Buffer) Start() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	b.ticker = time.NewTicker(time.Duration(b.interval.Load()))

	b.loopWG.Add(1)
	go func() {
		defer b.loopWG.Done()
		b.loop(b.ticker.C, b.stopTick)
	}()
}

func (b *Buffer) loop(tick <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-tick:
			b.flush(b.ctx, TriggerInterval)
		case <-stop:
			return
		}
	}
}

// Close stops the timer, cancels pending debounced events, waits for queued
// and teardown sends, and releases resources. It does not flush; run
// TeardownFlush first to ship what is left.
func (b *Buffer) Close() error {
	b.lifeMu.Lock()
	if b.closed {
		b.lifeMu.Unlock()
		return nil
	}
	b.closed = true
	if b.ticker != nil {
		b.ticker.Stop()
		close(b.stopTick)
	}
	b.lifeMu.Unlock()

	b.loopWG.Wait()
	b.cancelDebounced()
	b.dispatch.Drain()
	b.sends.Wait()
	b.cancel()
	return nil
}

// Enqueue records an interaction. It never blocks on the network and never
// fails from the caller's point of view.
func (b *Buffer) Enqueue(name string, payload map[string]any) {
	b.enqueue(name, payload)
}

func (b *Buffer) enqueue(name string, payload any) {
	defer b.swallow(name)

	ev, err := event.New(name, payload, b.session.Actor(), b.session.Page(), b.now())
	if err != nil {
		b.reject(name, "invalid", err)
		return
	}

	b.mu.Lock()
	b.events = append(b.events, ev)
	n := len(b.events)
	b.mu.Unlock()

	metrics.EventsEnqueued.Inc()
	metrics.BufferLength.Set(float64(n))

	if n >= int(b.maxBatch.Load()) && !b.dispatch.Submit(TriggerThreshold) {
		if b.isClosed() {
			b.logger.Debug("threshold flush not queued: buffer closed", logging.BatchSize(n))
		} else {
			b.logger.Debug("threshold flush already queued", logging.BatchSize(n))
		}
	}
}

func (b *Buffer) swallow(name string) {
	if r := recover(); r != nil {
		b.reject(name, "panic", fmt.Errorf("recovered: %v", r))
	}
}

func (b *Buffer) reject(name, reason string, err error) {
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	b.logger.Debug("event discarded", logging.Event(name), slog.String("reason", reason), logging.Err(err))
}

// Flush ships everything buffered so far. If another flush is running it
// returns OutcomeSkipped straight away.
func (b *Buffer) Flush(ctx context.Context) Outcome {
	return b.flush(ctx, TriggerManual)
}

func (b *Buffer) flush(ctx context.Context, trigger Trigger) Outcome {
	if !b.flushing.CompareAndSwap(false, true) {
		b.record(trigger, OutcomeSkipped, 0)
		return OutcomeSkipped
	}
	defer b.flushing.Store(false)

	batch := b.detach()
	if len(batch) == 0 {
		b.record(trigger, OutcomeEmpty, 0)
		return OutcomeEmpty
	}

	start := time.Now()
	outcome := b.deliver(ctx, batch)
	metrics.FlushDuration.Observe(float64(time.Since(start).Milliseconds()))
	b.record(trigger, outcome, len(batch))
	return outcome
}

func (b *Buffer) deliver(ctx context.Context, batch []event.Event) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("fallback transport panicked; batch dropped", logging.BatchSize(len(batch)), slog.Any("panic", r))
			outcome = OutcomeDropped
		}
	}()

	body, err := event.Encode(batch)
	if err != nil {
		b.logger.Warn("batch encode failed", logging.BatchSize(len(batch)), logging.Err(err))
		return OutcomeDropped
	}

	err = b.send(ctx, body)
	if err == nil {
		return OutcomeDelivered
	}
	b.logger.Warn("primary transport failed", logging.BatchSize(len(batch)), logging.Err(err))

	if b.fallback != nil && b.fallback.Beacon(body) {
		return OutcomeFallback
	}
	return OutcomeDropped
}

// send calls the primary transport, turning a panic into an error.
func (b *Buffer) send(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("primary transport panicked: %v", r)
		}
	}()
	return b.primary.Send(ctx, body)
}

func (b *Buffer) isClosed() bool {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	return b.closed
}

// TeardownFlush is the page-teardown path. It does not wait for an in-flight
// Flush: whatever is buffered now is handed to the fallback transport, or to
// the primary without awaiting the result when the fallback refuses it. The
// buffer is empty afterwards in every case.
func (b *Buffer) TeardownFlush() (outcome Outcome) {
	batch := b.detach()
	if len(batch) == 0 {
		b.record(TriggerTeardown, OutcomeEmpty, 0)
		return OutcomeEmpty
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("teardown transport panicked; batch dropped", logging.BatchSize(len(batch)), slog.Any("panic", r))
			outcome = OutcomeDropped
		}
		b.record(TriggerTeardown, outcome, len(batch))
	}()

	body, err := event.Encode(batch)
	if err != nil {
		b.logger.Warn("batch encode failed", logging.BatchSize(len(batch)), logging.Err(err))
		return OutcomeDropped
	}

	if b.fallback != nil && b.fallback.Beacon(body) {
		return OutcomeFallback
	}

	b.sends.Add(1)
	go func() {
		defer b.sends.Done()
		if err := b.send(context.Background(), body); err != nil {
			b.logger.Debug("teardown send failed", logging.BatchSize(len(batch)), logging.Err(err))
		}
	}()
	return OutcomeDispatched
}

func (b *Buffer) detach() []event.Event {
	b.mu.Lock()
	batch := b.events
	b.events = nil
	b.mu.Unlock()
	metrics.BufferLength.Set(0)
	return batch
}

func (b *Buffer) record(trigger Trigger, outcome Outcome, n int) {
	metrics.Flushes.WithLabelValues(string(trigger), string(outcome)).Inc()
	if n == 0 {
		return
	}
	metrics.BatchSize.Observe(float64(n))
	metrics.EventsShipped.WithLabelValues(string(outcome)).Add(float64(n))

	level := slog.LevelDebug
	if outcome == OutcomeDropped {
		level = slog.LevelWarn
	}
	b.logger.Log(b.ctx, level, "flush finished",
		logging.Trigger(string(trigger)),
		logging.Outcome(string(outcome)),
		logging.BatchSize(n),
	)
}

// Len reports how many events are waiting in the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// QueuedFlushes reports threshold flushes waiting for the dispatcher.
func (b *Buffer) QueuedFlushes() int {
	return b.dispatch.QueueLen()
}

// MaxBatchSize reports the current threshold.
func (b *Buffer) MaxBatchSize() int {
	return int(b.maxBatch.Load())
}

package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/policytrace/internal/event"
	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
	"github.com/gyaneshwarpardhi/policytrace/internal/metrics"
	"github.com/gyaneshwarpardhi/policytrace/internal/session"
)

// fakeSender records every body it is given. When gate is set, Send blocks
// until the gate is closed and signals entered first.
type fakeSender struct {
	mu      sync.Mutex
	bodies  [][]byte
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSender) Send(_ context.Context, body []byte) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	return f.err
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeSender) batch(t *testing.T, i int) event.Batch {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.bodies), i)
	b, err := event.Decode(f.bodies[i])
	require.NoError(t, err)
	return b
}

type fakeBeacon struct {
	mu     sync.Mutex
	bodies [][]byte
	accept bool
}

func (f *fakeBeacon) Beacon(body []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	return f.accept
}

func (f *fakeBeacon) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeBeacon) batch(t *testing.T, i int) event.Batch {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.bodies), i)
	b, err := event.Decode(f.bodies[i])
	require.NoError(t, err)
	return b
}

func newTestBuffer(t *testing.T, opts Options) *Buffer {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	b, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func enqueueN(b *Buffer, n int) {
	for i := 0; i < n; i++ {
		b.Enqueue("click", map[string]any{"i": i})
	}
}

func TestNew_RequiresPrimary(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	b := newTestBuffer(t, Options{Primary: &fakeSender{}})
	assert.Equal(t, MaxBatch, b.MaxBatchSize())
	assert.Equal(t, int64(SliderDebounce), b.debounce.Load())
	assert.Equal(t, int64(FlushInterval), b.interval.Load())
}

func TestEnqueue_BelowThresholdDoesNotFlush(t *testing.T) {
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary})

	enqueueN(b, MaxBatch-1)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, primary.calls())
	assert.Equal(t, MaxBatch-1, b.Len())
}

func TestEnqueue_ThresholdTriggersOneFlush(t *testing.T) {
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary})

	enqueueN(b, MaxBatch)

	require.Eventually(t, func() bool { return primary.calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, 0, b.Len())

	batch := primary.batch(t, 0)
	require.Len(t, batch.Events, MaxBatch)
	for i, ev := range batch.Events {
		var p map[string]int
		require.NoError(t, ev.DecodePayload(&p))
		assert.Equal(t, i, p["i"], "events must keep insertion order")
	}
}

func TestFlush_PrimaryFailsFallbackSucceeds(t *testing.T) {
	primary := &fakeSender{err: errors.New("network down")}
	fallback := &fakeBeacon{accept: true}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: fallback})

	enqueueN(b, 19)
	before := testutil.ToFloat64(metrics.Flushes.WithLabelValues(string(TriggerManual), string(OutcomeFallback)))

	outcome := b.Flush(context.Background())

	assert.Equal(t, OutcomeFallback, outcome)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, primary.calls())
	require.Equal(t, 1, fallback.calls())
	assert.Len(t, fallback.batch(t, 0).Events, 19)
	assert.False(t, b.flushing.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Flushes.WithLabelValues(string(TriggerManual), string(OutcomeFallback))))
}

func TestFlush_Delivered(t *testing.T) {
	primary := &fakeSender{}
	fallback := &fakeBeacon{accept: true}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: fallback})

	enqueueN(b, 3)
	assert.Equal(t, OutcomeDelivered, b.Flush(context.Background()))
	assert.Equal(t, 0, fallback.calls())
	assert.Len(t, primary.batch(t, 0).Events, 3)
}

func TestFlush_TotalFailureDropsAndRecovers(t *testing.T) {
	primary := &fakeSender{err: errors.New("503")}
	fallback := &fakeBeacon{accept: false}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: fallback})

	enqueueN(b, 4)
	assert.Equal(t, OutcomeDropped, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.flushing.Load())
	assert.Equal(t, 1, fallback.calls())

	primary.mu.Lock()
	primary.err = nil
	primary.mu.Unlock()

	enqueueN(b, 2)
	assert.Equal(t, OutcomeDelivered, b.Flush(context.Background()))
	assert.Len(t, primary.batch(t, 1).Events, 2, "dropped events must not be resent")
}

func TestFlush_NoFallbackDrops(t *testing.T) {
	primary := &fakeSender{err: errors.New("boom")}
	b := newTestBuffer(t, Options{Primary: primary})

	enqueueN(b, 1)
	assert.Equal(t, OutcomeDropped, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
}

func TestFlush_Empty(t *testing.T) {
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary})

	assert.Equal(t, OutcomeEmpty, b.Flush(context.Background()))
	assert.Equal(t, 0, primary.calls())
}

func TestFlush_ConcurrentCallIsNoop(t *testing.T) {
	primary := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	b := newTestBuffer(t, Options{Primary: primary})

	enqueueN(b, 2)
	first := make(chan Outcome, 1)
	go func() { first <- b.Flush(context.Background()) }()
	<-primary.entered

	b.Enqueue("late", nil)
	b.Enqueue("late", nil)
	assert.Equal(t, OutcomeSkipped, b.Flush(context.Background()))
	assert.Equal(t, 2, b.Len(), "a skipped flush must not detach anything")

	primary.entered = nil
	close(primary.gate)
	assert.Equal(t, OutcomeDelivered, <-first)
	assert.Len(t, primary.batch(t, 0).Events, 2)

	assert.Equal(t, OutcomeDelivered, b.Flush(context.Background()))
	second := primary.batch(t, 1)
	require.Len(t, second.Events, 2)
	assert.Equal(t, "late", second.Events[0].Name())
}

func TestFlush_TransportPanicIsContained(t *testing.T) {
	panicky := senderFunc(func(context.Context, []byte) error { panic("bad transport") })
	b := newTestBuffer(t, Options{Primary: panicky})

	enqueueN(b, 1)
	assert.Equal(t, OutcomeDropped, b.Flush(context.Background()))
	assert.False(t, b.flushing.Load())
}

func TestFlush_PrimaryPanicFallsBack(t *testing.T) {
	panicky := senderFunc(func(context.Context, []byte) error { panic("bad transport") })
	fallback := &fakeBeacon{accept: true}
	b := newTestBuffer(t, Options{Primary: panicky, Fallback: fallback})

	enqueueN(b, 3)
	assert.Equal(t, OutcomeFallback, b.Flush(context.Background()))
	require.Equal(t, 1, fallback.calls())
	assert.Len(t, fallback.batch(t, 0).Events, 3)
	assert.False(t, b.flushing.Load())
}

func TestFlush_FallbackPanicDrops(t *testing.T) {
	primary := &fakeSender{err: errors.New("down")}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: panickyBeacon{}})

	enqueueN(b, 1)
	assert.Equal(t, OutcomeDropped, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
}

type panickyBeacon struct{}

func (panickyBeacon) Beacon([]byte) bool { panic("bad beacon") }

func TestEnqueue_QueuedThresholdFlush(t *testing.T) {
	primary := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
	b := newTestBuffer(t, Options{Primary: primary})

	enqueueN(b, MaxBatch)
	<-primary.entered
	assert.Equal(t, 0, b.QueuedFlushes())

	enqueueN(b, MaxBatch)
	assert.Equal(t, 1, b.QueuedFlushes())
	enqueueN(b, MaxBatch)
	assert.Equal(t, 1, b.QueuedFlushes(), "one queued flush covers later triggers")

	close(primary.gate)
	require.Eventually(t, func() bool { return primary.calls() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.QueuedFlushes())
	assert.Len(t, primary.batch(t, 1).Events, 2*MaxBatch)
}

type senderFunc func(context.Context, []byte) error

func (f senderFunc) Send(ctx context.Context, body []byte) error { return f(ctx, body) }

func TestTeardownFlush_PrefersFallback(t *testing.T) {
	primary := &fakeSender{}
	fallback := &fakeBeacon{accept: true}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: fallback})

	enqueueN(b, 2)
	assert.Equal(t, OutcomeFallback, b.TeardownFlush())
	assert.Equal(t, 0, b.Len())
	require.Equal(t, 1, fallback.calls())
	assert.Len(t, fallback.batch(t, 0).Events, 2)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, primary.calls())
}

func TestTeardownFlush_FallbackRefusedFiresPrimary(t *testing.T) {
	primary := &fakeSender{err: errors.New("ignored")}
	fallback := &fakeBeacon{accept: false}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: fallback})

	enqueueN(b, 3)
	assert.Equal(t, OutcomeDispatched, b.TeardownFlush())
	assert.Equal(t, 0, b.Len())

	require.Eventually(t, func() bool { return primary.calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, primary.batch(t, 0).Events, 3)
	assert.Equal(t, 1, fallback.calls())
}

func TestTeardownFlush_NoFallbackFiresPrimary(t *testing.T) {
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary})

	enqueueN(b, 1)
	assert.Equal(t, OutcomeDispatched, b.TeardownFlush())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, primary.calls(), "Close waits for teardown sends")
}

func TestTeardownFlush_IgnoresInFlightFlush(t *testing.T) {
	primary := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	fallback := &fakeBeacon{accept: true}
	b := newTestBuffer(t, Options{Primary: primary, Fallback: fallback})

	enqueueN(b, 1)
	done := make(chan Outcome, 1)
	go func() { done <- b.Flush(context.Background()) }()
	<-primary.entered

	b.Enqueue("during_flush", nil)
	assert.Equal(t, OutcomeFallback, b.TeardownFlush())
	batch := fallback.batch(t, 0)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "during_flush", batch.Events[0].Name())

	close(primary.gate)
	assert.Equal(t, OutcomeDelivered, <-done)
}

func TestTeardownFlush_Empty(t *testing.T) {
	fallback := &fakeBeacon{accept: true}
	b := newTestBuffer(t, Options{Primary: &fakeSender{}, Fallback: fallback})

	assert.Equal(t, OutcomeEmpty, b.TeardownFlush())
	assert.Equal(t, 0, fallback.calls())
}

func TestEnqueue_UsesSessionAndClock(t *testing.T) {
	at := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	sess := session.New("kenya", "/scenarios")
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary, Session: sess, Now: func() time.Time { return at }})

	b.Enqueue("scenario_change", map[string]any{"before": "A", "after": "B"})
	sess.Navigate("/levers")
	sess.SetActor("")
	b.Enqueue("lever_change", nil)
	require.Equal(t, OutcomeDelivered, b.Flush(context.Background()))

	batch := primary.batch(t, 0)
	require.Len(t, batch.Events, 2)
	assert.Equal(t, "kenya", batch.Events[0].Actor())
	assert.Equal(t, "/scenarios", batch.Events[0].Page())
	assert.Equal(t, at.UnixMilli(), batch.Events[0].TS())
	assert.Equal(t, "anonymous", batch.Events[1].Actor())
	assert.Equal(t, "/levers", batch.Events[1].Page())
}

type panicMarshaler struct{}

func (panicMarshaler) MarshalJSON() ([]byte, error) { panic("marshal exploded") }

func TestEnqueue_FailuresAreSwallowed(t *testing.T) {
	b := newTestBuffer(t, Options{Primary: &fakeSender{}})
	before := testutil.ToFloat64(metrics.EventsRejected.WithLabelValues("invalid"))

	assert.NotPanics(t, func() {
		b.Enqueue("", nil)
		b.Enqueue("bad", map[string]any{"ch": make(chan int)})
		b.Enqueue("worse", map[string]any{"v": panicMarshaler{}})
		b.EnqueueDebounced("worse", map[string]any{"v": panicMarshaler{}})
		b.EnqueueDebounced("", nil)
	})
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.PendingDebounced())
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.EventsRejected.WithLabelValues("invalid")), before+3)
}

func TestStart_IntervalFlush(t *testing.T) {
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary, Tunables: Tunables{FlushInterval: 30 * time.Millisecond}})
	b.Start()
	b.Start()

	b.Enqueue("click", nil)
	require.Eventually(t, func() bool { return primary.calls() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, primary.batch(t, 0).Events, 1)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, primary.calls(), "empty ticks send nothing")
}

func TestReconfigure(t *testing.T) {
	primary := &fakeSender{}
	b := newTestBuffer(t, Options{Primary: primary})
	b.Start()

	b.Reconfigure(Tunables{MaxBatch: 3, FlushInterval: time.Hour, SliderDebounce: 10 * time.Millisecond})
	assert.Equal(t, 3, b.MaxBatchSize())

	enqueueN(b, 3)
	require.Eventually(t, func() bool { return primary.calls() == 1 }, time.Second, 5*time.Millisecond)

	b.Reconfigure(Tunables{})
	assert.Equal(t, MaxBatch, b.MaxBatchSize())
}

func TestClose_StopsTimersAndIsIdempotent(t *testing.T) {
	primary := &fakeSender{}
	b, err := New(Options{
		Primary:  primary,
		Logger:   logging.Discard(),
		Tunables: Tunables{FlushInterval: 20 * time.Millisecond, SliderDebounce: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	b.Start()

	b.EnqueueDebounced("period_change", map[string]any{"after": 2051})
	require.Equal(t, 1, b.PendingDebounced())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, b.PendingDebounced())
	assert.Equal(t, 0, b.Len(), "cancelled debounce must not fire")

	enqueueN(b, MaxBatch)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, MaxBatch, b.Len(), "no automatic flush after Close")
	assert.Equal(t, 0, primary.calls())

	assert.Equal(t, OutcomeDispatched, b.TeardownFlush())
	assert.Equal(t, 0, b.Len())
}

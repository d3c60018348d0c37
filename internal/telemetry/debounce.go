package telemetry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/policytrace/internal/event"
	"github.com/gyaneshwarpardhi/policytrace/internal/metrics"
)

// slot is the pending deferred insertion for one event name.
type slot struct {
	timer *time.Timer
}

// EnqueueDebounced records an interaction after a quiet period. A newer call
// with the same name cancels the pending one, so only the last payload of a
// burst is ever enqueued. The payload is captured now; actor, page and
// timestamp are taken when the quiet period ends.
func (b *Buffer) EnqueueDebounced(name string, payload map[string]any) {
	defer b.swallow(name)

	if name == "" {
		b.reject(name, "invalid", errors.New("event name is required"))
		return
	}
	raw, err := event.EncodePayload(payload)
	if err != nil {
		b.reject(name, "invalid", err)
		return
	}
	delay := time.Duration(b.debounce.Load())

	b.slotMu.Lock()
	defer b.slotMu.Unlock()
	if b.slotsClosed {
		b.reject(name, "closed", errors.New("buffer closed"))
		return
	}
	if prev, ok := b.slots[name]; ok {
		prev.timer.Stop()
		metrics.DebounceReplaced.Inc()
	}
	s := &slot{}
	b.slots[name] = s
	s.timer = time.AfterFunc(delay, func() { b.fire(name, s, raw) })
}

func (b *Buffer) fire(name string, s *slot, payload json.RawMessage) {
	b.slotMu.Lock()
	if cur, ok := b.slots[name]; !ok || cur != s {
		// replaced or cancelled after the timer had already fired
		b.slotMu.Unlock()
		return
	}
	delete(b.slots, name)
	b.slotMu.Unlock()

	b.enqueue(name, payload)
}

func (b *Buffer) cancelDebounced() {
	b.slotMu.Lock()
	defer b.slotMu.Unlock()
	b.slotsClosed = true
	for name, s := range b.slots {
		s.timer.Stop()
		delete(b.slots, name)
	}
}

// PendingDebounced reports how many debounce slots are armed.
func (b *Buffer) PendingDebounced() int {
	b.slotMu.Lock()
	defer b.slotMu.Unlock()
	return len(b.slots)
}

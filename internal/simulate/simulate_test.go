package simulate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/policytrace/internal/dashboard"
)

type countingRecorder struct {
	mu        sync.Mutex
	names     []string
	debounced int
}

func (r *countingRecorder) Enqueue(name string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *countingRecorder) EnqueueDebounced(name string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.debounced++
}

func newTracker(t *testing.T) (*dashboard.Tracker, *countingRecorder) {
	t.Helper()
	rec := &countingRecorder{}
	tr, err := dashboard.NewTracker(dashboard.DefaultSelection(), rec)
	require.NoError(t, err)
	return tr, rec
}

func TestGenerator_IsReproducible(t *testing.T) {
	a, b := NewGenerator(42), NewGenerator(42)
	sel := dashboard.DefaultSelection()
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next(sel), b.Next(sel))
	}
}

func TestGenerator_DragStaysInRange(t *testing.T) {
	g := NewGenerator(7)
	for _, from := range []int{dashboard.YearMin, dashboard.YearMax, 2050} {
		for j := 0; j < 100; j++ {
			years := g.drag(from)
			require.NotEmpty(t, years)
			prev := from
			for _, y := range years {
				assert.GreaterOrEqual(t, y, dashboard.YearMin)
				assert.LessOrEqual(t, y, dashboard.YearMax)
				assert.Equal(t, 1, abs(y-prev))
				prev = y
			}
		}
	}
}

func TestRun_AppliesEveryStep(t *testing.T) {
	tr, rec := newTracker(t)
	g := NewGenerator(1)

	counts, err := g.Run(context.Background(), tr, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, counts.Total())
	assert.Positive(t, counts[KindYearDrag])
	assert.Positive(t, counts[KindClick])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotEmpty(t, rec.names)
	assert.Positive(t, rec.debounced)
	assert.NoError(t, tr.Selection().Validate())
}

func TestRun_StopsOnCancel(t *testing.T) {
	tr, _ := newTracker(t)
	g := NewGenerator(3)
	g.Pause = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	counts, err := g.Run(ctx, tr, 1_000_000)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, counts.Total(), 1_000_000)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

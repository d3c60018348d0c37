package dashboard

import (
	"fmt"
	"maps"
	"sync"
)

// Interaction names recorded by the tracker.
const (
	EventScenarioChange = "scenario_change"
	EventPeriodChange   = "period_change"
	EventLeverChange    = "lever_change"
	EventAxisChange     = "axis_change"
	EventChartClick     = "chart_click"
)

// Recorder receives interaction events. The telemetry buffer implements it.
type Recorder interface {
	Enqueue(name string, payload map[string]any)
	EnqueueDebounced(name string, payload map[string]any)
}

// Tracker owns the current selection and records every change to it as a
// before/after event.
type Tracker struct {
	mu  sync.Mutex
	sel Selection
	rec Recorder
}

// NewTracker starts from initial, which must be valid.
func NewTracker(initial Selection, rec Recorder) (*Tracker, error) {
	if rec == nil {
		return nil, fmt.Errorf("tracker: recorder is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("tracker: initial selection: %w", err)
	}
	return &Tracker{sel: initial.Clone(), rec: rec}, nil
}

// Selection returns a copy of the current state.
func (t *Tracker) Selection() Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sel.Clone()
}

func (t *Tracker) SetScenario(scenario string) error {
	if scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	t.mu.Lock()
	before := t.sel.Scenario
	if before == scenario {
		t.mu.Unlock()
		return nil
	}
	t.sel.Scenario = scenario
	t.mu.Unlock()

	t.rec.Enqueue(EventScenarioChange, map[string]any{"before": before, "after": scenario})
	return nil
}

// SetYear is driven by a slider, so it goes through the debounced path.
func (t *Tracker) SetYear(year int) error {
	if err := validateYear(year); err != nil {
		return err
	}
	t.mu.Lock()
	before := t.sel.Year
	if before == year {
		t.mu.Unlock()
		return nil
	}
	t.sel.Year = year
	t.mu.Unlock()

	t.rec.EnqueueDebounced(EventPeriodChange, map[string]any{"before": before, "after": year})
	return nil
}

// SetLever accepts lever names in any case and records the canonical name.
func (t *Tracker) SetLever(raw Lever, level int) error {
	l, err := ParseLever(string(raw))
	if err != nil {
		return err
	}
	if err := validateLevel(l, level); err != nil {
		return err
	}
	t.mu.Lock()
	before := t.sel.Levers[l]
	if before == level {
		t.mu.Unlock()
		return nil
	}
	if t.sel.Levers == nil {
		t.sel.Levers = make(map[Lever]int, len(Levers))
	}
	t.sel.Levers[l] = level
	t.mu.Unlock()

	t.rec.Enqueue(EventLeverChange, map[string]any{"lever": string(l), "before": before, "after": level})
	return nil
}

func (t *Tracker) SetAxis(axis Axis, value string) error {
	if value == "" {
		return fmt.Errorf("axis value is required")
	}
	t.mu.Lock()
	var field *string
	switch axis {
	case AxisX:
		field = &t.sel.XAxis
	case AxisY:
		field = &t.sel.YAxis
	default:
		t.mu.Unlock()
		return fmt.Errorf("unknown axis %q", axis)
	}
	before := *field
	if before == value {
		t.mu.Unlock()
		return nil
	}
	*field = value
	t.mu.Unlock()

	t.rec.Enqueue(EventAxisChange, map[string]any{"axis": string(axis), "before": before, "after": value})
	return nil
}

// Click records a click on a chart element. point describes the element and
// is copied.
func (t *Tracker) Click(chart string, point map[string]any) error {
	if chart == "" {
		return fmt.Errorf("chart is required")
	}
	t.rec.Enqueue(EventChartClick, map[string]any{"chart": chart, "point": maps.Clone(point)})
	return nil
}

// Package simulate drives a dashboard tracker with synthetic user sessions.
package simulate

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/gyaneshwarpardhi/policytrace/internal/dashboard"
)

// Kind is the type of a simulated step.
type Kind string

const (
	KindScenario Kind = "scenario"
	KindYearDrag Kind = "year_drag"
	KindLever    Kind = "lever"
	KindAxis     Kind = "axis"
	KindClick    Kind = "click"
)

var (
	scenarios = []string{"SSP1-2.6", "SSP2-4.5", "SSP3-7.0", "SSP5-8.5"}
	charts    = []string{"scatter", "timeline", "map"}

	indicators = []string{
		"flood_damage", "crop_yield", "ecosystem_health", "water_availability",
		"urban_expansion", "biodiversity", "habitat_quality",
	}
)

// Step is one user action. Only the fields for its Kind are set.
type Step struct {
	Kind     Kind
	Scenario string
	Years    []int
	Lever    dashboard.Lever
	Level    int
	Axis     dashboard.Axis
	Value    string
	Chart    string
	Point    map[string]any
}

// Counts tallies applied steps by kind.
type Counts map[Kind]int

// Total sums all kinds.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Generator produces a reproducible step sequence for a given seed.
type Generator struct {
	f *gofakeit.Faker

	// Pause is slept between steps and between the years of a drag.
	Pause time.Duration
}

func NewGenerator(seed int64) *Generator {
	return &Generator{f: gofakeit.New(seed)}
}

// Next picks the step following cur. Generated values are always valid for
// the tracker.
func (g *Generator) Next(cur dashboard.Selection) Step {
	switch n := g.f.Number(1, 100); {
	case n <= 10:
		return Step{Kind: KindScenario, Scenario: g.f.RandomString(scenarios)}
	case n <= 45:
		return Step{Kind: KindYearDrag, Years: g.drag(cur.Year)}
	case n <= 70:
		return Step{
			Kind:  KindLever,
			Lever: dashboard.Levers[g.f.Number(0, len(dashboard.Levers)-1)],
			Level: g.f.Number(0, dashboard.MaxLeverLevel),
		}
	case n <= 80:
		axis := dashboard.AxisX
		if g.f.Bool() {
			axis = dashboard.AxisY
		}
		return Step{Kind: KindAxis, Axis: axis, Value: g.f.RandomString(indicators)}
	default:
		return Step{
			Kind:  KindClick,
			Chart: g.f.RandomString(charts),
			Point: map[string]any{
				"x":     g.f.Float64Range(0, 1),
				"y":     g.f.Float64Range(0, 1),
				"label": g.f.Word(),
			},
		}
	}
}

// drag is a run of adjacent years starting next to from, as produced by
// dragging the period slider.
func (g *Generator) drag(from int) []int {
	dir := 1
	if g.f.Bool() {
		dir = -1
	}
	if from+dir > dashboard.YearMax || from+dir < dashboard.YearMin {
		dir = -dir
	}
	length := g.f.Number(1, 8)
	years := make([]int, 0, length)
	y := from
	for i := 0; i < length; i++ {
		y += dir
		if y < dashboard.YearMin || y > dashboard.YearMax {
			break
		}
		years = append(years, y)
	}
	return years
}

// Run applies steps generated actions to tr. It stops early when ctx is done
// and returns what was applied so far.
func (g *Generator) Run(ctx context.Context, tr *dashboard.Tracker, steps int) (Counts, error) {
	counts := Counts{}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		step := g.Next(tr.Selection())
		if err := g.apply(ctx, tr, step); err != nil {
			return counts, fmt.Errorf("step %d (%s): %w", i, step.Kind, err)
		}
		counts[step.Kind]++
		if err := g.sleep(ctx); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

func (g *Generator) apply(ctx context.Context, tr *dashboard.Tracker, s Step) error {
	switch s.Kind {
	case KindScenario:
		return tr.SetScenario(s.Scenario)
	case KindYearDrag:
		for i, y := range s.Years {
			if i > 0 {
				if err := g.sleep(ctx); err != nil {
					return err
				}
			}
			if err := tr.SetYear(y); err != nil {
				return err
			}
		}
		return nil
	case KindLever:
		return tr.SetLever(s.Lever, s.Level)
	case KindAxis:
		return tr.SetAxis(s.Axis, s.Value)
	case KindClick:
		return tr.Click(s.Chart, s.Point)
	}
	return fmt.Errorf("unknown step kind %q", s.Kind)
}

func (g *Generator) sleep(ctx context.Context) error {
	if g.Pause <= 0 {
		return nil
	}
	t := time.NewTimer(g.Pause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

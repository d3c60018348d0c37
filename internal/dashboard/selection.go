package dashboard

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Lever is one of the four adaptation policies a user can dial up or down.
type Lever string

const (
	LeverAfforestation  Lever = "afforestation"
	LeverDamLevee       Lever = "dam_levee"
	LeverHouseMigration Lever = "house_migration"
	LeverFlowIrrigation Lever = "flow_irrigation"
)

// Levers lists every lever in display order.
var Levers = []Lever{LeverAfforestation, LeverDamLevee, LeverHouseMigration, LeverFlowIrrigation}

// Axis identifies a scatter-plot axis.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

const (
	YearMin       = 2020
	YearMax       = 2100
	MaxLeverLevel = 3
)

// ParseLever accepts a lever name, case-insensitively.
func ParseLever(s string) (Lever, error) {
	l := Lever(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Levers, l) {
		return "", fmt.Errorf("unknown lever %q", s)
	}
	return l, nil
}

// Selection is what the dashboard currently shows.
type Selection struct {
	Scenario string        `json:"scenario"`
	Year     int           `json:"year"`
	Levers   map[Lever]int `json:"levers"`
	XAxis    string        `json:"x_axis"`
	YAxis    string        `json:"y_axis"`
}

// DefaultSelection is the state the dashboard opens with.
func DefaultSelection() Selection {
	levers := make(map[Lever]int, len(Levers))
	for _, l := range Levers {
		levers[l] = 0
	}
	return Selection{
		Scenario: "SSP2-4.5",
		Year:     2050,
		Levers:   levers,
		XAxis:    "flood_damage",
		YAxis:    "crop_yield",
	}
}

// Clone returns a deep copy.
func (s Selection) Clone() Selection {
	out := s
	out.Levers = maps.Clone(s.Levers)
	if out.Levers == nil {
		out.Levers = make(map[Lever]int, len(Levers))
	}
	return out
}

// Validate reports the first out-of-range field.
func (s Selection) Validate() error {
	if strings.TrimSpace(s.Scenario) == "" {
		return fmt.Errorf("scenario is required")
	}
	if err := validateYear(s.Year); err != nil {
		return err
	}
	for l, level := range s.Levers {
		if !slices.Contains(Levers, l) {
			return fmt.Errorf("unknown lever %q", l)
		}
		if err := validateLevel(l, level); err != nil {
			return err
		}
	}
	if s.XAxis == "" || s.YAxis == "" {
		return fmt.Errorf("both axes are required")
	}
	return nil
}

func validateYear(year int) error {
	if year < YearMin || year > YearMax {
		return fmt.Errorf("year %d outside [%d, %d]", year, YearMin, YearMax)
	}
	return nil
}

func validateLevel(l Lever, level int) error {
	if level < 0 || level > MaxLeverLevel {
		return fmt.Errorf("lever %s level %d outside [0, %d]", l, level, MaxLeverLevel)
	}
	return nil
}

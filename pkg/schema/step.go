package schema

import (
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/errors"
)

// stepEpsilon absorbs float rounding when comparing exact deltas.
const stepEpsilon = 1e-9

// ValidateStep checks the append-step constraint over the boundary
// between the cube's last label and the slice's labels, and between
// consecutive labels within the slice. A nil last pointer means the cube
// is being created and only the slice-internal pairs are checked.
//
// Temporal steps compare in the unit of the append coordinate, read
// from its units attribute ("days since ...", "hours since ...", ...);
// plain numeric labels compare in seconds.
func (k *CubeSchema) ValidateStep(last *float64, labels []float64, units string) error {
	step := k.AppendStep
	if step == nil || len(labels) == 0 {
		return nil
	}

	pairs := make([][2]float64, 0, len(labels))
	if last != nil {
		pairs = append(pairs, [2]float64{*last, labels[0]})
	}
	for i := 1; i < len(labels); i++ {
		pairs = append(pairs, [2]float64{labels[i-1], labels[i]})
	}

	for _, pair := range pairs {
		delta := pair[1] - pair[0]
		switch step.Kind {
		case config.StepIncreasing:
			if delta <= 0 {
				return orderError("labels must be strictly increasing", pair)
			}
		case config.StepDecreasing:
			if delta >= 0 {
				return orderError("labels must be strictly decreasing", pair)
			}
		case config.StepNumber:
			if !closeTo(delta, step.Number) {
				return orderError("label delta does not match configured step", pair).
					WithDetail("expected", step.Number).
					WithDetail("actual", delta)
			}
		case config.StepDuration:
			expected := durationInUnits(step.Duration, units)
			if !closeTo(delta, expected) {
				return orderError("label delta does not match configured step", pair).
					WithDetail("expected", expected).
					WithDetail("actual", delta)
			}
		}
	}
	return nil
}

func orderError(msg string, pair [2]float64) *errors.Error {
	return errors.New(errors.ErrorTypeAppendOrder, msg).
		WithDetail("previous", pair[0]).
		WithDetail("next", pair[1])
}

func closeTo(a, b float64) bool {
	tolerance := stepEpsilon * math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tolerance
}

// durationInUnits converts d to the coordinate's unit. The unit is the
// leading word of a CF-style units attribute; seconds when absent.
func durationInUnits(d time.Duration, units string) float64 {
	unit := strings.ToLower(strings.TrimSpace(units))
	if i := strings.Index(unit, " "); i > 0 {
		unit = unit[:i]
	}
	seconds := d.Seconds()
	switch unit {
	case "day", "days", "d":
		return seconds / 86400
	case "hour", "hours", "h":
		return seconds / 3600
	case "minute", "minutes", "min":
		return seconds / 60
	}
	return seconds
}

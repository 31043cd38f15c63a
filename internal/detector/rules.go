package detector

import (
	"time"

	"github.com/rickgao/derivwatch/internal/config"
)

// Direction restricts which sign of change may fire a rule.
type Direction string

const (
	DirectionBoth Direction = "both"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Rule holds the thresholds for one metric. A zero threshold disables that
// comparison.
type Rule struct {
	Absolute            float64
	RelativePct         float64
	CriticalAbsolute    float64
	CriticalRelativePct float64
	Direction           Direction
	Cooldown            time.Duration
}

// RulesFromConfig converts validated rule config keyed by metric name.
func RulesFromConfig(rules map[string]config.RuleConfig) map[string]Rule {
	out := make(map[string]Rule, len(rules))
	for metric, r := range rules {
		out[metric] = Rule{
			Absolute:            r.Absolute,
			RelativePct:         r.RelativePct,
			CriticalAbsolute:    r.CriticalAbsolute,
			CriticalRelativePct: r.CriticalRelativePct,
			Direction:           Direction(r.Direction),
			Cooldown:            r.Cooldown,
		}
	}
	return out
}

func (r Rule) allows(delta float64) bool {
	switch r.Direction {
	case DirectionUp:
		return delta > 0
	case DirectionDown:
		return delta < 0
	default:
		return true
	}
}

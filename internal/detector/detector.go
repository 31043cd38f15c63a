package detector

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/derivwatch/internal/model"
)

// CooldownView is the read side of the cooldown record.
type CooldownView interface {
	LastSent(key model.AlertKey) (time.Time, bool)
}

// Detector evaluates metric rules against snapshot pairs.
type Detector struct {
	rules   map[string]Rule
	metrics []string // Rule metric names, sorted
	newID   func() uuid.UUID
}

// Option configures a Detector.
type Option func(*Detector)

// WithIDFunc sets the event ID generator.
func WithIDFunc(fn func() uuid.UUID) Option {
	return func(d *Detector) {
		d.newID = fn
	}
}

// New creates a Detector for the given rules keyed by metric name.
func New(rules map[string]Rule, opts ...Option) *Detector {
	d := &Detector{
		rules: make(map[string]Rule, len(rules)),
		newID: uuid.New,
	}
	for metric, r := range rules {
		d.rules[metric] = r
		d.metrics = append(d.metrics, metric)
	}
	sort.Strings(d.metrics)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Rules returns a copy of the configured rules.
func (d *Detector) Rules() map[string]Rule {
	out := make(map[string]Rule, len(d.rules))
	for k, v := range d.rules {
		out[k] = v
	}
	return out
}

// Detect returns one event per rule whose threshold is crossed between old
// and cur and whose cooldown has elapsed at now. A nil old snapshot is the
// baseline for the instrument and never produces events. Events are ordered
// by metric name.
func (d *Detector) Detect(old *model.Snapshot, cur model.Snapshot, cooldowns CooldownView, now time.Time) []model.AlertEvent {
	if old == nil {
		return nil
	}

	var events []model.AlertEvent
	for _, metric := range d.metrics {
		rule := d.rules[metric]

		prev, ok := old.Value(metric)
		if !ok {
			continue
		}
		next, ok := cur.Value(metric)
		if !ok {
			continue
		}
		if !finite(prev) || !finite(next) {
			continue
		}

		ev, fired := evaluate(rule, prev, next)
		if !fired {
			continue
		}

		key := model.AlertKey{Instrument: cur.Instrument, Metric: metric}
		if cooldowns != nil {
			if last, ok := cooldowns.LastSent(key); ok && now.Sub(last) < rule.Cooldown {
				continue
			}
		}

		ev.ID = d.newID()
		ev.Instrument = cur.Instrument
		ev.Metric = metric
		ev.GeneratedAt = now
		events = append(events, ev)
	}
	return events
}

// evaluate applies one rule to a value pair. Relative comparison is skipped
// when prev is zero.
func evaluate(r Rule, prev, next float64) (model.AlertEvent, bool) {
	delta := next - prev
	ev := model.AlertEvent{Old: prev, New: next, Delta: delta}

	if !r.allows(delta) {
		return ev, false
	}

	absDelta := math.Abs(delta)
	var relPct float64
	if prev != 0 {
		ev.Relative = delta / math.Abs(prev)
		ev.HasRelative = true
		relPct = math.Abs(ev.Relative) * 100
	}

	relHit := r.RelativePct > 0 && ev.HasRelative && relPct >= r.RelativePct
	absHit := r.Absolute > 0 && absDelta >= r.Absolute

	switch {
	case relHit:
		ev.Crossing = model.CrossingRelative
		ev.Threshold = r.RelativePct
	case absHit:
		ev.Crossing = model.CrossingAbsolute
		ev.Threshold = r.Absolute
	default:
		return ev, false
	}

	ev.Severity = model.SeverityWarning
	critRel := r.CriticalRelativePct > 0 && ev.HasRelative && relPct >= r.CriticalRelativePct
	critAbs := r.CriticalAbsolute > 0 && absDelta >= r.CriticalAbsolute
	if critRel || critAbs {
		ev.Severity = model.SeverityCritical
	}

	return ev, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

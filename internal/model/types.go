package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

// Snapshot is a timestamped set of metric values for one tracked instrument.
// It is immutable once created; use NewSnapshot to build one.
type Snapshot struct {
	Instrument string    // Tracked instrument key (e.g., "BTC")
	Timestamp  time.Time // Server timestamp, or fetch time if the source has none
	Source     string    // "coinglass", "persisted"

	metrics map[string]float64
}

// NewSnapshot creates a Snapshot, copying metrics so later changes to the
// caller's map are not observed.
func NewSnapshot(instrument string, metrics map[string]float64, ts time.Time, source string) Snapshot {
	m := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		m[k] = v
	}
	return Snapshot{
		Instrument: instrument,
		Timestamp:  ts,
		Source:     source,
		metrics:    m,
	}
}

// Value returns the value of a metric and whether it is present.
func (s Snapshot) Value(metric string) (float64, bool) {
	v, ok := s.metrics[metric]
	return v, ok
}

// MetricNames returns the metric names in sorted order.
func (s Snapshot) MetricNames() []string {
	names := make([]string, 0, len(s.metrics))
	for k := range s.metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Metrics returns a copy of the metric values.
func (s Snapshot) Metrics() map[string]float64 {
	m := make(map[string]float64, len(s.metrics))
	for k, v := range s.metrics {
		m[k] = v
	}
	return m
}

// Len returns the number of metrics in the snapshot.
func (s Snapshot) Len() int {
	return len(s.metrics)
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// AlertKey identifies an (instrument, metric) pair for cooldown tracking.
type AlertKey struct {
	Instrument string
	Metric     string
}

func (k AlertKey) String() string {
	return k.Instrument + "/" + k.Metric
}

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Crossing reports which kind of threshold an alert crossed.
type Crossing string

const (
	CrossingAbsolute Crossing = "absolute"
	CrossingRelative Crossing = "relative"
)

// AlertEvent is a significant metric change. It is created by the detector
// and consumed once by the dispatcher.
type AlertEvent struct {
	ID         uuid.UUID
	Instrument string
	Metric     string

	Old   float64
	New   float64
	Delta float64 // New - Old

	// Relative is Delta / |Old|. Only meaningful when HasRelative is true
	// (Old != 0).
	Relative    float64
	HasRelative bool

	Crossing  Crossing // Which threshold fired
	Threshold float64  // Absolute units, or percent for relative crossings
	Severity  Severity

	GeneratedAt time.Time
}

// Key returns the cooldown key of the event.
func (e AlertEvent) Key() AlertKey {
	return AlertKey{Instrument: e.Instrument, Metric: e.Metric}
}

// RelativePct returns the relative change in percent.
func (e AlertEvent) RelativePct() float64 {
	return e.Relative * 100
}

// DeliveryReceipt confirms an event was accepted by a messaging channel.
type DeliveryReceipt struct {
	EventID     uuid.UUID
	Destination string // Destination name from config
	MessageID   string // Channel-assigned message id
	SentAt      time.Time
	Attempts    int
}

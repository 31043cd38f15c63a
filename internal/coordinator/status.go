package coordinator

import (
	"sort"
	"time"

	"github.com/rickgao/derivwatch/internal/model"
)

// Phase is the coordinator's position in the cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseDetecting
	PhaseDispatching
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseDetecting:
		return "detecting"
	case PhaseDispatching:
		return "dispatching"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// InstrumentStatus is the latest stored snapshot of one instrument.
type InstrumentStatus struct {
	Instrument string             `json:"instrument"`
	Timestamp  time.Time          `json:"timestamp"`
	Source     string             `json:"source"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Status describes the coordinator after its most recent cycle.
type Status struct {
	Phase     string    `json:"phase"`
	Interval  string    `json:"interval"`
	StartedAt time.Time `json:"started_at"`
	Cycles    int64     `json:"cycles"`

	LastCycleStart    time.Time `json:"last_cycle_start,omitzero"`
	LastCycleEnd      time.Time `json:"last_cycle_end,omitzero"`
	LastCycleMillis   int64     `json:"last_cycle_ms"`
	LastFetched       int       `json:"last_fetched"`
	LastFailures      []string  `json:"last_failures,omitempty"` // "instrument: error"
	LastAlerts        int       `json:"last_alerts"`
	LastDelivered     int       `json:"last_delivered"`
	LastDropped       int       `json:"last_dropped"`
	ConfiguredSymbols []string  `json:"configured_instruments"`

	Instruments []InstrumentStatus `json:"instruments"`
}

// clone returns a deep copy so callers can't reach coordinator state.
func (s Status) clone() Status {
	out := s
	out.LastFailures = append([]string(nil), s.LastFailures...)
	out.ConfiguredSymbols = append([]string(nil), s.ConfiguredSymbols...)
	out.Instruments = make([]InstrumentStatus, len(s.Instruments))
	for i, in := range s.Instruments {
		in.Metrics = copyMetrics(in.Metrics)
		out.Instruments[i] = in
	}
	return out
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func instrumentStatuses(snaps []model.Snapshot) []InstrumentStatus {
	out := make([]InstrumentStatus, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, InstrumentStatus{
			Instrument: s.Instrument,
			Timestamp:  s.Timestamp,
			Source:     s.Source,
			Metrics:    s.Metrics(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Summary is the final account of a Run, logged at exit.
type Summary struct {
	Cycles           int64
	SnapshotsFetched int64
	FetchFailures    int64
	AlertsGenerated  int64
	AlertsDelivered  int64
	AlertsDropped    int64
	StartedAt        time.Time
	StoppedAt        time.Time
}

// LogAttrs returns the summary as slog key/value pairs.
func (s Summary) LogAttrs() []any {
	return []any{
		"cycles", s.Cycles,
		"snapshots_fetched", s.SnapshotsFetched,
		"fetch_failures", s.FetchFailures,
		"alerts_generated", s.AlertsGenerated,
		"alerts_delivered", s.AlertsDelivered,
		"alerts_dropped", s.AlertsDropped,
		"uptime", s.StoppedAt.Sub(s.StartedAt).Round(time.Second),
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/model"
)

// State is the persisted form of the watcher's memory.
type State struct {
	Snapshots []model.Snapshot
	Cooldowns map[model.AlertKey]time.Time
}

// Backend persists State across restarts and keeps an alert history.
type Backend interface {
	Name() string
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	RecordDelivery(ctx context.Context, event model.AlertEvent, receipt model.DeliveryReceipt) error
	Ping(ctx context.Context) error
	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		pg, err := OpenPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := OpenSQLite(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Memory keeps the last saved state in process. Nothing survives a restart.
type Memory struct {
	mu         sync.Mutex
	state      State
	deliveries []model.DeliveryReceipt
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state), nil
}

func (m *Memory) Save(ctx context.Context, st State) error {
	m.mu.Lock()
	m.state = copyState(st)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecordDelivery(ctx context.Context, event model.AlertEvent, receipt model.DeliveryReceipt) error {
	m.mu.Lock()
	m.deliveries = append(m.deliveries, receipt)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Deliveries returns the receipts recorded so far.
func (m *Memory) Deliveries() []model.DeliveryReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DeliveryReceipt(nil), m.deliveries...)
}

func copyState(st State) State {
	out := State{
		Snapshots: append([]model.Snapshot(nil), st.Snapshots...),
		Cooldowns: make(map[model.AlertKey]time.Time, len(st.Cooldowns)),
	}
	for k, v := range st.Cooldowns {
		out.Cooldowns[k] = v
	}
	return out
}

// encodeMetrics serializes snapshot metrics for a JSON column. NaN and
// infinities have no JSON form and are left out.
func encodeMetrics(snap model.Snapshot) ([]byte, error) {
	metrics := snap.Metrics()
	for name, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(metrics, name)
		}
	}
	b, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("encode metrics for %s: %w", snap.Instrument, err)
	}
	return b, nil
}

// decodeSnapshot rebuilds a snapshot from its stored columns.
func decodeSnapshot(instrument string, metrics []byte, ts time.Time, source string) (model.Snapshot, error) {
	var m map[string]float64
	if err := json.Unmarshal(metrics, &m); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode metrics for %s: %w", instrument, err)
	}
	return model.NewSnapshot(instrument, m, ts.UTC(), source), nil
}

package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/model"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "derivwatch.db")
	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	key := model.AlertKey{Instrument: "BTC", Metric: "open_interest"}
	st := State{
		Snapshots: []model.Snapshot{snap("ETH", 50, t0), snap("BTC", 1000, t0)},
		Cooldowns: map[model.AlertKey]time.Time{key: t0.Add(time.Second)},
	}
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Second save overwrites the BTC row.
	if err := s.Save(ctx, State{Snapshots: []model.Snapshot{snap("BTC", 1200, t0.Add(time.Minute))}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Snapshots) != 2 {
		t.Fatalf("len(Snapshots) = %d, want 2", len(got.Snapshots))
	}
	if got.Snapshots[0].Instrument != "BTC" {
		t.Errorf("Snapshots[0] = %q, want BTC", got.Snapshots[0].Instrument)
	}
	if v, _ := got.Snapshots[0].Value("open_interest"); v != 1200 {
		t.Errorf("BTC open_interest = %v, want 1200", v)
	}
	if !got.Snapshots[0].Timestamp.Equal(t0.Add(time.Minute)) {
		t.Errorf("BTC ts = %v, want %v", got.Snapshots[0].Timestamp, t0.Add(time.Minute))
	}
	if last := got.Cooldowns[key]; !last.Equal(t0.Add(time.Second)) {
		t.Errorf("cooldown = %v, want %v", last, t0.Add(time.Second))
	}
}

func TestSQLite_SaveWithNonFiniteMetric(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	bad := model.NewSnapshot("BAD", map[string]float64{
		"open_interest": math.NaN(),
		"funding_rate":  0.01,
	}, t0, "coinglass")
	key := model.AlertKey{Instrument: "BTC", Metric: "open_interest"}
	st := State{
		Snapshots: []model.Snapshot{snap("BTC", 1000, t0), bad},
		Cooldowns: map[model.AlertKey]time.Time{key: t0},
	}
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Snapshots) != 2 {
		t.Fatalf("len(Snapshots) = %d, want 2", len(got.Snapshots))
	}
	for _, sn := range got.Snapshots {
		switch sn.Instrument {
		case "BTC":
			if v, _ := sn.Value("open_interest"); v != 1000 {
				t.Errorf("BTC open_interest = %v, want 1000", v)
			}
		case "BAD":
			if _, ok := sn.Value("open_interest"); ok {
				t.Error("BAD open_interest should not be stored")
			}
			if v, _ := sn.Value("funding_rate"); v != 0.01 {
				t.Errorf("BAD funding_rate = %v, want 0.01", v)
			}
		}
	}
	if _, ok := got.Cooldowns[key]; !ok {
		t.Error("cooldown not persisted")
	}
}

func TestSQLite_RecordDeliveryIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	ev := event("BTC", "open_interest")
	ev.Old, ev.New, ev.Delta, ev.Severity = 1000, 1200, 200, model.SeverityWarning
	rc := model.DeliveryReceipt{EventID: ev.ID, Destination: "desk", MessageID: "42", SentAt: t0, Attempts: 1}

	for i := 0; i < 2; i++ {
		if err := s.RecordDelivery(ctx, ev, rc); err != nil {
			t.Fatalf("RecordDelivery: %v", err)
		}
	}
	n, err := s.HistoryCount(ctx)
	if err != nil {
		t.Fatalf("HistoryCount: %v", err)
	}
	if n != 1 {
		t.Errorf("history rows = %d, want 1", n)
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.StoreConfig{Backend: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db")}}
	b, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	if b.Name() != "sqlite" {
		t.Errorf("Name() = %q, want sqlite", b.Name())
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

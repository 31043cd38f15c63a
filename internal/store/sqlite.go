package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rickgao/derivwatch/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	instrument TEXT PRIMARY KEY,
	metrics    TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	source     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cooldowns (
	instrument TEXT NOT NULL,
	metric     TEXT NOT NULL,
	last_sent  INTEGER NOT NULL,
	PRIMARY KEY (instrument, metric)
);
CREATE TABLE IF NOT EXISTS alert_history (
	event_id    TEXT NOT NULL,
	destination TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	metric      TEXT NOT NULL,
	old_value   REAL NOT NULL,
	new_value   REAL NOT NULL,
	delta       REAL NOT NULL,
	severity    TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	sent_at     INTEGER NOT NULL,
	PRIMARY KEY (event_id, destination)
);
CREATE INDEX IF NOT EXISTS idx_alert_history_sent_at ON alert_history(sent_at);
`

// SQLite persists state to a single local file. Timestamps are stored as
// unix nanoseconds.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}

	logger.Info("sqlite store ready", "path", path)
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Load reads all snapshots and cooldowns.
func (s *SQLite) Load(ctx context.Context) (State, error) {
	st := State{Cooldowns: make(map[model.AlertKey]time.Time)}

	rows, err := s.db.QueryContext(ctx, `SELECT instrument, metrics, ts, source FROM snapshots ORDER BY instrument`)
	if err != nil {
		return State{}, fmt.Errorf("query snapshots: %w", err)
	}
	for rows.Next() {
		var (
			instrument, metrics, source string
			ts                          int64
		)
		if err := rows.Scan(&instrument, &metrics, &ts, &source); err != nil {
			rows.Close()
			return State{}, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(instrument, []byte(metrics), time.Unix(0, ts), source)
		if err != nil {
			rows.Close()
			return State{}, err
		}
		st.Snapshots = append(st.Snapshots, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("read snapshots: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT instrument, metric, last_sent FROM cooldowns`)
	if err != nil {
		return State{}, fmt.Errorf("query cooldowns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key model.AlertKey
		var last int64
		if err := rows.Scan(&key.Instrument, &key.Metric, &last); err != nil {
			return State{}, fmt.Errorf("scan cooldown: %w", err)
		}
		st.Cooldowns[key] = time.Unix(0, last).UTC()
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("read cooldowns: %w", err)
	}

	return st, nil
}

// Save upserts the state in a single transaction.
func (s *SQLite) Save(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, snap := range st.Snapshots {
		metrics, err := encodeMetrics(snap)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (instrument, metrics, ts, source) VALUES (?, ?, ?, ?)
			ON CONFLICT(instrument) DO UPDATE
			SET metrics = excluded.metrics, ts = excluded.ts, source = excluded.source`,
			snap.Instrument, string(metrics), snap.Timestamp.UnixNano(), snap.Source,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert snapshot %s: %w", snap.Instrument, err)
		}
	}

	for key, last := range st.Cooldowns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cooldowns (instrument, metric, last_sent) VALUES (?, ?, ?)
			ON CONFLICT(instrument, metric) DO UPDATE SET last_sent = excluded.last_sent`,
			key.Instrument, key.Metric, last.UnixNano(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert cooldown %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("state saved", "snapshots", len(st.Snapshots), "cooldowns", len(st.Cooldowns))
	return nil
}

// RecordDelivery appends one row to alert_history.
func (s *SQLite) RecordDelivery(ctx context.Context, event model.AlertEvent, receipt model.DeliveryReceipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alert_history
			(event_id, destination, instrument, metric, old_value, new_value, delta, severity, message_id, attempts, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(), receipt.Destination, event.Instrument, event.Metric,
		event.Old, event.New, event.Delta, string(event.Severity),
		receipt.MessageID, receipt.Attempts, receipt.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// HistoryCount returns the number of recorded deliveries.
func (s *SQLite) HistoryCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/database"
	"github.com/rickgao/derivwatch/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	instrument TEXT PRIMARY KEY,
	metrics    JSONB NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	source     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cooldowns (
	instrument TEXT NOT NULL,
	metric     TEXT NOT NULL,
	last_sent  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (instrument, metric)
);
CREATE TABLE IF NOT EXISTS alert_history (
	event_id    UUID NOT NULL,
	destination TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	metric      TEXT NOT NULL,
	old_value   DOUBLE PRECISION NOT NULL,
	new_value   DOUBLE PRECISION NOT NULL,
	delta       DOUBLE PRECISION NOT NULL,
	severity    TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, destination)
);
CREATE INDEX IF NOT EXISTS idx_alert_history_sent_at ON alert_history (sent_at);
`

const (
	upsertSnapshotSQL = `
		INSERT INTO snapshots (instrument, metrics, ts, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instrument) DO UPDATE
		SET metrics = EXCLUDED.metrics, ts = EXCLUDED.ts, source = EXCLUDED.source
	`
	upsertCooldownSQL = `
		INSERT INTO cooldowns (instrument, metric, last_sent)
		VALUES ($1, $2, $3)
		ON CONFLICT (instrument, metric) DO UPDATE
		SET last_sent = EXCLUDED.last_sent
	`
	insertDeliverySQL = `
		INSERT INTO alert_history (event_id, destination, instrument, metric, old_value, new_value, delta, severity, message_id, attempts, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id, destination) DO NOTHING
	`
)

// Postgres persists state to PostgreSQL.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects, pings and migrates the schema.
func OpenPostgres(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Postgres, error) {
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}

	logger.Info("postgres store ready", "host", cfg.Host, "db", cfg.Name)
	return &Postgres{db: pool, logger: logger}, nil
}

func (p *Postgres) Name() string { return "postgres" }

// Load reads all snapshots and cooldowns.
func (p *Postgres) Load(ctx context.Context) (State, error) {
	st := State{Cooldowns: make(map[model.AlertKey]time.Time)}

	rows, err := p.db.Query(ctx, `SELECT instrument, metrics, ts, source FROM snapshots ORDER BY instrument`)
	if err != nil {
		return State{}, fmt.Errorf("query snapshots: %w", err)
	}
	for rows.Next() {
		var (
			instrument, source string
			metrics            []byte
			ts                 time.Time
		)
		if err := rows.Scan(&instrument, &metrics, &ts, &source); err != nil {
			rows.Close()
			return State{}, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(instrument, metrics, ts, source)
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

	rows, err = p.db.Query(ctx, `SELECT instrument, metric, last_sent FROM cooldowns`)
	if err != nil {
		return State{}, fmt.Errorf("query cooldowns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key model.AlertKey
		var last time.Time
		if err := rows.Scan(&key.Instrument, &key.Metric, &last); err != nil {
			return State{}, fmt.Errorf("scan cooldown: %w", err)
		}
		st.Cooldowns[key] = last.UTC()
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("read cooldowns: %w", err)
	}

	return st, nil
}

// Save upserts every snapshot and cooldown in one batch.
func (p *Postgres) Save(ctx context.Context, st State) error {
	batch, err := buildSaveBatch(st)
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	start := time.Now()
	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}

	p.logger.Debug("state saved",
		"snapshots", len(st.Snapshots),
		"cooldowns", len(st.Cooldowns),
		"duration", time.Since(start),
	)
	return nil
}

// buildSaveBatch queues the upserts for st.
func buildSaveBatch(st State) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, snap := range st.Snapshots {
		metrics, err := encodeMetrics(snap)
		if err != nil {
			return nil, err
		}
		batch.Queue(upsertSnapshotSQL, snap.Instrument, string(metrics), snap.Timestamp, snap.Source)
	}
	for key, last := range st.Cooldowns {
		batch.Queue(upsertCooldownSQL, key.Instrument, key.Metric, last)
	}
	return batch, nil
}

// RecordDelivery appends one row to alert_history.
func (p *Postgres) RecordDelivery(ctx context.Context, event model.AlertEvent, receipt model.DeliveryReceipt) error {
	_, err := p.db.Exec(ctx, insertDeliverySQL,
		event.ID.String(), receipt.Destination, event.Instrument, event.Metric,
		event.Old, event.New, event.Delta, string(event.Severity),
		receipt.MessageID, receipt.Attempts, receipt.SentAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

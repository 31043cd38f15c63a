package fetcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/derivwatch/internal/api"
	"github.com/rickgao/derivwatch/internal/model"
)

// Source is the label stamped on snapshots produced by this package.
const Source = "coinglass"

// MarketClient fetches one instrument's market summary.
type MarketClient interface {
	GetCoinMarket(ctx context.Context, symbol string) (*api.CoinMarket, error)
}

// Config holds fetcher configuration.
type Config struct {
	Concurrency int               // Max concurrent requests (default: 5)
	Timeout     time.Duration     // Per instrument, across retries (default: 90s)
	Fields      map[string]string // Metric name -> CoinGlass field
	Optional    map[string]bool   // Metrics that may be absent without failing the instrument
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 5,
		Timeout:     90 * time.Second,
	}
}

// Result is the outcome of one Fetch call.
type Result struct {
	Snapshots []model.Snapshot // Input order, successes only
	Failures  []*FetchError
}

// Fetcher queries the market data API for snapshots.
type Fetcher struct {
	cfg    Config
	client MarketClient
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Fetcher.
func New(cfg Config, client MarketClient, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Fetcher{
		cfg:    cfg,
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Fetch retrieves snapshots for all instruments concurrently and waits for
// every request to finish.
func (f *Fetcher) Fetch(ctx context.Context, instruments []string) Result {
	start := time.Now()

	snaps := make([]*model.Snapshot, len(instruments))
	errs := make([]*FetchError, len(instruments))
	var fetched, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)

	for i, inst := range instruments {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = &FetchError{Instrument: inst, Err: err}
				failed.Add(1)
				return nil
			}

			snap, err := f.fetchOne(ctx, inst)
			if err != nil {
				fe := classify(inst, err)
				f.logger.Warn("failed to fetch instrument",
					"instrument", inst,
					"permanent", fe.Permanent,
					"status", fe.StatusCode,
					"err", err,
				)
				errs[i] = fe
				failed.Add(1)
				return nil
			}

			snaps[i] = &snap
			fetched.Add(1)
			return nil
		})
	}

	_ = g.Wait()

	var res Result
	for i := range instruments {
		if snaps[i] != nil {
			res.Snapshots = append(res.Snapshots, *snaps[i])
		}
		if errs[i] != nil {
			res.Failures = append(res.Failures, errs[i])
		}
	}

	f.logger.Info("fetch complete",
		"instruments", len(instruments),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)

	return res
}

// fetchOne fetches and converts a single instrument.
func (f *Fetcher) fetchOne(ctx context.Context, instrument string) (model.Snapshot, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	m, err := f.client.GetCoinMarket(ctx, instrument)
	if err != nil {
		return model.Snapshot{}, err
	}

	return ToSnapshot(instrument, m, f.cfg.Fields, f.cfg.Optional, f.now())
}

// ToSnapshot extracts the configured metric fields from a market entry.
// A missing or non-numeric field makes the whole entry malformed unless its
// metric is optional, in which case the metric is left out of the snapshot.
func ToSnapshot(instrument string, m *api.CoinMarket, fields map[string]string, optional map[string]bool, ts time.Time) (model.Snapshot, error) {
	metrics := make(map[string]float64, len(fields))
	for name, field := range fields {
		v, err := m.Float(field)
		if err != nil {
			if optional[name] {
				continue
			}
			return model.Snapshot{}, &api.MalformedError{
				Symbol: instrument,
				Reason: name + ": " + err.Error(),
			}
		}
		metrics[name] = v
	}
	return model.NewSnapshot(instrument, metrics, ts, Source), nil
}

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/detector"
	"github.com/rickgao/derivwatch/internal/dispatch"
	"github.com/rickgao/derivwatch/internal/fetcher"
	"github.com/rickgao/derivwatch/internal/metrics"
	"github.com/rickgao/derivwatch/internal/model"
	"github.com/rickgao/derivwatch/internal/store"
)

// persistTimeout bounds each state save and history write.
const persistTimeout = 10 * time.Second

// Fetcher fetches one snapshot per instrument. Satisfied by *fetcher.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, instruments []string) fetcher.Result
}

// Dispatcher delivers events to every destination. Satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	DispatchAll(ctx context.Context, events []model.AlertEvent) []dispatch.Outcome
}

// Publisher receives delivered alerts. Satisfied by *feed.Hub.
type Publisher interface {
	Publish(events []model.AlertEvent)
}

// Config holds coordinator settings.
type Config struct {
	Instruments []string
	Interval    time.Duration
	Grace       time.Duration // How long a cycle may keep working after shutdown
}

// ConfigFromConfig extracts coordinator settings from the root config.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		Instruments: append([]string(nil), cfg.Instruments...),
		Interval:    cfg.Poll.Interval,
		Grace:       cfg.Shutdown.Grace,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBackend sets the persistence backend. Defaults to an in-memory backend.
func WithBackend(b store.Backend) Option {
	return func(c *Coordinator) {
		if b != nil {
			c.backend = b
		}
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithPublisher sends delivered alerts to p after each cycle.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type delivery struct {
	event   model.AlertEvent
	receipt model.DeliveryReceipt
}

// Coordinator runs the fetch, detect and dispatch cycle.
type Coordinator struct {
	cfg        Config
	fetcher    Fetcher
	detector   *detector.Detector
	dispatcher Dispatcher
	backend    store.Backend
	metrics    *metrics.Metrics
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time

	snapshots *store.Snapshots
	cooldowns *store.Cooldowns

	phase        atomic.Int32
	shuttingDown atomic.Bool

	statusMu sync.RWMutex
	status   Status

	summary Summary
}

// New creates a Coordinator.
func New(cfg Config, f Fetcher, det *detector.Detector, d Dispatcher, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		cfg:        cfg,
		fetcher:    f,
		detector:   det,
		dispatcher: d,
		backend:    store.NewMemory(),
		logger:     logger,
		now:        time.Now,
		snapshots:  store.NewSnapshots(),
		cooldowns:  store.NewCooldowns(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Status{
		Interval:          cfg.Interval.String(),
		ConfiguredSymbols: append([]string(nil), cfg.Instruments...),
	}
	return c
}

// Phase returns the current phase. Safe for concurrent use.
func (c *Coordinator) Phase() Phase {
	if c.shuttingDown.Load() {
		return PhaseShuttingDown
	}
	return Phase(c.phase.Load())
}

// Status returns a copy of the status after the most recent cycle.
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	st := c.status.clone()
	c.statusMu.RUnlock()
	st.Phase = c.Phase().String()
	return st
}

// Run loads persisted state, runs a cycle immediately and then one per
// interval until ctx is cancelled. Only a failure to load persisted state is
// returned as an error.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	c.summary = Summary{StartedAt: c.now()}
	c.statusMu.Lock()
	c.status.StartedAt = c.summary.StartedAt
	c.statusMu.Unlock()

	if err := c.restore(ctx); err != nil {
		c.summary.StoppedAt = c.now()
		return c.summary, err
	}

	c.logger.Info("coordinator started",
		"instruments", len(c.cfg.Instruments),
		"interval", c.cfg.Interval,
		"backend", c.backend.Name(),
	)

	if ctx.Err() == nil {
		c.runCycle(ctx)
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			if ctx.Err() == nil {
				c.runCycle(ctx)
			}
		}
	}

	c.shuttingDown.Store(true)
	c.setPhase(PhaseShuttingDown)
	c.summary.StoppedAt = c.now()
	c.logger.Info("coordinator stopped", c.summary.LogAttrs()...)
	return c.summary, nil
}

// restore loads persisted snapshots and cooldowns into memory.
func (c *Coordinator) restore(ctx context.Context) error {
	st, err := c.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s state: %w", c.backend.Name(), err)
	}
	c.snapshots.Restore(st.Snapshots)
	c.cooldowns.Restore(st.Cooldowns)
	if len(st.Snapshots) > 0 || len(st.Cooldowns) > 0 {
		c.logger.Info("state restored",
			"backend", c.backend.Name(),
			"snapshots", len(st.Snapshots),
			"cooldowns", len(st.Cooldowns),
		)
	}
	c.publishStatus(Status{})
	return nil
}

// cycleContext returns a context that ignores ctx's cancellation until the
// grace period after it has passed.
func (c *Coordinator) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var mu sync.Mutex
	var timer *time.Timer
	stop := context.AfterFunc(ctx, func() {
		c.shuttingDown.Store(true)
		c.logger.Info("shutdown requested, finishing current cycle", "grace", c.cfg.Grace)
		mu.Lock()
		timer = time.AfterFunc(c.cfg.Grace, cancel)
		mu.Unlock()
	})

	return work, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel()
	}
}

func (c *Coordinator) runCycle(ctx context.Context) {
	work, cancel := c.cycleContext(ctx)
	defer cancel()
	c.cycle(work)
}

// cycle runs one full poll cycle on ctx.
func (c *Coordinator) cycle(ctx context.Context) {
	start := c.now()

	// Fetching
	c.setPhase(PhaseFetching)
	res := c.fetcher.Fetch(ctx, c.cfg.Instruments)

	var transient, permanent int
	failures := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		if f.Permanent {
			permanent++
			c.logger.Warn("instrument skipped", "instrument", f.Instrument, "permanent", true, "err", f.Err)
		} else {
			transient++
			c.logger.Warn("instrument skipped", "instrument", f.Instrument, "permanent", false, "err", f.Err)
		}
		failures = append(failures, fmt.Sprintf("%s: %v", f.Instrument, f.Err))
	}

	// Detecting
	c.setPhase(PhaseDetecting)
	now := c.now()
	var events []model.AlertEvent
	for _, snap := range res.Snapshots {
		var old *model.Snapshot
		if prev, ok := c.snapshots.Get(snap.Instrument); ok {
			old = &prev
		}
		events = append(events, c.detector.Detect(old, snap, c.cooldowns, now)...)
	}

	// Dispatching
	var outcomes []dispatch.Outcome
	if len(events) > 0 {
		c.setPhase(PhaseDispatching)
		outcomes = c.dispatcher.DispatchAll(ctx, events)
	}

	// Commit
	var delivered []model.AlertEvent
	var receipts []delivery
	for _, o := range outcomes {
		if !o.Delivered() {
			continue
		}
		c.cooldowns.Commit(o.Event, o.Receipts[0])
		delivered = append(delivered, o.Event)
		for _, rc := range o.Receipts {
			receipts = append(receipts, delivery{event: o.Event, receipt: rc})
		}
	}
	dropped := len(outcomes) - len(delivered)

	for _, snap := range res.Snapshots {
		c.snapshots.Put(snap)
	}

	c.persist(ctx, func(pctx context.Context) error {
		return c.backend.Save(pctx, store.State{
			Snapshots: c.snapshots.All(),
			Cooldowns: c.cooldowns.All(),
		})
	}, "save state")
	for _, r := range receipts {
		c.persist(ctx, func(pctx context.Context) error {
			return c.backend.RecordDelivery(pctx, r.event, r.receipt)
		}, "record delivery")
	}

	if c.publisher != nil && len(delivered) > 0 {
		c.publisher.Publish(delivered)
	}

	end := c.now()
	c.observe(res, transient, permanent, events, outcomes, end.Sub(start), end)

	c.summary.Cycles++
	c.summary.SnapshotsFetched += int64(len(res.Snapshots))
	c.summary.FetchFailures += int64(len(res.Failures))
	c.summary.AlertsGenerated += int64(len(events))
	c.summary.AlertsDelivered += int64(len(delivered))
	c.summary.AlertsDropped += int64(dropped)

	c.publishStatus(Status{
		LastCycleStart:  start,
		LastCycleEnd:    end,
		LastCycleMillis: end.Sub(start).Milliseconds(),
		LastFetched:     len(res.Snapshots),
		LastFailures:    failures,
		LastAlerts:      len(events),
		LastDelivered:   len(delivered),
		LastDropped:     dropped,
	})
	c.setPhase(PhaseIdle)

	c.logger.Info("cycle complete",
		"cycle", c.summary.Cycles,
		"fetched", len(res.Snapshots),
		"failed", len(res.Failures),
		"alerts", len(events),
		"delivered", len(delivered),
		"dropped", dropped,
		"duration", end.Sub(start),
	)
}

// persist runs fn with its own timeout. Failures are logged and counted.
func (c *Coordinator) persist(ctx context.Context, fn func(context.Context) error, what string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		c.logger.Error("persist failed", "op", what, "backend", c.backend.Name(), "err", err)
		if c.metrics != nil {
			c.metrics.PersistErrors.Inc()
		}
	}
}

func (c *Coordinator) observe(res fetcher.Result, transient, permanent int, events []model.AlertEvent, outcomes []dispatch.Outcome, d time.Duration, end time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveFetch(len(res.Snapshots), transient, permanent)
	for _, ev := range events {
		c.metrics.ObserveAlert(ev.Metric, string(ev.Severity))
	}
	for _, o := range outcomes {
		for _, rc := range o.Receipts {
			c.metrics.ObserveDelivery(rc.Destination, "ok")
		}
		for _, de := range o.Errors {
			c.metrics.ObserveDelivery(de.Destination, de.Kind())
		}
		if !o.Delivered() {
			c.metrics.AlertsDropped.Inc()
		}
	}
	c.metrics.TrackedInstruments.Set(float64(c.snapshots.Len()))
	c.metrics.ObserveCycle(d, end)
}

// publishStatus stores st, filling in fields owned by the coordinator.
func (c *Coordinator) publishStatus(st Status) {
	st.Instruments = instrumentStatuses(c.snapshots.All())

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st.Interval = c.status.Interval
	st.StartedAt = c.status.StartedAt
	st.ConfiguredSymbols = c.status.ConfiguredSymbols
	st.Cycles = c.summary.Cycles
	if st.LastCycleEnd.IsZero() {
		st.LastCycleStart = c.status.LastCycleStart
		st.LastCycleEnd = c.status.LastCycleEnd
		st.LastCycleMillis = c.status.LastCycleMillis
	}
	c.status = st
}

func (c *Coordinator) setPhase(p Phase) {
	c.phase.Store(int32(p))
	if c.metrics != nil {
		c.metrics.Phase.Set(float64(p))
	}
}

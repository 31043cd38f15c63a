package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/model"
)

// Destination is a named target on a channel.
type Destination struct {
	Name    string
	Channel string // Channel.Name()
	Target  string
}

// DestinationsFromConfig converts configured destinations.
func DestinationsFromConfig(dests []config.DestinationConfig) []Destination {
	out := make([]Destination, 0, len(dests))
	for _, d := range dests {
		out = append(out, Destination{Name: d.Name, Channel: d.Channel, Target: d.Target})
	}
	return out
}

// Config holds dispatcher configuration.
type Config struct {
	Concurrency      int           // Destinations served in parallel (default: 4)
	MaxAttempts      int           // Attempts per event and destination (default: 3)
	BaseBackoff      time.Duration // First transient backoff (default: 1s)
	MaxBackoff       time.Duration // Transient backoff cap (default: 30s)
	RateLimitDefault time.Duration // Wait when a rate limit carries no hint (default: 5s)
	RateLimitFloor   time.Duration // Minimum wait after a rate limit (default: 1s)
	RatePerSecond    float64       // Proactive send pacing, 0 disables
	SendTimeout      time.Duration // Per attempt (default: 15s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		MaxAttempts:      3,
		BaseBackoff:      time.Second,
		MaxBackoff:       30 * time.Second,
		RateLimitDefault: 5 * time.Second,
		RateLimitFloor:   time.Second,
		SendTimeout:      15 * time.Second,
	}
}

// ConfigFromConfig converts the dispatch section of the watcher config.
func ConfigFromConfig(c config.DispatchConfig) Config {
	return Config{
		Concurrency:      c.Concurrency,
		MaxAttempts:      c.MaxAttempts,
		BaseBackoff:      c.BaseBackoff,
		MaxBackoff:       c.MaxBackoff,
		RateLimitDefault: c.RateLimitDefault,
		RateLimitFloor:   c.RateLimitFloor,
		RatePerSecond:    c.RatePerSecond,
		SendTimeout:      c.SendTimeout,
	}
}

// Outcome is the delivery result of one event across all destinations.
type Outcome struct {
	Event    model.AlertEvent
	Receipts []model.DeliveryReceipt
	Errors   []*DeliveryError
}

// Delivered reports whether at least one destination accepted the event.
func (o Outcome) Delivered() bool {
	return len(o.Receipts) > 0
}

// Dispatcher delivers events to destinations with retry.
type Dispatcher struct {
	cfg      Config
	channels map[string]Channel
	dests    []Destination
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Dispatcher. Every destination's channel must be present in
// channels.
func New(cfg Config, channels []Channel, dests []Destination, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	d := &Dispatcher{
		cfg:      cfg,
		channels: make(map[string]Channel, len(channels)),
		dests:    dests,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	for _, dest := range dests {
		if _, ok := d.channels[dest.Channel]; !ok {
			return nil, fmt.Errorf("destination %s: unknown channel %q", dest.Name, dest.Channel)
		}
	}

	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return d, nil
}

// Destinations returns the configured destinations.
func (d *Dispatcher) Destinations() []Destination {
	return append([]Destination(nil), d.dests...)
}

// Dispatch delivers one event to one destination, retrying per the error
// class returned by the channel.
func (d *Dispatcher) Dispatch(ctx context.Context, dest Destination, ev model.AlertEvent) (model.DeliveryReceipt, error) {
	ch, ok := d.channels[dest.Channel]
	if !ok {
		return model.DeliveryReceipt{}, newDeliveryError(dest.Name, ev.ID, 0, KindPermanent,
			fmt.Errorf("unknown channel %q", dest.Channel))
	}

	msg := Format(ev)
	backoff := d.cfg.BaseBackoff

	for attempt := 1; ; attempt++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return model.DeliveryReceipt{}, newDeliveryError(dest.Name, ev.ID, attempt-1, KindTransient, err)
			}
		}

		id, err := d.send(ctx, ch, dest.Target, msg)
		if err == nil {
			return model.DeliveryReceipt{
				EventID:     ev.ID,
				Destination: dest.Name,
				MessageID:   id,
				SentAt:      d.now(),
				Attempts:    attempt,
			}, nil
		}

		kind, retryAfter := classify(err)
		if kind == KindPermanent || attempt >= d.cfg.MaxAttempts {
			return model.DeliveryReceipt{}, newDeliveryError(dest.Name, ev.ID, attempt, kind, err)
		}

		var wait time.Duration
		if kind == KindRateLimited {
			wait = retryAfter
			if wait <= 0 {
				wait = d.cfg.RateLimitDefault
			}
			wait = max(wait, d.cfg.RateLimitFloor)
		} else {
			// Add jitter: backoff * (0.5 to 1.5)
			wait = backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			backoff = min(backoff*2, d.cfg.MaxBackoff)
		}

		d.logger.Debug("retrying delivery",
			"destination", dest.Name,
			"event", ev.ID,
			"kind", kind,
			"attempt", attempt,
			"wait", wait,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return model.DeliveryReceipt{}, newDeliveryError(dest.Name, ev.ID, attempt, kind, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// send performs one attempt on a context that survives cancellation of ctx.
func (d *Dispatcher) send(ctx context.Context, ch Channel, target string, msg Message) (string, error) {
	sendCtx := context.WithoutCancel(ctx)
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, d.cfg.SendTimeout)
		defer cancel()
	}
	return ch.Send(sendCtx, target, msg)
}

// DispatchAll delivers every event to every destination. Events for one
// destination are sent in order, one at a time; destinations are served
// concurrently. Outcomes are returned in event order.
func (d *Dispatcher) DispatchAll(ctx context.Context, events []model.AlertEvent) []Outcome {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	type result struct {
		receipt model.DeliveryReceipt
		err     *DeliveryError
	}
	results := make([][]result, len(d.dests))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for di, dest := range d.dests {
		results[di] = make([]result, len(events))
		g.Go(func() error {
			for ei, ev := range events {
				if err := ctx.Err(); err != nil {
					results[di][ei].err = newDeliveryError(dest.Name, ev.ID, 0, KindTransient, err)
					continue
				}
				rc, err := d.Dispatch(ctx, dest, ev)
				if err != nil {
					de, ok := err.(*DeliveryError)
					if !ok {
						de = newDeliveryError(dest.Name, ev.ID, 0, KindTransient, err)
					}
					d.logger.Warn("alert delivery failed",
						"destination", dest.Name,
						"instrument", ev.Instrument,
						"metric", ev.Metric,
						"kind", de.Kind(),
						"attempts", de.Attempts,
						"err", de.Err,
					)
					results[di][ei].err = de
					continue
				}
				results[di][ei].receipt = rc
			}
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]Outcome, len(events))
	var delivered, failed int
	for ei, ev := range events {
		outcomes[ei].Event = ev
		for di := range d.dests {
			r := results[di][ei]
			if r.err != nil {
				outcomes[ei].Errors = append(outcomes[ei].Errors, r.err)
				failed++
				continue
			}
			outcomes[ei].Receipts = append(outcomes[ei].Receipts, r.receipt)
			delivered++
		}
	}

	d.logger.Info("dispatch complete",
		"events", len(events),
		"destinations", len(d.dests),
		"delivered", delivered,
		"failed", failed,
		"duration", time.Since(start),
	)

	return outcomes
}

package market

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// CoinLister lists supported coin symbols. Satisfied by *api.Client.
type CoinLister interface {
	GetSupportedCoins(ctx context.Context) ([]string, error)
}

// Config holds catalog settings.
type Config struct {
	ReconcileInterval  time.Duration // 0 disables background refresh
	InitialLoadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  6 * time.Hour,
		InitialLoadTimeout: 1 * time.Minute,
	}
}

// Catalog tracks supported symbols and which configured instruments are unknown.
type Catalog struct {
	cfg         Config
	client      CoinLister
	instruments []string
	logger      *slog.Logger

	mu         sync.RWMutex
	supported  map[string]struct{}
	unknown    []string
	lastSyncAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCatalog creates a Catalog for the configured instruments.
func NewCatalog(cfg Config, client CoinLister, instruments []string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		cfg:         cfg,
		client:      client,
		instruments: append([]string(nil), instruments...),
		logger:      logger,
		supported:   make(map[string]struct{}),
	}
}

// Start loads the catalog (blocking) and begins background refresh.
// An error means CoinGlass could not be reached.
func (c *Catalog) Start(ctx context.Context) error {
	loadCtx := ctx
	if c.cfg.InitialLoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, c.cfg.InitialLoadTimeout)
		defer cancel()
	}
	if err := c.initialSync(loadCtx); err != nil {
		return err
	}

	if c.cfg.ReconcileInterval > 0 {
		var runCtx context.Context
		runCtx, c.cancel = context.WithCancel(ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconciliationLoop(runCtx)
		}()
	}
	return nil
}

// Stop halts background refresh.
func (c *Catalog) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Supported reports whether CoinGlass lists symbol. Case-insensitive.
func (c *Catalog) Supported(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.supported[strings.ToUpper(symbol)]
	return ok
}

// Unknown returns the configured instruments missing from the catalog, sorted.
func (c *Catalog) Unknown() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.unknown...)
}

// Len returns the number of supported symbols.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.supported)
}

// LastSync returns when the catalog was last refreshed.
func (c *Catalog) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSyncAt
}

// replace swaps in a new symbol list and returns the configured instruments
// that went missing and came back compared to the previous list.
func (c *Catalog) replace(coins []string) (lost, found []string) {
	supported := make(map[string]struct{}, len(coins))
	for _, s := range coins {
		supported[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}

	var unknown []string
	for _, inst := range c.instruments {
		if _, ok := supported[strings.ToUpper(inst)]; !ok {
			unknown = append(unknown, inst)
		}
	}
	sort.Strings(unknown)

	c.mu.Lock()
	prev := make(map[string]struct{}, len(c.unknown))
	for _, u := range c.unknown {
		prev[u] = struct{}{}
	}
	c.supported = supported
	c.unknown = unknown
	c.lastSyncAt = time.Now()
	c.mu.Unlock()

	cur := make(map[string]struct{}, len(unknown))
	for _, u := range unknown {
		cur[u] = struct{}{}
		if _, ok := prev[u]; !ok {
			lost = append(lost, u)
		}
	}
	for u := range prev {
		if _, ok := cur[u]; !ok {
			found = append(found, u)
		}
	}
	sort.Strings(found)
	return lost, found
}

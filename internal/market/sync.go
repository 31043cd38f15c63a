package market

import (
	"context"
	"fmt"
	"time"
)

// initialSync loads supported coins and reports unknown instruments.
func (c *Catalog) initialSync(ctx context.Context) error {
	c.logger.Info("loading supported coins")
	start := time.Now()

	coins, err := c.client.GetSupportedCoins(ctx)
	if err != nil {
		return fmt.Errorf("initial catalog sync: %w", err)
	}
	c.replace(coins)

	unknown := c.Unknown()
	for _, inst := range unknown {
		c.logger.Warn("instrument not listed by coinglass, polling anyway", "instrument", inst)
	}

	c.logger.Info("initial sync complete",
		"supported", len(coins),
		"instruments", len(c.instruments),
		"unknown", len(unknown),
		"duration", time.Since(start),
	)
	return nil
}

// reconciliationLoop periodically refreshes the catalog.
func (c *Catalog) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconcile(ctx)
		}
	}
}

// reconcile refreshes the catalog and logs instruments that changed status.
// A failed refresh keeps the previous catalog.
func (c *Catalog) reconcile(ctx context.Context) {
	start := time.Now()

	coins, err := c.client.GetSupportedCoins(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("catalog reconciliation failed", "err", err)
		}
		return
	}

	lost, found := c.replace(coins)
	if len(lost) > 0 || len(found) > 0 {
		c.logger.Info("reconciliation found changes",
			"delisted", lost,
			"relisted", found,
			"duration", time.Since(start),
		)
		return
	}
	c.logger.Debug("reconciliation complete",
		"supported", len(coins),
		"duration", time.Since(start),
	)
}

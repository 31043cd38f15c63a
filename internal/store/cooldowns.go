package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/derivwatch/internal/model"
)

// committedRetention bounds how long committed event IDs are remembered.
const committedRetention = 24 * time.Hour

// Cooldowns records when an alert was last delivered for each
// (instrument, metric) pair.
type Cooldowns struct {
	mu        sync.RWMutex
	last      map[model.AlertKey]time.Time
	committed map[uuid.UUID]time.Time
}

// NewCooldowns creates an empty cooldown record.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{
		last:      make(map[model.AlertKey]time.Time),
		committed: make(map[uuid.UUID]time.Time),
	}
}

// LastSent returns when an alert for key was last delivered.
func (c *Cooldowns) LastSent(key model.AlertKey) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.last[key]
	return t, ok
}

// Commit records a confirmed delivery of event. It returns false and leaves
// the record untouched if the event was already committed.
func (c *Cooldowns) Commit(event model.AlertEvent, receipt model.DeliveryReceipt) bool {
	sentAt := receipt.SentAt
	if sentAt.IsZero() {
		sentAt = event.GeneratedAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.committed[event.ID]; done {
		return false
	}
	c.committed[event.ID] = sentAt
	c.last[event.Key()] = sentAt
	c.pruneLocked(sentAt)
	return true
}

// All returns a copy of the cooldown record.
func (c *Cooldowns) All() map[model.AlertKey]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.AlertKey]time.Time, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

// Len returns the number of keys with a recorded delivery.
func (c *Cooldowns) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.last)
}

// Restore loads a previously persisted cooldown record.
func (c *Cooldowns) Restore(last map[model.AlertKey]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range last {
		c.last[k] = v
	}
}

func (c *Cooldowns) pruneLocked(now time.Time) {
	cutoff := now.Add(-committedRetention)
	for id, t := range c.committed {
		if t.Before(cutoff) {
			delete(c.committed, id)
		}
	}
}

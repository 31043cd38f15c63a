package store

import (
	"sort"
	"sync"

	"github.com/rickgao/derivwatch/internal/model"
)

// Snapshots keeps the most recent snapshot per instrument. There is no
// eviction: the instrument set is fixed for the life of the process.
type Snapshots struct {
	mu sync.RWMutex
	m  map[string]model.Snapshot
}

// NewSnapshots creates an empty store.
func NewSnapshots() *Snapshots {
	return &Snapshots{m: make(map[string]model.Snapshot)}
}

// Get returns the stored snapshot for instrument.
func (s *Snapshots) Get(instrument string) (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.m[instrument]
	return snap, ok
}

// Put replaces the stored snapshot for the snapshot's instrument.
func (s *Snapshots) Put(snap model.Snapshot) {
	s.mu.Lock()
	s.m[snap.Instrument] = snap
	s.mu.Unlock()
}

// Len returns the number of instruments with a stored snapshot.
func (s *Snapshots) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// All returns every stored snapshot sorted by instrument.
func (s *Snapshots) All() []model.Snapshot {
	s.mu.RLock()
	out := make([]model.Snapshot, 0, len(s.m))
	for _, snap := range s.m {
		out = append(out, snap)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Restore loads previously persisted snapshots.
func (s *Snapshots) Restore(snaps []model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		s.m[snap.Instrument] = snap
	}
}

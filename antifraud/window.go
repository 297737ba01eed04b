// Package antifraud implements the per-miner rate limiting and heuristic
// rejection rules of spec §4.3 (C4), evaluated before an EventRecord is
// appended to the ledger.
package antifraud

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// WindowStore tracks rolling event counts per miner across multiple
// granularities (second/hour/day). It is pluggable so a single-instance
// deployment can use the in-memory LRU implementation and a multi-instance
// deployment of one company's miner can share state via Redis.
type WindowStore interface {
	// Increment records one event for miner at t and returns the count of
	// events recorded for that miner within window ending at t.
	Increment(ctx context.Context, miner string, t time.Time, window time.Duration) (int, error)
}

// memoryWindowStore is the default WindowStore, adapted from the teacher's
// common/cache.go LRU wrapper: one LRU of per-miner event logs, each holding
// timestamp slices keyed by window, bounded so a single company process
// cannot grow memory unbounded across many distinct miner addresses.
type memoryWindowStore struct {
	mu    sync.Mutex
	cache *lru.Cache // miner -> *eventLog
}

type eventLog struct {
	mu    sync.Mutex
	stamps map[time.Duration][]time.Time
}

// NewMemoryWindowStore builds an in-memory WindowStore bounded to
// maxMiners distinct miner addresses tracked concurrently.
func NewMemoryWindowStore(maxMiners int) WindowStore {
	if maxMiners <= 0 {
		maxMiners = 10000
	}
	c, _ := lru.New(maxMiners)
	return &memoryWindowStore{cache: c}
}

func (s *memoryWindowStore) Increment(ctx context.Context, miner string, t time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	v, ok := s.cache.Get(miner)
	var log *eventLog
	if ok {
		log = v.(*eventLog)
	} else {
		log = &eventLog{stamps: make(map[time.Duration][]time.Time)}
		s.cache.Add(miner, log)
	}
	s.mu.Unlock()

	log.mu.Lock()
	defer log.mu.Unlock()

	cutoff := t.Add(-window)
	kept := log.stamps[window][:0]
	for _, ts := range log.stamps[window] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, t)
	log.stamps[window] = kept
	return len(kept), nil
}

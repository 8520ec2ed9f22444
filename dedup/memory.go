package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

var _ Deduplicator = (*Memory)(nil)

// Memory is a process-local claim set. Ids are spread over independent
// shards so unrelated events do not contend on one lock.
type Memory struct {
	shards    [shardCount]shard
	retention time.Duration
	now       func() time.Time
}

type shard struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemory(retention time.Duration) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	m := &Memory{retention: retention, now: time.Now}
	for i := range m.shards {
		m.shards[i].expires = make(map[string]time.Time)
	}
	return m
}

func (m *Memory) shardFor(eventID string) *shard {
	return &m.shards[xxhash.Sum64String(eventID)%shardCount]
}

func (m *Memory) ShouldApply(_ context.Context, eventID string) (bool, error) {
	s := m.shardFor(eventID)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[eventID] = now.Add(m.retention)
	return true, nil
}

func (m *Memory) Release(_ context.Context, eventID string) error {
	s := m.shardFor(eventID)
	s.mu.Lock()
	delete(s.expires, eventID)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired claims and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, exp := range s.expires {
			if !now.Before(exp) {
				delete(s.expires, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

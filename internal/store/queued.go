// Package store remembers which tracks were recently queued so the queuer
// does not hand the same song to the player twice.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// QueueMemory is a bounded set of recently queued track IDs. The LRU holds
// the exact members; the Bloom filter answers most misses without locking
// the LRU's recency list.
type QueueMemory struct {
	mu        sync.RWMutex
	bloom     *bloom.BloomFilter
	recent    *lru.Cache[string, struct{}]
	capacity  uint
	fpRate    float64
	evictions uint
}

// NewQueueMemory creates a memory holding up to capacity IDs. Non-positive
// capacities are raised to 1.
func NewQueueMemory(capacity int, falsePositiveRate float64) *QueueMemory {
	if capacity < 1 {
		capacity = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}

	m := &QueueMemory{
		capacity: uint(capacity),
		fpRate:   falsePositiveRate,
		bloom:    bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
	}
	// lru.NewWithEvict only fails on a non-positive size.
	m.recent, _ = lru.NewWithEvict(capacity, func(string, struct{}) { m.evictions++ })
	return m
}

// Has reports whether trackID was queued recently.
func (m *QueueMemory) Has(trackID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.bloom.TestString(trackID) {
		return false
	}
	return m.recent.Contains(trackID)
}

// Add remembers trackID, forgetting the oldest entry when full.
func (m *QueueMemory) Add(trackID string) {
	if trackID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent.Add(trackID, struct{}{})
	m.bloom.AddString(trackID)
	m.compact()
}

// Load replaces the contents with trackIDs, oldest first.
func (m *QueueMemory) Load(trackIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent.Purge()
	for _, id := range trackIDs {
		if id != "" {
			m.recent.Add(id, struct{}{})
		}
	}
	m.rebuild()
}

// Size returns the number of remembered IDs.
func (m *QueueMemory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent.Len()
}

// compact rebuilds the filter once evicted IDs outnumber live ones, since a
// Bloom filter cannot forget.
func (m *QueueMemory) compact() {
	if m.evictions < m.capacity {
		return
	}
	m.rebuild()
}

func (m *QueueMemory) rebuild() {
	m.evictions = 0
	m.bloom = bloom.NewWithEstimates(m.capacity, m.fpRate)
	for _, id := range m.recent.Keys() {
		m.bloom.AddString(id)
	}
}

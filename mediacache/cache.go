// Package mediacache vends the digest-keyed cache of previously uploaded
// assets. The cache is advisory: a hit saves remote calls, a miss or a stale
// entry only means the remote service must be consulted again.
package mediacache

import (
	"sort"
	"sync"
	"time"
)

// Entry maps a content digest to the remote identity of an uploaded asset.
// Entries are never mutated in place; revalidation stores a fresh one.
type Entry struct {
	Digest   string
	MediaID  string
	URL      string
	CachedAt time.Time
}

// Cache is the interface of all media caches used in the application. This is
// to retain the flexibility to adopt multiple kinds of cache and switching.
type Cache interface {
	// Get returns the live entry for digest; stale or absent entries report false.
	Get(digest string) (Entry, bool)
	Put(e Entry)
	Len() int
	Clear()
}

// Memory implements Cache with a lock-guarded map. Entries older than ttl are
// treated as stale. When the map is full, the oldest ~10% of entries by cache
// time are evicted before insertion, atomically under the write lock.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
}

func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Memory{
		entries:    make(map[string]Entry, maxEntries),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (m *Memory) Get(digest string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[digest]
	if !ok || time.Since(e.CachedAt) > m.ttl {
		return Entry{}, false
	}
	return e, true
}

func (m *Memory) Put(e Entry) {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[e.Digest]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	m.entries[e.Digest] = e
}

// evictOldest removes the oldest ~10% of entries (at least one). Caller holds
// the write lock.
func (m *Memory) evictOldest() {
	n := m.maxEntries / 10
	if n < 1 {
		n = 1
	}
	victims := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].CachedAt.Before(victims[j].CachedAt)
	})
	if n > len(victims) {
		n = len(victims)
	}
	for _, e := range victims[:n] {
		delete(m.entries, e.Digest)
	}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry, m.maxEntries)
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryEntries bounds the in-process cache size
const DefaultMemoryEntries = 10000

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
	tags      []string
}

// Memory is an in-process Store. Expiry is checked lazily on read; there is
// no background eviction. Every way an entry leaves the LRU, capacity
// eviction included, drops its key from the tag index.
type Memory struct {
	entries *lru.LRU[string, memoryEntry]
	now     func() time.Time

	// writeMu serializes writers so an entry and its tag references change together
	writeMu sync.Mutex

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// NewMemory creates an in-process cache holding at most maxEntries entries
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	m := &Memory{
		now:  time.Now,
		tags: make(map[string]map[string]struct{}),
	}
	// A zero TTL disables the LRU's own expiry goroutine; entries carry their own deadline.
	m.entries = lru.NewLRU[string, memoryEntry](maxEntries, m.onEvict, 0)
	return m
}

// onEvict runs under the LRU's lock; it must only touch the tag index
func (m *Memory) onEvict(k string, entry memoryEntry) {
	m.untag(k, entry.tags)
}

func (m *Memory) Get(ctx context.Context, key Key, dest interface{}) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	k := key.String()

	entry, ok := m.entries.Get(k)
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.remove(k)
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		m.remove(k)
		return false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration, tags ...string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	entry := memoryEntry{data: data, tags: append([]string(nil), tags...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	k := key.String()
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// Replacing a key does not fire the eviction callback
	if old, ok := m.entries.Peek(k); ok {
		m.untag(k, old.tags)
	}
	m.mu.Lock()
	for _, tag := range entry.tags {
		set, ok := m.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tags[tag] = set
		}
		set[k] = struct{}{}
	}
	m.mu.Unlock()

	m.entries.Add(k, entry)
	return nil
}

func (m *Memory) Forget(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.remove(key.String())
	return nil
}

func (m *Memory) InvalidateTags(ctx context.Context, tags ...string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	keys := make(map[string]struct{})
	for _, tag := range tags {
		for k := range m.tags[tag] {
			keys[k] = struct{}{}
		}
	}
	m.mu.Unlock()

	for k := range keys {
		m.entries.Remove(k)
	}

	m.mu.Lock()
	for _, tag := range tags {
		delete(m.tags, tag)
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	return m.entries.Len()
}

// tagCount returns the number of tags with at least one key
func (m *Memory) tagCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tags)
}

func (m *Memory) remove(k string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.entries.Remove(k)
}

func (m *Memory) untag(k string, tags []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		if set, ok := m.tags[tag]; ok {
			delete(set, k)
			if len(set) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}

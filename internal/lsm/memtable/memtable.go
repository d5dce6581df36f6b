// Package memtable provides the in-memory sorted buffer of the LSM
// engine, backed by a red-black tree.
package memtable

import (
	"sync"

	"github.com/madrone-kv/madrone/internal/rbtree"
)

// Tombstone is a special marker value for deleted keys.
const Tombstone = "__TOMBSTONE__"

// MemTable is a sorted in-memory table of key-value pairs. Deletes are
// recorded as tombstones so they shadow older data in the tables below.
// The tree itself is single-owner; all locking happens here.
type MemTable struct {
	tree  *rbtree.Tree[string, string]
	size  int // Approximate size in bytes
	count int // Number of entries, tombstones included
	mu    sync.RWMutex
}

// New creates a new MemTable instance.
func New() *MemTable {
	return &MemTable{
		tree: rbtree.New[string, string](),
	}
}

// Put adds or updates a key-value pair in the MemTable.
func (m *MemTable) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(key, value)
}

// Delete marks a key as deleted by writing a tombstone.
func (m *MemTable) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(key, Tombstone)
}

// set upserts through the tree's no-duplicate-insert policy: a fresh
// key is inserted, an existing one gets a value-only update.
func (m *MemTable) set(key, value string) {
	if old, exists := m.tree.Find(key); exists {
		m.tree.Update(key, value)
		m.size += len(value) - len(old)
		return
	}
	m.tree.Insert(key, value)
	m.size += len(key) + len(value)
	m.count++
}

// Get retrieves a value by key. A tombstoned key reads as absent.
func (m *MemTable) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.tree.Find(key)
	if !exists || value == Tombstone {
		return "", false
	}
	return value, true
}

// GetWithTombstone retrieves a value by key along with tombstone
// information. Returns value, found flag, tombstone flag.
func (m *MemTable) GetWithTombstone(key string) (string, bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.tree.Find(key)
	if !exists {
		return "", false, false
	}
	if value == Tombstone {
		return "", true, true
	}
	return value, true, false
}

// Size returns the approximate size of the MemTable in bytes.
func (m *MemTable) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size
}

// Count returns the number of entries, tombstones included.
func (m *MemTable) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.count
}

// ForEach iterates over all entries in ascending key order.
func (m *MemTable) ForEach(fn func(key, value string) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, value := range m.tree.InOrder() {
		if !fn(key, value) {
			break
		}
	}
}

// entry is a snapshotted key-value pair.
type entry struct {
	key, value string
}

// Iterator provides iteration over a point-in-time snapshot of the
// MemTable in ascending key order.
type Iterator struct {
	entries []entry
	pos     int
}

// Iterator snapshots the whole table.
func (m *MemTable) Iterator() *Iterator {
	return m.snapshot(func(yield func(string, string) bool) {
		for k, v := range m.tree.InOrder() {
			if !yield(k, v) {
				return
			}
		}
	})
}

// Scan snapshots the entries with keys in [lo, hi], using the tree's
// pruned range traversal.
func (m *MemTable) Scan(lo, hi string) *Iterator {
	return m.snapshot(func(yield func(string, string) bool) {
		for k, v := range m.tree.Range(lo, hi) {
			if !yield(k, v) {
				return
			}
		}
	})
}

func (m *MemTable) snapshot(seq func(yield func(string, string) bool)) *Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it := &Iterator{pos: -1}
	seq(func(k, v string) bool {
		it.entries = append(it.entries, entry{key: k, value: v})
		return true
	})
	return it
}

// Next advances the iterator to the next entry.
func (it *Iterator) Next() bool {
	if it.pos >= len(it.entries)-1 {
		return false
	}
	it.pos++
	return true
}

// Key returns the current key.
func (it *Iterator) Key() string {
	return it.entries[it.pos].key
}

// Value returns the current value.
func (it *Iterator) Value() string {
	return it.entries[it.pos].value
}

// IsTombstone reports whether the current entry is a tombstone.
func (it *Iterator) IsTombstone() bool {
	return it.entries[it.pos].value == Tombstone
}

// Close releases resources held by the iterator.
func (it *Iterator) Close() error {
	it.entries = nil
	it.pos = -1
	return nil
}

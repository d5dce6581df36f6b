// Package tools provides the iterator plumbing shared by the LSM
// engine: a common iterator interface plus merge and range wrappers.
package tools

import (
	"container/heap"

	"github.com/madrone-kv/madrone/internal/lsm/memtable"
)

// Iterator is the common interface for all iterators in the engine.
type Iterator interface {
	// Next advances the iterator to the next key-value pair.
	// Returns false when no more items exist or when an error occurs.
	Next() bool

	// Key returns the current key.
	Key() string

	// Value returns the current value.
	Value() string

	// IsTombstone returns true if the current entry is a tombstone marker.
	IsTombstone() bool

	// Close releases resources associated with the iterator.
	Close() error
}

// item is an element in the priority queue used by MergeIterator.
type item struct {
	iterator Iterator
	key      string
	value    string
	priority int // position in the source list; lower wins key ties
	index    int // maintained by heap.Interface
}

// priorityQueue implements heap.Interface and holds items.
type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// smallest key first; on equal keys the newer source wins so the
	// stale duplicate gets skipped, never surfaced
	if pq[i].key != pq[j].key {
		return pq[i].key < pq[j].key
	}
	return pq[i].priority < pq[j].priority
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	it := x.(*item)
	it.index = n
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	*pq = old[0 : n-1]
	return it
}

// MergeIterator merges multiple iterators in ascending key order.
// Duplicate keys resolve to the iterator that appears earliest in the
// source list, so callers pass newest data first.
type MergeIterator struct {
	iterators []Iterator
	pq        priorityQueue
	current   *item
	seen      map[string]struct{} // keys already surfaced
}

// NewMergeIterator creates a MergeIterator over the given sources.
// The first iterator in the list has the highest priority (newest data).
func NewMergeIterator(iterators []Iterator) *MergeIterator {
	m := &MergeIterator{
		iterators: iterators,
		seen:      make(map[string]struct{}),
	}

	m.pq = make(priorityQueue, 0, len(iterators))
	for priority, it := range iterators {
		if it.Next() {
			heap.Push(&m.pq, &item{
				iterator: it,
				key:      it.Key(),
				value:    it.Value(),
				priority: priority,
			})
		}
	}

	return m
}

// Next advances the iterator to the next distinct key.
func (m *MergeIterator) Next() bool {
	for m.pq.Len() > 0 {
		it := heap.Pop(&m.pq).(*item)

		// refill from the same source before deciding, so the heap
		// always holds each source's current head
		if it.iterator.Next() {
			heap.Push(&m.pq, &item{
				iterator: it.iterator,
				key:      it.iterator.Key(),
				value:    it.iterator.Value(),
				priority: it.priority,
			})
		}

		if _, ok := m.seen[it.key]; ok {
			continue // stale duplicate from an older source
		}
		m.seen[it.key] = struct{}{}
		m.current = it
		return true
	}

	m.current = nil
	return false
}

// Key returns the current key.
func (m *MergeIterator) Key() string {
	if m.current == nil {
		return ""
	}
	return m.current.key
}

// Value returns the current value.
func (m *MergeIterator) Value() string {
	if m.current == nil {
		return ""
	}
	return m.current.value
}

// IsTombstone returns whether the current entry is a tombstone.
func (m *MergeIterator) IsTombstone() bool {
	if m.current == nil {
		return false
	}
	return m.current.value == memtable.Tombstone
}

// Close closes all source iterators.
func (m *MergeIterator) Close() error {
	var err error
	for _, it := range m.iterators {
		if closeErr := it.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// KeyRange bounds a scan to [Start, End], both inclusive. An empty
// Start or End leaves that side unbounded.
type KeyRange struct {
	Start string
	End   string
}

// RangeIterator wraps an Iterator and filters keys to a range.
type RangeIterator struct {
	Iterator
	rang      KeyRange
	exhausted bool
}

// NewRangeIterator creates a new range-limited iterator.
func NewRangeIterator(it Iterator, rang KeyRange) *RangeIterator {
	return &RangeIterator{
		Iterator: it,
		rang:     rang,
	}
}

// Next advances to the next key in the range. The underlying iterator
// yields ascending keys, so the first key past End exhausts the scan.
func (r *RangeIterator) Next() bool {
	if r.exhausted {
		return false
	}

	for r.Iterator.Next() {
		key := r.Key()

		if r.rang.End != "" && key > r.rang.End {
			r.exhausted = true
			return false
		}

		if r.rang.Start != "" && key < r.rang.Start {
			continue
		}

		return true
	}

	r.exhausted = true
	return false
}

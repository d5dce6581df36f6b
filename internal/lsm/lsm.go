// Package lsm implements a Log-Structured Merge Tree storage engine.
//
// The engine buffers writes in a red-black-tree-backed MemTable,
// persists them through a write-ahead log, and periodically flushes
// and compacts sorted tables on disk.
package lsm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/madrone-kv/madrone/internal/lsm/memtable"
	"github.com/madrone-kv/madrone/internal/lsm/sstable"
	"github.com/madrone-kv/madrone/internal/lsm/tools"
	"github.com/madrone-kv/madrone/internal/lsm/wal"
)

// Common errors returned by the engine.
var (
	ErrClosed      = errors.New("database is closed")
	ErrKeyNotFound = errors.New("key not found")
)

// KV is one key-value pair returned by Scan.
type KV struct {
	Key   string
	Value string
}

// DB represents an LSM storage engine instance.
type DB struct {
	config      *Config
	wal         *wal.WAL
	memTable    *memtable.MemTable
	immutables  []*memtable.MemTable
	sstables    []*sstable.SSTable
	compactChan chan struct{}
	compacting  atomic.Bool
	mu          sync.RWMutex
	closed      bool
}

// Open opens or creates a database at the specified path.
func Open(path string, config *Config) (*DB, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.Dir = path

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db := &DB{
		config:      config,
		memTable:    memtable.New(),
		compactChan: make(chan struct{}, 1),
	}

	if err := db.loadSSTables(); err != nil {
		return nil, fmt.Errorf("failed to load SSTables: %w", err)
	}

	// rebuild the memtable from any logs the previous process left,
	// then start a fresh one
	if err := db.replayWALs(); err != nil {
		db.closeSSTables()
		return nil, fmt.Errorf("failed to replay WAL: %w", err)
	}

	w, err := wal.New(db.walPath(), config.SyncWrites)
	if err != nil {
		db.closeSSTables()
		return nil, fmt.Errorf("failed to create WAL: %w", err)
	}
	db.wal = w

	go db.backgroundCompaction()

	return db, nil
}

// Put stores a key-value pair.
func (db *DB) Put(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	entry := &wal.Entry{
		Operation: wal.OpPut,
		Key:       key,
		Value:     value,
	}
	if err := db.wal.Append(entry); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}

	db.memTable.Put(key, value)
	putTotal.Inc()

	if db.memTable.Size() >= db.config.MemTableSize {
		if err := db.rotateMemTableLocked(); err != nil {
			return fmt.Errorf("failed to flush MemTable: %w", err)
		}
	}

	return nil
}

// Get retrieves a value by key, consulting the MemTable, the immutable
// queue and finally the on-disk tables from newest to oldest.
func (db *DB) Get(key string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return "", ErrClosed
	}

	value, found, isTombstone := db.memTable.GetWithTombstone(key)
	if found {
		return db.resolve(value, isTombstone)
	}

	for i := len(db.immutables) - 1; i >= 0; i-- {
		value, found, isTombstone := db.immutables[i].GetWithTombstone(key)
		if found {
			return db.resolve(value, isTombstone)
		}
	}

	for i := len(db.sstables) - 1; i >= 0; i-- {
		if !db.sstables[i].MayContain(key) {
			bloomSkipTotal.Inc()
			continue
		}

		value, found, isTombstone, err := db.sstables[i].GetWithTombstone(key)
		if err != nil {
			return "", fmt.Errorf("failed to read from SSTable: %w", err)
		}
		if found {
			return db.resolve(value, isTombstone)
		}
	}

	getTotal.WithLabelValues("miss").Inc()
	return "", ErrKeyNotFound
}

func (db *DB) resolve(value string, isTombstone bool) (string, error) {
	if isTombstone {
		getTotal.WithLabelValues("miss").Inc()
		return "", ErrKeyNotFound
	}
	getTotal.WithLabelValues("hit").Inc()
	return value, nil
}

// Delete removes a key by writing a tombstone over it.
func (db *DB) Delete(key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	entry := &wal.Entry{
		Operation: wal.OpDelete,
		Key:       key,
	}
	if err := db.wal.Append(entry); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}

	db.memTable.Delete(key)
	deleteTotal.Inc()

	if db.memTable.Size() >= db.config.MemTableSize {
		if err := db.rotateMemTableLocked(); err != nil {
			return fmt.Errorf("failed to flush MemTable: %w", err)
		}
	}

	return nil
}

// Scan returns the live key-value pairs with keys in [lo, hi], both
// inclusive, in ascending key order. All layers are merged with the
// newest version of each key winning; tombstoned keys are omitted.
func (db *DB) Scan(lo, hi string) ([]KV, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}

	iterators := []tools.Iterator{db.memTable.Scan(lo, hi)}
	for i := len(db.immutables) - 1; i >= 0; i-- {
		iterators = append(iterators, db.immutables[i].Scan(lo, hi))
	}
	for i := len(db.sstables) - 1; i >= 0; i-- {
		it, err := db.sstables[i].Iterator()
		if err != nil {
			closeAll(iterators)
			return nil, fmt.Errorf("failed to open SSTable iterator: %w", err)
		}
		iterators = append(iterators, tools.NewRangeIterator(it, tools.KeyRange{Start: lo, End: hi}))
	}

	merged := tools.NewMergeIterator(iterators)
	defer merged.Close()

	var result []KV
	for merged.Next() {
		if merged.IsTombstone() {
			continue
		}
		result = append(result, KV{Key: merged.Key(), Value: merged.Value()})
	}
	return result, nil
}

func closeAll(iterators []tools.Iterator) {
	for _, it := range iterators {
		it.Close()
	}
}

// Close closes the database, flushing all buffered data to disk.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	close(db.compactChan)

	if db.memTable.Size() > 0 {
		db.immutables = append(db.immutables, db.memTable)
		db.memTable = memtable.New()
	}
	for len(db.immutables) > 0 {
		if err := db.flushOldestImmutable(); err != nil {
			return fmt.Errorf("failed to flush MemTable: %w", err)
		}
	}

	if err := db.wal.Close(); err != nil {
		return fmt.Errorf("failed to close WAL: %w", err)
	}
	if err := os.Remove(db.wal.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove WAL: %w", err)
	}

	for _, table := range db.sstables {
		if err := table.Close(); err != nil {
			return fmt.Errorf("failed to close SSTable: %w", err)
		}
	}

	return nil
}

// Compact forces a compaction run.
func (db *DB) Compact() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.compaction()
}

// rotateMemTableLocked moves the current MemTable onto the immutable
// queue, starts a fresh one with a fresh WAL, and flushes the queue if
// it grew too long. Assumes db.mu is held.
func (db *DB) rotateMemTableLocked() error {
	db.immutables = append(db.immutables, db.memTable)
	db.memTable = memtable.New()

	if len(db.immutables) > db.config.MaxImmutableMemTables {
		if err := db.flushOldestImmutable(); err != nil {
			return err
		}
	}

	newWAL, err := wal.New(db.walPath(), db.config.SyncWrites)
	if err != nil {
		return fmt.Errorf("failed to create new WAL: %w", err)
	}

	oldWAL := db.wal
	db.wal = newWAL

	if err := oldWAL.Close(); err != nil {
		return fmt.Errorf("failed to close old WAL: %w", err)
	}
	if err := os.Remove(oldWAL.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old WAL: %w", err)
	}

	return nil
}

// flushOldestImmutable writes the oldest immutable MemTable out as a
// level-0 SSTable.
func (db *DB) flushOldestImmutable() error {
	if len(db.immutables) == 0 {
		return nil
	}

	immutable := db.immutables[0]
	db.immutables = db.immutables[1:]

	table, err := sstable.Create(db.sstablePath(0), immutable, 0, db.config.BloomFilterBits)
	if err != nil {
		return fmt.Errorf("failed to create SSTable: %w", err)
	}
	db.sstables = append(db.sstables, table)
	flushTotal.Inc()

	db.config.logger().Debug("flushed memtable",
		"path", table.Path,
		"entries", immutable.Count(),
	)

	// during Close the channel is already gone; the final flushes run
	// without scheduling anything
	if !db.closed && db.shouldCompact() {
		select {
		case db.compactChan <- struct{}{}:
		default:
			// compaction already scheduled
		}
	}

	return nil
}

// walPath names a fresh WAL file. Names sort by creation time so
// replay applies logs in write order.
func (db *DB) walPath() string {
	return filepath.Join(db.config.Dir, fmt.Sprintf("wal-%020d.log", time.Now().UnixNano()))
}

// sstablePath names a fresh SSTable. The timestamp keeps names sorted
// by creation time; the uuid suffix keeps two flushes in the same
// nanosecond from colliding.
func (db *DB) sstablePath(level int) string {
	return filepath.Join(db.config.Dir,
		fmt.Sprintf("sstable-L%d-%020d-%s.db", level, time.Now().UnixNano(), uuid.NewString()[:8]))
}

// shouldCompact reports whether level 0 has accumulated enough tables.
func (db *DB) shouldCompact() bool {
	l0Count := 0
	for _, table := range db.sstables {
		if table.Level == 0 {
			l0Count++
		}
	}
	return l0Count >= db.config.CompactionFactor
}

// replayWALs applies every log left in the data directory, oldest
// first, then removes them; their contents live in the MemTable now
// and will reach disk through the normal flush path.
func (db *DB) replayWALs() error {
	paths, err := filepath.Glob(filepath.Join(db.config.Dir, "wal-*.log"))
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		w, err := wal.New(path, false)
		if err != nil {
			return err
		}

		err = w.Replay(func(entry *wal.Entry) error {
			switch entry.Operation {
			case wal.OpPut:
				db.memTable.Put(entry.Key, entry.Value)
			case wal.OpDelete:
				db.memTable.Delete(entry.Key)
			}
			return nil
		})
		if closeErr := w.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove replayed WAL: %w", err)
		}

		db.config.logger().Info("replayed WAL", "path", path)
	}

	return nil
}

// loadSSTables opens the existing SSTables in the data directory.
func (db *DB) loadSSTables() error {
	pattern := filepath.Join(db.config.Dir, "sstable-*.db")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list SSTable files: %w", err)
	}

	// age order comes from the embedded timestamp; the level prefix in
	// the name must not take part in the comparison
	sort.Slice(files, func(i, j int) bool {
		return stampOf(files[i]) < stampOf(files[j])
	})

	for _, file := range files {
		table, err := sstable.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open SSTable %s: %w", file, err)
		}
		db.sstables = append(db.sstables, table)
	}

	return nil
}

func (db *DB) closeSSTables() {
	for _, table := range db.sstables {
		table.Close()
	}
}

// backgroundCompaction runs compactions as flushes request them.
func (db *DB) backgroundCompaction() {
	for range db.compactChan {
		if !db.compacting.CompareAndSwap(false, true) {
			continue
		}

		db.mu.Lock()
		err := db.compaction()
		db.mu.Unlock()

		db.compacting.Store(false)

		if err != nil {
			db.config.logger().Error("background compaction failed", "error", err)
		}
	}
}

// compaction merges the oldest tables of each overfull level into a
// single table one level down, repeating until no level holds
// CompactionFactor tables or more. Assumes db.mu is held.
func (db *DB) compaction() error {
	if db.config.CompactionFactor < 2 {
		return nil
	}

	start := time.Now()
	defer func() {
		compactionTotal.Inc()
		compactionDuration.Observe(time.Since(start).Seconds())
	}()

	// each merge replaces CompactionFactor tables with one, so this
	// terminates
	for {
		levels := make(map[int][]*sstable.SSTable)
		maxLevel := 0
		for _, table := range db.sstables {
			levels[table.Level] = append(levels[table.Level], table)
			maxLevel = max(maxLevel, table.Level)
		}

		merged := false
		for level := 0; level <= maxLevel; level++ {
			candidates := levels[level]
			if len(candidates) < db.config.CompactionFactor {
				continue
			}

			// oldest first; names embed the creation timestamp
			sort.Slice(candidates, func(i, j int) bool {
				return candidates[i].Path < candidates[j].Path
			})
			selected := candidates[:db.config.CompactionFactor]

			if err := db.compactTables(selected, level); err != nil {
				return err
			}
			merged = true
		}

		if !merged {
			return nil
		}
	}
}

// stampPattern extracts the creation timestamp embedded in a table's
// file name.
var stampPattern = regexp.MustCompile(`sstable-L\d+-(\d{20})-`)

func stampOf(path string) string {
	if matches := stampPattern.FindStringSubmatch(filepath.Base(path)); len(matches) >= 2 {
		return matches[1]
	}
	return fmt.Sprintf("%020d", 0)
}

// compactTables merges the selected tables into one at level+1 and
// retires the inputs. db.sstables is kept in age order: the output
// carries the newest input's timestamp and takes its slot, so it never
// shadows data written after its inputs, on this run or after a reopen.
func (db *DB) compactTables(selected []*sstable.SSTable, level int) error {
	inCompaction := make(map[*sstable.SSTable]bool, len(selected))
	for _, table := range selected {
		inCompaction[table] = true
	}

	// tombstones are only safe to drop when nothing older than the
	// inputs remains anywhere, otherwise they still shadow live data
	newestIdx := -1
	for i, table := range db.sstables {
		if inCompaction[table] {
			newestIdx = i
		}
	}
	dropTombstones := newestIdx == len(selected)-1

	// newest data first so the merge resolves duplicates correctly
	iterators := make([]tools.Iterator, 0, len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		it, err := selected[i].Iterator()
		if err != nil {
			closeAll(iterators)
			return fmt.Errorf("failed to open SSTable iterator: %w", err)
		}
		iterators = append(iterators, it)
	}

	merger := tools.NewMergeIterator(iterators)
	defer merger.Close()

	merged := memtable.New()
	for merger.Next() {
		if merger.IsTombstone() {
			if dropTombstones {
				continue
			}
			merged.Delete(merger.Key())
		} else {
			merged.Put(merger.Key(), merger.Value())
		}
	}

	// a merge can come out empty once its tombstones are dropped; the
	// inputs still have to be retired
	var newTable *sstable.SSTable
	if merged.Count() > 0 {
		nextLevel := level + 1
		stamp := stampOf(selected[len(selected)-1].Path)
		path := filepath.Join(db.config.Dir,
			fmt.Sprintf("sstable-L%d-%s-%s.db", nextLevel, stamp, uuid.NewString()[:8]))

		table, err := sstable.Create(path, merged, nextLevel, db.config.BloomFilterBits)
		if err != nil {
			return fmt.Errorf("failed to create compacted SSTable: %w", err)
		}
		newTable = table
	}

	remaining := make([]*sstable.SSTable, 0, len(db.sstables))
	for i, table := range db.sstables {
		if !inCompaction[table] {
			remaining = append(remaining, table)
			continue
		}
		if i == newestIdx && newTable != nil {
			remaining = append(remaining, newTable)
		}
		table.Close()
		os.Remove(table.Path)
	}
	db.sstables = remaining

	db.config.logger().Debug("compacted tables",
		"level", level,
		"inputs", len(selected),
		"entries", merged.Count(),
	)

	return nil
}

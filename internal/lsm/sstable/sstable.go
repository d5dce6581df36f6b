// Package sstable implements the immutable on-disk sorted tables of
// the LSM engine.
package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/madrone-kv/madrone/internal/lsm/memtable"
	"github.com/madrone-kv/madrone/internal/lsm/sstable/bloom"
	"github.com/madrone-kv/madrone/internal/lsm/tools"
)

// File format:
// - Header: Version, Count, IndexOffset, BloomOffset, BloomSize
// - Data: sequence of (KeyLength, Key, ValueLength, Value) ascending by key
// - Index: sequence of (KeyLength, Key, Offset) in the same order
// - Bloom filter: serialized filter

// headerSize is the fixed on-disk size of the header: two uint32, two
// int64 and a uint32.
const headerSize = 4 + 4 + 8 + 8 + 4

// header contains metadata about the SSTable.
type header struct {
	Version     uint32
	Count       uint32
	IndexOffset int64
	BloomOffset int64
	BloomSize   uint32
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.Count)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.IndexOffset))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.BloomOffset))
	binary.LittleEndian.PutUint32(buf[24:28], h.BloomSize)
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("invalid SSTable header: got %d bytes, need %d", len(buf), headerSize)
	}
	return &header{
		Version:     binary.LittleEndian.Uint32(buf[0:4]),
		Count:       binary.LittleEndian.Uint32(buf[4:8]),
		IndexOffset: int64(binary.LittleEndian.Uint64(buf[8:16])),
		BloomOffset: int64(binary.LittleEndian.Uint64(buf[16:24])),
		BloomSize:   binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}

// SSTable represents a Sorted String Table file on disk.
type SSTable struct {
	Path  string
	Level int
	file  *os.File
	bloom *bloom.BloomFilter
	index map[string]int64 // key to data-section offset
	mu    sync.RWMutex
}

var levelPattern = regexp.MustCompile(`sstable-L(\d+)-`)

// Create writes a new SSTable at path from the contents of a MemTable.
func Create(path string, table *memtable.MemTable, level, bloomBits int) (_ *SSTable, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSTable file: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(path)
		}
	}()

	count := table.Count()
	filter := bloom.New(count, bloomBits)
	index := make(map[string]int64, count)
	sortedKeys := make([]string, 0, count)

	// header placeholder, rewritten once the offsets are known
	if _, err = file.Write(make([]byte, headerSize)); err != nil {
		return nil, fmt.Errorf("failed to write header placeholder: %w", err)
	}

	writer := bufio.NewWriter(file)
	offset := int64(headerSize)
	var writeErr error

	// the memtable walks in ascending key order, which is exactly the
	// data and index order the format requires
	table.ForEach(func(key, value string) bool {
		filter.Add(key)
		index[key] = offset
		sortedKeys = append(sortedKeys, key)

		if writeErr = writeBlock(writer, key); writeErr != nil {
			return false
		}
		if writeErr = writeBlock(writer, value); writeErr != nil {
			return false
		}
		offset += 8 + int64(len(key)) + int64(len(value))
		return true
	})
	if writeErr != nil {
		err = fmt.Errorf("failed to write data section: %w", writeErr)
		return nil, err
	}

	indexOffset := offset
	for _, key := range sortedKeys {
		if writeErr = writeBlock(writer, key); writeErr != nil {
			err = fmt.Errorf("failed to write index key: %w", writeErr)
			return nil, err
		}
		var offsetBuf [8]byte
		binary.LittleEndian.PutUint64(offsetBuf[:], uint64(index[key]))
		if _, writeErr = writer.Write(offsetBuf[:]); writeErr != nil {
			err = fmt.Errorf("failed to write index offset: %w", writeErr)
			return nil, err
		}
		offset += 4 + int64(len(key)) + 8
	}

	bloomOffset := offset
	bloomBytes := filter.Encode()
	if _, err = writer.Write(bloomBytes); err != nil {
		return nil, fmt.Errorf("failed to write Bloom filter: %w", err)
	}

	if err = writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush SSTable: %w", err)
	}

	h := header{
		Version:     1,
		Count:       uint32(count),
		IndexOffset: indexOffset,
		BloomOffset: bloomOffset,
		BloomSize:   uint32(len(bloomBytes)),
	}
	if _, err = file.WriteAt(h.encode(), 0); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	if err = file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync SSTable: %w", err)
	}

	return &SSTable{
		Path:  path,
		Level: level,
		file:  file,
		bloom: filter,
		index: index,
	}, nil
}

func writeBlock(w *bufio.Writer, s string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// Open opens an existing SSTable from disk.
func Open(path string) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSTable file: %w", err)
	}

	headerBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBuf); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h, err := decodeHeader(headerBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	// the level is carried in the file name
	level := 0
	if matches := levelPattern.FindStringSubmatch(filepath.Base(path)); len(matches) >= 2 {
		level, _ = strconv.Atoi(matches[1])
	}

	if _, err := file.Seek(h.IndexOffset, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek to index: %w", err)
	}

	reader := bufio.NewReader(file)
	index := make(map[string]int64, h.Count)
	for i := uint32(0); i < h.Count; i++ {
		key, err := readBlock(reader)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read index key: %w", err)
		}

		var offsetBuf [8]byte
		if _, err := io.ReadFull(reader, offsetBuf[:]); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read index offset: %w", err)
		}
		index[key] = int64(binary.LittleEndian.Uint64(offsetBuf[:]))
	}

	if _, err := file.Seek(h.BloomOffset, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek to Bloom filter: %w", err)
	}

	bloomBytes := make([]byte, h.BloomSize)
	if _, err := io.ReadFull(file, bloomBytes); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read Bloom filter: %w", err)
	}

	filter, err := bloom.Decode(bloomBytes)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to decode Bloom filter: %w", err)
	}

	return &SSTable{
		Path:  path,
		Level: level,
		file:  file,
		bloom: filter,
		index: index,
	}, nil
}

func readBlock(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	buf := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Get retrieves a value by key. Tombstoned keys read as absent.
func (s *SSTable) Get(key string) (string, bool, error) {
	value, found, isTombstone, err := s.GetWithTombstone(key)
	if err != nil || !found || isTombstone {
		return "", false, err
	}
	return value, true, nil
}

// GetWithTombstone retrieves a value by key along with tombstone
// information. Returns value, found flag, tombstone flag, and error.
func (s *SSTable) GetWithTombstone(key string) (string, bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.bloom.MayContain(key) {
		return "", false, false, nil
	}

	offset, exists := s.index[key]
	if !exists {
		return "", false, false, nil
	}

	sectionReader := io.NewSectionReader(s.file, offset, 1<<31)

	storedKey, err := readBlock(sectionReader)
	if err != nil {
		return "", false, false, fmt.Errorf("failed to read key: %w", err)
	}
	if storedKey != key {
		return "", false, false, fmt.Errorf("index corruption: expected key %q at offset %d, found %q",
			key, offset, storedKey)
	}

	value, err := readBlock(sectionReader)
	if err != nil {
		return "", false, false, fmt.Errorf("failed to read value: %w", err)
	}

	if value == memtable.Tombstone {
		return "", true, true, nil
	}
	return value, true, false, nil
}

// MayContain checks if the SSTable might contain a key using the Bloom
// filter alone.
func (s *SSTable) MayContain(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bloom.MayContain(key)
}

// Count returns the number of entries, tombstones included.
func (s *SSTable) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.index)
}

// Close closes the SSTable.
func (s *SSTable) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		s.file = nil
	}
	return nil
}

// Iterator returns an iterator over the table's entries in ascending
// key order. It reads through a dedicated file handle so it does not
// disturb concurrent Gets.
func (s *SSTable) Iterator() (tools.Iterator, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSTable for iteration: %w", err)
	}

	headerBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBuf); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h, err := decodeHeader(headerBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &iterator{
		file:      file,
		reader:    bufio.NewReader(file),
		remaining: int(h.Count),
	}, nil
}

// iterator walks the data section sequentially.
type iterator struct {
	file      *os.File
	reader    *bufio.Reader
	remaining int
	key       string
	value     string
}

// Next advances the iterator to the next entry.
func (it *iterator) Next() bool {
	if it.remaining <= 0 {
		return false
	}

	key, err := readBlock(it.reader)
	if err != nil {
		it.remaining = 0
		return false
	}
	value, err := readBlock(it.reader)
	if err != nil {
		it.remaining = 0
		return false
	}

	it.key = key
	it.value = value
	it.remaining--
	return true
}

// Key returns the current key.
func (it *iterator) Key() string { return it.key }

// Value returns the current value.
func (it *iterator) Value() string { return it.value }

// IsTombstone reports whether the current entry is a tombstone.
func (it *iterator) IsTombstone() bool { return it.value == memtable.Tombstone }

// Close releases the iterator's file handle.
func (it *iterator) Close() error {
	if it.file != nil {
		err := it.file.Close()
		it.file = nil
		return err
	}
	return nil
}

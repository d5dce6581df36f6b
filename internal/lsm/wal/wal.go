// Package wal implements the write-ahead log of the LSM engine.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Op identifies the kind of a WAL entry.
type Op byte

const (
	OpPut    Op = 0
	OpDelete Op = 1
)

// Entry represents a single WAL record.
type Entry struct {
	Operation Op
	Key       string
	Value     string
}

// WAL is an append-only log of mutations, replayed on startup to
// rebuild the MemTable that was lost with the process.
//
// Record layout, little-endian: op byte, key length (uint32), key
// bytes, and for puts a value length (uint32) followed by the value.
type WAL struct {
	Path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	syncWrites bool
}

// New opens or creates a WAL file at path. When syncWrites is set each
// append is fsynced before returning.
func New(path string, syncWrites bool) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		Path:       path,
		file:       file,
		writer:     bufio.NewWriter(file),
		syncWrites: syncWrites,
	}, nil
}

// Append writes a record to the log.
func (w *WAL) Append(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := encode(entry)
	if _, err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write WAL record: %w", err)
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}

	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL file: %w", err)
		}
	}

	return nil
}

// encode builds the on-disk record for entry.
func encode(entry *Entry) []byte {
	size := 1 + 4 + len(entry.Key)
	if entry.Operation == OpPut {
		size += 4 + len(entry.Value)
	}

	record := make([]byte, 0, size)
	record = append(record, byte(entry.Operation))
	record = binary.LittleEndian.AppendUint32(record, uint32(len(entry.Key)))
	record = append(record, entry.Key...)
	if entry.Operation == OpPut {
		record = binary.LittleEndian.AppendUint32(record, uint32(len(entry.Value)))
		record = append(record, entry.Value...)
	}
	return record
}

// Replay reads the log from the start and calls fn for each record.
func (w *WAL) Replay(fn func(*Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start of WAL: %w", err)
	}

	reader := bufio.NewReader(w.file)

	for {
		entry, err := decode(reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// decode reads one record. io.EOF at a record boundary means the log
// ended cleanly; anything else is a framing error.
func decode(reader *bufio.Reader) (*Entry, error) {
	opByte, err := reader.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read operation: %w", err)
	}

	key, err := readBlock(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	entry := &Entry{
		Operation: Op(opByte),
		Key:       key,
	}

	if entry.Operation == OpPut {
		value, err := readBlock(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read value: %w", err)
		}
		entry.Value = value
	}

	return entry, nil
}

func readBlock(reader *bufio.Reader) (string, error) {
	var length uint32
	if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("incomplete WAL entry: %w", err)
		}
		return "", err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Close flushes pending writes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	return nil
}

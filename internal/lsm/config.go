package lsm

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds configuration options for the LSM engine.
type Config struct {
	// Directory where database files will be stored
	Dir string `yaml:"dir"`

	// Maximum size of the MemTable in bytes before flushing to disk
	MemTableSize int `yaml:"memtable_size"`

	// Number of SSTables at a level that triggers a compaction
	CompactionFactor int `yaml:"compaction_factor"`

	// Bits per key for Bloom filters (higher = fewer false positives)
	BloomFilterBits int `yaml:"bloom_filter_bits"`

	// Whether to sync the WAL after each write (safer but slower)
	SyncWrites bool `yaml:"sync_writes"`

	// Maximum number of immutable MemTables kept in memory while flushing
	MaxImmutableMemTables int `yaml:"max_immutable_memtables"`

	// Logger for engine events. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Dir:                   "data",
		MemTableSize:          4 * 1024 * 1024, // 4MB
		CompactionFactor:      4,
		BloomFilterBits:       10,
		SyncWrites:            true,
		MaxImmutableMemTables: 2,
	}
}

// LoadConfig reads a YAML configuration file, overlaying its settings
// on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// logger returns the configured logger or the process default.
func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

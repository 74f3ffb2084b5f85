// Package config loads and validates repository configuration from
// YAML or JSON files, with environment variable expansion.
package config

import (
	"errors"
	"fmt"
)

// Configuration errors.
var (
	ErrConfigNotFound    = errors.New("configuration file not found")
	ErrInvalidFormat     = errors.New("invalid configuration format")
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
	ErrValidationFailed  = errors.New("configuration validation failed")
	ErrMissingEnvVar     = errors.New("missing environment variable")
)

// Index backend names.
const (
	IndexMemory = "memory"
	IndexBadger = "badger"
	IndexRedis  = "redis"
)

// Config is the top-level repository configuration.
type Config struct {
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// RepositoryConfig configures the data store and recovery behavior.
type RepositoryConfig struct {
	// DataDir is the root directory for WARC volumes and state files.
	DataDir string `yaml:"dataDir" json:"dataDir"`

	// JournalPath is the commit journal file. Empty disables journaling.
	JournalPath string `yaml:"journalPath" json:"journalPath"`

	// ForceReindex rebuilds the index from the data store at startup
	// even if the index is non-empty.
	ForceReindex bool `yaml:"forceReindex" json:"forceReindex"`

	// LockStripes sizes the version lock table. Zero means the default.
	LockStripes int `yaml:"lockStripes" json:"lockStripes"`
}

// IndexConfig selects and configures the artifact index backend.
type IndexConfig struct {
	// Backend is one of memory, badger, redis.
	Backend string `yaml:"backend" json:"backend"`

	Badger BadgerConfig `yaml:"badger" json:"badger"`
	Redis  RedisConfig  `yaml:"redis" json:"redis"`
}

// BadgerConfig configures the embedded badger index.
type BadgerConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	InMemory   bool   `yaml:"inMemory" json:"inMemory"`
	SyncWrites bool   `yaml:"syncWrites" json:"syncWrites"`
}

// RedisConfig configures the remote redis index.
type RedisConfig struct {
	Address   string `yaml:"address" json:"address"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is json or console.
	Format string `yaml:"format" json:"format"`
}

// Default returns a configuration with working local defaults.
func Default() *Config {
	return &Config{
		Repository: RepositoryConfig{
			DataDir:     "./data",
			JournalPath: "./data/journal.jsonl",
		},
		Index: IndexConfig{
			Backend: IndexBadger,
			Badger: BadgerConfig{
				Dir: "./data/index",
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.Repository.DataDir == "" {
		errs = append(errs, errors.New("repository.dataDir is required"))
	}
	if c.Repository.LockStripes < 0 {
		errs = append(errs, errors.New("repository.lockStripes must not be negative"))
	}

	switch c.Index.Backend {
	case IndexMemory:
	case IndexBadger:
		if c.Index.Badger.Dir == "" && !c.Index.Badger.InMemory {
			errs = append(errs, errors.New("index.badger.dir is required unless inMemory is set"))
		}
	case IndexRedis:
		if c.Index.Redis.Address == "" {
			errs = append(errs, errors.New("index.redis.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.backend must be one of %s, %s, %s", IndexMemory, IndexBadger, IndexRedis))
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognized", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not recognized", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}

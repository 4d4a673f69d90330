// Package config holds the settings of a sync run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/cache"
	"github.com/openmined/s3sync/internal/etag"
	"github.com/openmined/s3sync/internal/syncer"
	"github.com/openmined/s3sync/internal/utils"
)

var (
	home, _         = os.UserHomeDir()
	DefaultCacheDir = filepath.Join(home, ".s3sync")
)

const (
	DefaultVerbosity            = 1
	DefaultHashedBytesThreshold = 1 << 30
)

var ErrRemoteToRemote = errors.New("syncing between two object stores is not supported")

type Config struct {
	Source       string   `mapstructure:"source"`
	Destination  string   `mapstructure:"destination"`
	Includes     []string `mapstructure:"includes"`
	Excludes     []string `mapstructure:"excludes"`
	CacheDir     string   `mapstructure:"cache_dir"`
	CacheBackend string   `mapstructure:"cache_backend"`
	Verbosity    int      `mapstructure:"verbosity"`

	Fake           bool          `mapstructure:"fake"`
	Watch          bool          `mapstructure:"watch"`
	RescanInterval time.Duration `mapstructure:"rescan_interval"`
	WatchInterval  time.Duration `mapstructure:"watch_interval"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	// Restore syncs from Destination back to Source.
	Restore bool `mapstructure:"restore"`

	MetricsPort          int    `mapstructure:"metrics_port"`
	ChunkSize            int64  `mapstructure:"chunk_size"`
	HashedBytesThreshold uint64 `mapstructure:"hashed_bytes_threshold"`

	EnvFile string `mapstructure:"env_file"`
	LogFile string `mapstructure:"log_file"`
}

// Default returns a Config with every optional setting filled in.
func Default() *Config {
	return &Config{
		Includes:             []string{""},
		CacheDir:             DefaultCacheDir,
		CacheBackend:         cache.BackendJSON,
		Verbosity:            DefaultVerbosity,
		WatchInterval:        syncer.DefaultWatchInterval,
		RetryDelay:           syncer.DefaultRetryDelay,
		ChunkSize:            etag.DefaultChunkSize,
		HashedBytesThreshold: DefaultHashedBytesThreshold,
	}
}

// Validate normalizes paths and rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var err error

	if c.Source, err = validateAddress("source", c.Source); err != nil {
		return err
	}
	if c.Destination, err = validateAddress("destination", c.Destination); err != nil {
		return err
	}
	if blob.IsRemote(c.Source) && blob.IsRemote(c.Destination) {
		return ErrRemoteToRemote
	}

	if len(c.Includes) == 0 {
		c.Includes = []string{""}
	}

	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.CacheDir, err = utils.ResolvePath(c.CacheDir); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}

	switch c.CacheBackend {
	case "":
		c.CacheBackend = cache.BackendJSON
	case cache.BackendJSON, cache.BackendSqlite:
	default:
		return fmt.Errorf("cache backend %q: must be %s or %s", c.CacheBackend, cache.BackendJSON, cache.BackendSqlite)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	// multipart ETags only match local fingerprints when every part is one chunk
	if (blob.IsRemote(c.Source) || blob.IsRemote(c.Destination)) && c.ChunkSize < blob.MinPartSize {
		return fmt.Errorf("chunk size %d is below the object store minimum part size %d", c.ChunkSize, blob.MinPartSize)
	}
	if c.Verbosity < 0 {
		return fmt.Errorf("verbosity must not be negative, got %d", c.Verbosity)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port %d out of range", c.MetricsPort)
	}
	if c.RescanInterval < 0 || c.RetryDelay < 0 {
		return errors.New("intervals must not be negative")
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = syncer.DefaultWatchInterval
	}

	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return fmt.Errorf("log file: %w", err)
		}
	}
	return nil
}

// Endpoints returns the addresses in sync direction.
func (c *Config) Endpoints() (source, destination string) {
	if c.Restore {
		return c.Destination, c.Source
	}
	return c.Source, c.Destination
}

// SyncConfig derives the engine settings.
func (c *Config) SyncConfig() syncer.Config {
	return syncer.Config{
		Fake:           c.Fake,
		RescanInterval: c.RescanInterval,
		WatchInterval:  c.WatchInterval,
		Retry:          syncer.RetryPolicy{Delay: c.RetryDelay},
	}
}

func validateAddress(name, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	if blob.IsRemote(addr) {
		if _, err := blob.ParseAddress(addr); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return addr, nil
	}
	return filepath.Clean(addr), nil
}

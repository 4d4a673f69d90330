// Package cache persists per-key metadata between runs so unchanged files
// do not have to be fingerprinted again.
//
// A cache is an optimization only. Reading a missing or damaged cache
// yields an empty map and never fails.
package cache

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/openmined/s3sync/internal/meta"
)

var (
	ErrCacheLocked = errors.New("cache is locked by another process")
)

// Backend names accepted by New.
const (
	BackendJSON   = "json"
	BackendSqlite = "sqlite"
)

// Cache stores a KeyMap.
type Cache interface {
	// Read returns the stored map, or an empty map when nothing usable is stored.
	Read() meta.KeyMap
	// Write replaces the stored map with data.
	Write(data meta.KeyMap) error
	Close() error
}

// New opens the cache of the endpoint called name inside dir.
func New(backend, dir, name string) (Cache, error) {
	switch backend {
	case "", BackendJSON:
		c := NewFileCache(filepath.Join(dir, fmt.Sprintf(".s3sync-%s.json", name)))
		if err := c.Lock(); err != nil {
			return nil, err
		}
		return c, nil
	case BackendSqlite:
		c, err := NewSqliteCache(filepath.Join(dir, fmt.Sprintf(".s3sync-%s.db", name)))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

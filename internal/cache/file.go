package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/s3sync/internal/meta"
	"github.com/openmined/s3sync/internal/utils"
)

// FileCache keeps the map as a pretty printed JSON object in a file.
type FileCache struct {
	path  string
	flock *flock.Flock
}

func NewFileCache(path string) *FileCache {
	return &FileCache{
		path:  path,
		flock: flock.New(path + ".lock"),
	}
}

func (c *FileCache) Path() string {
	return c.path
}

// Lock takes an exclusive advisory lock next to the cache file so a second
// process cannot share it.
func (c *FileCache) Lock() error {
	if err := utils.EnsureParent(c.path); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	locked, err := c.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock cache %s: %w", c.path, err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", c.path, ErrCacheLocked)
	}
	return nil
}

func (c *FileCache) Read() meta.KeyMap {
	f, err := os.Open(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("cache read", "path", c.path, "error", err)
		}
		return meta.KeyMap{}
	}
	defer f.Close()
	return decode(f, c.path)
}

func (c *FileCache) Write(data meta.KeyMap) error {
	if err := utils.EnsureParent(c.path); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	b, err := encode(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("replace cache %s: %w", c.path, err)
	}
	committed = true
	return nil
}

func (c *FileCache) Close() error {
	if c.flock.Locked() {
		return c.flock.Unlock()
	}
	return nil
}

func decode(r io.Reader, source string) meta.KeyMap {
	data := meta.KeyMap{}
	b, err := io.ReadAll(r)
	if err != nil {
		slog.Warn("cache read", "path", source, "error", err)
		return data
	}
	if len(b) == 0 {
		return data
	}
	if err := json.Unmarshal(b, &data); err != nil {
		slog.Warn("cache ignored", "path", source, "reason", "malformed", "error", err)
		return meta.KeyMap{}
	}
	if data == nil {
		return meta.KeyMap{}
	}
	return data
}

func encode(data meta.KeyMap) ([]byte, error) {
	if data == nil {
		data = meta.KeyMap{}
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode cache: %w", err)
	}
	return b, nil
}

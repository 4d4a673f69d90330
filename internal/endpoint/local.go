package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/openmined/s3sync/internal/cache"
	"github.com/openmined/s3sync/internal/meta"
	"github.com/openmined/s3sync/internal/metrics"
	"github.com/openmined/s3sync/internal/utils"
)

// TempMarker is part of the name of every temporary file written by a local
// endpoint. Paths containing it are never treated as keys.
const TempMarker = ".s3sync.tmp."

// IsTempKey reports whether key names an in-flight temporary file.
func IsTempKey(key string) bool {
	return strings.Contains(filepath.Base(key), TempMarker)
}

// LocalEndpoint is a directory tree. Keys are slash separated paths
// relative to the base directory.
type LocalEndpoint struct {
	name        string
	basePath    string
	rules       *Rules
	cache       cache.Cache
	chunkSize   int64
	threshold   uint64
	fingerprint FingerprintFunc
	counter     *metrics.Counter
	logger      *slog.Logger

	mu   sync.RWMutex
	keys meta.KeyMap
}

// NewLocalEndpoint creates an endpoint rooted at basePath. The KeyMap starts
// out as the cached one, so the first refresh only fingerprints files that
// changed since the last run.
func NewLocalEndpoint(basePath string, opts Options) (*LocalEndpoint, error) {
	opts.setDefaults()

	abs, err := utils.ResolvePath(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path %q: %w", basePath, err)
	}

	e := &LocalEndpoint{
		name:        opts.Name,
		basePath:    abs,
		rules:       NewRules(opts.Includes, opts.Excludes),
		cache:       opts.Cache,
		chunkSize:   opts.ChunkSize,
		threshold:   opts.HashedBytesThreshold,
		fingerprint: opts.Fingerprint,
		counter:     opts.Counter,
		logger:      slog.With("endpoint", opts.Name),
	}
	e.keys = e.cache.Read()

	e.logger.Info("local endpoint", "path", e.basePath, "includes", e.rules.Includes(), "excludes", e.rules.Excludes(), "cached", len(e.keys))
	return e, nil
}

func (e *LocalEndpoint) Name() string {
	return e.name
}

func (e *LocalEndpoint) BasePath() string {
	return e.basePath
}

func (e *LocalEndpoint) Rules() *Rules {
	return e.rules
}

// Path returns the absolute path of key.
func (e *LocalEndpoint) Path(key string) string {
	return filepath.Join(e.basePath, filepath.FromSlash(key))
}

// Key returns the key of an absolute path below the base directory.
func (e *LocalEndpoint) Key(path string) (string, error) {
	rel, err := filepath.Rel(e.basePath, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", path, e.basePath)
	}
	if rel == "." {
		return "", nil
	}
	return utils.ToKey(rel), nil
}

func (e *LocalEndpoint) IsExcluded(key string) bool {
	if err := CheckKeyPath(key); err != nil {
		e.logger.Debug("excluded", "error", err)
		return true
	}
	return e.rules.IsExcluded(key)
}

// InScope reports whether key is a syncable key of this endpoint.
func (e *LocalEndpoint) InScope(key string) bool {
	return e.rules.InScope(key) && !IsTempKey(key) && CheckKeyPath(key) == nil
}

func (e *LocalEndpoint) GetInclude(key string) (string, bool) {
	return e.rules.GetInclude(key)
}

// ===================================================================================================

func (e *LocalEndpoint) RefreshAll(ctx context.Context) (meta.KeyMap, error) {
	prev := e.KeyMap()
	result := make(meta.KeyMap, len(prev))

	var hashed, hashedTotal uint64
	for _, include := range e.rules.Includes() {
		root := e.Path(include)
		if _, err := os.Stat(root); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				e.logger.Warn("include not found", "include", include, "path", root)
				continue
			}
			return nil, fmt.Errorf("stat include %q: %w", include, err)
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				e.logger.Error("refresh", "path", path, "error", walkErr)
				return nil
			}
			if d.IsDir() {
				return nil
			}

			key, err := e.Key(path)
			if err != nil || key == "" || IsTempKey(key) || e.IsExcluded(key) {
				return nil
			}

			m, n, err := e.describe(key, prev)
			if errors.Is(err, fs.ErrNotExist) {
				e.logger.Debug("refresh skipped", "key", key, "error", err)
				return nil
			} else if err != nil {
				e.logger.Error("refresh", "key", key, "error", err)
				return nil
			}
			result[key] = m

			hashed += n
			hashedTotal += n
			if e.threshold > 0 && hashed >= e.threshold {
				e.flush(prev, result, hashedTotal)
				hashed = 0
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk include %q: %w", include, err)
		}
	}

	e.mu.Lock()
	e.keys = result
	e.mu.Unlock()

	if err := e.SaveCache(); err != nil {
		e.logger.Error("cache write", "error", err)
	}
	e.publish()
	e.counter.LogTotals()

	return result.Clone(), nil
}

// flush persists the work done so far without losing cached entries the
// walk has not reached yet.
func (e *LocalEndpoint) flush(prev, partial meta.KeyMap, hashedTotal uint64) {
	merged := prev.Clone()
	maps.Copy(merged, partial)
	if err := e.cache.Write(merged); err != nil {
		e.logger.Error("cache flush", "error", err)
		return
	}
	e.logger.Info("cache flush", "keys", len(partial), "hashed", humanize.IBytes(hashedTotal))
}

// describe stats key and returns its metadata, reusing the fingerprint in
// prev when size and modification time are unchanged. The second value is
// the number of bytes fingerprinted.
func (e *LocalEndpoint) describe(key string, prev meta.KeyMap) (meta.Metadata, uint64, error) {
	path := e.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		return meta.Metadata{}, 0, err
	}
	if !info.Mode().IsRegular() {
		return meta.Metadata{}, 0, fmt.Errorf("%s: %w", key, fs.ErrNotExist)
	}

	size := uint64(info.Size())
	modTime := meta.Time(info.ModTime().UnixNano())

	if old, ok := prev[key]; ok && old.Unchanged(size, *modTime) {
		return old, 0, nil
	}

	tag, err := e.fingerprint(path, e.chunkSize)
	if err != nil {
		return meta.Metadata{}, 0, err
	}
	return meta.Metadata{Size: size, LastModified: modTime, ETag: tag}, size, nil
}

func (e *LocalEndpoint) RefreshOne(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !e.InScope(key) {
		e.forget(key)
		e.publish()
		return nil
	}

	m, _, err := e.describe(key, e.snapshot(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e.forget(key)
	case err != nil:
		return fmt.Errorf("refresh %s: %w", key, err)
	default:
		e.mu.Lock()
		e.keys[key] = m
		e.mu.Unlock()
	}

	e.publish()
	return nil
}

func (e *LocalEndpoint) snapshot(key string) meta.KeyMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.keys[key]; ok {
		return meta.KeyMap{key: m}
	}
	return nil
}

func (e *LocalEndpoint) forget(keys ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range keys {
		delete(e.keys, key)
	}
}

func (e *LocalEndpoint) publish() {
	e.mu.RLock()
	files, bytes := e.keys.Totals()
	e.mu.RUnlock()
	e.counter.Set(files, bytes)
}

// ===================================================================================================

func (e *LocalEndpoint) Get(key string) (meta.Metadata, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.keys[key]
	return m, ok
}

func (e *LocalEndpoint) KeyMap() meta.KeyMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keys.Clone()
}

func (e *LocalEndpoint) Fingerprints() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keys.Fingerprints()
}

// KeysWithPrefix returns the known keys below the directory key dir.
func (e *LocalEndpoint) KeysWithPrefix(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	e.mu.RLock()
	defer e.mu.RUnlock()
	var keys []string
	for key := range e.keys {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// ===================================================================================================

func (e *LocalEndpoint) TransferOut(ctx context.Context, key string, dst Endpoint) error {
	switch d := dst.(type) {
	case *LocalEndpoint:
		return e.copyTo(ctx, key, d)
	case *ObjectStoreEndpoint:
		return e.upload(ctx, key, d)
	default:
		return fmt.Errorf("transfer %s to %T: %w", key, dst, ErrNotImplemented)
	}
}

func (e *LocalEndpoint) copyTo(ctx context.Context, key string, dst *LocalEndpoint) error {
	src, err := e.open(key)
	if err != nil {
		return err
	}
	defer src.Close()

	return dst.writeFile(ctx, key, src, "")
}

func (e *LocalEndpoint) upload(ctx context.Context, key string, dst *ObjectStoreEndpoint) error {
	src, err := e.open(key)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	return dst.put(ctx, key, src, info.Size())
}

func (e *LocalEndpoint) open(key string) (*os.File, error) {
	f, err := os.Open(e.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrSourceVanished)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

func (e *LocalEndpoint) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(e.Path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("delete", "key", key, "error", "already deleted")
			return nil
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ===================================================================================================

func (e *LocalEndpoint) SaveCache() error {
	return e.cache.Write(e.KeyMap())
}

func (e *LocalEndpoint) Close() error {
	return e.cache.Close()
}

var _ Endpoint = (*LocalEndpoint)(nil)

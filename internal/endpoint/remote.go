package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/etag"
	"github.com/openmined/s3sync/internal/meta"
	"github.com/openmined/s3sync/internal/metrics"
)

// ObjectStoreEndpoint is a path inside a bucket, addressed as
// "profile:bucket[/path]". The client is connected on first use.
type ObjectStoreEndpoint struct {
	name      string
	addr      *blob.Address
	rules     *Rules
	chunkSize int64
	counter   *metrics.Counter
	connect   ConnectFunc
	logger    *slog.Logger

	clientMu sync.Mutex
	client   blob.Client

	mu   sync.RWMutex
	keys meta.KeyMap
}

func NewObjectStoreEndpoint(address string, opts Options) (*ObjectStoreEndpoint, error) {
	opts.setDefaults()

	addr, err := blob.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	e := &ObjectStoreEndpoint{
		name:      opts.Name,
		addr:      addr,
		rules:     NewRules(opts.Includes, opts.Excludes),
		chunkSize: opts.ChunkSize,
		counter:   opts.Counter,
		connect:   opts.Connect,
		logger:    slog.With("endpoint", opts.Name, "profile", addr.Profile),
		keys:      make(meta.KeyMap),
	}

	e.logger.Info("object store endpoint", "bucket", addr.Bucket, "path", addr.Path, "includes", e.rules.Includes(), "excludes", e.rules.Excludes())
	return e, nil
}

func (e *ObjectStoreEndpoint) Name() string {
	return e.name
}

func (e *ObjectStoreEndpoint) Address() *blob.Address {
	return e.addr
}

func (e *ObjectStoreEndpoint) Rules() *Rules {
	return e.rules
}

func (e *ObjectStoreEndpoint) getClient(ctx context.Context) (blob.Client, error) {
	e.clientMu.Lock()
	defer e.clientMu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := e.connect(ctx, e.addr, e.chunkSize)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// ValidateKey returns ErrUnrepresentableKey for keys that are not valid
// UTF-8, which object store keys must be, and for keys that do not map to a
// file path.
func (e *ObjectStoreEndpoint) ValidateKey(key string) error {
	if !utf8.ValidString(key) {
		return fmt.Errorf("%q: %w", key, ErrUnrepresentableKey)
	}
	return CheckKeyPath(key)
}

func (e *ObjectStoreEndpoint) IsExcluded(key string) bool {
	if err := e.ValidateKey(key); err != nil {
		e.logger.Error("excluded", "error", err)
		return true
	}
	return e.rules.IsExcluded(key)
}

func (e *ObjectStoreEndpoint) GetInclude(key string) (string, bool) {
	return e.rules.GetInclude(key)
}

// ===================================================================================================

func (e *ObjectStoreEndpoint) RefreshAll(ctx context.Context) (meta.KeyMap, error) {
	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}

	result := make(meta.KeyMap)
	for _, include := range e.rules.Includes() {
		objects, err := client.ListObjects(ctx, e.addr.Prefix(include))
		if err != nil {
			return nil, fmt.Errorf("list include %q: %w", include, err)
		}
		for _, obj := range objects {
			key := e.addr.RelKey(obj.Key)
			// listing "data" also returns "database/..."
			if key == "" || !matchesInclude(include, key) {
				continue
			}
			if strings.HasSuffix(key, "/") {
				e.logger.Debug("folder marker skipped", "key", obj.Key)
				continue
			}
			if e.IsExcluded(key) {
				continue
			}
			result[key] = meta.Metadata{
				Size: uint64(obj.Size),
				ETag: etag.Normalize(obj.ETag),
			}
		}
	}

	e.mu.Lock()
	e.keys = result
	e.mu.Unlock()

	e.publish()
	e.counter.LogTotals()
	return result.Clone(), nil
}

func (e *ObjectStoreEndpoint) RefreshOne(ctx context.Context, key string) error {
	if !e.rules.InScope(key) || e.ValidateKey(key) != nil {
		e.forget(key)
		e.publish()
		return nil
	}

	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}

	info, err := client.HeadObject(ctx, e.addr.FullKey(key))
	switch {
	case errors.Is(err, blob.ErrObjectNotFound):
		e.forget(key)
	case err != nil:
		return fmt.Errorf("refresh %s: %w", key, err)
	default:
		e.mu.Lock()
		e.keys[key] = meta.Metadata{Size: uint64(info.Size), ETag: etag.Normalize(info.ETag)}
		e.mu.Unlock()
	}

	e.publish()
	return nil
}

func (e *ObjectStoreEndpoint) forget(key string) {
	e.mu.Lock()
	delete(e.keys, key)
	e.mu.Unlock()
}

func (e *ObjectStoreEndpoint) publish() {
	e.mu.RLock()
	files, bytes := e.keys.Totals()
	e.mu.RUnlock()
	e.counter.Set(files, bytes)
}

// ===================================================================================================

func (e *ObjectStoreEndpoint) Get(key string) (meta.Metadata, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.keys[key]
	return m, ok
}

func (e *ObjectStoreEndpoint) KeyMap() meta.KeyMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keys.Clone()
}

func (e *ObjectStoreEndpoint) Fingerprints() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keys.Fingerprints()
}

// ===================================================================================================

func (e *ObjectStoreEndpoint) TransferOut(ctx context.Context, key string, dst Endpoint) error {
	switch d := dst.(type) {
	case *LocalEndpoint:
		return e.download(ctx, key, d)
	default:
		return fmt.Errorf("transfer %s from %s to %T: %w", key, e.addr, dst, ErrNotImplemented)
	}
}

func (e *ObjectStoreEndpoint) download(ctx context.Context, key string, dst *LocalEndpoint) error {
	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}

	resp, err := client.GetObject(ctx, e.addr.FullKey(key))
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return fmt.Errorf("%s: %w", key, ErrSourceVanished)
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()

	return dst.writeFile(ctx, key, resp.Body, resp.ETag)
}

func (e *ObjectStoreEndpoint) put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := e.ValidateKey(key); err != nil {
		return err
	}
	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &blob.PutObjectParams{
		Key:  e.addr.FullKey(key),
		Size: size,
		Body: r,
	})
	return err
}

func (e *ObjectStoreEndpoint) Delete(ctx context.Context, key string) error {
	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.DeleteObject(ctx, e.addr.FullKey(key)); err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			e.logger.Warn("delete", "key", key, "error", "already deleted")
			return nil
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SaveCache is a no-op: object store listings already carry fingerprints.
func (e *ObjectStoreEndpoint) SaveCache() error {
	return nil
}

func (e *ObjectStoreEndpoint) Close() error {
	return nil
}

var _ Endpoint = (*ObjectStoreEndpoint)(nil)

// Package endpoint implements the two places keyed objects can live: a
// local directory tree and an object store bucket. Both expose the same
// operations so the sync engine never needs to know which one it drives.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/cache"
	"github.com/openmined/s3sync/internal/etag"
	"github.com/openmined/s3sync/internal/meta"
	"github.com/openmined/s3sync/internal/metrics"
)

var (
	// ErrSourceVanished is returned by TransferOut when the object was
	// listed but is gone by the time it is read. It is never retried.
	ErrSourceVanished = errors.New("source object vanished")
	// ErrNotImplemented is returned for transfers between two endpoint
	// kinds that cannot talk to each other.
	ErrNotImplemented = errors.New("not implemented")
	// ErrUnrepresentableKey marks keys the backend cannot address.
	ErrUnrepresentableKey = errors.New("key cannot be represented")
)

// Endpoint is a keyed object store with size and fingerprint metadata.
//
// An Endpoint owns its KeyMap. Refresh and mutation methods are meant to be
// called from a single goroutine; read accessors are safe to call from others.
type Endpoint interface {
	Name() string
	// IsExcluded reports whether key is filtered out by an exclude rule or
	// cannot be represented by the backend.
	IsExcluded(key string) bool
	// GetInclude returns the include prefix a key belongs to.
	GetInclude(key string) (string, bool)

	// RefreshAll enumerates every key under every include and replaces the
	// KeyMap with the result.
	RefreshAll(ctx context.Context) (meta.KeyMap, error)
	// RefreshOne re-reads the metadata of a single key, dropping it from the
	// KeyMap when it no longer exists.
	RefreshOne(ctx context.Context, key string) error

	// TransferOut copies the bytes of key into dst.
	TransferOut(ctx context.Context, key string, dst Endpoint) error
	// Delete removes key. A key that is already gone is not an error.
	Delete(ctx context.Context, key string) error

	Get(key string) (meta.Metadata, bool)
	KeyMap() meta.KeyMap
	Fingerprints() map[string]string

	// SaveCache persists the metadata cache, if the endpoint has one.
	SaveCache() error
	Close() error
}

// CheckKeyPath returns ErrUnrepresentableKey for keys that cannot name a
// file: folder markers ending in "/", empty segments and "." or "..".
func CheckKeyPath(key string) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", ErrUnrepresentableKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%q: %w", key, ErrUnrepresentableKey)
		}
	}
	return nil
}

// FingerprintFunc computes the fingerprint of a local file.
type FingerprintFunc func(path string, chunkSize int64) (string, error)

// ConnectFunc opens the object store client for an address.
type ConnectFunc func(ctx context.Context, addr *blob.Address, chunkSize int64) (blob.Client, error)

// Options configures an endpoint. Fields marked local or remote are ignored
// by the other kind.
type Options struct {
	Name      string
	Includes  []string
	Excludes  []string
	ChunkSize int64
	Counter   *metrics.Counter

	// local
	Cache                cache.Cache
	HashedBytesThreshold uint64
	Fingerprint          FingerprintFunc

	// remote
	Connect ConnectFunc
}

func (o *Options) setDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = etag.DefaultChunkSize
	}
	if o.Counter == nil {
		o.Counter = metrics.NewCounter(o.Name, nil)
	}
	if o.Fingerprint == nil {
		o.Fingerprint = etag.File
	}
	if o.Cache == nil {
		o.Cache = cache.NewMemoryCache("")
	}
	if o.Connect == nil {
		o.Connect = ConnectS3
	}
}

// New returns a LocalEndpoint for absolute paths and an ObjectStoreEndpoint
// for anything else.
func New(addr string, opts Options) (Endpoint, error) {
	if blob.IsRemote(addr) {
		return NewObjectStoreEndpoint(addr, opts)
	}
	return NewLocalEndpoint(addr, opts)
}

// ConnectS3 resolves the profile of addr and connects to its bucket.
func ConnectS3(ctx context.Context, addr *blob.Address, chunkSize int64) (blob.Client, error) {
	cfg := blob.ResolveConfig(addr.Profile, addr.Bucket, chunkSize)
	client, err := blob.NewS3ClientWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return client, nil
}

package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/openmined/s3sync/internal/meta"
	"github.com/stretchr/testify/require"
)

const (
	etagContent = "9a0364b9e99bb480dd25e1f0284c8555" // "content"
	etagOther   = "0c84751f0ca9c6886bb09f2dd1a66faa" // "other content"
)

func writeFile(t *testing.T, base, key, content string) string {
	t.Helper()
	path := filepath.Join(base, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, base, key string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(key)))
	require.NoError(t, err)
	return string(b)
}

func newLocal(t *testing.T, name, base string, opts endpoint.Options) *endpoint.LocalEndpoint {
	t.Helper()
	opts.Name = name
	e, err := endpoint.NewLocalEndpoint(base, opts)
	require.NoError(t, err)
	return e
}

func newRemote(t *testing.T, name, addr string, client blob.Client, opts endpoint.Options) *endpoint.ObjectStoreEndpoint {
	t.Helper()
	opts.Name = name
	opts.Connect = func(context.Context, *blob.Address, int64) (blob.Client, error) {
		return client, nil
	}
	e, err := endpoint.NewObjectStoreEndpoint(addr, opts)
	require.NoError(t, err)
	return e
}

// noRetry fails fast on the first retryable error.
func noRetry() Config {
	return Config{Retry: RetryPolicy{MaxAttempts: 1}}
}

// vanishingSource removes key from disk right before transferring it.
type vanishingSource struct {
	*endpoint.LocalEndpoint
	key string
}

func (v *vanishingSource) TransferOut(ctx context.Context, key string, dst endpoint.Endpoint) error {
	if key == v.key {
		if err := os.Remove(v.Path(key)); err != nil {
			return err
		}
	}
	return v.LocalEndpoint.TransferOut(ctx, key, dst)
}

// flakyEndpoint fails RefreshAll a fixed number of times.
type flakyEndpoint struct {
	endpoint.Endpoint
	failures atomic.Int32
}

func (f *flakyEndpoint) RefreshAll(ctx context.Context) (meta.KeyMap, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("listing failed")
	}
	return f.Endpoint.RefreshAll(ctx)
}

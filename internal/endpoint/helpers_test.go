package endpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/etag"
	"github.com/stretchr/testify/require"
)

const (
	etagContent  = "9a0364b9e99bb480dd25e1f0284c8555" // "content"
	etagContent2 = "6858851eee0e05f318897984757b59dc" // "contentcontent"
)

func writeFile(t *testing.T, base, key, content string) string {
	t.Helper()
	path := filepath.Join(base, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// makeTree creates
//
//	files/f1     "content\n"
//	files/d1/f1  "d1/f1 content\n"
//	files/d1/f2  "d1/f2 content\n"
//	files/d2/f1  "d2/f1 content\n"
//	files/d2/f2  "d2/f2 content\n"
func makeTree(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	writeFile(t, base, "files/f1", "content\n")
	for _, key := range []string{"d1/f1", "d1/f2", "d2/f1", "d2/f2"} {
		writeFile(t, base, "files/"+key, key+" content\n")
	}
	return base
}

type countingFingerprint struct {
	calls atomic.Int32
}

func (c *countingFingerprint) Fingerprint(path string, chunkSize int64) (string, error) {
	c.calls.Add(1)
	return etag.File(path, chunkSize)
}

func connectTo(client blob.Client) ConnectFunc {
	return func(context.Context, *blob.Address, int64) (blob.Client, error) {
		return client, nil
	}
}

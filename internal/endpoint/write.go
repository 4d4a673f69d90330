package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/s3sync/internal/etag"
)

// writeFile stores the bytes of r as key. The content goes to a temporary
// file next to the target and is renamed into place once synced. When
// expectedETag is set, a mismatching fingerprint is logged.
func (e *LocalEndpoint) writeFile(ctx context.Context, key string, r io.Reader, expectedETag string) error {
	path := e.Path(key)
	if err := e.prepareTarget(key, path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+TempMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := etag.NewHasher(e.chunkSize)
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), &ctxReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	if expectedETag != "" {
		if got := hasher.Sum(); got != etag.Normalize(expectedETag) {
			e.logger.Warn("integrity check failed", "key", key, "expected", expectedETag, "got", got)
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}

	success = true
	return nil
}

// prepareTarget makes room for a file at path: regular files standing where
// a parent directory has to be are removed, missing parents are created and
// a directory occupying the target is removed with its whole subtree.
func (e *LocalEndpoint) prepareTarget(key, path string) error {
	parts := strings.Split(key, "/")
	current := e.basePath
	for i, part := range parts[:len(parts)-1] {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", current, err)
		}
		if info.IsDir() {
			continue
		}
		blocking := strings.Join(parts[:i+1], "/")
		e.logger.Warn("removing file in the way of a directory", "key", blocking)
		if err := os.Remove(current); err != nil {
			return fmt.Errorf("remove %s: %w", current, err)
		}
		e.forget(blocking)
		break
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parents of %s: %w", key, err)
	}

	info, err := os.Lstat(path)
	if err == nil && info.IsDir() {
		e.logger.Warn("removing directory in the way of a file", "key", key)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove directory %s: %w", path, err)
		}
		e.forget(e.KeysWithPrefix(key)...)
	}
	return nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

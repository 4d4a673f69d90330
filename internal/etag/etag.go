// Package etag computes content fingerprints that match the ETags an S3
// compatible store assigns to objects uploaded with a fixed part size.
package etag

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultChunkSize is the part size used by the store and by the local
// fingerprinting. Both sides of a comparison must use the same value.
const DefaultChunkSize = 8 * 1024 * 1024

// Hasher is an io.Writer that splits the written stream into chunks of a
// fixed size and keeps the MD5 of every chunk.
type Hasher struct {
	chunkSize int64
	current   hash.Hash
	filled    int64
	digests   [][]byte
}

func NewHasher(chunkSize int64) *Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Hasher{
		chunkSize: chunkSize,
		current:   md5.New(),
	}
}

func (h *Hasher) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		room := h.chunkSize - h.filled
		n := int64(len(p))
		if n > room {
			n = room
		}
		h.current.Write(p[:n])
		h.filled += n
		written += int(n)
		p = p[n:]

		if h.filled == h.chunkSize {
			h.digests = append(h.digests, h.current.Sum(nil))
			h.current = md5.New()
			h.filled = 0
		}
	}
	return written, nil
}

// Parts returns the number of chunks seen so far. Empty input counts as
// one zero-length chunk.
func (h *Hasher) Parts() int {
	n := len(h.digests)
	if h.filled > 0 || n == 0 {
		n++
	}
	return n
}

// Sum returns the fingerprint of everything written so far. A single chunk
// yields its plain hex MD5, more than one chunk yields the multipart form
// "<hex md5 of the concatenated chunk digests>-<chunk count>".
func (h *Hasher) Sum() string {
	digests := h.digests
	if h.filled > 0 || len(digests) == 0 {
		digests = append(digests[:len(digests):len(digests)], h.current.Sum(nil))
	}

	if len(digests) == 1 {
		return hex.EncodeToString(digests[0])
	}

	combined := md5.New()
	for _, d := range digests {
		combined.Write(d)
	}
	return hex.EncodeToString(combined.Sum(nil)) + "-" + strconv.Itoa(len(digests))
}

// Compute reads r to the end and returns its fingerprint.
func Compute(r io.Reader, chunkSize int64) (string, error) {
	h := NewHasher(chunkSize)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// File returns the fingerprint of the file at path.
func File(path string, chunkSize int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	tag, err := Compute(f, chunkSize)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return tag, nil
}

// Normalize strips the quotes that S3 wraps around ETag header values.
func Normalize(tag string) string {
	return strings.ReplaceAll(tag, "\"", "")
}

// IsMultipart reports whether tag carries a part-count suffix.
func IsMultipart(tag string) bool {
	return strings.Contains(tag, "-")
}

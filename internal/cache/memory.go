package cache

import (
	"bytes"
	"sync"

	"github.com/openmined/s3sync/internal/meta"
)

// MemoryCache keeps the encoded cache in a buffer. It goes through the same
// encoding as FileCache, which makes it a stand-in for tests.
type MemoryCache struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewMemoryCache returns a cache holding content, which may be empty or
// arbitrary (malformed) bytes.
func NewMemoryCache(content string) *MemoryCache {
	c := &MemoryCache{}
	c.buf.WriteString(content)
	return c
}

func (c *MemoryCache) Read() meta.KeyMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return decode(bytes.NewReader(c.buf.Bytes()), "memory")
}

func (c *MemoryCache) Write(data meta.KeyMap) error {
	b, err := encode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	c.buf.Write(b)
	return nil
}

// String returns the encoded content.
func (c *MemoryCache) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *MemoryCache) Close() error {
	return nil
}

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openmined/s3sync/internal/etag"
)

type memoryObject struct {
	data         []byte
	etag         string
	lastModified time.Time
}

// MemoryClient is an in-process object store. ETags are computed the way a
// multipart upload with the given part size would compute them.
type MemoryClient struct {
	mu        sync.RWMutex
	objects   map[string]*memoryObject
	chunkSize int64
}

func NewMemoryClient(chunkSize int64) *MemoryClient {
	return &MemoryClient{
		objects:   make(map[string]*memoryObject),
		chunkSize: chunkSize,
	}
}

func (m *MemoryClient) ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []*ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, obj.info(key))
		}
	}
	slices.SortFunc(objects, func(a, b *ObjectInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return objects, nil
}

func (m *MemoryClient) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return obj.info(key), nil
}

func (m *MemoryClient) GetObject(ctx context.Context, key string) (*GetObjectResponse, error) {
	info, err := m.HeadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data := m.objects[key].data
	m.mu.RUnlock()

	return &GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(data)),
		ETag:         info.ETag,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

func (m *MemoryClient) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", params.Key, err)
	}
	tag, err := etag.Compute(bytes.NewReader(data), m.chunkSize)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.objects[params.Key] = &memoryObject{data: data, etag: tag, lastModified: time.Now()}
	m.mu.Unlock()

	return &PutObjectResponse{Key: params.Key, ETag: tag, Size: int64(len(data))}, nil
}

// DeleteObject succeeds for missing keys, like S3.
func (m *MemoryClient) DeleteObject(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return true, nil
}

// Put stores content under key.
func (m *MemoryClient) Put(key, content string) {
	_, _ = m.PutObject(context.Background(), &PutObjectParams{
		Key:  key,
		Size: int64(len(content)),
		Body: strings.NewReader(content),
	})
}

// Content returns the stored bytes of key.
func (m *MemoryClient) Content(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return "", false
	}
	return string(obj.data), true
}

func (m *MemoryClient) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (o *memoryObject) info(key string) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		ETag:         o.etag,
		Size:         int64(len(o.data)),
		LastModified: o.lastModified,
	}
}

var _ Client = (*MemoryClient)(nil)

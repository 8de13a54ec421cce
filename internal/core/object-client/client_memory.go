package objectclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/markdave123-py/docuchat/internal/core"
)

// MemoryClient keeps objects in a map. Used with OBJECT_DRIVER=memory.
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ core.ObjectClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: map[string][]byte{}}
}

func (c *MemoryClient) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (c *MemoryClient) GetFile(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return append([]byte(nil), b...), nil
}

func (c *MemoryClient) DeleteFile(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, key)
	return nil
}

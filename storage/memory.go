package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// MemoryBackend keeps blobs in process memory. It backs tests, demos and
// directory servers started without durable storage.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[interfaces.BlobKey][]byte
	name  string
	log   *slog.Logger
}

func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[interfaces.BlobKey][]byte),
		name:  name,
		log:   log,
	}
}

func (b *MemoryBackend) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[key]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return bytes.Clone(data), nil
}

func (b *MemoryBackend) Put(ctx context.Context, key interfaces.BlobKey, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	b.blobs[key] = bytes.Clone(data)
	b.mu.Unlock()

	b.log.Debug("Stored blob in memory", slog.String("key", string(key)), slog.Int("size", len(data)))
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key interfaces.BlobKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.blobs, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}

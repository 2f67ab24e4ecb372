package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// MemoryStore is the in-process object store used in tests and when no
// bucket is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailKeys simulates per-object download failures.
	FailKeys map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		FailKeys: make(map[string]bool),
	}
}

func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Download(_ context.Context, key, destPath string) error {
	s.mu.RLock()
	data, ok := s.objects[key]
	failed := s.FailKeys[key]
	s.mu.RUnlock()

	if failed {
		return fmt.Errorf("download %s: simulated failure", key)
	}
	if !ok {
		return fmt.Errorf("download %s: object not found", key)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("open %s: object not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), &ObjectInfo{
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
	}, nil
}

func (s *MemoryStore) Upload(_ context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.Put(key, data)
	return nil
}

package docstore

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in a map. Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	maxSize int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), maxSize: DefaultMaxSizeBytes}
}

// Get returns a copy of the blob at path.
func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data.
func (s *MemoryStore) Put(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	if err := validateBlob(data, contentType, s.maxSize); err != nil {
		return "", err
	}
	key, err := ObjectKey(prefix, data, contentType)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; !exists {
		s.objects[key] = append([]byte(nil), data...)
	}
	return key, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

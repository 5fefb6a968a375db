package storage

import (
	"context"
	"sync"
	"time"
)

var _ APIKeyStore = (*InMemoryKeyStore)(nil)

// InMemoryKeyStore implements APIKeyStore with an in-memory map. Used for
// tests and local development; production deployments use PersistentKeyStore.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*Key // keyed by plaintext key
}

// NewInMemoryKeyStore creates an empty in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys: make(map[string]*Key),
	}
}

// FindByKey retrieves an API key by its plaintext key value.
func (s *InMemoryKeyStore) FindByKey(_ context.Context, key string) (*Key, bool) {
	if key == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.keys[key]
	if !ok || !stored.IsUsable(time.Now()) {
		return nil, false
	}

	found := *stored

	return &found, true
}

// Add stores a new API key.
func (s *InMemoryKeyStore) Add(_ context.Context, apiKey *Key) error {
	if apiKey == nil || apiKey.Key == "" {
		return ErrKeyNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	stored := *apiKey
	s.keys[apiKey.Key] = &stored

	return nil
}

// Deactivate soft-deletes an API key by id.
func (s *InMemoryKeyStore) Deactivate(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.keys {
		if stored.ID == keyID {
			stored.Active = false

			return nil
		}
	}

	return ErrKeyNotFound
}

// Package settings persists the user-editable search criteria behind a
// small key-value store with interchangeable backends.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/IshaanNene/phonegoat/internal/config"
)

// Store is a string key-value store for settings.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the stored keys in ascending order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error

	// Name returns the backend identifier.
	Name() string
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.SettingsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path, logger)
	case "memory":
		return NewMemoryStore(), nil
	case "mongodb":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN, cfg.PostgresConns, logger)
	default:
		return nil, fmt.Errorf("unsupported settings backend: %s", cfg.Backend)
	}
}

// MemoryStore keeps settings in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.values), nil
}

func (s *MemoryStore) Close() error { return nil }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

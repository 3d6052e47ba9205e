package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// FileStore keeps settings as a flat JSON object on disk. Every write
// rewrites the file atomically.
type FileStore struct {
	path   string
	mu     sync.Mutex
	values map[string]string
	logger *slog.Logger
}

// NewFileStore loads path if it exists. A missing file is an empty store.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]string),
		logger: logger.With("component", "settings_file"),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, &types.StorageError{Backend: s.Name(), Err: err}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.values); err != nil {
			return nil, &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("decode %s: %w", path, err)}
		}
	}
	return s, nil
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.flush(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.values), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	s.logger.Debug("settings saved", "path", s.path, "keys", len(s.values))
	return nil
}

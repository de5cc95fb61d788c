// Package storage provides ports.KeyValueStore backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/acolita/rotinas/internal/ports"
)

// FileStore keeps every pair in one JSON document. Writes replace the file
// through a temporary sibling and a rename.
type FileStore struct {
	fs   ports.FileSystem
	path string

	mu     sync.Mutex
	loaded bool
	data   map[string]string
}

// NewFileStore returns a store backed by path. The file is read lazily.
func NewFileStore(fsys ports.FileSystem, path string) *FileStore {
	return &FileStore{fs: fsys, path: path}
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := s.fs.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.data = map[string]string{}
	case err != nil:
		return fmt.Errorf("read %s: %w", s.path, err)
	default:
		s.data = map[string]string{}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &s.data); err != nil {
				return fmt.Errorf("parse %s: %w", s.path, err)
			}
		}
	}
	s.loaded = true
	return nil
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Get returns the values present for keys.
func (s *FileStore) Get(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set writes every pair and persists the document.
func (s *FileStore) Set(_ context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	for k, v := range values {
		s.data[k] = v
	}
	return s.flushLocked()
}

// Remove deletes keys and persists the document.
func (s *FileStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flushLocked()
}

var _ ports.KeyValueStore = (*FileStore)(nil)

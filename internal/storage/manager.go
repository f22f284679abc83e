// Package storage keeps the bytes of selected files on disk between the
// moment they are added to the selection and the run that reads them.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiss-anexos/intake/internal/models"
)

// ErrNotFound is returned for IDs the store does not hold.
var ErrNotFound = errors.New("stored file not found")

// Store is the scratch store behind the selection: Save when a file is
// accepted, Open when a run loads it, Delete when it leaves the selection.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
}

// LocalStore implements Store with one file per ID in a scratch directory.
type LocalStore struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*models.FileInfo
}

// NewLocalStore prepares dir as the scratch directory. Scratch files left by
// an earlier process belong to no selection and are removed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	removed, err := removeStale(dir)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		fmt.Printf("[Storage] Removed %d stale scratch file(s) from %s\n", removed, dir)
	}

	return &LocalStore{
		dir:   dir,
		files: make(map[string]*models.FileInfo),
	}, nil
}

// removeStale deletes regular files named like scratch IDs.
func removeStale(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading scratch directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing stale scratch file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Save copies r into a new scratch file.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := s.path(id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing scratch file for %s: %w", name, err)
	}

	info := &models.FileInfo{
		ID:      id,
		Name:    name,
		Size:    size,
		SavedAt: time.Now(),
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	return info, nil
}

// Open returns a reader over the stored bytes.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("opening scratch file: %w", err)
	}
	return f, nil
}

// Delete removes the stored bytes.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting scratch file: %w", err)
	}

	delete(s.files, id)
	return nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, id)
}

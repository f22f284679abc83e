// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tiss-anexos/intake/internal/models"
)

// MockStorage implements storage.Store in memory
type MockStorage struct {
	mu       sync.RWMutex
	files    map[string]*models.FileInfo
	fileData map[string][]byte
	nextID   int

	// FailSave makes Save fail for these file names.
	FailSave map[string]error
}

// NewMockStorage creates an empty mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
		FailSave: make(map[string]error),
	}
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailSave[name]; ok {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.nextID++
	id := fmt.Sprintf("test-%04d", m.nextID)
	file := &models.FileInfo{
		ID:      id,
		Name:    name,
		Size:    int64(len(data)),
		SavedAt: time.Now(),
	}
	m.files[id] = file
	m.fileData[id] = data
	return file, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[id]; !ok {
		return errors.New("file not found")
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Count returns the number of stored files
func (m *MockStorage) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// Data returns the bytes stored under id
func (m *MockStorage) Data(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.fileData[id]
	return data, ok
}

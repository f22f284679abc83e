package loader

import (
	"io"
	"os"

	"github.com/tiss-anexos/intake/internal/models"
)

// Opener is the part of the scratch store the loader needs.
type Opener interface {
	Open(id string) (io.ReadCloser, error)
}

// StoreSource reads selected files from the scratch store by ID.
type StoreSource struct {
	Store Opener
}

// Open implements Source.
func (s StoreSource) Open(file models.SelectedFile) (io.ReadCloser, error) {
	return s.Store.Open(file.ID)
}

// PathSource reads selected files straight from disk; the file ID is its path.
type PathSource struct{}

// Open implements Source.
func (PathSource) Open(file models.SelectedFile) (io.ReadCloser, error) {
	return os.Open(file.ID)
}

// Package intake keeps the run-scoped selection of claim XMLs and PDF
// attachments and classifies new candidates into it.
package intake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/report"
)

// ErrFileNotFound is returned when removing an unknown file.
var ErrFileNotFound = errors.New("file not in selection")

// Rejection reasons.
const (
	ReasonInvalidFormat = "invalid_format"
	ReasonDuplicate     = "duplicate"
	ReasonStoreFailed   = "store_failed"
)

// Candidate is a file offered to the selection.
type Candidate struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Rejection explains why a candidate was not added.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// AddResult lists what happened to each candidate of one Add call.
type AddResult struct {
	Accepted []models.SelectedFile `json:"accepted"`
	Rejected []Rejection           `json:"rejected"`
}

// AttachFunc is called for every accepted candidate, in order, and returns the
// ID the file is stored under. It runs while the selection is locked.
type AttachFunc func(index int, c Candidate) (string, error)

// Readiness tells whether a run may start.
type Readiness struct {
	Ready    bool   `json:"ready"`
	XMLCount int    `json:"xmlCount"`
	PDFCount int    `json:"pdfCount"`
	Message  string `json:"message"`
}

// Selection is the ordered set of files chosen for the next run.
type Selection struct {
	mu     sync.RWMutex
	files  []models.SelectedFile
	events events.Emitter
}

// NewSelection creates an empty selection reporting to emitter.
func NewSelection(emitter events.Emitter) *Selection {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Selection{events: emitter}
}

// Add classifies candidates and appends the accepted ones in arrival order.
// Names must end in .xml or .pdf (any case) and no two files may share both
// name and size. A nil attach assigns random IDs.
func (s *Selection) Add(candidates []Candidate, attach AttachFunc) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := AddResult{
		Accepted: make([]models.SelectedFile, 0, len(candidates)),
		Rejected: make([]Rejection, 0),
	}

	for i, c := range candidates {
		kind, ok := models.KindOf(c.Name)
		if !ok {
			result.Rejected = append(result.Rejected, Rejection{Name: c.Name, Reason: ReasonInvalidFormat})
			events.Emitf(s.events, models.LevelError, "File rejected: %s (invalid format, only XML and PDF are allowed)", c.Name)
			continue
		}

		if s.containsLocked(c.Name, c.Size) {
			result.Rejected = append(result.Rejected, Rejection{Name: c.Name, Reason: ReasonDuplicate})
			events.Emitf(s.events, models.LevelWarning, "Duplicate file: %s", c.Name)
			continue
		}

		id := uuid.New().String()
		if attach != nil {
			var err error
			id, err = attach(i, c)
			if err != nil {
				result.Rejected = append(result.Rejected, Rejection{Name: c.Name, Reason: ReasonStoreFailed, Detail: err.Error()})
				events.Emitf(s.events, models.LevelError, "Could not keep file %s: %v", c.Name, err)
				continue
			}
		}

		file := models.SelectedFile{
			ID:      id,
			Name:    c.Name,
			Size:    c.Size,
			Kind:    kind,
			AddedAt: time.Now(),
		}
		s.files = append(s.files, file)
		result.Accepted = append(result.Accepted, file)
		events.Emitf(s.events, models.LevelSuccess, "File added: %s (%s)", c.Name, report.FormatFileSize(c.Size))
	}

	return result
}

// Remove drops one file from the selection.
func (s *Selection) Remove(id string) (models.SelectedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.files {
		if f.ID == id {
			s.files = append(s.files[:i:i], s.files[i+1:]...)
			events.Emitf(s.events, models.LevelWarning, "File removed: %s", f.Name)
			return f, nil
		}
	}
	return models.SelectedFile{}, fmt.Errorf("%w: %s", ErrFileNotFound, id)
}

// Clear empties the selection and returns what was removed.
func (s *Selection) Clear() []models.SelectedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.files
	s.files = nil
	return removed
}

// Files returns a snapshot of the selection in arrival order.
func (s *Selection) Files() []models.SelectedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SelectedFile(nil), s.files...)
}

// XML returns the selected XML files in arrival order.
func (s *Selection) XML() []models.SelectedFile {
	return s.ofKind(models.FileKindXML)
}

// PDF returns the selected PDF files in arrival order.
func (s *Selection) PDF() []models.SelectedFile {
	return s.ofKind(models.FileKindPDF)
}

// Readiness reports whether at least one XML and one PDF are selected.
func (s *Selection) Readiness() Readiness {
	return ReadinessOf(s.Files())
}

// ReadinessOf computes readiness for an arbitrary file list.
func ReadinessOf(files []models.SelectedFile) Readiness {
	r := Readiness{}
	for _, f := range files {
		switch f.Kind {
		case models.FileKindXML:
			r.XMLCount++
		case models.FileKindPDF:
			r.PDFCount++
		}
	}

	switch {
	case len(files) == 0:
		r.Message = "Select the XML and PDF files to process"
	case r.XMLCount == 0:
		r.Message = "Add at least 1 XML file"
	case r.PDFCount == 0:
		r.Message = "Add at least 1 PDF file"
	default:
		r.Ready = true
		r.Message = fmt.Sprintf("Process %d XML + %d PDF", r.XMLCount, r.PDFCount)
	}
	return r
}

func (s *Selection) ofKind(kind models.FileKind) []models.SelectedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SelectedFile
	for _, f := range s.files {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (s *Selection) containsLocked(name string, size int64) bool {
	for _, f := range s.files {
		if f.Name == name && f.Size == size {
			return true
		}
	}
	return false
}

package models

import (
	"strings"
	"time"
)

// FileKind is the category a selected file was classified into.
type FileKind string

const (
	FileKindXML FileKind = "xml"
	FileKindPDF FileKind = "pdf"
)

// KindOf classifies a file name by suffix (case-insensitive).
// The second return value is false for anything that is neither XML nor PDF.
func KindOf(name string) (FileKind, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".xml"):
		return FileKindXML, true
	case strings.HasSuffix(lower, ".pdf"):
		return FileKindPDF, true
	}
	return "", false
}

// SelectedFile represents a file accepted into the current selection.
type SelectedFile struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Kind    FileKind  `json:"kind"`
	AddedAt time.Time `json:"addedAt"`
}

// FileInfo describes the bytes of one selected file held in the scratch store.
type FileInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"savedAt"`
}

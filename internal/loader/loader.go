// Package loader reads the selected files into memory for one run: XML claim
// documents as text and PDF attachments as base64.
package loader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/report"
)

// ErrUnreadable is returned under PolicyAbort when a file cannot be read.
var ErrUnreadable = errors.New("file could not be read")

// Policy decides what happens to files that fail to read.
type Policy string

const (
	// PolicyDrop leaves unreadable files out of the payload.
	PolicyDrop Policy = "drop"
	// PolicyAbort fails the whole load.
	PolicyAbort Policy = "abort"
)

// Source opens the bytes of a selected file.
type Source interface {
	Open(file models.SelectedFile) (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(file models.SelectedFile) (io.ReadCloser, error)

// Open calls f.
func (f SourceFunc) Open(file models.SelectedFile) (io.ReadCloser, error) { return f(file) }

// Options configures a load.
type Options struct {
	Policy Policy
	// Concurrency bounds the reads in flight per kind; 0 means no bound.
	Concurrency int
	Events      events.Emitter
}

// Set is the in-memory content of one run.
type Set struct {
	XML        []models.LoadedXML
	PDF        []models.LoadedPDF
	Unreadable []string
}

// PDFMap returns the attachments keyed by file name.
func (s *Set) PDFMap() map[string]string {
	m := make(map[string]string, len(s.PDF))
	for _, p := range s.PDF {
		m[p.Name] = p.Data
	}
	return m
}

// Load reads every XML file, then every PDF file. Reads of one kind run
// concurrently and are joined before the next kind starts; results keep the
// order of files, not completion order.
func Load(ctx context.Context, files []models.SelectedFile, src Source, opts Options) (*Set, error) {
	emitter := opts.Events
	if emitter == nil {
		emitter = events.Discard
	}
	if opts.Policy == "" {
		opts.Policy = PolicyDrop
	}

	var xmlFiles, pdfFiles []models.SelectedFile
	for _, f := range files {
		switch f.Kind {
		case models.FileKindXML:
			xmlFiles = append(xmlFiles, f)
		case models.FileKindPDF:
			pdfFiles = append(pdfFiles, f)
		}
	}

	set := &Set{}

	emitter.Emit(models.LevelInfo, "Reading XML files...")
	xmlOut, err := readAll(ctx, xmlFiles, src, opts.Concurrency, emitter, "Reading", "Read", readText)
	if err != nil {
		return nil, err
	}
	for i, content := range xmlOut {
		if content == nil {
			set.Unreadable = append(set.Unreadable, xmlFiles[i].Name)
			continue
		}
		set.XML = append(set.XML, models.LoadedXML{Name: xmlFiles[i].Name, Content: *content})
	}
	if err := checkPolicy(opts.Policy, set.Unreadable); err != nil {
		return nil, err
	}
	events.Emitf(emitter, models.LevelSuccess, "%d XML file(s) read successfully", len(set.XML))

	emitter.Emit(models.LevelInfo, "Converting PDFs to Base64...")
	pdfOut, err := readAll(ctx, pdfFiles, src, opts.Concurrency, emitter, "Converting", "Converted", readBase64)
	if err != nil {
		return nil, err
	}
	for i, data := range pdfOut {
		if data == nil {
			set.Unreadable = append(set.Unreadable, pdfFiles[i].Name)
			continue
		}
		set.PDF = append(set.PDF, models.LoadedPDF{Name: pdfFiles[i].Name, Data: *data})
	}
	if err := checkPolicy(opts.Policy, set.Unreadable); err != nil {
		return nil, err
	}
	events.Emitf(emitter, models.LevelSuccess, "%d PDF(s) converted successfully", len(set.PDF))

	return set, nil
}

type readFunc func(r io.Reader) (string, error)

// readAll returns one entry per file; nil marks an unreadable file.
func readAll(ctx context.Context, files []models.SelectedFile, src Source, limit int, emitter events.Emitter, verb, done string, read readFunc) ([]*string, error) {
	out := make([]*string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, f := range files {
		events.Emitf(emitter, models.LevelInfo, "  %s: %s", verb, f.Name)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := readOne(src, f, read)
			if err != nil {
				events.Emitf(emitter, models.LevelError, "  Failed to read %s: %v", f.Name, err)
				return nil
			}
			out[i] = &content
			events.Emitf(emitter, models.LevelSuccess, "  %s: %s (%s)", done, f.Name, report.FormatFileSize(int64(len(content))))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading files: %w", err)
	}
	return out, nil
}

func readOne(src Source, f models.SelectedFile, read readFunc) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read panicked: %v", r)
		}
	}()

	rc, err := src.Open(f)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return read(rc)
}

func readText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readBase64(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func checkPolicy(policy Policy, unreadable []string) error {
	if policy == PolicyAbort && len(unreadable) > 0 {
		return fmt.Errorf("%w: %s", ErrUnreadable, unreadable[0])
	}
	return nil
}

// handlers_files.go - Selection handlers
package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/run"
	"github.com/tiss-anexos/intake/internal/storage"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store     storage.Store
	selection *intake.Selection
	runs      RunManager
	log       events.Emitter
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(store storage.Store, selection *intake.Selection, runs RunManager, log events.Emitter) FileHandler {
	if log == nil {
		log = events.Discard
	}
	return &FileHandlerImpl{
		store:     store,
		selection: selection,
		runs:      runs,
		log:       log,
	}
}

type addFilesResponse struct {
	intake.AddResult
	Readiness intake.Readiness `json:"readiness"`
}

type listFilesResponse struct {
	Files     []models.SelectedFile `json:"files"`
	Readiness intake.Readiness      `json:"readiness"`
}

// HandleAddFiles accepts multipart uploads under the "files" field. Rejected
// files are reported per file; the request itself only fails when malformed.
func (h *FileHandlerImpl) HandleAddFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected multipart form", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return NewValidationError("files")
	}

	candidates := make([]intake.Candidate, len(headers))
	for i, fh := range headers {
		candidates[i] = intake.Candidate{Name: fh.Filename, Size: fh.Size}
	}

	var result intake.AddResult
	err = h.whileIdle(func() error {
		result = h.selection.Add(candidates, func(i int, _ intake.Candidate) (string, error) {
			return h.save(headers[i])
		})
		return nil
	})
	if err != nil {
		return selectionError(err)
	}

	return c.JSON(http.StatusOK, addFilesResponse{
		AddResult: result,
		Readiness: h.selection.Readiness(),
	})
}

func (h *FileHandlerImpl) save(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	info, err := h.store.Save(fh.Filename, f)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// HandleListFiles returns the selection in arrival order
func (h *FileHandlerImpl) HandleListFiles(c echo.Context) error {
	files := h.selection.Files()
	if files == nil {
		files = []models.SelectedFile{}
	}
	return c.JSON(http.StatusOK, listFilesResponse{
		Files:     files,
		Readiness: intake.ReadinessOf(files),
	})
}

// HandleRemoveFile removes one file from the selection and the store
func (h *FileHandlerImpl) HandleRemoveFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	err := h.whileIdle(func() error {
		if _, err := h.selection.Remove(id); err != nil {
			return err
		}
		h.discard(id)
		return nil
	})
	if err != nil {
		return selectionError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleClearFiles empties the selection
func (h *FileHandlerImpl) HandleClearFiles(c echo.Context) error {
	var removed []models.SelectedFile
	err := h.whileIdle(func() error {
		removed = h.selection.Clear()
		for _, f := range removed {
			h.discard(f.ID)
		}
		return nil
	})
	if err != nil {
		return selectionError(err)
	}

	if len(removed) > 0 {
		events.Emitf(h.log, models.LevelWarning, "Selection cleared (%d file(s))", len(removed))
	}
	return c.NoContent(http.StatusNoContent)
}

// whileIdle applies a selection change unless a run is in progress.
func (h *FileHandlerImpl) whileIdle(fn func() error) error {
	if h.runs == nil {
		return fn()
	}
	return h.runs.WhileIdle(fn)
}

func (h *FileHandlerImpl) discard(id string) {
	if err := h.store.Delete(id); err != nil {
		fmt.Printf("[Files] Warning: failed to delete stored file %s: %v\n", id, err)
	}
}

func selectionError(err error) error {
	if errors.Is(err, run.ErrRunInProgress) {
		return NewConflictError("files cannot change while a run is in progress")
	}
	return fromDomainError(err)
}

// HandleReadiness reports whether a run may start
func (h *FileHandlerImpl) HandleReadiness(c echo.Context) error {
	return c.JSON(http.StatusOK, h.selection.Readiness())
}

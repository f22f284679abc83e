// handlers_runs.go - Run handlers
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/report"
)

const (
	progressInterval = 250 * time.Millisecond
	progressTimeout  = 30 * time.Minute
)

// RunHandlerImpl implements the RunHandler interface
type RunHandlerImpl struct {
	runCtx context.Context
	runs   RunManager
}

// NewRunHandler creates a new run handler. Runs started through it live as
// long as ctx.
func NewRunHandler(ctx context.Context, runs RunManager) RunHandler {
	return &RunHandlerImpl{
		runCtx: ctx,
		runs:   runs,
	}
}

type startRunRequest struct {
	Mode string `json:"mode"`
}

// runProgress is the lightweight view streamed while a run executes.
type runProgress struct {
	ID           string            `json:"id"`
	Status       models.RunStatus  `json:"status"`
	Stage        string            `json:"stage"`
	Progress     float64           `json:"progress"`
	BatchCount   int               `json:"batchCount"`
	CurrentBatch int               `json:"currentBatch"`
	Summary      models.RunSummary `json:"summary"`
	Error        string            `json:"error,omitempty"`
}

func progressOf(r *models.Run) runProgress {
	return runProgress{
		ID:           r.ID,
		Status:       r.Status,
		Stage:        r.Stage,
		Progress:     r.Progress,
		BatchCount:   r.BatchCount,
		CurrentBatch: r.CurrentBatch,
		Summary:      r.Summary,
		Error:        r.Error,
	}
}

// runResults is shared by the JSON and msgpack result endpoints.
type runResults struct {
	RunID   string                    `json:"runId" msgpack:"runId"`
	Status  models.RunStatus          `json:"status" msgpack:"status"`
	Summary models.RunSummary         `json:"summary" msgpack:"summary"`
	Results []models.SubmissionResult `json:"results" msgpack:"results"`
	Batches []models.BatchOutcome     `json:"batches" msgpack:"batches"`
}

func resultsOf(r *models.Run) runResults {
	out := runResults{
		RunID:   r.ID,
		Status:  r.Status,
		Summary: r.Summary,
		Results: r.Results,
		Batches: r.Batches,
	}
	if out.Results == nil {
		out.Results = []models.SubmissionResult{}
	}
	if out.Batches == nil {
		out.Batches = []models.BatchOutcome{}
	}
	return out
}

// HandleStartRun starts a run from the current selection
func (h *RunHandlerImpl) HandleStartRun(c echo.Context) error {
	var req startRunRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return NewBadRequestError("invalid JSON body", err)
		}
	}

	r, err := h.runs.Start(h.runCtx, req.Mode)
	if err != nil {
		return fromDomainError(err)
	}

	return c.JSON(http.StatusAccepted, r)
}

// HandleActiveRun returns the run currently executing
func (h *RunHandlerImpl) HandleActiveRun(c echo.Context) error {
	r, ok := h.runs.ActiveRun()
	if !ok {
		return NewNotFoundError("run", "active")
	}
	return c.JSON(http.StatusOK, r)
}

// HandleGetRun returns a run snapshot
func (h *RunHandlerImpl) HandleGetRun(c echo.Context) error {
	r, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// HandleRunProgressStream streams run progress via SSE
func (h *RunHandlerImpl) HandleRunProgressStream(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	// The stream lasts as long as the run, not the server's WriteTimeout
	rc := http.NewResponseController(c.Response().Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		fmt.Printf("[SSE] Failed to clear write deadline: %v\n", err)
	}

	c.Response().WriteHeader(http.StatusOK)

	r, ok := h.runs.GetRun(id)
	if !ok {
		sendSSEError(c, "run not found")
		return nil
	}
	sendSSEData(c, progressOf(r))
	if r.Status.IsFinished() {
		return nil
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(progressTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil

		case <-ticker.C:
			r, ok := h.runs.GetRun(id)
			if !ok {
				sendSSEError(c, "run not found")
				return nil
			}

			sendSSEData(c, progressOf(r))

			if r.Status.IsFinished() {
				return nil
			}

		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleRunResults returns per-item results and batch outcomes
func (h *RunHandlerImpl) HandleRunResults(c echo.Context) error {
	r, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resultsOf(r))
}

// HandleRunResultsMsgpack returns results in MessagePack format
func (h *RunHandlerImpl) HandleRunResultsMsgpack(c echo.Context) error {
	r, err := h.lookup(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(resultsOf(r))
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleRunReport renders the run report as text, or JSON with ?format=json
func (h *RunHandlerImpl) HandleRunReport(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	rep, err := h.runs.Report(id)
	if err != nil {
		return fromDomainError(err)
	}

	if c.QueryParam("format") == "json" {
		return c.JSON(http.StatusOK, rep)
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, rep); err != nil {
		return NewInternalError("failed to render report", err)
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
}

func (h *RunHandlerImpl) lookup(c echo.Context) (*models.Run, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	r, ok := h.runs.GetRun(id)
	if !ok {
		return nil, NewNotFoundError("run", id)
	}
	return r, nil
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}

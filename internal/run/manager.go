// Package run executes submission runs: it snapshots the selection, loads,
// plans and submits, and keeps finished runs around for status and reports.
package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiss-anexos/intake/internal/batch"
	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/loader"
	"github.com/tiss-anexos/intake/internal/metrics"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/report"
	"github.com/tiss-anexos/intake/internal/submit"
)

var (
	ErrNotReady      = errors.New("selection is not ready")
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrRunNotFound   = errors.New("run not found")
	ErrInvalidMode   = errors.New("invalid run mode")
)

// Run modes.
const (
	ModeBatch  = "batch"
	ModeLegacy = "legacy"
)

// Backend is what the manager needs from the backend client.
type Backend interface {
	submit.Poster
	Process(ctx context.Context, parts []submit.Part) (*submit.ProcessResponse, int, error)
}

// Options wires a Manager.
type Options struct {
	Selection *intake.Selection
	Source    loader.Source
	Log       *events.Log
	Backend   Backend
	Metrics   *metrics.Metrics
	Settings  Settings
}

// Manager runs one pipeline at a time and keeps a registry of runs.
type Manager struct {
	mu       sync.RWMutex
	runs     map[string]*models.Run
	activeID string
	wg       sync.WaitGroup

	selection *intake.Selection
	source    loader.Source
	log       *events.Log
	backend   Backend
	metrics   *metrics.Metrics
	settings  Settings
}

// NewManager creates a manager. A nil Log gets a private one.
func NewManager(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = events.NewLog(0)
	}
	if opts.Selection == nil {
		opts.Selection = intake.NewSelection(opts.Log)
	}
	return &Manager{
		runs:      make(map[string]*models.Run),
		selection: opts.Selection,
		source:    opts.Source,
		log:       opts.Log,
		backend:   opts.Backend,
		metrics:   opts.Metrics,
		settings:  opts.Settings,
	}
}

// Selection returns the selection runs are started from.
func (m *Manager) Selection() *intake.Selection { return m.selection }

// Log returns the event log every run writes to.
func (m *Manager) Log() *events.Log { return m.log }

// Start snapshots the selection and executes a run in the background. ctx
// bounds the whole run, so callers pass a long-lived context rather than a
// request context.
func (m *Manager) Start(ctx context.Context, mode string) (*models.Run, error) {
	switch mode {
	case "":
		mode = ModeBatch
	case ModeBatch, ModeLegacy:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	m.mu.Lock()
	if m.activeID != "" {
		m.mu.Unlock()
		return nil, ErrRunInProgress
	}

	files := m.selection.Files()
	readiness := intake.ReadinessOf(files)
	if !readiness.Ready {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotReady, readiness.Message)
	}

	r := models.NewRun(uuid.New().String(), mode)
	r.XMLCount = readiness.XMLCount
	r.PDFCount = readiness.PDFCount
	m.runs[r.ID] = r
	m.activeID = r.ID
	snapshot := r.Clone()
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.RunStarted()
	go m.execute(ctx, r.ID, mode, files)

	return snapshot, nil
}

// Wait blocks until every started run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// GetRun returns a snapshot of a run.
func (m *Manager) GetRun(id string) (*models.Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// ActiveRun returns the run currently executing, if any.
func (m *Manager) ActiveRun() (*models.Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.activeID == "" {
		return nil, false
	}
	return m.runs[m.activeID].Clone(), true
}

// Busy reports whether a run is executing.
func (m *Manager) Busy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID != ""
}

// WhileIdle runs fn only if no run is active, and keeps runs from starting
// until fn returns. Selection changes go through it so a starting run never
// snapshots a file whose bytes are being deleted.
func (m *Manager) WhileIdle(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return ErrRunInProgress
	}
	return fn()
}

// Report builds the report of a run.
func (m *Manager) Report(id string) (report.Report, error) {
	r, ok := m.GetRun(id)
	if !ok {
		return report.Report{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return report.Build(r), nil
}

// CleanupOldRuns drops finished runs completed more than maxAge ago.
func (m *Manager) CleanupOldRuns(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, r := range m.runs {
		if !r.Status.IsFinished() || r.CompletedAt == nil {
			continue
		}
		if r.CompletedAt.Before(cutoff) {
			delete(m.runs, id)
			fmt.Printf("[Manager] Cleaned up run %s (completed %s ago)\n",
				id[:8], time.Since(*r.CompletedAt).Round(time.Second))
		}
	}
}

func (m *Manager) execute(ctx context.Context, runID, mode string, files []models.SelectedFile) {
	defer m.wg.Done()
	defer m.metrics.RunFinished()
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Printf("[Run %s] PANIC recovered: %v\n", runID[:8], rec)
			m.fail(runID, fmt.Errorf("run panicked: %v", rec))
		}
		m.mu.Lock()
		if m.activeID == runID {
			m.activeID = ""
		}
		m.mu.Unlock()
	}()

	start := time.Now()
	fmt.Printf("[Run %s] Starting %s run with %d file(s)\n", runID[:8], mode, len(files))

	readiness := intake.ReadinessOf(files)
	m.log.Emit(models.LevelInfo, "Starting processing...")
	events.Emitf(m.log, models.LevelInfo, "Total: %d XML + %d PDF", readiness.XMLCount, readiness.PDFCount)

	var err error
	if mode == ModeLegacy {
		err = m.executeLegacy(ctx, runID, files)
	} else {
		err = m.executeBatches(ctx, runID, files)
	}
	if err != nil {
		fmt.Printf("[Run %s] ERROR: %v\n", runID[:8], err)
		m.fail(runID, err)
		return
	}

	m.mu.Lock()
	r := m.runs[runID]
	now := time.Now()
	r.Status = models.RunStatusComplete
	r.Stage = "complete"
	r.Progress = 100
	r.CompletedAt = &now
	summary := r.Summary
	m.mu.Unlock()

	rule := strings.Repeat("=", 60)
	m.log.Emit(models.LevelInfo, "")
	m.log.Emit(models.LevelInfo, rule)
	m.log.Emit(models.LevelSuccess, "PROCESSING COMPLETE")
	m.log.Emit(models.LevelInfo, rule)
	events.Emitf(m.log, models.LevelInfo, "Total: %d | Successes: %d | Errors: %d",
		summary.TotalItems, summary.SuccessCount, summary.ErrorCount)

	fmt.Printf("[Run %s] Complete in %s: %d item(s), %d error(s)\n",
		runID[:8], time.Since(start).Round(time.Millisecond), summary.TotalItems, summary.ErrorCount)
}

func (m *Manager) executeBatches(ctx context.Context, runID string, files []models.SelectedFile) error {
	m.update(runID, func(r *models.Run) {
		r.Status = models.RunStatusLoading
		r.Stage = "reading files"
		r.Progress = 5
	})

	loadOpts := m.settings.Loader
	loadOpts.Events = m.log
	set, err := loader.Load(ctx, files, m.source, loadOpts)
	if err != nil {
		return fmt.Errorf("loading files: %w", err)
	}
	if len(set.XML) == 0 || len(set.PDF) == 0 {
		return fmt.Errorf("nothing to submit: %d XML and %d PDF could be read", len(set.XML), len(set.PDF))
	}

	m.update(runID, func(r *models.Run) {
		r.Status = models.RunStatusPlanning
		r.Stage = "planning batches"
		r.Progress = 10
	})

	batches := batch.Plan(set.PDF, m.settings.Batch)
	stats := batch.Describe(batches)
	events.Emitf(m.log, models.LevelInfo, "Splitting into %d batch(es)", stats.Batches)
	if stats.LargeItems > 0 {
		events.Emitf(m.log, models.LevelWarning, "%d PDF(s) above %s will be sent individually",
			stats.LargeItems, report.FormatFileSize(m.maxSingleSize()))
	}
	m.log.Emit(models.LevelInfo, "Sending to server...")

	m.update(runID, func(r *models.Run) {
		r.Status = models.RunStatusSubmitting
		r.Stage = "submitting"
		r.BatchCount = len(batches)
		r.Progress = 15
	})

	cfg := m.settings.Submit
	cfg.Events = m.log
	if m.metrics != nil {
		cfg.Recorder = m.metrics
	}
	cfg.OnBatchStart = func(b models.Batch, total int) {
		m.update(runID, func(r *models.Run) {
			r.CurrentBatch = b.Index + 1
			r.Stage = fmt.Sprintf("sending batch %d/%d", b.Index+1, total)
		})
	}
	cfg.OnBatchDone = func(outcome models.BatchOutcome, added []models.SubmissionResult, summary models.RunSummary) {
		m.update(runID, func(r *models.Run) {
			r.Results = append(r.Results, added...)
			r.Batches = append(r.Batches, outcome)
			r.Summary = summary
			r.Progress = 15 + 85*float64(len(r.Batches))/float64(max(r.BatchCount, 1))
		})
	}

	if _, err := submit.NewOrchestrator(m.backend, cfg).Run(ctx, set.XML, batches); err != nil {
		return fmt.Errorf("submitting batches: %w", err)
	}
	return nil
}

func (m *Manager) maxSingleSize() int64 {
	if m.settings.Batch.MaxSingleSize > 0 {
		return m.settings.Batch.MaxSingleSize
	}
	return batch.DefaultMaxSingleSize
}

// executeLegacy sends every selected file in one multipart request.
func (m *Manager) executeLegacy(ctx context.Context, runID string, files []models.SelectedFile) error {
	m.update(runID, func(r *models.Run) {
		r.Status = models.RunStatusSubmitting
		r.Stage = "sending files"
		r.BatchCount = 1
		r.CurrentBatch = 1
		r.Progress = 10
	})

	parts := make([]submit.Part, 0, len(files))
	for _, f := range files {
		rc, err := m.source.Open(f)
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		defer rc.Close()
		parts = append(parts, submit.Part{Name: f.Name, Body: rc})
	}

	m.log.Emit(models.LevelInfo, "Sending files to server...")
	start := time.Now()
	resp, status, err := m.backend.Process(ctx, parts)
	m.metrics.ObserveAttempt(err == nil)
	if err != nil {
		return fmt.Errorf("sending files: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("server rejected files: %s", msg)
	}

	outcome := models.BatchOutcome{
		Size:       len(files),
		State:      models.BatchStateSucceeded,
		Attempts:   1,
		StatusCode: status,
		Elapsed:    time.Since(start),
	}

	var summary models.RunSummary
	results := make([]models.SubmissionResult, 0, len(resp.Resultados))
	for i, res := range resp.Resultados {
		item := res.ToResult(0, 1, status)
		results = append(results, item)
		summary.Record(item.Success)

		m.log.Emit(models.LevelInfo, "")
		events.Emitf(m.log, models.LevelInfo, "ITEM [%d/%d]", i+1, len(resp.Resultados))
		events.Emitf(m.log, models.LevelInfo, "Guia: %s", orNA(item.Patient.GuiaPrestador))
		if item.Success {
			outcome.Successes++
			events.Emitf(m.log, models.LevelSuccess, "Sent successfully! Status: %d", item.StatusCode)
		} else {
			outcome.Errors++
			events.Emitf(m.log, models.LevelError, "Failed: %s", item.ErrorMessage)
		}
	}
	m.metrics.ObserveBatch(outcome.State, outcome.Elapsed)
	m.metrics.ObserveItems(outcome.Successes, outcome.Errors)

	m.update(runID, func(r *models.Run) {
		r.Results = results
		r.Batches = []models.BatchOutcome{outcome}
		r.Summary = summary
	})
	return nil
}

func (m *Manager) update(runID string, fn func(r *models.Run)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		fn(r)
	}
}

func (m *Manager) fail(runID string, err error) {
	events.Emitf(m.log, models.LevelError, "Critical error: %v", err)

	now := time.Now()
	m.update(runID, func(r *models.Run) {
		r.Status = models.RunStatusError
		r.Stage = "failed"
		r.Error = err.Error()
		r.CompletedAt = &now
	})
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

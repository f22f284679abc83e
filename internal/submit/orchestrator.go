package submit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/models"
)

// FailedBatchPolicy decides how a batch that exhausted its attempts shows up
// in the results.
type FailedBatchPolicy string

const (
	// MarkItems adds one failed result per PDF of the batch.
	MarkItems FailedBatchPolicy = "mark-items"
	// BatchOnly records the batch outcome without per-item results.
	BatchOnly FailedBatchPolicy = "batch-only"
)

const (
	DefaultMaxAttempts = 2
	DefaultRetryDelay  = 2 * time.Second
	// NoRetryDelay retries immediately.
	NoRetryDelay time.Duration = -1
)

// Poster sends one batch.
type Poster interface {
	Submit(ctx context.Context, req EnviarRequest) (*EnviarResponse, int, error)
}

// Recorder receives submission metrics.
type Recorder interface {
	ObserveAttempt(success bool)
	ObserveBatch(state models.BatchState, elapsed time.Duration)
	ObserveItems(successes, errors int)
}

// Config tunes the orchestrator.
type Config struct {
	MaxAttempts int
	// RetryDelay is waited before every attempt after the first. Zero means
	// DefaultRetryDelay, a negative value means no wait.
	RetryDelay       time.Duration
	BatchesPerMinute float64
	FailedBatchItems FailedBatchPolicy

	Events   events.Emitter
	Recorder Recorder

	// OnBatchStart is called before the first attempt of every batch.
	OnBatchStart func(b models.Batch, total int)
	// OnBatchDone is called once per batch with the results it added and the
	// running summary.
	OnBatchDone func(outcome models.BatchOutcome, added []models.SubmissionResult, summary models.RunSummary)
}

// Result is the aggregate of one run.
type Result struct {
	Summary models.RunSummary
	Results []models.SubmissionResult
	Batches []models.BatchOutcome
}

// Orchestrator submits batches one at a time.
type Orchestrator struct {
	poster  Poster
	cfg     Config
	limiter *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator. Zero values in cfg take defaults.
func NewOrchestrator(poster Poster, cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	switch {
	case cfg.RetryDelay == 0:
		cfg.RetryDelay = DefaultRetryDelay
	case cfg.RetryDelay < 0:
		cfg.RetryDelay = 0
	}
	if cfg.FailedBatchItems == "" {
		cfg.FailedBatchItems = MarkItems
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}

	o := &Orchestrator{
		poster: poster,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	if cfg.BatchesPerMinute > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerMinute/60), 1)
	}
	return o
}

// Run submits batches in plan order; xmls travel whole with every batch. A
// failed batch never stops the run. The error is non-nil only when ctx ends
// the run early; the partial result is still returned.
func (o *Orchestrator) Run(ctx context.Context, xmls []models.LoadedXML, batches []models.Batch) (*Result, error) {
	res := &Result{}
	totalItems := 0
	for _, b := range batches {
		totalItems += len(b.Items)
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return res, fmt.Errorf("waiting for batch slot: %w", err)
			}
		}

		if o.cfg.OnBatchStart != nil {
			o.cfg.OnBatchStart(b, len(batches))
		}

		before := len(res.Results)
		outcome := o.runBatch(ctx, xmls, b, len(batches), totalItems, res)
		res.Batches = append(res.Batches, outcome)

		if o.cfg.Recorder != nil {
			o.cfg.Recorder.ObserveBatch(outcome.State, outcome.Elapsed)
			o.cfg.Recorder.ObserveItems(outcome.Successes, outcome.Errors)
		}
		if o.cfg.OnBatchDone != nil {
			added := append([]models.SubmissionResult(nil), res.Results[before:]...)
			o.cfg.OnBatchDone(outcome, added, res.Summary)
		}
	}

	return res, nil
}

// runBatch drives one batch through pending → attempting(n) → succeeded |
// failed and folds its items into res.
func (o *Orchestrator) runBatch(ctx context.Context, xmls []models.LoadedXML, b models.Batch, totalBatches, totalItems int, res *Result) models.BatchOutcome {
	emit := o.cfg.Events
	num := b.Index + 1

	outcome := models.BatchOutcome{
		Index: b.Index,
		Size:  len(b.Items),
		Large: b.Large,
		State: models.BatchStatePending,
	}

	// Attachments are keyed by name; a repeated name would overwrite the
	// earlier one, so it is reported as failed instead of being sent.
	req := EnviarRequest{XMLFiles: xmls, PDFs: make(map[string]string, len(b.Items))}
	var sent, shadowed []models.LoadedPDF
	for _, item := range b.Items {
		if _, dup := req.PDFs[item.Name]; dup {
			shadowed = append(shadowed, item)
			continue
		}
		req.PDFs[item.Name] = item.Data
		sent = append(sent, item)
	}

	emit.Emit(models.LevelInfo, "")
	events.Emitf(emit, models.LevelWarning, "Sending batch %d/%d (%d PDFs)...", num, totalBatches, len(req.PDFs))
	for _, item := range shadowed {
		events.Emitf(emit, models.LevelError, "Skipped %s: another PDF with the same name is in batch %d", item.Name, num)
		res.Results = append(res.Results, models.SubmissionResult{
			PDFName:      item.Name,
			BatchIndex:   b.Index,
			ErrorMessage: "duplicate attachment name in batch",
		})
		res.Summary.Record(false)
		outcome.Errors++
	}

	start := o.now()
	var resp *EnviarResponse

	for !outcome.State.IsTerminal() {
		outcome.Attempts++
		outcome.State = models.BatchStateAttempting

		if outcome.Attempts > 1 {
			events.Emitf(emit, models.LevelWarning, "   Attempt %d/%d...", outcome.Attempts, o.cfg.MaxAttempts)
			if err := o.sleep(ctx, o.cfg.RetryDelay); err != nil {
				outcome.Error = err.Error()
				outcome.State = models.BatchStateFailed
				break
			}
		}

		r, status, err := o.poster.Submit(ctx, req)
		outcome.StatusCode = status
		if o.cfg.Recorder != nil {
			o.cfg.Recorder.ObserveAttempt(err == nil)
		}

		switch {
		case err == nil:
			resp = r
			outcome.Error = ""
			outcome.State = models.BatchStateSucceeded
		default:
			outcome.Error = err.Error()
			events.Emitf(emit, models.LevelError, "Error in batch %d: %s", num, outcome.Error)
			if outcome.Attempts >= o.cfg.MaxAttempts || ctx.Err() != nil {
				outcome.State = models.BatchStateFailed
			}
		}
	}
	outcome.Elapsed = o.now().Sub(start)

	if outcome.State == models.BatchStateSucceeded {
		o.collect(resp, b, totalItems, &outcome, res)
		return outcome
	}

	events.Emitf(emit, models.LevelError, "Batch %d failed after %d attempt(s): %s", num, outcome.Attempts, outcome.Error)
	emit.Emit(models.LevelWarning, "Continuing with next batch...")

	res.Summary.FailedBatches++
	if o.cfg.FailedBatchItems == MarkItems {
		for _, item := range sent {
			res.Results = append(res.Results, models.SubmissionResult{
				PDFName:      item.Name,
				BatchIndex:   b.Index,
				StatusCode:   outcome.StatusCode,
				Attempts:     outcome.Attempts,
				ErrorMessage: outcome.Error,
			})
			res.Summary.Record(false)
			outcome.Errors++
		}
	}
	return outcome
}

func (o *Orchestrator) collect(resp *EnviarResponse, b models.Batch, totalItems int, outcome *models.BatchOutcome, res *Result) {
	emit := o.cfg.Events

	for _, r := range resp.Resultados {
		item := r.ToResult(b.Index, outcome.Attempts, outcome.StatusCode)
		res.Results = append(res.Results, item)
		res.Summary.Record(item.Success)

		emit.Emit(models.LevelInfo, "")
		events.Emitf(emit, models.LevelInfo, "ITEM [%d/%d]", len(res.Results), totalItems)
		events.Emitf(emit, models.LevelInfo, "Carteira: %s", orNA(item.Patient.Carteira))
		events.Emitf(emit, models.LevelInfo, "Guia: %s", orNA(item.Patient.GuiaPrestador))
		events.Emitf(emit, models.LevelInfo, "PDF: %s", orNA(item.PDFName))
		if item.Success {
			outcome.Successes++
			emit.Emit(models.LevelSuccess, "Sent successfully!")
		} else {
			outcome.Errors++
			events.Emitf(emit, models.LevelError, "Failed: %s", item.ErrorMessage)
		}
	}

	var sucessos, erros int
	if resp.Resumo != nil {
		sucessos, erros = resp.Resumo.Sucessos, resp.Resumo.Erros
	}
	emit.Emit(models.LevelInfo, "")
	events.Emitf(emit, models.LevelInfo, "Batch %d summary: %d success(es) | %d error(s) | %.2fs",
		b.Index+1, sucessos, erros, outcome.Elapsed.Seconds())
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

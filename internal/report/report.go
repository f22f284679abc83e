// Package report turns a finished run into the consolidated success/failure
// report shown after processing.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tiss-anexos/intake/internal/models"
)

const notAvailable = "N/A"

// Line is one per-item status line of the report.
type Line struct {
	Success       bool   `json:"success" msgpack:"success"`
	GuiaPrestador string `json:"guiaPrestador" msgpack:"guiaPrestador"`
	Nome          string `json:"nome" msgpack:"nome"`
	Carteira      string `json:"carteira" msgpack:"carteira"`
	PDFName       string `json:"pdfName" msgpack:"pdfName"`
	BatchIndex    int    `json:"batchIndex" msgpack:"batchIndex"`
	StatusCode    int    `json:"statusCode,omitempty" msgpack:"statusCode,omitempty"`
	Attempts      int    `json:"attempts" msgpack:"attempts"`
	Error         string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Report is the consolidated outcome of one run.
type Report struct {
	RunID    string                `json:"runId" msgpack:"runId"`
	Status   models.RunStatus      `json:"status" msgpack:"status"`
	Summary  models.RunSummary     `json:"summary" msgpack:"summary"`
	Lines    []Line                `json:"lines" msgpack:"lines"`
	Batches  []models.BatchOutcome `json:"batches" msgpack:"batches"`
	RunError string                `json:"runError,omitempty" msgpack:"runError,omitempty"`
	Duration time.Duration         `json:"durationNs" msgpack:"durationNs"`
}

// Build creates the report for a run snapshot.
func Build(run *models.Run) Report {
	r := Report{
		RunID:    run.ID,
		Status:   run.Status,
		Summary:  run.Summary,
		Lines:    make([]Line, 0, len(run.Results)),
		Batches:  append([]models.BatchOutcome(nil), run.Batches...),
		RunError: run.Error,
	}
	if run.CompletedAt != nil {
		r.Duration = run.CompletedAt.Sub(run.CreatedAt)
	}

	for _, res := range run.Results {
		line := Line{
			Success:       res.Success,
			GuiaPrestador: orNA(res.Patient.GuiaPrestador),
			Nome:          orNA(res.Patient.Nome),
			Carteira:      orNA(res.Patient.Carteira),
			PDFName:       orNA(res.PDFName),
			BatchIndex:    res.BatchIndex,
			StatusCode:    res.StatusCode,
			Attempts:      res.Attempts,
		}
		if line.Attempts == 0 {
			line.Attempts = 1
		}
		if !res.Success {
			line.Error = res.ErrorMessage
			if line.Error == "" {
				line.Error = "unknown error"
			}
		}
		r.Lines = append(r.Lines, line)
	}

	return r
}

// Failed returns the lines of items that were not delivered.
func (r Report) Failed() []Line {
	var out []Line
	for _, l := range r.Lines {
		if !l.Success {
			out = append(out, l)
		}
	}
	return out
}

// Render writes a human-readable version of the report.
func Render(w io.Writer, r Report) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "PROCESSING RESULTS")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total: %d | Successes: %d | Errors: %d\n",
		r.Summary.TotalItems, r.Summary.SuccessCount, r.Summary.ErrorCount)
	if r.Summary.FailedBatches > 0 {
		fmt.Fprintf(&b, "Failed batches: %d\n", r.Summary.FailedBatches)
	}
	if r.RunError != "" {
		fmt.Fprintf(&b, "Run error: %s\n", r.RunError)
	}
	fmt.Fprintln(&b)

	for _, l := range r.Lines {
		if l.Success {
			fmt.Fprintf(&b, "[OK]   Guia %s\n", l.GuiaPrestador)
			fmt.Fprintf(&b, "       %s | Carteirinha: %s | PDF: %s\n", l.Nome, l.Carteira, l.PDFName)
			fmt.Fprintf(&b, "       Status: %d | Attempts: %d\n", l.StatusCode, l.Attempts)
		} else {
			fmt.Fprintf(&b, "[FAIL] Guia %s\n", l.GuiaPrestador)
			fmt.Fprintf(&b, "       %s | Carteirinha: %s | PDF: %s\n", l.Nome, l.Carteira, l.PDFName)
			fmt.Fprintf(&b, "       Error: %s\n", l.Error)
		}
	}

	for _, bo := range r.Batches {
		if bo.State == models.BatchStateFailed {
			fmt.Fprintf(&b, "Batch %d failed after %d attempt(s): %s\n", bo.Index+1, bo.Attempts, bo.Error)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

package models

import "time"

// Patient identifies the claim a submission result belongs to.
type Patient struct {
	GuiaPrestador string `json:"guiaPrestador" msgpack:"guiaPrestador"`
	Carteira      string `json:"carteira" msgpack:"carteira"`
	Nome          string `json:"nome" msgpack:"nome"`
}

// SubmissionResult is the outcome for one submitted item.
type SubmissionResult struct {
	Patient      Patient `json:"patient" msgpack:"patient"`
	PDFName      string  `json:"pdfName,omitempty" msgpack:"pdfName,omitempty"`
	BatchIndex   int     `json:"batchIndex" msgpack:"batchIndex"`
	Success      bool    `json:"success" msgpack:"success"`
	StatusCode   int     `json:"statusCode,omitempty" msgpack:"statusCode,omitempty"`
	Attempts     int     `json:"attempts" msgpack:"attempts"`
	ErrorMessage string  `json:"errorMessage,omitempty" msgpack:"errorMessage,omitempty"`
}

// BatchState is a state of the per-batch retry state machine.
type BatchState string

const (
	BatchStatePending    BatchState = "pending"
	BatchStateAttempting BatchState = "attempting"
	BatchStateSucceeded  BatchState = "succeeded"
	BatchStateFailed     BatchState = "failed"
)

// IsTerminal reports whether no further attempts will be made.
func (s BatchState) IsTerminal() bool {
	return s == BatchStateSucceeded || s == BatchStateFailed
}

// BatchOutcome records how a batch went.
type BatchOutcome struct {
	Index      int           `json:"index" msgpack:"index"`
	Size       int           `json:"size" msgpack:"size"`
	Large      bool          `json:"large" msgpack:"large"`
	State      BatchState    `json:"state" msgpack:"state"`
	Attempts   int           `json:"attempts" msgpack:"attempts"`
	StatusCode int           `json:"statusCode,omitempty" msgpack:"statusCode,omitempty"`
	Successes  int           `json:"successes" msgpack:"successes"`
	Errors     int           `json:"errors" msgpack:"errors"`
	Elapsed    time.Duration `json:"elapsedNs" msgpack:"elapsedNs"`
	Error      string        `json:"error,omitempty" msgpack:"error,omitempty"`
}

// RunSummary accumulates counters across all batches of one run.
type RunSummary struct {
	TotalItems    int `json:"totalItems" msgpack:"totalItems"`
	SuccessCount  int `json:"successCount" msgpack:"successCount"`
	ErrorCount    int `json:"errorCount" msgpack:"errorCount"`
	FailedBatches int `json:"failedBatches" msgpack:"failedBatches"`
}

// Record adds one item outcome to the summary.
func (s *RunSummary) Record(success bool) {
	s.TotalItems++
	if success {
		s.SuccessCount++
	} else {
		s.ErrorCount++
	}
}

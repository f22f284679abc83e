package models

import "time"

// RunStatus represents the status of a processing run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusLoading    RunStatus = "loading"
	RunStatusPlanning   RunStatus = "planning"
	RunStatusSubmitting RunStatus = "submitting"
	RunStatusComplete   RunStatus = "complete"
	RunStatusError      RunStatus = "error"
)

// IsFinished reports whether the run has reached a terminal status.
func (s RunStatus) IsFinished() bool {
	return s == RunStatusComplete || s == RunStatusError
}

// Run is one user-initiated submission attempt, from loading to report.
type Run struct {
	ID           string             `json:"id" msgpack:"id"`
	Mode         string             `json:"mode" msgpack:"mode"`
	Status       RunStatus          `json:"status" msgpack:"status"`
	Stage        string             `json:"stage" msgpack:"stage"`
	Progress     float64            `json:"progress" msgpack:"progress"` // 0-100
	XMLCount     int                `json:"xmlCount" msgpack:"xmlCount"`
	PDFCount     int                `json:"pdfCount" msgpack:"pdfCount"`
	BatchCount   int                `json:"batchCount" msgpack:"batchCount"`
	CurrentBatch int                `json:"currentBatch" msgpack:"currentBatch"`
	Summary      RunSummary         `json:"summary" msgpack:"summary"`
	Results      []SubmissionResult `json:"results,omitempty" msgpack:"results,omitempty"`
	Batches      []BatchOutcome     `json:"batches,omitempty" msgpack:"batches,omitempty"`
	Error        string             `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt    time.Time          `json:"createdAt" msgpack:"createdAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// NewRun creates a new Run in pending status.
func NewRun(id, mode string) *Run {
	return &Run{
		ID:        id,
		Mode:      mode,
		Status:    RunStatusPending,
		Stage:     "preparing",
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy that shares no slices with the receiver.
func (r *Run) Clone() *Run {
	c := *r
	c.Results = append([]SubmissionResult(nil), r.Results...)
	c.Batches = append([]BatchOutcome(nil), r.Batches...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

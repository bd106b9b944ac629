package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a discovery run.
//
// Transitions:
//
//	pending -> running -> completed
//	                   -> failed
//
// completed and failed are terminal.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// IsTerminal returns true once no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// DegradedInsufficientData is recorded when the corpus was too small to cluster
const DegradedInsufficientData = "insufficient_data"

// DiscoveryRun is the auditable record of one discovery execution. It is
// created by the orchestrator and only ever mutated through Start, Complete
// and Fail.
type DiscoveryRun struct {
	ID                string        `json:"id"`
	Scope             string        `json:"scope"`
	Status            RunStatus     `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	DocumentsAnalyzed int           `json:"documents_analyzed"`
	HighCount         int           `json:"high_count"`
	MediumCount       int           `json:"medium_count"`
	LowCount          int           `json:"low_count"`
	NoiseCount        int           `json:"noise_count"`
	Degraded          bool          `json:"degraded"`
	DegradedReason    string        `json:"degraded_reason,omitempty"`
	Duration          time.Duration `json:"duration"`
	Error             string        `json:"error,omitempty"`
}

// NewDiscoveryRun creates a pending run for the given scope
func NewDiscoveryRun(scope string) *DiscoveryRun {
	return &DiscoveryRun{
		ID:     uuid.New().String(),
		Scope:  scope,
		Status: RunPending,
	}
}

// Start moves a pending run to running and captures the start time
func (r *DiscoveryRun) Start(now time.Time) error {
	if r.Status != RunPending {
		return fmt.Errorf("cannot start run %s in status %s", r.ID, r.Status)
	}
	r.Status = RunRunning
	r.StartedAt = now
	return nil
}

// MarkDegraded flags a running run as having taken a degraded path
func (r *DiscoveryRun) MarkDegraded(reason string) {
	r.Degraded = true
	r.DegradedReason = reason
}

// Complete records tier totals and elapsed time and moves the run to completed
func (r *DiscoveryRun) Complete(now time.Time, high, medium, low, noise int) error {
	if r.Status != RunRunning {
		return fmt.Errorf("cannot complete run %s in status %s", r.ID, r.Status)
	}
	r.Status = RunCompleted
	r.HighCount = high
	r.MediumCount = medium
	r.LowCount = low
	r.NoiseCount = noise
	r.finish(now)
	return nil
}

// Fail records the failure detail and moves the run to failed
func (r *DiscoveryRun) Fail(now time.Time, cause error) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("cannot fail run %s in terminal status %s", r.ID, r.Status)
	}
	r.Status = RunFailed
	if cause != nil {
		r.Error = cause.Error()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.finish(now)
	return nil
}

func (r *DiscoveryRun) finish(now time.Time) {
	r.CompletedAt = &now
	r.Duration = now.Sub(r.StartedAt)
}

// CandidateCount returns the number of candidates a completed run produced
func (r *DiscoveryRun) CandidateCount() int {
	return r.HighCount + r.MediumCount + r.LowCount
}

// Validate checks if the run has valid field values
func (r *DiscoveryRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Scope == "" {
		return fmt.Errorf("run scope is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	if r.Status.IsTerminal() && r.CompletedAt == nil {
		return fmt.Errorf("terminal run %s is missing completed_at", r.ID)
	}
	if r.Status == RunFailed && r.Error == "" {
		return fmt.Errorf("failed run %s is missing error detail", r.ID)
	}
	if r.DocumentsAnalyzed < 0 || r.HighCount < 0 || r.MediumCount < 0 || r.LowCount < 0 || r.NoiseCount < 0 {
		return fmt.Errorf("run %s has negative counts", r.ID)
	}
	return nil
}

package engine

import (
	"time"
)

// Status is the lifecycle state of an execution run. Paused is deliberately
// not a Status: a paused run stays Executing, it just stops advancing steps.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ActionOutcome records the final attempt of one step. Earlier attempts
// leave no trace beyond RetryCount.
type ActionOutcome struct {
	StepNumber          int    `json:"step_number"`
	Success             bool   `json:"success"`
	RetryCount          int    `json:"retry_count"`
	ErrorMessage        string `json:"error_message,omitempty"`
	BeforeScreenshotRef string `json:"before_screenshot_ref,omitempty"`
	AfterScreenshotRef  string `json:"after_screenshot_ref,omitempty"`
	DurationMs          int64  `json:"duration_ms"`
}

// ExecutionResult is the aggregate state of one run. It is mutated only by
// the owning run goroutine; everyone else sees copies taken under the run's
// lock.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id"`
	PlanID      string          `json:"plan_id"`
	Status      Status          `json:"status"`
	CurrentStep int             `json:"current_step"`
	TotalSteps  int             `json:"total_steps"`
	Outcomes    []ActionOutcome `json:"outcomes"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	// FatalError and FailedStep are set only when Status is failed: the
	// first fatal error and the step that raised it.
	FatalError string `json:"fatal_error,omitempty"`
	FailedStep int    `json:"failed_step,omitempty"`
}

// CompletedSteps counts outcomes that succeeded.
func (r *ExecutionResult) CompletedSteps() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// SuccessRatio is completed steps over total steps. A Completed run with
// non-critical failures reports a ratio below 1.
func (r *ExecutionResult) SuccessRatio() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.CompletedSteps()) / float64(r.TotalSteps)
}

// clone deep-copies the result for safe concurrent reads.
func (r *ExecutionResult) clone() *ExecutionResult {
	out := *r
	out.Outcomes = append([]ActionOutcome(nil), r.Outcomes...)
	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		out.CompletedAt = &completedAt
	}
	return &out
}

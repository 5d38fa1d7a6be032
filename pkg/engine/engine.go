// Package engine executes approved action plans against borrowed browser
// sessions: sequential steps, retry with recovery, validation, screenshots,
// and progress reporting.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/actions"
	"github.com/entrhq/pilot/pkg/browser"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/metrics"
	"github.com/entrhq/pilot/pkg/plan"
)

var (
	// ErrUnknownExecution is returned for execution ids the engine does
	// not know (never started, or dropped after retention).
	ErrUnknownExecution = errors.New("unknown execution id")

	// ErrRunPending is returned by FinalResult while the run is still in
	// flight.
	ErrRunPending = errors.New("execution has not finished")
)

// ActionRunner is the capability registry contract the engine drives. The
// production implementation is actions.Registry; tests substitute scripted
// stubs.
type ActionRunner interface {
	// Run performs one attempt unit: the action plus its validation.
	Run(ctx context.Context, session *browser.PooledSession, action plan.AtomicAction) error

	// Recover applies the corrective heuristic for the error class.
	Recover(ctx context.Context, session *browser.PooledSession, class actions.ErrorClass) error

	// Capture stores a screenshot and returns its ref.
	Capture(ctx context.Context, session *browser.PooledSession, label string) (string, error)
}

// Engine starts and tracks execution runs. Each run is one goroutine owning
// one borrowed session.
type Engine struct {
	runner    ActionRunner
	pausePoll time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sinks     []Sink

	mu   sync.RWMutex
	runs map[string]*run
}

// New creates an engine. Sinks receive progress and terminal events for
// every run, best-effort.
func New(runner ActionRunner, pausePoll time.Duration, logger *zap.Logger, m *metrics.Metrics, sinks ...Sink) *Engine {
	if pausePoll <= 0 {
		pausePoll = 500 * time.Millisecond
	}
	return &Engine{
		runner:    runner,
		pausePoll: pausePoll,
		logger:    logging.OrNop(logger),
		metrics:   m,
		sinks:     sinks,
		runs:      make(map[string]*run),
	}
}

// Start begins executing the plan on the session and returns immediately
// with the new execution id. The caller keeps ownership of the session and
// must release it after the run reaches a terminal status (watch Done).
func (e *Engine) Start(session *browser.PooledSession, p *plan.ExecutionPlan) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	r := &run{
		id:      uuid.New().String(),
		session: session,
		plan:    p,
		done:    make(chan struct{}),
		result: ExecutionResult{
			PlanID:     p.ID,
			Status:     StatusQueued,
			TotalSteps: p.TotalSteps(),
		},
	}
	r.result.ExecutionID = r.id

	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()

	go e.execute(r)
	return r.id, nil
}

// Status returns a snapshot of the run, safe to read while it executes.
func (e *Engine) Status(executionID string) (*ExecutionResult, error) {
	r := e.run(executionID)
	if r == nil {
		return nil, ErrUnknownExecution
	}
	return r.snapshot(), nil
}

// FinalResult returns the terminal result, or ErrRunPending while the run
// is still executing.
func (e *Engine) FinalResult(executionID string) (*ExecutionResult, error) {
	r := e.run(executionID)
	if r == nil {
		return nil, ErrUnknownExecution
	}
	snap := r.snapshot()
	if !snap.Status.Terminal() {
		return nil, ErrRunPending
	}
	return snap, nil
}

// Pause stops step advancement after the current step. Returns false for
// unknown, already paused, or terminal runs.
func (e *Engine) Pause(executionID string) bool {
	r := e.run(executionID)
	if r == nil || r.terminal() {
		return false
	}
	return r.ctrl.pause()
}

// Resume restarts a paused run. Returns false for unknown, unpaused, or
// terminal runs.
func (e *Engine) Resume(executionID string) bool {
	r := e.run(executionID)
	if r == nil || r.terminal() {
		return false
	}
	return r.ctrl.resume()
}

// Cancel requests termination at the next step boundary. The in-flight step
// finishes first. Only the first call returns true.
func (e *Engine) Cancel(executionID string) bool {
	r := e.run(executionID)
	if r == nil || r.terminal() {
		return false
	}
	return r.ctrl.cancel()
}

// Done returns a channel closed when the run reaches a terminal status.
func (e *Engine) Done(executionID string) (<-chan struct{}, error) {
	r := e.run(executionID)
	if r == nil {
		return nil, ErrUnknownExecution
	}
	return r.done, nil
}

// Remove drops a terminal run from tracking. Returns false while the run is
// still executing so callers cannot orphan a live session.
func (e *Engine) Remove(executionID string) bool {
	r := e.run(executionID)
	if r == nil || !r.terminal() {
		return false
	}

	e.mu.Lock()
	delete(e.runs, executionID)
	e.mu.Unlock()
	return true
}

func (e *Engine) run(executionID string) *run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runs[executionID]
}

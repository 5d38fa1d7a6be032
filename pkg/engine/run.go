package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/actions"
	"github.com/entrhq/pilot/pkg/browser"
	"github.com/entrhq/pilot/pkg/plan"
)

// retrySleep is swapped out by tests to keep retry-heavy plans fast.
var retrySleep = time.Sleep

// run is one execution: one goroutine, one borrowed session, one plan.
type run struct {
	id      string
	session *browser.PooledSession
	plan    *plan.ExecutionPlan
	ctrl    controlHandle
	done    chan struct{}

	mu     sync.Mutex
	result ExecutionResult
}

func (r *run) snapshot() *ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.clone()
}

func (r *run) terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.Status.Terminal()
}

// execute is the run loop: strictly ascending steps, control signals checked
// only at step boundaries.
func (e *Engine) execute(r *run) {
	defer close(r.done)

	e.metrics.RunStarted()
	r.mu.Lock()
	r.result.Status = StatusExecuting
	r.result.StartedAt = time.Now()
	r.mu.Unlock()

	logger := e.logger.With(
		zap.String("execution_id", r.id),
		zap.String("plan_id", r.plan.ID),
	)
	logger.Info("execution started", zap.Int("total_steps", r.plan.TotalSteps()))

	for _, action := range r.plan.Actions {
		if cancelled := e.holdAtBoundary(r); cancelled {
			logger.Info("execution cancelled", zap.Int("at_step", action.StepNumber))
			e.finish(r, StatusCancelled, logger)
			return
		}

		r.mu.Lock()
		r.result.CurrentStep = action.StepNumber
		r.mu.Unlock()

		outcome := e.executeStep(r, action, logger)

		r.mu.Lock()
		r.result.Outcomes = append(r.result.Outcomes, outcome)
		r.mu.Unlock()

		result := "success"
		if !outcome.Success {
			result = "failure"
		}
		e.metrics.StepFinished(result, float64(outcome.DurationMs)/1000)

		e.notifyProgress(ProgressEvent{
			ExecutionID: r.id,
			StepNumber:  action.StepNumber,
			TotalSteps:  r.plan.TotalSteps(),
		})

		if !outcome.Success && action.IsCritical {
			logger.Error("critical step exhausted retries, aborting plan",
				zap.Int("step", action.StepNumber),
				zap.String("error", outcome.ErrorMessage))
			r.mu.Lock()
			r.result.FatalError = outcome.ErrorMessage
			r.result.FailedStep = action.StepNumber
			r.mu.Unlock()
			e.finish(r, StatusFailed, logger)
			return
		}
	}

	e.finish(r, StatusCompleted, logger)
}

// holdAtBoundary blocks while the run is paused and reports whether it was
// cancelled. Pause polls at a fixed interval so a Resume or Cancel is picked
// up promptly without the run releasing its session.
func (e *Engine) holdAtBoundary(r *run) (cancelled bool) {
	for {
		switch r.ctrl.current() {
		case ctrlCancelled:
			return true
		case ctrlPaused:
			time.Sleep(e.pausePoll)
		default:
			return false
		}
	}
}

// executeStep runs the retry loop for one action. The returned outcome
// reflects only the final attempt.
func (e *Engine) executeStep(r *run, action plan.AtomicAction, logger *zap.Logger) ActionOutcome {
	ctx := context.Background()
	start := time.Now()
	outcome := ActionOutcome{StepNumber: action.StepNumber}

	var lastErr error
	for attempt := 0; attempt <= action.MaxRetries; attempt++ {
		if attempt > 0 {
			// Recovery runs before the retry and does not consume a
			// retry slot or the step's timeout budget.
			class := actions.Classify(lastErr)
			if err := e.runner.Recover(ctx, r.session, class); err != nil {
				logger.Warn("recovery action failed",
					zap.Int("step", action.StepNumber),
					zap.String("class", class.String()),
					zap.Error(err))
			}
			retrySleep(action.RetryDelay())
			e.metrics.StepRetried()
			outcome.RetryCount = attempt
		}

		before := e.capture(ctx, r, fmt.Sprintf("step%d-before", action.StepNumber), logger)
		err := e.attempt(ctx, r, action, logger)
		after := e.capture(ctx, r, fmt.Sprintf("step%d-after", action.StepNumber), logger)

		outcome.BeforeScreenshotRef = before
		outcome.AfterScreenshotRef = after

		if err == nil {
			outcome.Success = true
			outcome.ErrorMessage = ""
			break
		}

		lastErr = err
		outcome.ErrorMessage = err.Error()
		logger.Warn("step attempt failed",
			zap.Int("step", action.StepNumber),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", action.MaxRetries+1),
			zap.Error(err))
	}

	outcome.DurationMs = time.Since(start).Milliseconds()
	return outcome
}

// attempt performs one attempt unit and converts a panic into an attempt
// failure so a misbehaving driver call can never kill the run.
func (e *Engine) attempt(ctx context.Context, r *run, action plan.AtomicAction, logger *zap.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unhandled panic in step %d: %v", action.StepNumber, rec)
			logger.Error("step panicked",
				zap.Int("step", action.StepNumber),
				zap.Any("panic", rec))
			// One extra screenshot for the unhandled failure.
			e.capture(ctx, r, fmt.Sprintf("step%d-panic", action.StepNumber), logger)
		}
	}()
	return e.runner.Run(ctx, r.session, action)
}

// capture is best-effort; a screenshot failure never fails the step.
func (e *Engine) capture(ctx context.Context, r *run, label string, logger *zap.Logger) string {
	ref, err := e.runner.Capture(ctx, r.session, label)
	if err != nil {
		logger.Debug("screenshot capture failed", zap.String("label", label), zap.Error(err))
		return ""
	}
	return ref
}

// finish moves the run to its terminal status, exactly once, and emits the
// terminal event.
func (e *Engine) finish(r *run, status Status, logger *zap.Logger) {
	now := time.Now()
	r.mu.Lock()
	r.result.Status = status
	r.result.CompletedAt = &now
	snap := r.result.clone()
	r.mu.Unlock()

	e.metrics.RunFinished(string(status))
	logger.Info("execution finished",
		zap.String("status", string(status)),
		zap.Int("completed_steps", snap.CompletedSteps()),
		zap.Int("total_steps", snap.TotalSteps))

	e.notifyTerminal(TerminalEvent{ExecutionID: r.id, Result: snap})
}

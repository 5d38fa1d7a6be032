// Package supervisor ties the runtime together: it loads plans, borrows
// pooled browser sessions, hands them to the execution engine, and returns
// them when runs finish. It is the surface the rest of the platform calls.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/browser"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/plan"
)

// ErrClosed is returned by StartExecution after Close.
var ErrClosed = errors.New("supervisor: closed")

// Config bounds the supervisor's background behavior.
type Config struct {
	// ResultRetention is how long terminal results stay queryable.
	ResultRetention time.Duration

	// AcquireTimeout caps the wait for a pooled session per execution,
	// on top of the caller's context. Zero means no extra bound.
	AcquireTimeout time.Duration
}

// Supervisor owns the session-per-run lifecycle. A session acquired for an
// execution is released exactly once, when the run reaches a terminal
// status, regardless of how it ended.
type Supervisor struct {
	source         plan.Source
	pool           *browser.Pool
	engine         *engine.Engine
	retention      time.Duration
	acquireTimeout time.Duration
	logger         *zap.Logger

	mu       sync.Mutex
	live     map[string]struct{}
	finished map[string]time.Time
	closed   bool

	waiters     sync.WaitGroup
	stop        chan struct{}
	janitorDone chan struct{}
	closeOnce   sync.Once
}

// New builds a supervisor over an already-warmed pool and engine. Terminal
// results are kept for cfg.ResultRetention and then dropped by a background
// janitor.
func New(source plan.Source, pool *browser.Pool, eng *engine.Engine, cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = 15 * time.Minute
	}
	s := &Supervisor{
		source:         source,
		pool:           pool,
		engine:         eng,
		retention:      cfg.ResultRetention,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logging.OrNop(logger),
		live:           make(map[string]struct{}),
		finished:       make(map[string]time.Time),
		stop:           make(chan struct{}),
		janitorDone:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// StartExecution loads the plan, borrows a session, and starts a run.
// Blocks while the pool is exhausted, up to ctx.
func (s *Supervisor) StartExecution(ctx context.Context, planID, callerID string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	p, err := s.source.Plan(ctx, planID)
	if err != nil {
		return "", fmt.Errorf("load plan %q: %w", planID, err)
	}

	acquireCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}
	session, err := s.pool.Acquire(acquireCtx, callerID)
	if err != nil {
		return "", fmt.Errorf("acquire session: %w", err)
	}

	executionID, err := s.engine.Start(session, p)
	if err != nil {
		s.pool.Release(session)
		return "", fmt.Errorf("start execution: %w", err)
	}

	s.mu.Lock()
	s.live[executionID] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("execution accepted",
		zap.String("execution_id", executionID),
		zap.String("plan_id", planID),
		zap.String("caller_id", callerID),
		zap.String("session_id", session.ID))

	done, _ := s.engine.Done(executionID)
	s.waiters.Add(1)
	go s.awaitRelease(executionID, session, done)

	return executionID, nil
}

// awaitRelease returns the session once the run is terminal and moves the
// execution into the retention window.
func (s *Supervisor) awaitRelease(executionID string, session *browser.PooledSession, done <-chan struct{}) {
	defer s.waiters.Done()
	<-done

	s.pool.Release(session)

	s.mu.Lock()
	delete(s.live, executionID)
	s.finished[executionID] = time.Now()
	s.mu.Unlock()

	s.logger.Info("session returned",
		zap.String("execution_id", executionID),
		zap.String("session_id", session.ID))
}

// GetStatus returns a snapshot of the run, live or retained.
func (s *Supervisor) GetStatus(executionID string) (*engine.ExecutionResult, error) {
	return s.engine.Status(executionID)
}

// FinalResult returns the terminal result, engine.ErrRunPending while the
// run is still executing.
func (s *Supervisor) FinalResult(executionID string) (*engine.ExecutionResult, error) {
	return s.engine.FinalResult(executionID)
}

// Pause requests the run hold at its next step boundary.
func (s *Supervisor) Pause(executionID string) bool { return s.engine.Pause(executionID) }

// Resume lifts a pause.
func (s *Supervisor) Resume(executionID string) bool { return s.engine.Resume(executionID) }

// Cancel requests the run stop at its next step boundary. The first call on
// a live run returns true; repeats return false.
func (s *Supervisor) Cancel(executionID string) bool { return s.engine.Cancel(executionID) }

// janitor drops terminal results older than the retention window.
func (s *Supervisor) janitor() {
	defer close(s.janitorDone)
	interval := s.retention / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.expire(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) expire(now time.Time) {
	s.mu.Lock()
	var expired []string
	for id, at := range s.finished {
		if now.Sub(at) >= s.retention {
			expired = append(expired, id)
			delete(s.finished, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.engine.Remove(id)
		s.logger.Debug("execution result expired", zap.String("execution_id", id))
	}
}

// Close stops intake, cancels live runs, waits for their sessions to come
// back, and closes the pool. Safe to call more than once.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		ids := make([]string, 0, len(s.live))
		for id := range s.live {
			ids = append(ids, id)
		}
		s.mu.Unlock()

		for _, id := range ids {
			s.engine.Cancel(id)
		}

		s.waiters.Wait()
		close(s.stop)
		<-s.janitorDone
		s.pool.Close()
		s.logger.Info("supervisor closed")
	})
}

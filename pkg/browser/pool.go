// Package browser owns the bounded pool of stealth-configured browser
// sessions that execution runs borrow from.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/metrics"
)

var (
	// ErrPoolClosed is returned by Acquire after Close has been called.
	ErrPoolClosed = errors.New("browser pool is closed")

	// ErrPoolExhausted is returned when no session became available before
	// the caller's deadline. Retryable by the caller; not a pool fault.
	ErrPoolExhausted = errors.New("browser pool exhausted")
)

// Pool bounds the number of live browser sessions, hands them out with
// at-most-one-owner semantics, and reclaims them safely. The available queue
// and counters are the only shared mutable state in the core; a handed-out
// session belongs exclusively to its borrower until Release.
type Pool struct {
	factory SessionFactory
	limits  Limits
	logger  *zap.Logger
	metrics *metrics.Metrics

	available chan *PooledSession

	mu         sync.Mutex
	checkedOut map[string]*PooledSession
	overflow   int
	deficit    int
	closed     bool

	stop      chan struct{}
	sweepDone chan struct{}
	refills   sync.WaitGroup
	closeOnce sync.Once
}

// New warms the pool to capacity and starts the periodic sweep. Any session
// creation failure during warm-up is fatal: partially warmed pools do not
// start.
func New(ctx context.Context, factory SessionFactory, limits Limits, logger *zap.Logger, m *metrics.Metrics) (*Pool, error) {
	p := &Pool{
		factory:    factory,
		limits:     limits,
		logger:     logging.OrNop(logger),
		metrics:    m,
		available:  make(chan *PooledSession, limits.Capacity),
		checkedOut: make(map[string]*PooledSession),
		stop:       make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < limits.Capacity; i++ {
		group.Go(func() error {
			s, err := factory.NewSession(groupCtx)
			if err != nil {
				return err
			}
			m.SessionCreated()
			p.available <- s
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		// Tear down whatever warmed successfully.
		for {
			select {
			case s := <-p.available:
				factory.Destroy(s)
			default:
				return nil, fmt.Errorf("pool warm-up failed: %w", err)
			}
		}
	}

	if limits.SweepInterval > 0 {
		go p.sweepLoop()
	} else {
		close(p.sweepDone)
	}

	p.publishGauges()
	p.logger.Info("browser pool ready",
		zap.Int("capacity", limits.Capacity),
		zap.Int("overflow_ceiling", limits.OverflowCeiling))
	return p, nil
}

// Acquire blocks until a session is available or ctx expires. Under burst
// load, when the shared queue is empty and the hard ceiling permits, it
// creates an overflow session that bypasses the pool and is always destroyed
// on release.
func (p *Pool) Acquire(ctx context.Context, callerID string) (*PooledSession, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case s := <-p.available:
		return p.handOut(s, callerID), nil
	default:
	}

	if s, tried, err := p.tryOverflow(ctx, callerID); tried {
		return s, err
	}

	select {
	case s := <-p.available:
		return p.handOut(s, callerID), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, ctx.Err())
	case <-p.stop:
		return nil, ErrPoolClosed
	}
}

// tryOverflow attempts to create a throwaway over-capacity session. The
// second return value reports whether an attempt was made.
func (p *Pool) tryOverflow(ctx context.Context, callerID string) (*PooledSession, bool, error) {
	p.mu.Lock()
	if p.closed || p.overflow >= p.limits.OverflowCeiling {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.overflow++
	p.mu.Unlock()

	s, err := p.factory.NewSession(ctx)
	if err != nil {
		p.mu.Lock()
		p.overflow--
		p.mu.Unlock()
		return nil, true, fmt.Errorf("%w: overflow session creation failed: %v", ErrPoolExhausted, err)
	}
	s.overflow = true
	p.metrics.SessionCreated()
	p.logger.Warn("created overflow session",
		zap.String("session_id", s.ID),
		zap.String("caller", callerID))
	return p.handOut(s, callerID), true, nil
}

func (p *Pool) handOut(s *PooledSession, callerID string) *PooledSession {
	now := time.Now()

	p.mu.Lock()
	s.Owner = callerID
	s.UsageCount++
	s.LastUsedAt = now
	s.checkedOutAt = now
	p.checkedOut[s.ID] = s
	p.mu.Unlock()

	p.publishGauges()
	return s
}

// Release returns a session to the pool. Overflow sessions are destroyed
// outright. Pooled sessions are recycled only when every retirement
// threshold passes and cleanup succeeds; anything else destroys the session
// and replaces it to keep capacity constant.
func (p *Pool) Release(s *PooledSession) {
	if s == nil {
		return
	}

	p.mu.Lock()
	_, tracked := p.checkedOut[s.ID]
	delete(p.checkedOut, s.ID)
	closed := p.closed
	// Leak reclamation already settles the overflow count for untracked
	// sessions.
	if s.overflow && tracked {
		p.overflow--
	}
	p.mu.Unlock()

	if !tracked {
		// Already reclaimed by leak detection; nothing further to do.
		p.publishGauges()
		return
	}

	s.Owner = ""
	s.checkedOutAt = time.Time{}
	s.LastUsedAt = time.Now()

	if s.overflow || closed {
		reason := metrics.ReasonOverflow
		if closed {
			reason = metrics.ReasonShutdown
		}
		p.factory.Destroy(s)
		p.metrics.SessionDestroyed(reason)
		p.publishGauges()
		return
	}

	s.EstimatedMemoryMB = p.factory.EstimateMemoryMB(s)
	if reason := p.retireReason(s); reason != "" {
		p.destroyAndReplace(s, reason)
		return
	}

	if err := p.factory.Recycle(s); err != nil {
		// A partially-reset session must never re-enter the pool.
		p.logger.Warn("session cleanup failed, destroying",
			zap.String("session_id", s.ID),
			zap.Error(err))
		p.destroyAndReplace(s, metrics.ReasonCleanup)
		return
	}

	p.available <- s
	p.publishGauges()
}

// retireReason returns why the session must not be reused, or "" when it is
// still fit for the pool.
func (p *Pool) retireReason(s *PooledSession) string {
	switch {
	case s.Age() >= p.limits.MaxAge:
		return metrics.ReasonAged
	case s.UsageCount >= p.limits.MaxUsage:
		return metrics.ReasonOverused
	case s.EstimatedMemoryMB >= p.limits.MemoryCeilingMB:
		return metrics.ReasonMemory
	default:
		return ""
	}
}

// destroyAndReplace destroys s and asynchronously creates a replacement so
// capacity stays constant. Replacement failures are absorbed into a deficit
// the next sweep retries.
func (p *Pool) destroyAndReplace(s *PooledSession, reason string) {
	p.factory.Destroy(s)
	p.metrics.SessionDestroyed(reason)
	p.logger.Info("session retired",
		zap.String("session_id", s.ID),
		zap.String("reason", reason),
		zap.Int("usage_count", s.UsageCount))

	p.refills.Add(1)
	go func() {
		defer p.refills.Done()
		p.refill()
	}()
}

// refill creates one replacement session and inserts it into the queue.
func (p *Pool) refill() {
	if p.isClosed() {
		return
	}

	s, err := p.factory.NewSession(context.Background())
	if err != nil {
		p.mu.Lock()
		p.deficit++
		p.mu.Unlock()
		p.logger.Error("failed to replace retired session", zap.Error(err))
		return
	}

	if p.isClosed() {
		p.factory.Destroy(s)
		return
	}

	p.metrics.SessionCreated()
	p.available <- s
	p.publishGauges()
}

// Sweep runs one maintenance pass: retire stale idle sessions, reclaim
// leaked checkouts, and make up any replacement deficit. The sweep loop
// calls this on a fixed interval; tests call it directly.
func (p *Pool) Sweep() {
	if p.isClosed() {
		return
	}

	// Scan the available queue without blocking. Each session is either
	// requeued or retired.
	for i := len(p.available); i > 0; i-- {
		select {
		case s := <-p.available:
			if reason := p.retireReason(s); reason != "" {
				p.destroyAndReplace(s, reason)
				continue
			}
			p.available <- s
		default:
			i = 0
		}
	}

	// Leak detection: a checkout held past leakFactor*MaxAge will never
	// come back through Release.
	leakAge := time.Duration(leakFactor) * p.limits.MaxAge
	var leaked []*PooledSession
	p.mu.Lock()
	for id, s := range p.checkedOut {
		if time.Since(s.checkedOutAt) > leakAge {
			delete(p.checkedOut, id)
			if s.overflow {
				p.overflow--
			}
			leaked = append(leaked, s)
		}
	}
	deficit := p.deficit
	p.deficit = 0
	p.mu.Unlock()

	for _, s := range leaked {
		p.logger.Error("reclaiming leaked session",
			zap.String("session_id", s.ID),
			zap.String("owner", s.Owner),
			zap.Duration("held_for", time.Since(s.checkedOutAt)))
		p.factory.Destroy(s)
		p.metrics.SessionDestroyed(metrics.ReasonLeaked)
		if !s.overflow {
			deficit++
		}
	}

	for i := 0; i < deficit; i++ {
		p.refill()
	}

	p.publishGauges()
}

func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.limits.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.stop:
			return
		}
	}
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() (available, inUse, overflow int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), len(p.checkedOut), p.overflow
}

func (p *Pool) publishGauges() {
	available, inUse, overflow := p.Stats()
	p.metrics.PoolGauges(available, inUse-overflow, overflow)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops the sweep, waits for in-flight replacements, and destroys
// every session the pool still knows about. Idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stop)
		<-p.sweepDone
		p.refills.Wait()

		for {
			select {
			case s := <-p.available:
				p.factory.Destroy(s)
				p.metrics.SessionDestroyed(metrics.ReasonShutdown)
				continue
			default:
			}
			break
		}

		p.mu.Lock()
		remaining := make([]*PooledSession, 0, len(p.checkedOut))
		for id, s := range p.checkedOut {
			delete(p.checkedOut, id)
			remaining = append(remaining, s)
		}
		p.overflow = 0
		p.mu.Unlock()

		for _, s := range remaining {
			p.factory.Destroy(s)
			p.metrics.SessionDestroyed(metrics.ReasonShutdown)
		}

		p.publishGauges()
		p.logger.Info("browser pool closed")
	})
}

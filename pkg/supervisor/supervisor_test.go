package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/actions"
	"github.com/entrhq/pilot/pkg/browser"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/plan"
)

// memFactory backs the pool with sessions that exist only in memory.
type memFactory struct {
	created   atomic.Int64
	destroyed atomic.Int64
}

func (f *memFactory) NewSession(context.Context) (*browser.PooledSession, error) {
	n := f.created.Add(1)
	return &browser.PooledSession{
		ID:        fmt.Sprintf("mem-%d", n),
		CreatedAt: time.Now(),
	}, nil
}

func (f *memFactory) Recycle(*browser.PooledSession) error { return nil }

func (f *memFactory) EstimateMemoryMB(*browser.PooledSession) int { return 50 }

func (f *memFactory) Destroy(*browser.PooledSession) { f.destroyed.Add(1) }

// scriptRunner scripts step outcomes: steps listed in fail always fail,
// everything else succeeds. An optional delay slows each step down.
type scriptRunner struct {
	mu    sync.Mutex
	fail  map[int]bool
	delay time.Duration
}

func (r *scriptRunner) Run(_ context.Context, _ *browser.PooledSession, action plan.AtomicAction) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[action.StepNumber] {
		return errors.New("element not found")
	}
	return nil
}

func (r *scriptRunner) Recover(context.Context, *browser.PooledSession, actions.ErrorClass) error {
	return nil
}

func (r *scriptRunner) Capture(context.Context, *browser.PooledSession, string) (string, error) {
	return "ref", nil
}

func testLimits(capacity int) browser.Limits {
	return browser.Limits{
		Capacity:        capacity,
		OverflowCeiling: 1,
		MaxAge:          time.Hour,
		MaxUsage:        100,
		MemoryCeilingMB: 1024,
		SweepInterval:   time.Hour,
	}
}

func samplePlan(id string, steps int) *plan.ExecutionPlan {
	p := &plan.ExecutionPlan{ID: id, Name: id}
	for i := 1; i <= steps; i++ {
		p.Actions = append(p.Actions, plan.AtomicAction{
			StepNumber:     i,
			Type:           plan.ActionClick,
			TargetSelector: fmt.Sprintf("#s%d", i),
		})
	}
	return p
}

type harness struct {
	sup    *Supervisor
	pool   *browser.Pool
	source *plan.MapSource
	runner *scriptRunner
}

func newHarness(t *testing.T, capacity int, retention time.Duration) *harness {
	t.Helper()

	pool, err := browser.New(context.Background(), &memFactory{}, testLimits(capacity), nil, nil)
	require.NoError(t, err)

	runner := &scriptRunner{fail: map[int]bool{}}
	eng := engine.New(runner, 10*time.Millisecond, nil, nil)
	source := plan.NewMapSource()

	sup := New(source, pool, eng, Config{ResultRetention: retention}, nil)
	t.Cleanup(sup.Close)

	return &harness{sup: sup, pool: pool, source: source, runner: runner}
}

func awaitFinal(t *testing.T, sup *Supervisor, id string) *engine.ExecutionResult {
	t.Helper()
	var result *engine.ExecutionResult
	require.Eventually(t, func() bool {
		r, err := sup.FinalResult(id)
		if err != nil {
			return false
		}
		result = r
		return true
	}, 10*time.Second, 10*time.Millisecond)
	return result
}

func availableSessions(p *browser.Pool) int {
	available, _, _ := p.Stats()
	return available
}

func TestStartExecutionRunsPlanAndReturnsSession(t *testing.T) {
	h := newHarness(t, 2, time.Hour)
	require.NoError(t, h.source.Add(samplePlan("login", 3)))

	id, err := h.sup.StartExecution(context.Background(), "login", "caller-1")
	require.NoError(t, err)

	result := awaitFinal(t, h.sup, id)
	assert.Equal(t, engine.StatusCompleted, result.Status)
	assert.Len(t, result.Outcomes, 3)

	require.Eventually(t, func() bool {
		return availableSessions(h.pool) == 2
	}, 5*time.Second, 10*time.Millisecond, "session must return to the pool")
}

func TestStartExecutionUnknownPlan(t *testing.T) {
	h := newHarness(t, 1, time.Hour)

	_, err := h.sup.StartExecution(context.Background(), "missing", "caller-1")
	assert.Error(t, err)
	assert.Equal(t, 1, availableSessions(h.pool), "no session may leak on plan load failure")
}

func TestSessionReleasedOnFailedRun(t *testing.T) {
	h := newHarness(t, 1, time.Hour)
	p := samplePlan("fragile", 2)
	p.Actions[0].IsCritical = true
	require.NoError(t, h.source.Add(p))
	h.runner.fail[1] = true

	id, err := h.sup.StartExecution(context.Background(), "fragile", "caller-1")
	require.NoError(t, err)

	result := awaitFinal(t, h.sup, id)
	assert.Equal(t, engine.StatusFailed, result.Status)

	require.Eventually(t, func() bool {
		return availableSessions(h.pool) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestControlDelegation(t *testing.T) {
	h := newHarness(t, 1, time.Hour)
	h.runner.delay = 50 * time.Millisecond
	require.NoError(t, h.source.Add(samplePlan("long", 10)))

	id, err := h.sup.StartExecution(context.Background(), "long", "caller-1")
	require.NoError(t, err)

	assert.True(t, h.sup.Pause(id))
	assert.True(t, h.sup.Resume(id))
	assert.True(t, h.sup.Cancel(id))
	assert.False(t, h.sup.Cancel(id))

	result := awaitFinal(t, h.sup, id)
	assert.Equal(t, engine.StatusCancelled, result.Status)
	assert.False(t, h.sup.Pause("unknown"))
}

func TestPoolExhaustionBlocksUntilContext(t *testing.T) {
	h := newHarness(t, 1, time.Hour)
	h.runner.delay = 200 * time.Millisecond
	require.NoError(t, h.source.Add(samplePlan("hold", 5)))

	// Occupy the only recyclable session and the single overflow slot.
	_, err := h.sup.StartExecution(context.Background(), "hold", "caller-1")
	require.NoError(t, err)
	_, err = h.sup.StartExecution(context.Background(), "hold", "caller-2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.sup.StartExecution(ctx, "hold", "caller-3")
	assert.ErrorIs(t, err, browser.ErrPoolExhausted)
}

func TestRetentionExpiresTerminalResults(t *testing.T) {
	h := newHarness(t, 1, time.Hour)
	require.NoError(t, h.source.Add(samplePlan("quick", 1)))

	id, err := h.sup.StartExecution(context.Background(), "quick", "caller-1")
	require.NoError(t, err)
	awaitFinal(t, h.sup, id)

	// Let the waiter record the finish time, then force expiry.
	require.Eventually(t, func() bool {
		return availableSessions(h.pool) == 1
	}, 5*time.Second, 10*time.Millisecond)
	h.sup.expire(time.Now().Add(2 * time.Hour))

	_, err = h.sup.GetStatus(id)
	assert.ErrorIs(t, err, engine.ErrUnknownExecution)
}

func TestRetentionKeepsRecentResults(t *testing.T) {
	h := newHarness(t, 1, time.Hour)
	require.NoError(t, h.source.Add(samplePlan("quick", 1)))

	id, err := h.sup.StartExecution(context.Background(), "quick", "caller-1")
	require.NoError(t, err)
	awaitFinal(t, h.sup, id)

	h.sup.expire(time.Now())
	_, err = h.sup.GetStatus(id)
	assert.NoError(t, err, "results inside the retention window must survive")
}

func TestCloseCancelsLiveRunsAndStopsIntake(t *testing.T) {
	h := newHarness(t, 1, time.Hour)
	h.runner.delay = 50 * time.Millisecond
	require.NoError(t, h.source.Add(samplePlan("long", 20)))

	id, err := h.sup.StartExecution(context.Background(), "long", "caller-1")
	require.NoError(t, err)

	h.sup.Close()

	result, err := h.sup.FinalResult(id)
	require.NoError(t, err, "Close must wait for live runs to settle")
	assert.Equal(t, engine.StatusCancelled, result.Status)

	_, err = h.sup.StartExecution(context.Background(), "long", "caller-2")
	assert.ErrorIs(t, err, ErrClosed)
}

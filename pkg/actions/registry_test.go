package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/plan"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := NewScreenshotStore(t.TempDir(), 10, nil)
	require.NoError(t, err)
	return NewRegistry(store, 10*time.Millisecond, nil)
}

func TestExecuteWaitRejectsBadInput(t *testing.T) {
	r := newTestRegistry(t)

	tests := []string{"soon", "-3", "1.5"}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			action := plan.AtomicAction{Type: plan.ActionWait, InputValue: input}
			err := r.executeWait(nil, action, nil)
			assert.Error(t, err)
		})
	}
}

func TestExecuteWaitSleepsWholeSeconds(t *testing.T) {
	r := newTestRegistry(t)
	action := plan.AtomicAction{Type: plan.ActionWait, InputValue: "0"}

	start := time.Now()
	err := r.executeWait(nil, action, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteScrollRejectsBadDelta(t *testing.T) {
	r := newTestRegistry(t)
	action := plan.AtomicAction{Type: plan.ActionScroll, InputValue: "sideways"}
	assert.Error(t, r.executeScroll(nil, action))
}

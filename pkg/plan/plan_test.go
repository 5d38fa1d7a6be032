package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *ExecutionPlan {
	return &ExecutionPlan{
		ID: "plan-1",
		Actions: []AtomicAction{
			{StepNumber: 1, Type: ActionNavigate, InputValue: "https://example.com"},
			{StepNumber: 2, Type: ActionClick, TargetSelector: "#login"},
			{StepNumber: 3, Type: ActionTypeText, TargetSelector: "#email", InputValue: "user@example.com"},
		},
	}
}

func TestPlanValidate(t *testing.T) {
	require.NoError(t, validPlan().Validate())
}

func TestPlanValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ExecutionPlan)
	}{
		{
			name:   "missing id",
			mutate: func(p *ExecutionPlan) { p.ID = "" },
		},
		{
			name:   "no actions",
			mutate: func(p *ExecutionPlan) { p.Actions = nil },
		},
		{
			name:   "steps not starting at 1",
			mutate: func(p *ExecutionPlan) { p.Actions[0].StepNumber = 0 },
		},
		{
			name:   "gap in step numbers",
			mutate: func(p *ExecutionPlan) { p.Actions[2].StepNumber = 5 },
		},
		{
			name:   "duplicate step numbers",
			mutate: func(p *ExecutionPlan) { p.Actions[1].StepNumber = 1 },
		},
		{
			name:   "unknown action type",
			mutate: func(p *ExecutionPlan) { p.Actions[1].Type = "teleport" },
		},
		{
			name:   "negative retries",
			mutate: func(p *ExecutionPlan) { p.Actions[0].MaxRetries = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestActionTypeValid(t *testing.T) {
	for _, at := range AllActionTypes {
		assert.True(t, at.Valid(), "expected %q to be valid", at)
	}
	assert.False(t, ActionType("drag").Valid())
}

func TestActionTimingDefaults(t *testing.T) {
	var a AtomicAction
	assert.Equal(t, DefaultStepTimeout, a.Timeout())
	assert.Equal(t, DefaultRetryDelay, a.RetryDelay())

	a.TimeoutSeconds = 5
	a.RetryDelaySeconds = 1
	assert.Equal(t, 5*time.Second, a.Timeout())
	assert.Equal(t, time.Second, a.RetryDelay())
}

func TestMapSource(t *testing.T) {
	src := NewMapSource()
	ctx := context.Background()

	_, err := src.Plan(ctx, "missing")
	assert.Error(t, err)

	p := validPlan()
	require.NoError(t, src.Add(p))

	got, err := src.Plan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestMapSourceRejectsInvalidPlan(t *testing.T) {
	src := NewMapSource()
	bad := validPlan()
	bad.Actions[0].StepNumber = 7
	assert.Error(t, src.Add(bad))
}

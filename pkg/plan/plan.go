package plan

import (
	"context"
	"fmt"
	"time"
)

// ActionType identifies one kind of browser interaction. The set is closed:
// the capability registry dispatches over exactly these values.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionTypeText   ActionType = "type"
	ActionNavigate   ActionType = "navigate"
	ActionWait       ActionType = "wait"
	ActionScroll     ActionType = "scroll"
	ActionSelect     ActionType = "select"
	ActionSubmit     ActionType = "submit"
	ActionHover      ActionType = "hover"
	ActionKeyPress   ActionType = "key_press"
	ActionScreenshot ActionType = "screenshot"
)

// AllActionTypes lists every supported action type, in a stable order.
var AllActionTypes = []ActionType{
	ActionClick,
	ActionTypeText,
	ActionNavigate,
	ActionWait,
	ActionScroll,
	ActionSelect,
	ActionSubmit,
	ActionHover,
	ActionKeyPress,
	ActionScreenshot,
}

// Valid reports whether t is one of the supported action types.
func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CriteriaKind identifies a post-condition predicate evaluated after an
// action reports success.
type CriteriaKind string

const (
	// CriteriaURLContains passes when the current page URL contains Value.
	CriteriaURLContains CriteriaKind = "url_contains"

	// CriteriaElementVisible passes when the element at Target is visible.
	CriteriaElementVisible CriteriaKind = "element_visible"

	// CriteriaElementHidden passes when the element at Target is hidden
	// or absent.
	CriteriaElementHidden CriteriaKind = "element_hidden"

	// CriteriaTextVisible passes when Value appears as visible text
	// anywhere on the page.
	CriteriaTextVisible CriteriaKind = "text_visible"

	// CriteriaLoadState passes when the page reaches the load state named
	// by Value ("load", "domcontentloaded", "networkidle").
	CriteriaLoadState CriteriaKind = "load_state"
)

// ValidationCriteria is a declarative post-condition attached to an action.
// A zero value means no validation.
type ValidationCriteria struct {
	Kind   CriteriaKind `yaml:"kind" json:"kind"`
	Target string       `yaml:"target,omitempty" json:"target,omitempty"`
	Value  string       `yaml:"value,omitempty" json:"value,omitempty"`
}

// IsSet reports whether any validation was requested.
func (c ValidationCriteria) IsSet() bool {
	return c.Kind != ""
}

// AtomicAction is one indivisible step in an ExecutionPlan. It is read-only
// input to the engine; nothing in this core mutates it.
type AtomicAction struct {
	StepNumber           int                `yaml:"step_number" json:"step_number"`
	Type                 ActionType         `yaml:"action_type" json:"action_type"`
	TargetSelector       string             `yaml:"target_selector,omitempty" json:"target_selector,omitempty"`
	InputValue           string             `yaml:"input_value,omitempty" json:"input_value,omitempty"`
	Validation           ValidationCriteria `yaml:"validation,omitempty" json:"validation,omitempty"`
	TimeoutSeconds       int                `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxRetries           int                `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelaySeconds    int                `yaml:"retry_delay_seconds,omitempty" json:"retry_delay_seconds,omitempty"`
	IsCritical           bool               `yaml:"is_critical,omitempty" json:"is_critical,omitempty"`
	RequiresConfirmation bool               `yaml:"requires_confirmation,omitempty" json:"requires_confirmation,omitempty"`
}

// Timeout returns the per-attempt timeout for the action, falling back to
// DefaultStepTimeout when unset.
func (a AtomicAction) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return DefaultStepTimeout
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// RetryDelay returns the sleep between attempts, falling back to
// DefaultRetryDelay when unset.
func (a AtomicAction) RetryDelay() time.Duration {
	if a.RetryDelaySeconds <= 0 {
		return DefaultRetryDelay
	}
	return time.Duration(a.RetryDelaySeconds) * time.Second
}

// ExecutionPlan is an ordered sequence of atomic actions. It is immutable
// once execution starts.
type ExecutionPlan struct {
	ID      string         `yaml:"id" json:"id"`
	Name    string         `yaml:"name,omitempty" json:"name,omitempty"`
	Actions []AtomicAction `yaml:"actions" json:"actions"`
}

// TotalSteps returns the number of actions in the plan.
func (p *ExecutionPlan) TotalSteps() int {
	return len(p.Actions)
}

// Validate checks the structural invariants of the plan: at least one action,
// known action types, and step numbers that are unique and contiguous
// starting at 1. A violation is a fatal configuration error, not retryable.
func (p *ExecutionPlan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan has no id")
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("plan %q has no actions", p.ID)
	}
	for i, action := range p.Actions {
		want := i + 1
		if action.StepNumber != want {
			return fmt.Errorf("plan %q: step at index %d has number %d, want %d (steps must be contiguous from 1)",
				p.ID, i, action.StepNumber, want)
		}
		if !action.Type.Valid() {
			return fmt.Errorf("plan %q: step %d has unknown action type %q", p.ID, action.StepNumber, action.Type)
		}
		if action.MaxRetries < 0 {
			return fmt.Errorf("plan %q: step %d has negative max_retries", p.ID, action.StepNumber)
		}
	}
	return nil
}

// Default timing values for actions that do not specify their own.
const (
	DefaultStepTimeout = 30 * time.Second
	DefaultRetryDelay  = 2 * time.Second
)

// Source supplies immutable execution plans by id. Implemented outside this
// core by the planning pipeline; MapSource covers embedding and tests.
type Source interface {
	Plan(ctx context.Context, planID string) (*ExecutionPlan, error)
}

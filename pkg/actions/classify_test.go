package actions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassUnknown},
		{"playwright timeout", errors.New("Timeout 30000ms exceeded"), ClassTimeout},
		{"timed out", errors.New("waiting for selector timed out"), ClassTimeout},
		{"context deadline", context.DeadlineExceeded, ClassTimeout},
		{"wrapped deadline", fmt.Errorf("click: %w", context.DeadlineExceeded), ClassTimeout},
		{"detached", errors.New("element is not attached to the DOM"), ClassDetached},
		{"stale handle", errors.New("stale element reference"), ClassDetached},
		{"not found", errors.New("no element matches selector \"#x\""), ClassNotFound},
		{"failed to find", errors.New("failed to find element"), ClassNotFound},
		{"not visible", errors.New("element is not visible"), ClassNotInteractable},
		{"intercepted", errors.New("div intercepts pointer events"), ClassNotInteractable},
		{"validation", &ValidationError{Reason: "url mismatch"}, ClassValidation},
		{"wrapped validation", fmt.Errorf("step: %w", &ValidationError{Reason: "x"}), ClassValidation},
		{"anything else", errors.New("net::ERR_CONNECTION_REFUSED"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "timeout", ClassTimeout.String())
	assert.Equal(t, "not_found", ClassNotFound.String())
	assert.Equal(t, "detached", ClassDetached.String())
	assert.Equal(t, "not_interactable", ClassNotInteractable.String())
	assert.Equal(t, "validation", ClassValidation.String())
	assert.Equal(t, "unknown", ClassUnknown.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Reason: "element #done is not visible"}
	assert.Equal(t, "validation failed: element #done is not visible", err.Error())
}

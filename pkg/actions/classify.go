package actions

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass buckets an action failure for the recovery heuristics. The
// classes are deliberately coarse: they only need to pick a corrective
// action, not diagnose the page.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTimeout
	ClassNotFound
	ClassDetached
	ClassNotInteractable
	ClassValidation
)

// String returns the class name for logs and metrics.
func (c ErrorClass) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassNotFound:
		return "not_found"
	case ClassDetached:
		return "detached"
	case ClassNotInteractable:
		return "not_interactable"
	case ClassValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ValidationError marks a post-condition failure. The step's action ran, but
// the page did not end up in the promised state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Classify maps a driver error onto an ErrorClass by message inspection.
// Playwright reports failures as strings, so substring matching is the only
// classification signal available.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ClassValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not attached") || strings.Contains(msg, "detached") || strings.Contains(msg, "stale"):
		return ClassDetached
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "not visible") || strings.Contains(msg, "not interactable") ||
		strings.Contains(msg, "intercepts pointer events") || strings.Contains(msg, "element is disabled"):
		return ClassNotInteractable
	case strings.Contains(msg, "no element") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "failed to find") || strings.Contains(msg, "no node found"):
		return ClassNotFound
	default:
		return ClassUnknown
	}
}

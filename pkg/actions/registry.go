// Package actions implements the capability registry: one stateless executor
// per action type, plus post-condition validation, failure classification,
// and the recovery heuristics applied between retries. All mutation happens
// on the borrowed session, so the registry itself needs no locking.
package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/browser"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/plan"
)

// Registry dispatches atomic actions onto a borrowed session.
type Registry struct {
	store           *ScreenshotStore
	logger          *zap.Logger
	recoveryBackoff time.Duration
}

// NewRegistry creates the registry. recoveryBackoff is the sleep applied by
// the timeout recovery heuristic.
func NewRegistry(store *ScreenshotStore, recoveryBackoff time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		store:           store,
		logger:          logging.OrNop(logger),
		recoveryBackoff: recoveryBackoff,
	}
}

// Run performs one attempt of an action: execute, then evaluate the
// validation criteria if any. Action and validation form one attempt unit; a
// validation failure demotes the whole attempt to a failure.
func (r *Registry) Run(ctx context.Context, session *browser.PooledSession, action plan.AtomicAction) error {
	if err := r.execute(session, action); err != nil {
		return err
	}
	if action.Validation.IsSet() {
		return r.validate(session, action.Validation, action.Timeout())
	}
	return nil
}

// execute dispatches over the closed action type set.
func (r *Registry) execute(session *browser.PooledSession, action plan.AtomicAction) error {
	page := session.Page
	timeout := playwright.Float(float64(action.Timeout().Milliseconds()))

	switch action.Type {
	case plan.ActionClick:
		return page.Click(action.TargetSelector, playwright.PageClickOptions{Timeout: timeout})

	case plan.ActionTypeText:
		return page.Fill(action.TargetSelector, action.InputValue, playwright.PageFillOptions{Timeout: timeout})

	case plan.ActionNavigate:
		waitUntil := playwright.WaitUntilStateLoad
		_, err := page.Goto(action.InputValue, playwright.PageGotoOptions{
			Timeout:   timeout,
			WaitUntil: waitUntil,
		})
		return err

	case plan.ActionWait:
		return r.executeWait(page, action, timeout)

	case plan.ActionScroll:
		return r.executeScroll(page, action)

	case plan.ActionSelect:
		_, err := page.SelectOption(action.TargetSelector, playwright.SelectOptionValues{
			Values: &[]string{action.InputValue},
		}, playwright.PageSelectOptionOptions{Timeout: timeout})
		return err

	case plan.ActionSubmit:
		if action.TargetSelector != "" {
			return page.Click(action.TargetSelector, playwright.PageClickOptions{Timeout: timeout})
		}
		return page.Keyboard().Press("Enter")

	case plan.ActionHover:
		return page.Hover(action.TargetSelector, playwright.PageHoverOptions{Timeout: timeout})

	case plan.ActionKeyPress:
		if action.TargetSelector != "" {
			return page.Press(action.TargetSelector, action.InputValue, playwright.PagePressOptions{Timeout: timeout})
		}
		return page.Keyboard().Press(action.InputValue)

	case plan.ActionScreenshot:
		png, err := page.Screenshot(playwright.PageScreenshotOptions{Timeout: timeout})
		if err != nil {
			return err
		}
		ref, err := r.store.Save(session.Owner, fmt.Sprintf("step%d", action.StepNumber), png)
		if err != nil {
			return err
		}
		r.logger.Debug("screenshot action captured", zap.String("ref", ref))
		return nil

	default:
		// Unreachable for validated plans.
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// executeWait waits for a selector when one is given, otherwise sleeps the
// number of seconds in the input value, otherwise waits for page load.
func (r *Registry) executeWait(page playwright.Page, action plan.AtomicAction, timeout *float64) error {
	if action.TargetSelector != "" {
		state := playwright.WaitForSelectorStateVisible
		_, err := page.WaitForSelector(action.TargetSelector, playwright.PageWaitForSelectorOptions{
			State:   state,
			Timeout: timeout,
		})
		return err
	}

	if action.InputValue != "" {
		seconds, err := strconv.Atoi(action.InputValue)
		if err != nil || seconds < 0 {
			return fmt.Errorf("wait action needs a selector or a whole number of seconds, got %q", action.InputValue)
		}
		time.Sleep(time.Duration(seconds) * time.Second)
		return nil
	}

	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: timeout,
	})
}

// executeScroll scrolls to a named position, by a pixel delta, or to an
// element.
func (r *Registry) executeScroll(page playwright.Page, action plan.AtomicAction) error {
	if action.TargetSelector != "" {
		result, err := page.Evaluate(`(sel) => {
			const el = document.querySelector(sel);
			if (!el) return false;
			el.scrollIntoView({ block: 'center' });
			return true;
		}`, action.TargetSelector)
		if err != nil {
			return err
		}
		if ok, _ := result.(bool); !ok {
			return fmt.Errorf("scroll target not found: no element matches selector %q", action.TargetSelector)
		}
		return nil
	}

	switch strings.ToLower(action.InputValue) {
	case "", "top":
		_, err := page.Evaluate(`() => window.scrollTo(0, 0)`)
		return err
	case "bottom":
		_, err := page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`)
		return err
	default:
		delta, err := strconv.Atoi(action.InputValue)
		if err != nil {
			return fmt.Errorf("scroll input must be 'top', 'bottom', or a pixel delta, got %q", action.InputValue)
		}
		_, evalErr := page.Evaluate(`(dy) => window.scrollBy(0, dy)`, delta)
		return evalErr
	}
}

// validate evaluates a declarative post-condition on the live page.
func (r *Registry) validate(session *browser.PooledSession, criteria plan.ValidationCriteria, timeout time.Duration) error {
	page := session.Page

	switch criteria.Kind {
	case plan.CriteriaURLContains:
		url := page.URL()
		if !strings.Contains(url, criteria.Value) {
			return &ValidationError{Reason: fmt.Sprintf("url %q does not contain %q", url, criteria.Value)}
		}
		return nil

	case plan.CriteriaElementVisible:
		visible, err := page.IsVisible(criteria.Target)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("visibility check failed for %q: %v", criteria.Target, err)}
		}
		if !visible {
			return &ValidationError{Reason: fmt.Sprintf("element %q is not visible", criteria.Target)}
		}
		return nil

	case plan.CriteriaElementHidden:
		hidden, err := page.IsHidden(criteria.Target)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("hidden check failed for %q: %v", criteria.Target, err)}
		}
		if !hidden {
			return &ValidationError{Reason: fmt.Sprintf("element %q is still visible", criteria.Target)}
		}
		return nil

	case plan.CriteriaTextVisible:
		visible, err := page.IsVisible("text=" + criteria.Value)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("text check failed for %q: %v", criteria.Value, err)}
		}
		if !visible {
			return &ValidationError{Reason: fmt.Sprintf("text %q is not visible", criteria.Value)}
		}
		return nil

	case plan.CriteriaLoadState:
		state := playwright.LoadStateLoad
		switch criteria.Value {
		case "domcontentloaded":
			state = playwright.LoadStateDomcontentloaded
		case "networkidle":
			state = playwright.LoadStateNetworkidle
		}
		if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   state,
			Timeout: playwright.Float(float64(timeout.Milliseconds())),
		}); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("load state %q not reached: %v", criteria.Value, err)}
		}
		return nil

	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown validation kind %q", criteria.Kind)}
	}
}

// Recover applies the bounded corrective action for the error class. Errors
// are returned for logging only; the caller retries regardless.
func (r *Registry) Recover(ctx context.Context, session *browser.PooledSession, class ErrorClass) error {
	switch class {
	case ClassDetached:
		if _, err := session.Page.Reload(); err != nil {
			return fmt.Errorf("recovery reload failed: %w", err)
		}
		return session.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateLoad,
			Timeout: playwright.Float(float64(r.recoveryBackoff.Milliseconds()) * 2),
		})

	case ClassTimeout:
		select {
		case <-time.After(r.recoveryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil

	case ClassNotFound:
		_, err := session.Page.Evaluate(`() => window.scrollTo(0, 0)`)
		return err

	default:
		return nil
	}
}

// Capture takes a screenshot of the session's page and stores it under the
// given label.
func (r *Registry) Capture(ctx context.Context, session *browser.PooledSession, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	png, err := session.Page.Screenshot()
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return r.store.Save(session.Owner, label, png)
}

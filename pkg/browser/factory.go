package browser

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/logging"
)

// baselineMemoryMB is assumed for a fresh Chromium context when the JS heap
// cannot be sampled.
const baselineMemoryMB = 80

// PlaywrightFactory builds stealth-configured Chromium sessions. One factory
// owns one Playwright driver process shared by every session it creates.
type PlaywrightFactory struct {
	pw       *playwright.Playwright
	profile  StealthProfile
	headless bool
	logger   *zap.Logger
}

// NewPlaywrightFactory installs and starts the Playwright driver. Driver
// output is discarded so it cannot pollute structured logs.
func NewPlaywrightFactory(profile StealthProfile, headless bool, logger *zap.Logger) (*PlaywrightFactory, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightFactory{
		pw:       pw,
		profile:  profile,
		headless: headless,
		logger:   logging.OrNop(logger),
	}, nil
}

// NewSession launches a browser, builds a stealth context, and opens the
// primary page.
func (f *PlaywrightFactory) NewSession(ctx context.Context) (*PooledSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.headless),
		Args:     launchArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(f.profile.contextOptions())
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if err := browserCtx.AddInitScript(playwright.Script{
		Content: playwright.String(stealthInitScript),
	}); err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to install stealth script: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err := VerifyStealth(page); err != nil {
		f.logger.Warn("stealth verification failed on new session", zap.Error(err))
	}

	now := time.Now()
	session := &PooledSession{
		ID:                uuid.New().String(),
		Browser:           browser,
		Context:           browserCtx,
		Page:              page,
		CreatedAt:         now,
		LastUsedAt:        now,
		EstimatedMemoryMB: baselineMemoryMB,
	}

	f.logger.Debug("session created", zap.String("session_id", session.ID))
	return session, nil
}

// Recycle resets a session for its next borrower. Any failure here means the
// session is in an unknown state and must be destroyed by the caller.
func (f *PlaywrightFactory) Recycle(s *PooledSession) error {
	// Close every page except the primary one.
	for _, page := range s.Context.Pages() {
		if page == s.Page {
			continue
		}
		if err := page.Close(); err != nil {
			return fmt.Errorf("failed to close extra page: %w", err)
		}
	}

	if err := s.Context.ClearCookies(); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}

	// Storage APIs throw on opaque origins; that is fine on a fresh page.
	if _, err := s.Page.Evaluate(`() => {
		try { localStorage.clear(); sessionStorage.clear(); } catch (e) {}
	}`); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}

	if _, err := s.Page.Goto("about:blank"); err != nil {
		return fmt.Errorf("failed to navigate to blank page: %w", err)
	}

	return nil
}

// EstimateMemoryMB samples the JS heap of the primary page. Chromium exposes
// performance.memory; anything else falls back to a page-count heuristic.
func (f *PlaywrightFactory) EstimateMemoryMB(s *PooledSession) int {
	result, err := s.Page.Evaluate(`() =>
		performance.memory ? performance.memory.usedJSHeapSize / (1024 * 1024) : 0`)
	if err == nil {
		if heap, ok := result.(float64); ok && heap > 0 {
			return baselineMemoryMB + int(heap)
		}
	}
	return baselineMemoryMB + 40*len(s.Context.Pages())
}

// Destroy tears down the session's page, context, and browser. Errors are
// ignored so teardown always completes.
func (f *PlaywrightFactory) Destroy(s *PooledSession) {
	if s == nil {
		return
	}
	if s.Page != nil {
		_ = s.Page.Close()
	}
	if s.Context != nil {
		_ = s.Context.Close()
	}
	if s.Browser != nil {
		_ = s.Browser.Close()
	}
	f.logger.Debug("session destroyed", zap.String("session_id", s.ID))
}

// Close stops the shared Playwright driver. Call only after every session is
// destroyed.
func (f *PlaywrightFactory) Close() error {
	if err := f.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

package browser

import (
	"context"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PooledSession is a reusable, isolated browser session owned by the Pool.
// While checked out it belongs to exactly one run; it never outlives its
// borrow.
type PooledSession struct {
	// ID uniquely identifies the session for its whole lifetime.
	ID string

	// Browser is the Playwright browser instance backing this session.
	Browser playwright.Browser

	// Context is the isolated browser context, stealth-configured at creation.
	Context playwright.BrowserContext

	// Page is the session's primary page.
	Page playwright.Page

	// CreatedAt is when the session was launched.
	CreatedAt time.Time

	// LastUsedAt is updated on every acquire and release.
	LastUsedAt time.Time

	// UsageCount is the number of times the session has been checked out.
	UsageCount int

	// Owner is the caller id holding the session, empty while idle.
	Owner string

	// EstimatedMemoryMB is the last memory estimate taken for this session.
	EstimatedMemoryMB int

	// checkedOutAt supports leak detection; zero while idle.
	checkedOutAt time.Time

	// overflow marks sessions created beyond capacity; they are destroyed
	// on release, never recycled.
	overflow bool
}

// Age returns how long the session has existed.
func (s *PooledSession) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// IsOverflow reports whether this session bypasses the shared pool.
func (s *PooledSession) IsOverflow() bool {
	return s.overflow
}

// SessionFactory creates and tears down browser sessions. The playwright
// implementation lives in this package; tests substitute a fake.
type SessionFactory interface {
	// NewSession launches a fully stealth-configured session.
	NewSession(ctx context.Context) (*PooledSession, error)

	// Recycle resets a session for reuse: closes extra pages, clears
	// storage, and navigates to a blank page. Any error means the session
	// must be destroyed instead of reused.
	Recycle(s *PooledSession) error

	// EstimateMemoryMB returns a best-effort estimate of the session's
	// current memory footprint.
	EstimateMemoryMB(s *PooledSession) int

	// Destroy releases all resources held by the session. Always safe to
	// call, including on partially constructed sessions.
	Destroy(s *PooledSession)
}

// Limits bounds the pool. Zero values are rejected by Validate on the
// owning config, not defaulted here.
type Limits struct {
	// Capacity is the number of pre-warmed, recyclable sessions.
	Capacity int

	// OverflowCeiling caps additional throwaway sessions under burst load.
	OverflowCeiling int

	// MaxAge is the oldest a session may be and still be recycled.
	MaxAge time.Duration

	// MaxUsage is the most checkouts a session may serve.
	MaxUsage int

	// MemoryCeilingMB forces destruction of bloated sessions.
	MemoryCeilingMB int

	// SweepInterval is how often the pool scans for stale and leaked
	// sessions.
	SweepInterval time.Duration
}

// leakFactor: a checkout older than leakFactor*MaxAge is treated as leaked.
const leakFactor = 2

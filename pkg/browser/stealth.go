package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// StealthProfile is the fixed anti-detection configuration applied to every
// session at creation.
type StealthProfile struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Timezone       string
	Locale         string
	AcceptLanguage string
}

// stealthInitScript runs before any page script in the context. It removes
// the automation markers headless Chromium leaks through the JS environment.
const stealthInitScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  if (!window.chrome) {
    window.chrome = { runtime: {} };
  }

  Object.defineProperty(navigator, 'plugins', {
    get: () => [1, 2, 3, 4, 5],
  });

  Object.defineProperty(navigator, 'languages', {
    get: () => ['en-US', 'en'],
  });

  const originalQuery = window.navigator.permissions.query;
  window.navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : originalQuery(parameters);
})();
`

// launchArgs disable the browser-level automation tells.
var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-first-run",
	"--no-default-browser-check",
}

// contextOptions translates the profile into Playwright context options.
func (p StealthProfile) contextOptions() playwright.BrowserNewContextOptions {
	return playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  p.ViewportWidth,
			Height: p.ViewportHeight,
		},
		UserAgent:  playwright.String(p.UserAgent),
		Locale:     playwright.String(p.Locale),
		TimezoneId: playwright.String(p.Timezone),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": p.AcceptLanguage,
		},
	}
}

// VerifyStealth checks that the property overrides took effect on a live
// page. It is cheap enough to run on every handout.
func VerifyStealth(page playwright.Page) error {
	result, err := page.Evaluate(`() => navigator.webdriver === undefined && !!window.chrome`)
	if err != nil {
		return fmt.Errorf("stealth verification failed: %w", err)
	}
	ok, _ := result.(bool)
	if !ok {
		return fmt.Errorf("stealth overrides not applied: navigator.webdriver is exposed")
	}
	return nil
}

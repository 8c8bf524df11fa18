package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Page is the slice of a browser tab the scrapers depend on.
type Page interface {
	Goto(url string) error
	URL() string
	Content() (string, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	SetExtraHTTPHeaders(headers map[string]string) error
	WaitForSelector(selector string) error
	FillInFrame(frameSelector, selector, value string) error
	ClickInFrame(frameSelector, selector string) error
	Click(selector string) error
	// ExpectNavigation runs action and waits for the navigation it triggers.
	ExpectNavigation(action func() error) error
	Close() error
}

// Engine owns the browser process.
type Engine interface {
	// NewPage opens a tab in the shared context.
	NewPage() (Page, error)
	// NewIsolatedPage opens a tab in its own context with separate cookies
	// and storage. The context is closed together with the page.
	NewIsolatedPage() (Page, error)
	Close() error
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.8",
		TimezoneID:     "Europe/Budapest",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

type PlaywrightEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	shared  playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

// Launch starts playwright and a Chromium instance.
func Launch(opts *Options, logger *slog.Logger) (*PlaywrightEngine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--blink-settings=imagesEnabled=true",
			"--user-agent=" + opts.UserAgent,
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	e := &PlaywrightEngine{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}

	shared, err := browser.NewContext(e.contextOptions())
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	e.shared = shared

	e.logger.Info("headless browser started", "headless", opts.Headless)
	return e, nil
}

func (e *PlaywrightEngine) contextOptions() playwright.BrowserNewContextOptions {
	return playwright.BrowserNewContextOptions{
		UserAgent:         &e.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &e.opts.Locale,
		TimezoneId:        &e.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  e.opts.ViewportWidth,
			Height: e.opts.ViewportHeight,
		},
		ExtraHttpHeaders: e.opts.ExtraHeaders,
	}
}

func (e *PlaywrightEngine) NewPage() (Page, error) {
	page, err := e.shared.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	return e.wrap(page, nil), nil
}

func (e *PlaywrightEngine) NewIsolatedPage() (Page, error) {
	ctx, err := e.browser.NewContext(e.contextOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create isolated context: %w", err)
	}
	page, err := ctx.NewPage()
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	return e.wrap(page, ctx), nil
}

func (e *PlaywrightEngine) wrap(page playwright.Page, owned playwright.BrowserContext) *playwrightPage {
	page.SetDefaultTimeout(float64(e.opts.Timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(e.opts.Timeout.Milliseconds()))
	return &playwrightPage{page: page, context: owned, timeout: float64(e.opts.Timeout.Milliseconds())}
}

func (e *PlaywrightEngine) Close() error {
	var errs []error

	if e.shared != nil {
		if err := e.shared.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	e.logger.Info("headless browser closed")
	return nil
}

type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext
	timeout float64
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(p.timeout),
	})
	return err
}

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) Content() (string, error) { return p.page.Content() }

func (p *playwrightPage) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	return p.page.Evaluate(expression, arg...)
}

func (p *playwrightPage) SetExtraHTTPHeaders(headers map[string]string) error {
	return p.page.SetExtraHTTPHeaders(headers)
}

func (p *playwrightPage) WaitForSelector(selector string) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(p.timeout),
	})
	return err
}

func (p *playwrightPage) FillInFrame(frameSelector, selector, value string) error {
	return p.page.FrameLocator(frameSelector).Locator(selector).Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(p.timeout),
	})
}

func (p *playwrightPage) ClickInFrame(frameSelector, selector string) error {
	return p.page.FrameLocator(frameSelector).Locator(selector).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(p.timeout),
	})
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(p.timeout),
	})
}

func (p *playwrightPage) ExpectNavigation(action func() error) error {
	_, err := p.page.ExpectNavigation(action, playwright.PageExpectNavigationOptions{
		Timeout: playwright.Float(p.timeout),
	})
	return err
}

func (p *playwrightPage) Close() error {
	err := p.page.Close()
	if p.context != nil {
		if cerr := p.context.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

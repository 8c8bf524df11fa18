package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/uniscrape/internal/apperr"
)

const source = "browser"

// MaskScript removes the automation flag from navigator.
const MaskScript = `() => {
	const proto = Object.getPrototypeOf(navigator);
	delete proto.webdriver;
}`

var ErrNoEngine = errors.New("headless browser is not running")

type PoolOptions struct {
	Sessions          SessionStore
	AcceptLanguage    string
	NavigationRetries int
	RetryBackoff      time.Duration
	// OnSessionsChanged receives the number of registered user pages.
	OnSessionsChanged func(active int)
	Logger            *slog.Logger
}

// Pool hands out ephemeral pages and per-user pages from one engine.
type Pool struct {
	engine         Engine
	sessions       SessionStore
	acceptLanguage string
	retries        int
	backoff        time.Duration
	onChange       func(int)
	logger         *slog.Logger

	// mu makes check-then-register for user pages atomic.
	mu sync.Mutex
}

// NewPool takes ownership of engine. A nil engine yields a pool whose page
// operations fail with a Timeout error.
func NewPool(engine Engine, opts PoolOptions) *Pool {
	if opts.Sessions == nil {
		opts.Sessions = NewMemorySessionStore()
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = DefaultOptions().AcceptLanguage
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	return &Pool{
		engine:         engine,
		sessions:       opts.Sessions,
		acceptLanguage: opts.AcceptLanguage,
		retries:        opts.NavigationRetries,
		backoff:        opts.RetryBackoff,
		onChange:       opts.OnSessionsChanged,
		logger:         opts.Logger.With("component", "browser_pool"),
	}
}

// OpenEphemeralPage opens a masked page at url. The caller closes it.
func (p *Pool) OpenEphemeralPage(ctx context.Context, url string) (Page, error) {
	if p.engine == nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "opening page", ErrNoEngine)
	}
	return p.open(ctx, p.engine.NewPage, url)
}

// OpenOrReuseUserPage returns the page registered for userID without
// navigating, or opens one in a fresh isolated context and registers it.
// created reports whether a new page was opened.
func (p *Pool) OpenOrReuseUserPage(ctx context.Context, userID, url string) (page Page, created bool, err error) {
	if existing, ok := p.sessions.Load(userID); ok {
		return existing, false, nil
	}
	if p.engine == nil {
		return nil, false, apperr.Wrap(apperr.KindTimeout, source, "opening user page", ErrNoEngine)
	}

	page, err = p.open(ctx, p.engine.NewIsolatedPage, url)
	if err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	if existing, ok := p.sessions.Load(userID); ok {
		p.mu.Unlock()
		p.closeQuietly(page, userID)
		return existing, false, nil
	}
	p.sessions.Store(userID, page)
	active := p.sessions.Len()
	p.mu.Unlock()

	p.logger.Info("created isolated page", "user_id", userID)
	p.notify(active)
	return page, true, nil
}

// UserPage returns the page registered for userID, if any.
func (p *Pool) UserPage(userID string) (Page, bool) {
	return p.sessions.Load(userID)
}

// CloseUserPage closes and unregisters the user's page. Missing pages are
// ignored.
func (p *Pool) CloseUserPage(userID string) {
	p.mu.Lock()
	page, ok := p.sessions.Load(userID)
	if ok {
		p.sessions.Delete(userID)
	}
	active := p.sessions.Len()
	p.mu.Unlock()

	if !ok {
		return
	}
	p.closeQuietly(page, userID)
	p.notify(active)
}

// ActiveSessions is the number of registered user pages.
func (p *Pool) ActiveSessions() int {
	return p.sessions.Len()
}

// Navigate moves page to url with bounded retries.
func (p *Pool) Navigate(ctx context.Context, page Page, url string) error {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			p.logger.Info("retrying navigation", "attempt", attempt+1, "url", url)
			t := time.NewTimer(time.Duration(attempt) * p.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return apperr.Wrap(apperr.KindTimeout, source, "navigation cancelled", ctx.Err())
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindTimeout, source, "navigation cancelled", err)
		}

		if lastErr = page.Goto(url); lastErr == nil {
			return nil
		}
		p.logger.Warn("navigation failed", "url", url, "attempt", attempt+1, "error", lastErr)
	}
	return apperr.Wrap(apperr.KindTimeout, source,
		fmt.Sprintf("navigating to %s failed after %d attempts", url, p.retries+1), lastErr)
}

// Close closes every user page and then the engine. Failures are logged.
func (p *Pool) Close() {
	p.sessions.Range(func(userID string, _ Page) bool {
		p.CloseUserPage(userID)
		return true
	})
	if p.engine == nil {
		return
	}
	if err := p.engine.Close(); err != nil {
		p.logger.Error("failed to close headless browser", "error", err)
	}
}

func (p *Pool) open(ctx context.Context, newPage func() (Page, error), url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "opening page", err)
	}

	page, err := newPage()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "opening page", err)
	}

	if err := page.SetExtraHTTPHeaders(map[string]string{"accept-language": p.acceptLanguage}); err != nil {
		p.closeQuietly(page, "")
		return nil, apperr.Wrap(apperr.KindTimeout, source, "setting request headers", err)
	}

	if err := p.Navigate(ctx, page, url); err != nil {
		p.closeQuietly(page, "")
		return nil, err
	}

	if _, err := page.Evaluate(MaskScript); err != nil {
		p.logger.Warn("failed to mask automation flags", "url", url, "error", err)
	}
	return page, nil
}

func (p *Pool) closeQuietly(page Page, userID string) {
	if err := page.Close(); err != nil {
		p.logger.Warn("failed to close page", "user_id", userID, "error", err)
	}
}

func (p *Pool) notify(active int) {
	if p.onChange != nil {
		p.onChange(active)
	}
}

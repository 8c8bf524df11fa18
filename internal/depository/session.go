package depository

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/browser"
	"github.com/maltedev/uniscrape/internal/extractor"
	"github.com/maltedev/uniscrape/internal/keylock"
	"github.com/maltedev/uniscrape/internal/models"
)

const (
	LoginSucceeded  = "Successful login with the given user ID"
	LogoutSucceeded = "Successful logout with the given user ID"

	msgLoginFormNotFound  = "current selectors were unable to find the login form"
	msgAutoLoginFailed    = "automated headless login failed"
	msgInvalidCredentials = "invalid credentials"
	msgNotLoggedIn        = "you are not logged in"
	msgCannotLogOut       = "you cannot log out if you are not logged in"

	loginFrameSelector = "iframe.signin-iframe"
	emailSelector      = "#ap_email"
	passwordSelector   = "#ap_password"
	submitSelector     = "#signInSubmit"
	signOutSelector    = `a:has-text("Sign out")`
)

// DefaultAuthDomain matches URLs of the identity provider's sign-in pages.
var DefaultAuthDomain = regexp.MustCompile(`(?i)/ap/`)

type SessionState int

const (
	NoSession SessionState = iota
	LoggingIn
	Authenticated
)

func (s SessionState) String() string {
	switch s {
	case LoggingIn:
		return "logging_in"
	case Authenticated:
		return "authenticated"
	default:
		return "no_session"
	}
}

// PagePool is satisfied by *browser.Pool.
type PagePool interface {
	OpenOrReuseUserPage(ctx context.Context, userID, url string) (browser.Page, bool, error)
	UserPage(userID string) (browser.Page, bool)
	CloseUserPage(userID string)
	Navigate(ctx context.Context, page browser.Page, url string) error
}

type SessionConfig struct {
	BaseURL string
	// AuthDomain matches the URL a stalled sign-in flow is left on.
	AuthDomain *regexp.Regexp
}

// SessionManager keeps one authenticated page per user.
type SessionManager struct {
	pool        PagePool
	loginURL    string
	wishlistURL string
	authDomain  *regexp.Regexp
	locks       *keylock.Locks
	logger      *slog.Logger

	mu     sync.RWMutex
	states map[string]SessionState
}

func NewSessionManager(pool PagePool, cfg SessionConfig, logger *slog.Logger) *SessionManager {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.AuthDomain == nil {
		cfg.AuthDomain = DefaultAuthDomain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		pool:        pool,
		loginURL:    base + "/account/login/to/account",
		wishlistURL: base + "/account/wishlist",
		authDomain:  cfg.AuthDomain,
		locks:       keylock.New(),
		logger:      logger.With("component", "depository_session"),
		states:      make(map[string]SessionState),
	}
}

func (m *SessionManager) State(userID string) SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[userID]
}

func (m *SessionManager) setState(userID string, s SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == NoSession {
		delete(m.states, userID)
		return
	}
	m.states[userID] = s
}

// Login signs userID in through the embedded sign-in frame. Logging in an
// authenticated user is a no-op success. On every failure the page is
// closed and the user is left without a session.
func (m *SessionManager) Login(ctx context.Context, email, password, userID string) (string, error) {
	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTimeout, source, "waiting for session lock", err)
	}
	defer unlock()

	if _, ok := m.authenticatedPage(userID); ok {
		return LoginSucceeded, nil
	}

	// A page without an authenticated state is a leftover; start clean.
	m.pool.CloseUserPage(userID)
	m.setState(userID, LoggingIn)

	page, _, err := m.pool.OpenOrReuseUserPage(ctx, userID, m.loginURL)
	if err != nil {
		m.setState(userID, NoSession)
		return "", apperr.Ensure(err, apperr.KindTimeout, source, "opening login page")
	}

	fail := func(err error) (string, error) {
		m.pool.CloseUserPage(userID)
		m.setState(userID, NoSession)
		m.logger.Warn("login failed", "user_id", userID, "error", err)
		return "", err
	}

	if err := page.WaitForSelector(loginFrameSelector); err != nil {
		return fail(apperr.Wrap(apperr.KindDOMChanged, source, msgLoginFormNotFound, err))
	}
	if err := page.FillInFrame(loginFrameSelector, emailSelector, email); err != nil {
		return fail(apperr.Wrap(apperr.KindDOMChanged, source, msgLoginFormNotFound, err))
	}
	if err := page.FillInFrame(loginFrameSelector, passwordSelector, password); err != nil {
		return fail(apperr.Wrap(apperr.KindDOMChanged, source, msgLoginFormNotFound, err))
	}

	var clickErr error
	navErr := page.ExpectNavigation(func() error {
		clickErr = page.ClickInFrame(loginFrameSelector, submitSelector)
		return clickErr
	})
	if clickErr != nil {
		return fail(apperr.Wrap(apperr.KindDOMChanged, source, msgLoginFormNotFound, clickErr))
	}
	if navErr != nil {
		return fail(apperr.Wrap(apperr.KindTimeout, source, "waiting for navigation after sign-in", navErr))
	}

	if m.authDomain.MatchString(page.URL()) {
		return fail(apperr.New(apperr.KindDOMChanged, source, msgAutoLoginFailed))
	}

	if err := m.pool.Navigate(ctx, page, m.wishlistURL); err != nil {
		return fail(apperr.Ensure(err, apperr.KindTimeout, source, "opening wishlist"))
	}
	if !m.onWishlist(page) {
		return fail(apperr.New(apperr.KindAuth, source, msgInvalidCredentials))
	}

	m.setState(userID, Authenticated)
	m.logger.Info("user logged in", "user_id", userID)
	return LoginSucceeded, nil
}

// Logout signs out and releases the user's page. The page is released even
// when the sign-out control cannot be found.
func (m *SessionManager) Logout(ctx context.Context, userID string) (string, error) {
	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTimeout, source, "waiting for session lock", err)
	}
	defer unlock()

	page, ok := m.authenticatedPage(userID)
	if !ok {
		return "", apperr.New(apperr.KindAuth, source, msgCannotLogOut)
	}

	var clickErr error
	navErr := page.ExpectNavigation(func() error {
		clickErr = page.Click(signOutSelector)
		return clickErr
	})

	m.pool.CloseUserPage(userID)
	m.setState(userID, NoSession)

	if clickErr != nil {
		return "", apperr.Wrap(apperr.KindDOMChanged, source, "sign-out control not found", clickErr)
	}
	if navErr != nil {
		m.logger.Warn("no navigation after sign-out", "user_id", userID, "error", navErr)
	}

	m.logger.Info("user logged out", "user_id", userID)
	return LogoutSucceeded, nil
}

// IsLoggedIn never reports false: a missing session is an Auth error.
func (m *SessionManager) IsLoggedIn(_ context.Context, userID string) (bool, error) {
	if _, ok := m.authenticatedPage(userID); !ok {
		return false, apperr.New(apperr.KindAuth, source, msgNotLoggedIn)
	}
	return true, nil
}

// GetWishlistItems reads the user's wishlist from the live page.
func (m *SessionManager) GetWishlistItems(ctx context.Context, userID string) ([]models.DepositoryWishlistItem, error) {
	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "waiting for session lock", err)
	}
	defer unlock()

	page, ok := m.authenticatedPage(userID)
	if !ok {
		return nil, apperr.New(apperr.KindAuth, source, msgNotLoggedIn)
	}

	if err := m.pool.Navigate(ctx, page, m.wishlistURL); err != nil {
		return nil, apperr.Ensure(err, apperr.KindTimeout, source, "opening wishlist")
	}
	if !m.onWishlist(page) {
		// The site dropped the session.
		m.pool.CloseUserPage(userID)
		m.setState(userID, NoSession)
		return nil, apperr.New(apperr.KindAuth, source, "session expired")
	}

	html, err := page.Content()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "reading wishlist page", err)
	}
	return ParseWishlist(html, page.URL())
}

func (m *SessionManager) authenticatedPage(userID string) (browser.Page, bool) {
	if m.State(userID) != Authenticated {
		return nil, false
	}
	page, ok := m.pool.UserPage(userID)
	if !ok {
		m.setState(userID, NoSession)
		return nil, false
	}
	return page, true
}

func (m *SessionManager) onWishlist(page browser.Page) bool {
	return strings.Contains(page.URL(), "wishlist")
}

// ParseWishlist reads the wishlist cards. Links are resolved against
// pageURL.
func ParseWishlist(html, pageURL string) ([]models.DepositoryWishlistItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDOMChanged, source, "parsing wishlist page", err)
	}
	base, _ := url.Parse(pageURL)

	items := []models.DepositoryWishlistItem{}
	var failed error
	doc.Find(".book-list-item").EachWithBreak(func(i int, card *goquery.Selection) bool {
		title := card.Find("h2").First()
		if title.Length() == 0 {
			failed = apperr.New(apperr.KindDOMChanged, source, fmt.Sprintf("wishlist card %d has no title", i+1))
			return false
		}
		href, _ := title.Children().First().Attr("href")
		image, _ := card.Find("img").First().Attr("src")

		item := models.DepositoryWishlistItem{
			Title:        strings.TrimSpace(title.Text()),
			URL:          resolve(base, href),
			Image:        image,
			CurrentPrice: extractor.ParsePrice(card.Find(".price").First().Text()),
		}

		if author := card.Find(".author").First(); author.Length() > 0 {
			authorURL, _ := author.Children().First().Attr("href")
			item.Author = &models.Author{
				Name: strings.TrimSpace(author.Text()),
				URL:  resolve(base, authorURL),
			}
		}

		items = append(items, item)
		return true
	})
	if failed != nil {
		return nil, failed
	}
	return items, nil
}

func resolve(base *url.URL, href string) string {
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

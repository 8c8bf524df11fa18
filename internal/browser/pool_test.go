package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/browser"
	"github.com/maltedev/uniscrape/internal/browser/browsertest"
)

func newPool(engine browser.Engine) *browser.Pool {
	return browser.NewPool(engine, browser.PoolOptions{RetryBackoff: time.Millisecond})
}

func TestOpenEphemeralPageMasksAutomation(t *testing.T) {
	engine := &browsertest.Engine{}
	pool := newPool(engine)

	page, err := pool.OpenEphemeralPage(context.Background(), "https://example.com/")
	require.NoError(t, err)

	fake := page.(*browsertest.Page)
	assert.Equal(t, "https://example.com/", fake.URL())
	assert.Equal(t, "en-US,en;q=0.8", fake.Header("accept-language"))
	assert.Equal(t, []string{browser.MaskScript}, fake.Evaluated())
	assert.Equal(t, 0, engine.IsolatedCount())
	assert.Equal(t, 0, pool.ActiveSessions())
}

func TestOpenOrReuseUserPageIsIdempotent(t *testing.T) {
	engine := &browsertest.Engine{}
	pool := newPool(engine)
	ctx := context.Background()

	first, created, err := pool.OpenOrReuseUserPage(ctx, "alice", "https://example.com/login")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := pool.OpenOrReuseUserPage(ctx, "alice", "https://example.com/other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)

	// The reused page was not navigated again.
	assert.Equal(t, []string{"https://example.com/login"}, first.(*browsertest.Page).Visited())
	assert.Equal(t, 1, engine.IsolatedCount())
}

func TestUserPagesAreIsolated(t *testing.T) {
	engine := &browsertest.Engine{}
	var (
		mu     sync.Mutex
		active []int
	)
	pool := browser.NewPool(engine, browser.PoolOptions{
		OnSessionsChanged: func(n int) {
			mu.Lock()
			defer mu.Unlock()
			active = append(active, n)
		},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	pages := make([]browser.Page, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			p, _, err := pool.OpenOrReuseUserPage(ctx, user, "https://example.com/login")
			assert.NoError(t, err)
			pages[i] = p
		}(i, user)
	}
	wg.Wait()

	require.NotSame(t, pages[0], pages[1])
	assert.Equal(t, 2, engine.IsolatedCount())

	pool.CloseUserPage("alice")
	assert.True(t, pages[0].(*browsertest.Page).Closed())
	assert.False(t, pages[1].(*browsertest.Page).Closed())

	_, ok := pool.UserPage("alice")
	assert.False(t, ok)
	_, ok = pool.UserPage("bob")
	assert.True(t, ok)

	mu.Lock()
	assert.Equal(t, 1, active[len(active)-1])
	mu.Unlock()
}

func TestCloseUserPageMissingIsNoop(t *testing.T) {
	pool := newPool(&browsertest.Engine{})
	assert.NotPanics(t, func() { pool.CloseUserPage("nobody") })
}

func TestConcurrentOpenForSameUserKeepsOnePage(t *testing.T) {
	engine := &browsertest.Engine{}
	pool := newPool(engine)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]browser.Page, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _, err := pool.OpenOrReuseUserPage(ctx, "alice", "https://example.com/login")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	registered, ok := pool.UserPage("alice")
	require.True(t, ok)
	for _, p := range results {
		assert.Same(t, registered, p)
	}
	assert.Equal(t, 1, pool.ActiveSessions())

	// Losers of the race were closed.
	closed := 0
	for _, p := range engine.Pages() {
		if p.Closed() {
			closed++
		}
	}
	assert.Equal(t, len(engine.Pages())-1, closed)
}

func TestNavigationRetriesThenFails(t *testing.T) {
	var page *browsertest.Page
	engine := &browsertest.Engine{Factory: func(bool) *browsertest.Page {
		page = browsertest.NewPage()
		page.OnGoto = func(*browsertest.Page, string) error { return errors.New("net::ERR_TIMED_OUT") }
		return page
	}}
	pool := browser.NewPool(engine, browser.PoolOptions{NavigationRetries: 2, RetryBackoff: time.Millisecond})

	_, err := pool.OpenEphemeralPage(context.Background(), "https://example.com/")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.Len(t, page.Visited(), 3)
	assert.True(t, page.Closed())
}

func TestPoolWithoutEngine(t *testing.T) {
	pool := newPool(nil)

	_, err := pool.OpenEphemeralPage(context.Background(), "https://example.com/")
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.ErrorIs(t, err, browser.ErrNoEngine)

	_, _, err = pool.OpenOrReuseUserPage(context.Background(), "alice", "https://example.com/")
	assert.True(t, apperr.Is(err, apperr.KindTimeout))

	assert.NotPanics(t, pool.Close)
}

func TestPoolCloseReleasesEverything(t *testing.T) {
	engine := &browsertest.Engine{}
	pool := newPool(engine)
	ctx := context.Background()

	a, _, err := pool.OpenOrReuseUserPage(ctx, "alice", "https://example.com/")
	require.NoError(t, err)
	b, _, err := pool.OpenOrReuseUserPage(ctx, "bob", "https://example.com/")
	require.NoError(t, err)

	pool.Close()

	assert.True(t, a.(*browsertest.Page).Closed())
	assert.True(t, b.(*browsertest.Page).Closed())
	assert.True(t, engine.Closed())
	assert.Equal(t, 0, pool.ActiveSessions())
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/uniscrape/internal/apperr"
)

type memCache struct {
	mu    sync.Mutex
	pages map[string]Page
}

func (c *memCache) Get(_ context.Context, key string) (Page, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[key]
	return p, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, page Page, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[key] = page
	return nil
}

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Write([]byte(`<html><body><h2>Bestsellers</h2></body></html>`))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retries = 0
	opts.Timeout = 5 * time.Second
	return opts
}

func TestGetFollowsRedirects(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	f := New(testOptions())

	doc, err := f.GetFresh(context.Background(), srv.URL+"/redirect")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/page", doc.URL)
	assert.Equal(t, "Bestsellers", doc.Doc.Find("h2").Text())
}

func TestGetUsesCache(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)

	opts := testOptions()
	opts.Cache = &memCache{pages: map[string]Page{}}
	f := New(opts)

	for i := 0; i < 3; i++ {
		_, err := f.Get(context.Background(), srv.URL+"/page")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err := f.GetFresh(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGetErrorKinds(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	f := New(testOptions())

	_, err := f.GetFresh(context.Background(), srv.URL+"/broken")
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))

	_, err = f.GetFresh(context.Background(), srv.URL+"/missing")
	assert.Equal(t, apperr.KindDOMChanged, apperr.KindOf(err))

	_, err = f.GetFresh(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
}

func TestGetRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)

	opts := testOptions()
	opts.Retries = 2
	opts.RetryWait = time.Millisecond
	f := New(opts)

	_, err := f.GetFresh(context.Background(), srv.URL+"/broken")
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

type countingLimiter struct{ n int32 }

func (l *countingLimiter) Wait(ctx context.Context) error {
	atomic.AddInt32(&l.n, 1)
	return nil
}

func TestGetWaitsOnLimiter(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)

	lim := &countingLimiter{}
	opts := testOptions()
	opts.Limiter = lim
	f := New(opts)

	_, err := f.GetFresh(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&lim.n))
}

package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/events"
	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
	"github.com/maltedev/uniscrape/internal/normalize"
	"github.com/maltedev/uniscrape/internal/store"
	"github.com/maltedev/uniscrape/internal/wishlist"
)

const (
	isbnX = "9780134685991"
	isbnY = "9780340960196"
	isbnZ = "9780306406157"
)

type fakeLookup struct {
	mu    sync.Mutex
	books map[string]models.DepositoryBook
	errs  map[string]error
	calls []string
}

func (f *fakeLookup) GetByIdentifier(_ context.Context, id string) (models.DepositoryBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err, ok := f.errs[id]; ok {
		return models.DepositoryBook{}, err
	}
	b, ok := f.books[id]
	if !ok {
		return models.DepositoryBook{}, apperr.New(apperr.KindEmptyResults, "depository", "no such book")
	}
	return b, nil
}

type sentMail struct {
	to    string
	books []models.Book
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[string]bool
}

func (f *fakeNotifier) SendPriceDrop(_ context.Context, to string, books []models.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, sentMail{to, books})
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []*events.PriceDropPayload
}

func (f *fakePublisher) PublishPriceDrop(_ context.Context, p *events.PriceDropPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return "1-0", nil
}

type fixture struct {
	mem       *store.Memory
	wishlists *wishlist.Service
	lookup    *fakeLookup
	notifier  *fakeNotifier
	publisher *fakePublisher
	metrics   *metrics.Metrics
	reg       *prometheus.Registry
	watcher   *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem, err := store.NewMemory("")
	require.NoError(t, err)

	f := &fixture{
		mem:       mem,
		wishlists: wishlist.NewService(mem, nil),
		lookup:    &fakeLookup{books: map[string]models.DepositoryBook{}, errs: map[string]error{}},
		notifier:  &fakeNotifier{fail: map[string]bool{}},
		publisher: &fakePublisher{},
		reg:       prometheus.NewRegistry(),
	}
	f.metrics = metrics.New(f.reg)
	f.watcher = New(f.lookup, mem, f.wishlists, f.notifier, Options{
		Concurrency: 2,
		Normalizer:  normalize.New(normalize.DefaultUSDRate),
		Publisher:   f.publisher,
		Metrics:     f.metrics,
	})
	return f
}

func (f *fixture) stock(t *testing.T, userID string, books ...models.Book) {
	t.Helper()
	for _, b := range books {
		_, err := f.wishlists.Add(context.Background(), userID, b)
		require.NoError(t, err)
	}
}

func (f *fixture) subscribe(t *testing.T, userID string, emails ...string) {
	t.Helper()
	for _, e := range emails {
		_, err := f.watcher.Subscribe(context.Background(), userID, e)
		require.NoError(t, err)
	}
}

func (f *fixture) live(id, title string, price float64) {
	f.lookup.books[id] = models.DepositoryBook{
		ISBN:         id,
		Title:        title,
		Published:    "2018-01-06",
		CurrentPrice: price,
		LinkToBook:   "https://shop.example/" + id,
	}
}

func stored(id string, price float64) models.Book {
	return models.Book{ISBN: id, Title: "stored " + id, Price: price}
}

func TestRunOncePriceDrop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "u1", stored(isbnX, 5000), stored(isbnY, 3000))
	f.subscribe(t, "u1", "a@example.com", "b@example.com")
	f.live(isbnX, "Effective Java", 4000)
	f.live(isbnY, "Dune", 3000)

	report, err := f.watcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Users, 1)
	assert.Equal(t, 2, report.Users[0].Checked)
	assert.Equal(t, []Drop{{ISBN: isbnX, Title: "Effective Java", OldPrice: 5000, NewPrice: 4000}}, report.Users[0].Drops)
	assert.Equal(t, 2, report.Users[0].EmailsSent)

	require.Len(t, f.notifier.sent, 2)
	for _, m := range f.notifier.sent {
		require.Len(t, m.books, 1)
		assert.Equal(t, isbnX, m.books[0].ISBN)
		assert.Equal(t, 4000.0, m.books[0].Price)
	}

	books, err := f.wishlists.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, 4000.0, books[0].Price)
	assert.Equal(t, "Effective Java", books[0].Title)
	assert.Equal(t, 3000.0, books[1].Price)
	assert.Equal(t, "stored "+isbnY, books[1].Title)

	require.Len(t, f.publisher.payloads, 1)
	assert.Equal(t, report.RunID, f.publisher.payloads[0].RunID)
	assert.Equal(t, 5000.0, f.publisher.payloads[0].OldPrice)

	assert.Equal(t, 1.0, gatheredValue(t, f.reg, "uniscrape_price_drops_total"))
}

func TestRunOnceNoDropSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "u1", stored(isbnX, 5000))
	f.subscribe(t, "u1", "a@example.com")
	f.live(isbnX, "Effective Java", 5000)

	report, err := f.watcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Users[0].Drops)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.publisher.payloads)
}

func TestRunOnceUnknownPrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "u1", stored(isbnX, models.PriceUnknown), stored(isbnY, 3000))
	f.subscribe(t, "u1", "a@example.com")
	f.live(isbnX, "Effective Java", 4000)
	f.live(isbnY, "Dune", models.PriceUnknown)

	report, err := f.watcher.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Users[0].Drops, 1)
	assert.Equal(t, isbnX, report.Users[0].Drops[0].ISBN)
}

func TestRunOnceContainsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.stock(t, "u1", stored(isbnZ, 1000), stored(isbnX, 5000))
	f.subscribe(t, "u1", "one@example.com")
	f.stock(t, "u2", stored(isbnY, 3000))
	f.subscribe(t, "u2", "two@example.com")

	f.lookup.errs[isbnZ] = apperr.New(apperr.KindTimeout, "depository", "timed out")
	f.live(isbnX, "Effective Java", 4000)
	f.live(isbnY, "Dune", 2500)

	report, err := f.watcher.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Users, 2)

	assert.Equal(t, 1, report.Users[0].Failed)
	assert.Len(t, report.Users[0].Drops, 1)
	assert.Len(t, report.Users[1].Drops, 1)
	assert.Equal(t, 2, report.Drops())
	assert.Equal(t, 0, report.FailedUsers())

	u2, err := f.wishlists.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, u2[0].Price)
}

func TestRunOnceEmailFailureStillUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "u1", stored(isbnX, 5000))
	f.subscribe(t, "u1", "broken@example.com", "ok@example.com")
	f.notifier.fail["broken@example.com"] = true
	f.live(isbnX, "Effective Java", 4000)

	report, err := f.watcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Users[0].EmailsSent)

	books, err := f.wishlists.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4000.0, books[0].Price)
}

func TestRunOnceSkipsSyntheticIdentifiers(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "u1", stored("EBAY-ITEM-ID123", 5000), stored("AMAZON-UNKNOWN-1700000000000", 10))
	f.subscribe(t, "u1", "a@example.com")

	report, err := f.watcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Users[0].Skipped)
	assert.Empty(t, f.lookup.calls)
}

func TestRunOnceUserWithoutWishlist(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "u1", "a@example.com")

	report, err := f.watcher.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Users, 1)
	assert.Zero(t, report.Users[0].Checked)
	assert.Empty(t, report.Users[0].Error)
}

type brokenSubs struct{ SubscriptionStore }

func (brokenSubs) Subscriptions(context.Context) ([]models.Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestRunOnceSubscriptionLoadFailure(t *testing.T) {
	f := newFixture(t)
	w := New(f.lookup, brokenSubs{}, f.wishlists, f.notifier, Options{Metrics: f.metrics})

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
}

func TestGroupByUser(t *testing.T) {
	users, emails := groupByUser([]models.Subscription{
		{UserID: "b", Email: "1@x.com"},
		{UserID: "a", Email: "2@x.com"},
		{UserID: "b", Email: "3@x.com"},
		{UserID: "b", Email: "1@x.com"},
	})
	assert.Equal(t, []string{"b", "a"}, users)
	assert.Equal(t, []string{"1@x.com", "3@x.com"}, emails["b"])
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.watcher.Subscriptions(ctx, "u1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	sub, err := f.watcher.Subscribe(ctx, "u1", " Reader <reader@example.com> ")
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", sub.Email)

	_, err = f.watcher.Subscribe(ctx, "u1", "not an address")
	assert.True(t, apperr.Is(err, apperr.KindInvalidIdentifier))

	subs, err := f.watcher.Subscriptions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []models.Subscription{{UserID: "u1", Email: "reader@example.com"}}, subs)

	require.NoError(t, f.watcher.Unsubscribe(ctx, "u1", "reader@example.com"))
	err = f.watcher.Unsubscribe(ctx, "u1", "reader@example.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

type countingSubs struct {
	SubscriptionStore
	calls atomic.Int32
}

func (c *countingSubs) Subscriptions(ctx context.Context) ([]models.Subscription, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	subs := &countingSubs{SubscriptionStore: f.mem}
	w := New(f.lookup, subs, f.wishlists, f.notifier, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done, err := w.Start(ctx, "@every 1s")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return subs.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := f.watcher.Start(context.Background(), "every now and then")
	assert.Error(t, err)
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == name {
			return fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

// Package watcher re-checks wishlist prices against the live retail site and
// notifies subscribers when books get cheaper.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/events"
	"github.com/maltedev/uniscrape/internal/isbn"
	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
	"github.com/maltedev/uniscrape/internal/normalize"
)

const source = "watcher"

type BookLookup interface {
	GetByIdentifier(ctx context.Context, id string) (models.DepositoryBook, error)
}

type Wishlists interface {
	Get(ctx context.Context, userID string) ([]models.Book, error)
	ReplaceBooks(ctx context.Context, userID string, fresh []models.Book) (int, error)
}

type SubscriptionStore interface {
	Subscriptions(ctx context.Context) ([]models.Subscription, error)
	UserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
	AddSubscription(ctx context.Context, sub models.Subscription) error
	RemoveSubscription(ctx context.Context, userID, email string) (bool, error)
}

type Notifier interface {
	SendPriceDrop(ctx context.Context, to string, books []models.Book) error
}

type EventPublisher interface {
	PublishPriceDrop(ctx context.Context, payload *events.PriceDropPayload) (string, error)
}

type Options struct {
	// Concurrency bounds how many users are checked at once.
	Concurrency int
	// UserTimeout bounds one user's check; zero means no limit.
	UserTimeout time.Duration
	Normalizer  *normalize.Normalizer
	// Publisher is optional.
	Publisher EventPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Watcher struct {
	lookup     BookLookup
	subs       SubscriptionStore
	wishlists  Wishlists
	notifier   Notifier
	normalizer *normalize.Normalizer
	publisher  EventPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	concurrency int
	userTimeout time.Duration
}

func New(lookup BookLookup, subs SubscriptionStore, wishlists Wishlists, notifier Notifier, opts Options) *Watcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New(normalize.DefaultUSDRate)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		lookup:      lookup,
		subs:        subs,
		wishlists:   wishlists,
		notifier:    notifier,
		normalizer:  opts.Normalizer,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "watcher"),
		concurrency: opts.Concurrency,
		userTimeout: opts.UserTimeout,
	}
}

// Drop is one book found cheaper than its stored entry.
type Drop struct {
	ISBN     string  `json:"isbn"`
	Title    string  `json:"title"`
	OldPrice float64 `json:"oldPrice"`
	NewPrice float64 `json:"newPrice"`
}

type UserReport struct {
	UserID     string `json:"userId"`
	Checked    int    `json:"checked"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Drops      []Drop `json:"drops,omitempty"`
	EmailsSent int    `json:"emailsSent"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	RunID      string       `json:"runId"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Users      []UserReport `json:"users"`
}

func (r Report) Drops() int {
	n := 0
	for _, u := range r.Users {
		n += len(u.Drops)
	}
	return n
}

func (r Report) FailedUsers() int {
	n := 0
	for _, u := range r.Users {
		if u.Error != "" {
			n++
		}
	}
	return n
}

// RunOnce checks every subscribed user's wishlist. A failure for one user or
// one book is recorded in the report and never stops the others; the
// returned error covers only loading the subscriptions.
func (w *Watcher) RunOnce(ctx context.Context) (report Report, err error) {
	report = Report{RunID: uuid.New().String(), StartedAt: time.Now()}
	defer func() {
		report.FinishedAt = time.Now()
		w.metrics.ObserveWatcherRun(report.StartedAt, report.Drops(), err)
	}()

	subs, err := w.subs.Subscriptions(ctx)
	if err != nil {
		return report, apperr.Ensure(err, apperr.KindStorage, source, "load subscriptions")
	}

	users, emails := groupByUser(subs)
	logger := w.logger.With("run_id", report.RunID)
	logger.Info("watcher run started", "users", len(users), "subscriptions", len(subs))

	results := make([]UserReport, len(users))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, userID := range users {
		i, userID := i, userID
		g.Go(func() error {
			r := w.checkUser(gctx, report.RunID, userID, emails[userID], logger)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Users = results
	logger.Info("watcher run finished",
		"users", len(users),
		"drops", report.Drops(),
		"failed_users", report.FailedUsers(),
		"duration", time.Since(report.StartedAt))
	return report, nil
}

func (w *Watcher) checkUser(ctx context.Context, runID, userID string, emails []string, logger *slog.Logger) (r UserReport) {
	r.UserID = userID
	logger = logger.With("user_id", userID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("user check panicked", "panic", p)
			r.Error = "internal error"
		}
	}()

	if w.userTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.userTimeout)
		defer cancel()
	}

	books, err := w.wishlists.Get(ctx, userID)
	if err != nil {
		logger.Error("failed to load wishlist", "error", err)
		r.Error = err.Error()
		return r
	}

	var cheaper []models.Book
	for _, stored := range books {
		if ctx.Err() != nil {
			r.Error = ctx.Err().Error()
			break
		}
		if !isbn.IsValid(stored.ISBN) {
			// Entries from other sources carry synthetic ids the site cannot look up.
			r.Skipped++
			continue
		}

		raw, err := w.lookup.GetByIdentifier(ctx, stored.ISBN)
		if err != nil {
			r.Failed++
			logger.Warn("failed to re-fetch book", "isbn", stored.ISBN, "error", err, "kind", apperr.KindOf(err).String())
			continue
		}
		r.Checked++

		fresh := w.normalizer.FromDepository(raw)
		fresh.ISBN = stored.ISBN
		if models.PriceDropped(stored.Price, fresh.Price) {
			cheaper = append(cheaper, fresh)
			r.Drops = append(r.Drops, Drop{
				ISBN:     stored.ISBN,
				Title:    fresh.Title,
				OldPrice: stored.Price,
				NewPrice: fresh.Price,
			})
		}
	}

	if len(cheaper) == 0 {
		return r
	}

	for _, to := range emails {
		if err := w.notifier.SendPriceDrop(ctx, to, cheaper); err != nil {
			logger.Error("failed to notify subscriber", "email", to, "error", err)
			continue
		}
		r.EmailsSent++
	}

	if _, err := w.wishlists.ReplaceBooks(ctx, userID, cheaper); err != nil {
		logger.Error("failed to update wishlist", "error", err)
		r.Error = err.Error()
		return r
	}

	w.publish(ctx, runID, userID, r.Drops, cheaper, logger)
	logger.Info("price drops processed", "drops", len(cheaper), "emails_sent", r.EmailsSent)
	return r
}

func (w *Watcher) publish(ctx context.Context, runID, userID string, drops []Drop, books []models.Book, logger *slog.Logger) {
	if w.publisher == nil {
		return
	}
	for i, d := range drops {
		_, err := w.publisher.PublishPriceDrop(ctx, &events.PriceDropPayload{
			RunID:    runID,
			UserID:   userID,
			ISBN:     d.ISBN,
			Title:    d.Title,
			URL:      books[i].URL,
			OldPrice: d.OldPrice,
			NewPrice: d.NewPrice,
		})
		if err != nil {
			logger.Warn("failed to publish price drop", "isbn", d.ISBN, "error", err)
		}
	}
}

// groupByUser keeps the first-seen order of users and of their addresses.
func groupByUser(subs []models.Subscription) ([]string, map[string][]string) {
	var users []string
	emails := make(map[string][]string)
	for _, s := range subs {
		if _, ok := emails[s.UserID]; !ok {
			users = append(users, s.UserID)
		}
		emails[s.UserID] = appendUnique(emails[s.UserID], s.Email)
	}
	return users, emails
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// Package store persists wishlists, watcher subscriptions and search
// history. Every driver stores one document per user and reports failures
// as apperr.KindStorage.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/models"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Store interface {
	// Wishlist returns an empty slice for users that never saved one.
	Wishlist(ctx context.Context, userID string) ([]models.Book, error)
	SaveWishlist(ctx context.Context, userID string, books []models.Book) error

	Subscriptions(ctx context.Context) ([]models.Subscription, error)
	UserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
	// AddSubscription is idempotent on (user, email).
	AddSubscription(ctx context.Context, sub models.Subscription) error
	// RemoveSubscription reports whether a subscription was removed.
	RemoveSubscription(ctx context.Context, userID, email string) (bool, error)

	SearchHistory(ctx context.Context, userID string) ([]string, error)
	SaveSearchHistory(ctx context.Context, userID string, terms []string) error

	Close(ctx context.Context) error
}

type Config struct {
	Driver string

	// SnapshotFile is optional for the memory driver.
	SnapshotFile string

	PostgresDSN string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration

	MongoURI      string
	MongoDatabase string

	ConnectTimeout time.Duration
}

// Open builds the driver selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(cfg.SnapshotFile)
	case DriverPostgres:
		return NewPostgres(ctx, cfg, logger)
	case DriverMongo:
		return NewMongo(ctx, cfg, logger)
	default:
		return nil, apperr.New(apperr.KindStorage, "store", fmt.Sprintf("unknown driver %q", cfg.Driver))
	}
}

func storageErr(op string, err error) error {
	return apperr.Wrap(apperr.KindStorage, "store", op, err)
}

func cloneBooks(in []models.Book) []models.Book {
	out := make([]models.Book, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

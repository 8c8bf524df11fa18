package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maltedev/uniscrape/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wishlists (
	user_id    TEXT PRIMARY KEY,
	books      JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS watcher_subscriptions (
	user_id    TEXT NOT NULL,
	email      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, email)
);
CREATE TABLE IF NOT EXISTS search_history (
	user_id    TEXT PRIMARY KEY,
	terms      JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres keeps each user's wishlist and history as a JSONB document.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*Postgres, error) {
	if cfg.PostgresDSN == "" {
		return nil, storageErr("open postgres", errors.New("dsn is required"))
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, storageErr("open postgres", fmt.Errorf("failed to parse config: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, storageErr("open postgres", fmt.Errorf("failed to create pool: %w", err))
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, storageErr("open postgres", fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := pool.Exec(connectCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, storageErr("open postgres", fmt.Errorf("failed to migrate: %w", err))
	}

	logger.Info("postgres store ready", "component", "store", "max_conns", poolConfig.MaxConns)
	return &Postgres{pool: pool, logger: logger.With("component", "store")}, nil
}

func (p *Postgres) Wishlist(ctx context.Context, userID string) ([]models.Book, error) {
	books := []models.Book{}
	if err := p.document(ctx, `SELECT books FROM wishlists WHERE user_id = $1`, userID, &books); err != nil {
		return nil, storageErr("read wishlist", err)
	}
	return books, nil
}

func (p *Postgres) SaveWishlist(ctx context.Context, userID string, books []models.Book) error {
	if books == nil {
		books = []models.Book{}
	}
	err := p.upsert(ctx, `
		INSERT INTO wishlists (user_id, books, updated_at) VALUES ($1, $2::jsonb, now())
		ON CONFLICT (user_id) DO UPDATE SET books = EXCLUDED.books, updated_at = now()`,
		userID, books)
	if err != nil {
		return storageErr("save wishlist", err)
	}
	return nil
}

func (p *Postgres) Subscriptions(ctx context.Context) ([]models.Subscription, error) {
	subs, err := p.subscriptions(ctx, `SELECT user_id, email FROM watcher_subscriptions ORDER BY created_at, user_id, email`)
	if err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	return subs, nil
}

func (p *Postgres) UserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	subs, err := p.subscriptions(ctx, `SELECT user_id, email FROM watcher_subscriptions WHERE user_id = $1 ORDER BY created_at, email`, userID)
	if err != nil {
		return nil, storageErr("list user subscriptions", err)
	}
	return subs, nil
}

func (p *Postgres) AddSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO watcher_subscriptions (user_id, email) VALUES ($1, $2)
		ON CONFLICT (user_id, email) DO NOTHING`, sub.UserID, sub.Email)
	if err != nil {
		return storageErr("add subscription", err)
	}
	return nil
}

func (p *Postgres) RemoveSubscription(ctx context.Context, userID, email string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM watcher_subscriptions WHERE user_id = $1 AND email = $2`, userID, email)
	if err != nil {
		return false, storageErr("remove subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) SearchHistory(ctx context.Context, userID string) ([]string, error) {
	terms := []string{}
	if err := p.document(ctx, `SELECT terms FROM search_history WHERE user_id = $1`, userID, &terms); err != nil {
		return nil, storageErr("read search history", err)
	}
	return terms, nil
}

func (p *Postgres) SaveSearchHistory(ctx context.Context, userID string, terms []string) error {
	if terms == nil {
		terms = []string{}
	}
	err := p.upsert(ctx, `
		INSERT INTO search_history (user_id, terms, updated_at) VALUES ($1, $2::jsonb, now())
		ON CONFLICT (user_id) DO UPDATE SET terms = EXCLUDED.terms, updated_at = now()`,
		userID, terms)
	if err != nil {
		return storageErr("save search history", err)
	}
	return nil
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

// document scans a single JSONB column into dst. A missing row leaves dst
// untouched.
func (p *Postgres) document(ctx context.Context, sql, userID string, dst interface{}) error {
	var raw []byte
	err := p.pool.QueryRow(ctx, sql, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (p *Postgres) upsert(ctx context.Context, sql, userID string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = p.pool.Exec(ctx, sql, userID, string(raw))
	return err
}

func (p *Postgres) subscriptions(ctx context.Context, sql string, args ...interface{}) ([]models.Subscription, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subscription, error) {
		var s models.Subscription
		err := row.Scan(&s.UserID, &s.Email)
		return s, err
	})
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	return subs, nil
}

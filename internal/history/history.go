// Package history records the search terms each user submits.
package history

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/keylock"
)

const (
	source = "history"

	// MaxTerms caps each user's stored history.
	MaxTerms = 15
)

type Store interface {
	SearchHistory(ctx context.Context, userID string) ([]string, error)
	SaveSearchHistory(ctx context.Context, userID string, terms []string) error
}

type Recorder struct {
	store  Store
	locks  *keylock.Locks
	logger *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		locks:  keylock.New(),
		logger: logger.With("component", "history"),
	}
}

// Record puts the decoded term first, drops older copies of it and keeps at
// most MaxTerms entries.
func (r *Recorder) Record(ctx context.Context, userID, term string) ([]string, error) {
	term = Decode(term)
	if term == "" {
		return r.Recent(ctx, userID)
	}

	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "wait for history lock", err)
	}
	defer unlock()

	terms, err := r.Recent(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := make([]string, 0, MaxTerms)
	next = append(next, term)
	for _, t := range terms {
		if len(next) == MaxTerms {
			break
		}
		if t != term {
			next = append(next, t)
		}
	}

	if err := r.store.SaveSearchHistory(ctx, userID, next); err != nil {
		return nil, apperr.Ensure(err, apperr.KindStorage, source, "save search history")
	}
	return next, nil
}

func (r *Recorder) Recent(ctx context.Context, userID string) ([]string, error) {
	terms, err := r.store.SearchHistory(ctx, userID)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindStorage, source, "read search history")
	}
	if terms == nil {
		terms = []string{}
	}
	return terms, nil
}

// Decode undoes URL query escaping; undecodable input is kept as is.
func Decode(term string) string {
	if decoded, err := url.QueryUnescape(term); err == nil {
		term = decoded
	}
	return strings.TrimSpace(term)
}

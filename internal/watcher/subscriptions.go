package watcher

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/models"
)

// Subscribe registers email for userID's price-drop notifications.
// Subscribing twice is a no-op.
func (w *Watcher) Subscribe(ctx context.Context, userID, email string) (models.Subscription, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return models.Subscription{}, apperr.Wrap(apperr.KindInvalidIdentifier, source, fmt.Sprintf("invalid e-mail address %q", email), err)
	}
	sub := models.Subscription{UserID: userID, Email: addr.Address}
	if err := w.subs.AddSubscription(ctx, sub); err != nil {
		return models.Subscription{}, apperr.Ensure(err, apperr.KindStorage, source, "add subscription")
	}
	w.logger.Info("subscription added", "user_id", userID, "email", sub.Email)
	return sub, nil
}

func (w *Watcher) Unsubscribe(ctx context.Context, userID, email string) error {
	removed, err := w.subs.RemoveSubscription(ctx, userID, strings.TrimSpace(email))
	if err != nil {
		return apperr.Ensure(err, apperr.KindStorage, source, "remove subscription")
	}
	if !removed {
		return apperr.New(apperr.KindNotFound, source, fmt.Sprintf("no subscription for %s", email))
	}
	w.logger.Info("subscription removed", "user_id", userID, "email", email)
	return nil
}

// Subscriptions fails with KindNotFound when userID has none.
func (w *Watcher) Subscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	subs, err := w.subs.UserSubscriptions(ctx, userID)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindStorage, source, "list subscriptions")
	}
	if len(subs) == 0 {
		return nil, apperr.New(apperr.KindNotFound, source, "no watcher subscription")
	}
	return subs, nil
}

// Package events publishes price-drop events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventTypePriceDropped EventType = "PRICE_DROPPED"

	DefaultStream = "stream:price_drops"
	aggregateType = "wishlist_book"
)

// RedisClient is the part of *redis.Client the publisher needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type PriceDropPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	UserID    string    `json:"user_id"`
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	OldPrice  float64   `json:"old_price"`
	NewPrice  float64   `json:"new_price"`
	Currency  string    `json:"currency"`
	Source    string    `json:"source"`
}

type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishPriceDrop fills in missing metadata and appends the event to the
// stream. It returns the stream entry id.
func (p *Publisher) PublishPriceDrop(ctx context.Context, payload *PriceDropPayload) (string, error) {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypePriceDropped)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Currency == "" {
		payload.Currency = "HUF"
	}
	if payload.Source == "" {
		payload.Source = "watcher"
	}

	streamData := map[string]interface{}{
		"id":             payload.EventID,
		"type":           payload.EventType,
		"aggregate_type": aggregateType,
		"aggregate_id":   payload.ISBN,
		"timestamp":      payload.Timestamp.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]interface{}{
			"source":        "uniscrape",
			"run_id":        payload.RunID,
			"target_stream": p.stream,
		},
	}
	dataJSON, err := json.Marshal(streamData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":           string(dataJSON),
			"type":           payload.EventType,
			"timestamp":      fmt.Sprintf("%d", payload.Timestamp.UnixNano()),
			"original_id":    payload.EventID,
			"aggregate_id":   payload.ISBN,
			"aggregate_type": aggregateType,
			"event_type":     payload.EventType,
		},
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Info("price drop published",
		"event_id", payload.EventID,
		"stream_id", id,
		"user_id", payload.UserID,
		"isbn", payload.ISBN,
		"old_price", payload.OldPrice,
		"new_price", payload.NewPrice,
	)
	return id, nil
}

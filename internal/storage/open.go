// Package storage persists subscriptions and reviews in sqlite.
package storage

import (
	"context"

	"reviewbot/pkg/logx"
)

// Store is the persistence API used by the monitor and delivery code.
type Store interface {
	// AddSubscription inserts a subscription. An owner already holding
	// one for the same source keeps the existing row unchanged.
	AddSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	SubscriptionByOwner(ctx context.Context, ownerID int64, source string) (Subscription, error)
	Subscriptions(ctx context.Context) ([]Subscription, error)
	RemoveSubscription(ctx context.Context, id int64) error

	// UpsertReview inserts a review or refreshes its content fields.
	// Delivery state (posted flag and retry count) of an existing row
	// is never touched by an upsert.
	UpsertReview(ctx context.Context, r Review) (Review, error)
	// LatestReview returns the most recently stored review for a
	// subscription, or ErrNotFound when none exists.
	LatestReview(ctx context.Context, subscriptionID int64) (Review, error)
	// Undelivered lists unposted reviews with retry_count below
	// maxRetries, oldest first.
	Undelivered(ctx context.Context, maxRetries int) ([]Review, error)
	MarkPosted(ctx context.Context, reviewID int64) error
	IncrementRetry(ctx context.Context, reviewID int64) error

	Close() error
}

// Open initializes the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}

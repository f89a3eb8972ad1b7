// Package deliver turns stored reviews into chat messages and records
// the outcome.
package deliver

import (
	"context"

	"reviewbot/internal/storage"
	"reviewbot/internal/transport"
	"reviewbot/pkg/logx"
)

// DeliveryStore is the slice of the store the deliverer needs.
type DeliveryStore interface {
	MarkPosted(ctx context.Context, reviewID int64) error
	IncrementRetry(ctx context.Context, reviewID int64) error
}

type Deliverer struct {
	store  DeliveryStore
	sender transport.Sender
	target transport.ChatTarget
	log    logx.Logger
}

func New(store DeliveryStore, sender transport.Sender, target transport.ChatTarget, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Deliverer{store: store, sender: sender, target: target, log: log}
}

// Attempt sends one review and records the outcome. It returns true
// when the review was posted and marked as such. Any failure along
// the way, send or bookkeeping, counts as a failed attempt and bumps
// the retry count.
func (d *Deliverer) Attempt(ctx context.Context, sub storage.Subscription, r storage.Review) bool {
	text := Render(sub, r)
	opt := &transport.SendOptions{
		ParseMode:      transport.ParseModeHTML,
		DisablePreview: r.CoverImage == "",
	}

	if _, err := d.sender.SendText(ctx, d.target, text, opt); err != nil {
		d.log.Warn("review delivery failed",
			logx.Int64("review_id", r.ID),
			logx.String("source", sub.Source),
			logx.Int("retry_count", r.RetryCount),
			logx.Err(err))
		d.recordFailure(ctx, r.ID)
		return false
	}

	if err := d.store.MarkPosted(ctx, r.ID); err != nil {
		// The message went out but the state did not stick. Treat it
		// as a failed attempt so the review is retried rather than
		// silently lost.
		d.log.Error("posted review could not be marked",
			logx.Int64("review_id", r.ID),
			logx.Err(err))
		d.recordFailure(ctx, r.ID)
		return false
	}

	d.log.Info("review delivered",
		logx.Int64("review_id", r.ID),
		logx.String("source", sub.Source),
		logx.String("title", r.Title))
	return true
}

func (d *Deliverer) recordFailure(ctx context.Context, reviewID int64) {
	if err := d.store.IncrementRetry(ctx, reviewID); err != nil {
		d.log.Error("retry count update failed",
			logx.Int64("review_id", reviewID),
			logx.Err(err))
	}
}

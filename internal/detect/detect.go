// Package detect decides whether a fetched review is new for a subscription.
package detect

import (
	"context"
	"errors"

	"reviewbot/internal/source"
	"reviewbot/internal/storage"
)

// LatestStore is the slice of the store the detector needs.
type LatestStore interface {
	LatestReview(ctx context.Context, subscriptionID int64) (storage.Review, error)
}

type Decider struct {
	store LatestStore
}

func New(store LatestStore) *Decider {
	return &Decider{store: store}
}

// IsNew reports whether draft has not been seen for the subscription.
// Only the canonical identity is compared. Edits to an already-known
// review (text, rating, cover) never count as new.
func (d *Decider) IsNew(ctx context.Context, subscriptionID int64, draft source.Draft) (bool, error) {
	if draft.CanonicalID == "" {
		return false, nil
	}
	latest, err := d.store.LatestReview(ctx, subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return latest.CanonicalID != draft.CanonicalID, nil
}

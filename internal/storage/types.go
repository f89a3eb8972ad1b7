package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// Config controls the sqlite backend.
type Config struct {
	// Path is the sqlite database file.
	Path string
	// BusyTimeout is applied as PRAGMA busy_timeout. 0 keeps the driver default.
	BusyTimeout time.Duration
}

// Subscription binds a chat owner to one account on one review
// source. An owner holds at most one subscription per source.
type Subscription struct {
	ID           int64
	OwnerID      int64
	Source       string
	SourceUserID string
	DisplayName  string
	CreatedAt    time.Time
}

// Review is one persisted review with its delivery state.
//
// Posted and RetryCount drive the delivery lifecycle: a review starts
// unposted with zero retries, failed sends bump RetryCount, and a
// successful send flips Posted permanently.
type Review struct {
	ID             int64
	SubscriptionID int64
	Source         string
	CanonicalID    string
	SubjectID      string
	Title          string
	Content        string
	Rating         *float64
	CoverImage     string
	OccurredAt     time.Time
	Posted         bool
	RetryCount     int
	CreatedAt      time.Time
}

// Package source defines the contract between the review monitor and the
// per-site fetch adapters. Every adapter resolves its site-specific field
// naming internally and returns the one normalized Draft shape; call sites
// never see site quirks.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Source identifies a supported review site. The set is closed; storage
// enforces it with a CHECK constraint.
type Source string

const (
	Steam        Source = "steam"
	Letterboxd   Source = "letterboxd"
	SensCritique Source = "senscritique"
)

func (s Source) Valid() bool {
	switch s {
	case Steam, Letterboxd, SensCritique:
		return true
	}
	return false
}

// Draft is the normalized output of an adapter before persistence.
//
// CanonicalID must be stable for the same logical review across fetches and
// across edits of its text or rating. Adapters that cannot derive a stable
// identity for an item must skip the item, never emit a placeholder.
type Draft struct {
	Title       string
	Content     string
	Rating      *float64 // site-specific scale, not normalized here
	CanonicalID string
	OccurredAt  time.Time
	CoverImage  string
	SubjectID   string // e.g. steam appid, film slug
}

// Adapter fetches the most recent review(s) for one site.
//
// FetchLatest is a pure read: no retries, no persistence. onlyLatest is an
// optimization hint; returning more items than needed is allowed.
type Adapter interface {
	Source() Source
	FetchLatest(ctx context.Context, sourceUserID string, onlyLatest bool) ([]Draft, error)
	// ValidateUser reports whether the identifier exists on the site. It is
	// used by registration flows, outside the polling loop.
	ValidateUser(ctx context.Context, sourceUserID string) (bool, error)
}

// FetchError marks a transport or parse failure as recoverable: the sweep
// treats it as "no new item this cycle" and the next tick retries naturally.
type FetchError struct {
	Source Source
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Rating returns a pointer for optional rating fields.
func Rating(v float64) *float64 { return &v }

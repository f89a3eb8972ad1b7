package detect

import (
	"context"
	"errors"
	"testing"

	"reviewbot/internal/source"
	"reviewbot/internal/storage"
)

type fakeLatest struct {
	review storage.Review
	err    error
}

func (f fakeLatest) LatestReview(context.Context, int64) (storage.Review, error) {
	return f.review, f.err
}

func TestIsNewFirstReview(t *testing.T) {
	d := New(fakeLatest{err: storage.ErrNotFound})
	got, err := d.IsNew(context.Background(), 1, source.Draft{CanonicalID: "r1"})
	if err != nil {
		t.Fatalf("IsNew: %v", err)
	}
	if !got {
		t.Fatal("first review not detected as new")
	}
}

func TestIsNewSameIdentity(t *testing.T) {
	d := New(fakeLatest{review: storage.Review{CanonicalID: "r1"}})

	// Identity match means not new, even when every other field changed.
	got, err := d.IsNew(context.Background(), 1, source.Draft{
		CanonicalID: "r1",
		Title:       "Edited Title",
		Content:     "Edited body",
	})
	if err != nil {
		t.Fatalf("IsNew: %v", err)
	}
	if got {
		t.Fatal("edited review with same identity detected as new")
	}
}

func TestIsNewDifferentIdentity(t *testing.T) {
	d := New(fakeLatest{review: storage.Review{CanonicalID: "r1"}})
	got, err := d.IsNew(context.Background(), 1, source.Draft{CanonicalID: "r2"})
	if err != nil {
		t.Fatalf("IsNew: %v", err)
	}
	if !got {
		t.Fatal("different identity not detected as new")
	}
}

func TestIsNewEmptyIdentity(t *testing.T) {
	d := New(fakeLatest{err: storage.ErrNotFound})
	got, err := d.IsNew(context.Background(), 1, source.Draft{})
	if err != nil {
		t.Fatalf("IsNew: %v", err)
	}
	if got {
		t.Fatal("draft without identity detected as new")
	}
}

func TestIsNewStoreError(t *testing.T) {
	boom := errors.New("db down")
	d := New(fakeLatest{err: boom})
	if _, err := d.IsNew(context.Background(), 1, source.Draft{CanonicalID: "r1"}); !errors.Is(err, boom) {
		t.Fatalf("IsNew err = %v, want wrapped db error", err)
	}
}

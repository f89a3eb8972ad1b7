package deliver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"reviewbot/internal/storage"
	"reviewbot/internal/transport"
	"reviewbot/pkg/logx"
)

type fakeStore struct {
	posted  []int64
	retried []int64
	markErr error
}

func (f *fakeStore) MarkPosted(_ context.Context, id int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.posted = append(f.posted, id)
	return nil
}

func (f *fakeStore) IncrementRetry(_ context.Context, id int64) error {
	f.retried = append(f.retried, id)
	return nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{MessageID: 1}, nil
}

func (f *fakeSender) Stop(context.Context) error { return nil }

func rating(v float64) *float64 { return &v }

func TestAttemptSuccess(t *testing.T) {
	st := &fakeStore{}
	sn := &fakeSender{}
	d := New(st, sn, transport.ChatTarget{ChatID: 1}, logx.Nop())

	ok := d.Attempt(context.Background(),
		storage.Subscription{Source: "letterboxd", SourceUserID: "moviefan"},
		storage.Review{ID: 7, Title: "Heat (1995)", Rating: rating(4.5)})
	if !ok {
		t.Fatal("successful delivery reported as failed")
	}
	if len(st.posted) != 1 || st.posted[0] != 7 {
		t.Fatalf("posted = %v", st.posted)
	}
	if len(st.retried) != 0 {
		t.Fatalf("retried = %v on success", st.retried)
	}
}

func TestAttemptSendFailure(t *testing.T) {
	st := &fakeStore{}
	sn := &fakeSender{err: errors.New("telegram down")}
	d := New(st, sn, transport.ChatTarget{ChatID: 1}, logx.Nop())

	ok := d.Attempt(context.Background(), storage.Subscription{Source: "steam"}, storage.Review{ID: 9})
	if ok {
		t.Fatal("failed send reported as delivered")
	}
	if len(st.posted) != 0 {
		t.Fatalf("posted = %v after failure", st.posted)
	}
	if len(st.retried) != 1 || st.retried[0] != 9 {
		t.Fatalf("retried = %v", st.retried)
	}
}

func TestAttemptMarkFailureCountsAsRetry(t *testing.T) {
	st := &fakeStore{markErr: errors.New("db locked")}
	sn := &fakeSender{}
	d := New(st, sn, transport.ChatTarget{ChatID: 1}, logx.Nop())

	if ok := d.Attempt(context.Background(), storage.Subscription{}, storage.Review{ID: 3}); ok {
		t.Fatal("unrecorded delivery reported as success")
	}
	if len(st.retried) != 1 {
		t.Fatalf("retried = %v", st.retried)
	}
}

func TestRenderLetterboxd(t *testing.T) {
	msg := Render(
		storage.Subscription{Source: "letterboxd", SourceUserID: "moviefan"},
		storage.Review{
			Title:       "Heat (1995)",
			Content:     "Un sommet du polar <urbain>",
			Rating:      rating(4.5),
			CanonicalID: "https://letterboxd.com/moviefan/film/heat/",
			CoverImage:  "https://image.tmdb.org/t/p/w500/heat.jpg",
		})

	for _, want := range []string{
		"Nouvelle critique de moviefan sur Letterboxd",
		"<b>Heat (1995)</b>",
		"★★★★½ (4.5/5)",
		"<blockquote>Un sommet du polar &lt;urbain&gt;</blockquote>",
		`<a href="https://letterboxd.com/moviefan/film/heat/">Lire la critique</a>`,
		"image.tmdb.org",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestRenderSteamThumbs(t *testing.T) {
	up := Render(storage.Subscription{Source: "steam", SourceUserID: "gamer"},
		storage.Review{Title: "Hades", Rating: rating(1)})
	if !strings.Contains(up, "👍 Recommandé") {
		t.Fatalf("positive review missing thumbs up:\n%s", up)
	}
	down := Render(storage.Subscription{Source: "steam", SourceUserID: "gamer"},
		storage.Review{Title: "Anthem", Rating: rating(0)})
	if !strings.Contains(down, "👎 Non recommandé") {
		t.Fatalf("negative review missing thumbs down:\n%s", down)
	}
}

func TestRenderNoRatingNoContent(t *testing.T) {
	msg := Render(storage.Subscription{Source: "senscritique", SourceUserID: "cinephile"},
		storage.Review{Title: "Dune", CanonicalID: "https://www.senscritique.com/critique/1"})
	if strings.Contains(msg, "Note :") {
		t.Fatalf("rating line rendered without a rating:\n%s", msg)
	}
	if strings.Contains(msg, "<blockquote>") {
		t.Fatalf("quote rendered without content:\n%s", msg)
	}
}

func TestRenderTruncatesLongContent(t *testing.T) {
	msg := Render(storage.Subscription{Source: "senscritique"},
		storage.Review{Title: "x", Content: strings.Repeat("a", 5000)})
	if len([]rune(msg)) > 4096 {
		t.Fatalf("message exceeds Telegram limit: %d runes", len([]rune(msg)))
	}
	if !strings.Contains(msg, "…") {
		t.Fatal("truncated content missing ellipsis")
	}
}

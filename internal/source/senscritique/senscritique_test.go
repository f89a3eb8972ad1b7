package senscritique

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"reviewbot/pkg/logx"
)

const critiquesFixture = `<html><body>
<article data-testid="review-item">
  <h2><a href="/film/dune_deuxieme_partie/critique/290123456">Dune : Deuxième Partie</a></h2>
  <span data-testid="Rating">9</span>
  <time datetime="2026-01-12T18:00:00Z">12 janvier 2026</time>
  <p>Villeneuve transforme l'essai avec une ampleur rare.</p>
</article>
<article data-testid="review-item">
  <h2><a href="https://www.senscritique.com/film/oppenheimer/critique/280111222">Oppenheimer</a></h2>
  <span data-testid="Rating">7,5</span>
  <p>Dense mais maitrise.</p>
</article>
<article>
  <h2><a href="/film/sans_critique">Pas une critique</a></h2>
</article>
</body></html>`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New(srv.Client(), nil, logx.Nop())
	a.SetBaseURL(srv.URL)
	return a
}

func TestFetchLatestParsesFirstCritique(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cinephile/critiques" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(critiquesFixture))
	})

	drafts, err := a.FetchLatest(context.Background(), "cinephile", true)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}

	d := drafts[0]
	if d.Title != "Dune : Deuxième Partie" {
		t.Fatalf("title = %q", d.Title)
	}
	if d.Rating == nil || *d.Rating != 9 {
		t.Fatalf("rating = %v", d.Rating)
	}
	want := a.base + "/film/dune_deuxieme_partie/critique/290123456"
	if d.CanonicalID != want {
		t.Fatalf("canonical id = %q, want %q", d.CanonicalID, want)
	}
	if d.OccurredAt.Year() != 2026 || d.OccurredAt.Day() != 12 {
		t.Fatalf("occurred at = %v", d.OccurredAt)
	}
}

func TestFetchAllSkipsNonCritiques(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(critiquesFixture))
	})

	drafts, err := a.FetchLatest(context.Background(), "cinephile", false)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	// Absolute review URLs are kept as-is, decimal commas parse.
	if drafts[1].CanonicalID != "https://www.senscritique.com/film/oppenheimer/critique/280111222" {
		t.Fatalf("canonical id = %q", drafts[1].CanonicalID)
	}
	if drafts[1].Rating == nil || *drafts[1].Rating != 7.5 {
		t.Fatalf("rating = %v", drafts[1].Rating)
	}
}

func TestValidateUser(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ghost" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ok, err := a.ValidateUser(context.Background(), "cinephile")
	if err != nil || !ok {
		t.Fatalf("existing user: ok=%v err=%v", ok, err)
	}
	ok, err = a.ValidateUser(context.Background(), "ghost")
	if err != nil || ok {
		t.Fatalf("missing user: ok=%v err=%v", ok, err)
	}
}

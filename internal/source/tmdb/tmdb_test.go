package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMovieImagePrefersPoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "Heat" {
			t.Fatalf("query = %q", got)
		}
		if got := r.URL.Query().Get("year"); got != "1995" {
			t.Fatalf("year = %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "fr-FR" {
			t.Fatalf("language = %q", got)
		}
		w.Write([]byte(`{"results":[{"id":949,"title":"Heat","poster_path":"/heat.jpg","backdrop_path":"/heat-bd.jpg"}]}`))
	}))
	defer srv.Close()

	c := New("k", srv.Client())
	c.SetBaseURL(srv.URL)

	img, err := c.MovieImage(context.Background(), "Heat (1995)")
	if err != nil {
		t.Fatalf("MovieImage: %v", err)
	}
	if img != "https://image.tmdb.org/t/p/w500/heat.jpg" {
		t.Fatalf("image = %q", img)
	}
}

func TestMovieImageBackdropFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[{"id":1,"title":"X","backdrop_path":"/x-bd.jpg"}]}`))
	}))
	defer srv.Close()

	c := New("k", srv.Client())
	c.SetBaseURL(srv.URL)

	img, err := c.MovieImage(context.Background(), "X")
	if err != nil {
		t.Fatalf("MovieImage: %v", err)
	}
	if img != "https://image.tmdb.org/t/p/w780/x-bd.jpg" {
		t.Fatalf("image = %q", img)
	}
}

func TestMovieImageInertWithoutKey(t *testing.T) {
	c := New("", nil)
	img, err := c.MovieImage(context.Background(), "Heat (1995)")
	if err != nil || img != "" {
		t.Fatalf("inert client: img=%q err=%v", img, err)
	}
}

func TestSplitTitleYear(t *testing.T) {
	title, year := splitTitleYear("Heat (1995)")
	if title != "Heat" || year != "1995" {
		t.Fatalf("got %q %q", title, year)
	}
	title, year = splitTitleYear("Tenet")
	if title != "Tenet" || year != "" {
		t.Fatalf("got %q %q", title, year)
	}
}

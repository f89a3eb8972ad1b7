// Package senscritique fetches critiques from a member's public profile.
package senscritique

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"reviewbot/internal/source"
	"reviewbot/internal/source/tmdb"
	"reviewbot/pkg/logx"
)

const (
	baseURL   = "https://www.senscritique.com"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type Adapter struct {
	http *http.Client
	tmdb *tmdb.Client
	log  logx.Logger

	base string
}

func New(httpClient *http.Client, tmdbClient *tmdb.Client, log logx.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Adapter{http: httpClient, tmdb: tmdbClient, log: log, base: baseURL}
}

// SetBaseURL points the adapter at a different host (tests).
func (a *Adapter) SetBaseURL(u string) { a.base = strings.TrimRight(u, "/") }

func (a *Adapter) Source() source.Source { return source.SensCritique }

func (a *Adapter) FetchLatest(ctx context.Context, username string, onlyLatest bool) ([]source.Draft, error) {
	pageURL := fmt.Sprintf("%s/%s/critiques", a.base, username)
	doc, err := a.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, &source.FetchError{Source: source.SensCritique, Op: "fetch critiques page", Err: err}
	}

	drafts := make([]source.Draft, 0, 4)
	doc.Find(`[data-testid="review-item"], article`).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		d, ok := a.draftFromCard(card)
		if !ok {
			return true
		}
		drafts = append(drafts, d)
		return !onlyLatest
	})

	for i := range drafts {
		if drafts[i].CoverImage != "" || a.tmdb == nil {
			continue
		}
		img, err := a.tmdb.MovieImage(ctx, drafts[i].Title)
		if err != nil {
			a.log.Debug("tmdb lookup failed", logx.String("title", drafts[i].Title), logx.Err(err))
			continue
		}
		drafts[i].CoverImage = img
	}
	return drafts, nil
}

func (a *Adapter) draftFromCard(card *goquery.Selection) (source.Draft, bool) {
	href, _ := card.Find(`a[href*="/critique/"]`).First().Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return source.Draft{}, false
	}
	reviewURL := href
	if strings.HasPrefix(href, "/") {
		reviewURL = a.base + href
	}

	title := strings.TrimSpace(card.Find("h2 a, h3 a, [data-testid='product-title']").First().Text())
	if title == "" {
		return source.Draft{}, false
	}

	var rating *float64
	if txt := strings.TrimSpace(card.Find(`[data-testid="Rating"]`).First().Text()); txt != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(txt, ",", "."), 64); err == nil && v > 0 {
			rating = source.Rating(v)
		}
	}

	content := strings.TrimSpace(card.Find("p").First().Text())
	if content == "" && rating == nil {
		return source.Draft{}, false
	}

	occurred := time.Now()
	if dt, ok := card.Find("time").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			occurred = t
		}
	}

	return source.Draft{
		Title:       title,
		Content:     content,
		Rating:      rating,
		CanonicalID: reviewURL,
		OccurredAt:  occurred,
	}, true
}

func (a *Adapter) ValidateUser(ctx context.Context, username string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", a.base, username), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := a.http.Do(req)
	if err != nil {
		return false, &source.FetchError{Source: source.SensCritique, Op: "validate user", Err: err}
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (a *Adapter) fetchDocument(ctx context.Context, u string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d for %s", resp.StatusCode, u)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

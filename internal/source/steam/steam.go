// Package steam fetches game reviews from a profile's public recommendations
// page. Steam has no web API for user reviews, so this parses the community
// page the same way a browser sees it.
package steam

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"reviewbot/internal/source"
	"reviewbot/pkg/logx"
)

const (
	baseURL   = "https://steamcommunity.com"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

var appIDExpr = regexp.MustCompile(`/recommended/(\d+)`)

// Steam renders "Posted" dates in a handful of layouts; the year is omitted
// for the current year.
var postedLayouts = []string{
	"2 January, 2006",
	"January 2, 2006",
	"2 January",
	"January 2",
}

type Adapter struct {
	http *http.Client
	log  logx.Logger

	base string
	now  func() time.Time
}

func New(httpClient *http.Client, log logx.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Adapter{http: httpClient, log: log, base: baseURL, now: time.Now}
}

// SetBaseURL points the adapter at a different host (tests).
func (a *Adapter) SetBaseURL(u string) { a.base = strings.TrimRight(u, "/") }

func (a *Adapter) Source() source.Source { return source.Steam }

func (a *Adapter) FetchLatest(ctx context.Context, steamID string, onlyLatest bool) ([]source.Draft, error) {
	pageURL := fmt.Sprintf("%s/profiles/%s/recommended/?p=1", a.base, steamID)
	doc, err := a.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, &source.FetchError{Source: source.Steam, Op: "fetch reviews page", Err: err}
	}

	profileURL := fmt.Sprintf("%s/profiles/%s", a.base, steamID)
	drafts := make([]source.Draft, 0, 4)
	doc.Find("div.review_box").EachWithBreak(func(_ int, box *goquery.Selection) bool {
		d, ok := a.draftFromBox(box, profileURL)
		if !ok {
			return true
		}
		drafts = append(drafts, d)
		return !onlyLatest
	})
	return drafts, nil
}

func (a *Adapter) draftFromBox(box *goquery.Selection, profileURL string) (source.Draft, bool) {
	href, _ := box.Find(`a[href*="/recommended/"]`).First().Attr("href")
	appID := extractAppID(href)
	if appID == "" {
		// The appid is the only stable piece of the identity. Without it two
		// different reviews would collide on the same placeholder, so the
		// item is skipped instead.
		a.log.Warn("steam review without appid skipped", logx.String("href", href))
		return source.Draft{}, false
	}

	title := strings.TrimSpace(box.Find(".game_name, .leftcol .title").First().Text())
	if title == "" {
		if alt, ok := box.Find("img.game_capsule, .capsule img").First().Attr("alt"); ok {
			title = strings.TrimSpace(alt)
		}
	}
	if title == "" {
		title = "appid " + appID
	}

	vote := strings.TrimSpace(box.Find(".vote_header .title, .title").First().Text())
	var rating *float64
	switch {
	case strings.EqualFold(vote, "Recommended"):
		rating = source.Rating(1)
	case strings.EqualFold(vote, "Not Recommended"):
		rating = source.Rating(0)
	}

	content := normalizeWhitespace(box.Find(".content").First().Text())

	return source.Draft{
		Title:       title,
		Content:     content,
		Rating:      rating,
		CanonicalID: fmt.Sprintf("%s/recommended/%s", profileURL, appID),
		OccurredAt:  a.parsePosted(box.Find(".posted").First().Text()),
		SubjectID:   appID,
	}, true
}

func (a *Adapter) ValidateUser(ctx context.Context, steamID string) (bool, error) {
	doc, err := a.fetchDocument(ctx, fmt.Sprintf("%s/profiles/%s", a.base, steamID))
	if err != nil {
		return false, &source.FetchError{Source: source.Steam, Op: "validate user", Err: err}
	}
	// Unknown profiles still return 200 with an error template.
	return doc.Find("#message h3").Length() == 0, nil
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

func (a *Adapter) parsePosted(raw string) time.Time {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "Posted")
	if i := strings.Index(s, "Last edited"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))

	now := a.now()
	for _, layout := range postedLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = t.AddDate(now.Year(), 0, 0)
		}
		return t
	}
	return now
}

func extractAppID(href string) string {
	m := appIDExpr.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

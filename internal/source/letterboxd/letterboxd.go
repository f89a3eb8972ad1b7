// Package letterboxd fetches film reviews from a member's public RSS feed.
//
// The feed is the stable surface Letterboxd offers (no API for diary data);
// it carries the review body as HTML plus letterboxd:* extension fields for
// the rating and film title.
package letterboxd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"reviewbot/internal/source"
	"reviewbot/internal/source/tmdb"
	"reviewbot/pkg/logx"
)

const (
	baseURL   = "https://letterboxd.com"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type Adapter struct {
	http   *http.Client
	parser *gofeed.Parser
	tmdb   *tmdb.Client
	log    logx.Logger

	base string
}

// New wires a long-lived adapter. tmdbClient may be nil; covers then come
// only from the feed itself.
func New(httpClient *http.Client, tmdbClient *tmdb.Client, log logx.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Adapter{
		http:   httpClient,
		parser: gofeed.NewParser(),
		tmdb:   tmdbClient,
		log:    log,
		base:   baseURL,
	}
}

// SetBaseURL points the adapter at a different host (tests).
func (a *Adapter) SetBaseURL(u string) { a.base = strings.TrimRight(u, "/") }

func (a *Adapter) Source() source.Source { return source.Letterboxd }

func (a *Adapter) FetchLatest(ctx context.Context, username string, onlyLatest bool) ([]source.Draft, error) {
	feedURL := fmt.Sprintf("%s/%s/rss/", a.base, username)
	body, err := a.get(ctx, feedURL)
	if err != nil {
		return nil, &source.FetchError{Source: source.Letterboxd, Op: "fetch feed", Err: err}
	}

	feed, err := a.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &source.FetchError{Source: source.Letterboxd, Op: "parse feed", Err: err}
	}

	drafts := make([]source.Draft, 0, len(feed.Items))
	for _, item := range feed.Items {
		d, ok := a.draftFromItem(item)
		if !ok {
			continue
		}
		drafts = append(drafts, d)
		if onlyLatest {
			break
		}
	}

	// Cover enrichment only for what we return; TMDB failures degrade to the
	// feed's own poster (or none).
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

// draftFromItem maps one feed entry to the normalized draft shape.
//
// Letterboxd publishes plain diary entries ("watched") in the same feed as
// reviews; entries with neither body text nor a rating are not reviewable
// content and are suppressed here, at the adapter boundary.
func (a *Adapter) draftFromItem(item *gofeed.Item) (source.Draft, bool) {
	if item == nil {
		return source.Draft{}, false
	}

	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		// No stable identity; skipping beats persisting a placeholder.
		a.log.Warn("letterboxd item without guid/link skipped", logx.String("title", item.Title))
		return source.Draft{}, false
	}

	title := extText(item, "filmTitle")
	if title == "" {
		title = stripRatingSuffix(item.Title)
	}
	if year := extText(item, "filmYear"); year != "" && !strings.Contains(title, "(") {
		title = fmt.Sprintf("%s (%s)", title, year)
	}

	rating := parseMemberRating(extText(item, "memberRating"))
	if rating == nil {
		rating = parseStarGlyphs(item.Title)
	}

	content, poster := extractBody(item.Description)

	if content == "" && rating == nil {
		return source.Draft{}, false
	}

	occurred := time.Now()
	if item.PublishedParsed != nil {
		occurred = *item.PublishedParsed
	} else if wd := extText(item, "watchedDate"); wd != "" {
		if t, err := time.Parse("2006-01-02", wd); err == nil {
			occurred = t
		}
	}

	return source.Draft{
		Title:       title,
		Content:     content,
		Rating:      rating,
		CanonicalID: id,
		OccurredAt:  occurred,
		CoverImage:  poster,
		SubjectID:   extText(item, "filmTitle"),
	}, true
}

func (a *Adapter) ValidateUser(ctx context.Context, username string) (bool, error) {
	resp, err := a.head(ctx, fmt.Sprintf("%s/%s/", a.base, username))
	if err != nil {
		return false, &source.FetchError{Source: source.Letterboxd, Op: "validate user", Err: err}
	}
	return resp == http.StatusOK, nil
}

func (a *Adapter) get(ctx context.Context, u string) ([]byte, error) {
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
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func (a *Adapter) head(ctx context.Context, u string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := a.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// extText pulls a letterboxd:* extension value out of a feed item.
func extText(item *gofeed.Item, field string) string {
	exts, ok := item.Extensions["letterboxd"]
	if !ok {
		return ""
	}
	vals, ok := exts[field]
	if !ok || len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0].Value)
}

// extractBody parses the item description HTML. The first paragraph usually
// holds only the poster <img>; the remaining paragraphs are the review text.
func extractBody(descHTML string) (content, poster string) {
	if strings.TrimSpace(descHTML) == "" {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(descHTML))
	if err != nil {
		return "", ""
	}

	var paras []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if img := s.Find("img"); img.Length() > 0 {
			if poster == "" {
				poster, _ = img.Attr("src")
			}
			if strings.TrimSpace(s.Text()) == "" {
				return
			}
		}
		txt := strings.TrimSpace(s.Text())
		if txt == "" {
			return
		}
		// The feed appends a spoiler disclaimer paragraph on marked reviews.
		if strings.HasPrefix(txt, "This review may contain spoilers") {
			return
		}
		paras = append(paras, txt)
	})

	return strings.Join(paras, "\n\n"), poster
}

func parseMemberRating(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return source.Rating(v)
}

// parseStarGlyphs decodes the rating Letterboxd renders into item titles
// ("Film, 2024 - ★★★½" -> 3.5).
func parseStarGlyphs(s string) *float64 {
	full := float64(strings.Count(s, "★"))
	half := 0.5 * float64(strings.Count(s, "½"))
	if v := full + half; v > 0 {
		return source.Rating(v)
	}
	return nil
}

func stripRatingSuffix(title string) string {
	t := title
	if i := strings.LastIndex(t, " - "); i >= 0 && strings.ContainsAny(t[i:], "★½") {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// Package tmdb looks up cover art for film reviews. One Client is constructed
// at startup and shared by every adapter that needs posters.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://api.themoviedb.org/3"
	defaultImageURL = "https://image.tmdb.org/t/p"
)

var yearSuffix = regexp.MustCompile(`^(.+?)\s*\((\d{4})\)$`)

type Client struct {
	apiKey   string
	baseURL  string
	imageURL string
	http     *http.Client
}

// New returns a reusable client. If apiKey is empty the client is inert:
// every lookup reports "no image" without touching the network.
func New(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		apiKey:   strings.TrimSpace(apiKey),
		baseURL:  defaultBaseURL,
		imageURL: defaultImageURL,
		http:     httpClient,
	}
}

// SetBaseURL points the client at a different API host (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

type movie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	ReleaseDate  string  `json:"release_date"`
	PosterPath   *string `json:"poster_path"`
	BackdropPath *string `json:"backdrop_path"`
}

// MovieImage resolves a poster URL for a film title, preferring the poster
// and falling back to the backdrop. A "Title (YYYY)" suffix narrows the
// search by year. Returns "" when nothing matches.
func (c *Client) MovieImage(ctx context.Context, fullTitle string) (string, error) {
	if c.apiKey == "" {
		return "", nil
	}

	title, year := splitTitleYear(fullTitle)

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("query", title)
	q.Set("language", "fr-FR")
	if year != "" {
		q.Set("year", year)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/movie?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tmdb search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tmdb search: status %d", resp.StatusCode)
	}

	var out struct {
		Results []movie `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tmdb decode: %w", err)
	}
	if len(out.Results) == 0 {
		return "", nil
	}

	m := out.Results[0]
	if m.PosterPath != nil && *m.PosterPath != "" {
		return c.imageURL + "/w500" + *m.PosterPath, nil
	}
	if m.BackdropPath != nil && *m.BackdropPath != "" {
		return c.imageURL + "/w780" + *m.BackdropPath, nil
	}
	return "", nil
}

func splitTitleYear(fullTitle string) (title, year string) {
	s := strings.TrimSpace(fullTitle)
	if m := yearSuffix.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	return s, ""
}

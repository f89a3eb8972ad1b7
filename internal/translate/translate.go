// Package translate normalizes review text to French.
//
// Detection is a lightweight word-list heuristic, translation goes
// through the DeepL free API. Both stages degrade to the original
// text on any failure so that a broken translator never blocks a
// delivery.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"reviewbot/pkg/logx"
)

const deeplEndpoint = "https://api-free.deepl.com/v2/translate"

// Common short words used to score a text as English or French.
// Scoring is intentionally crude, the worst case is an untranslated
// message, never a lost one.
var englishWords = map[string]struct{}{
	"the": {}, "and": {}, "is": {}, "was": {}, "are": {}, "were": {},
	"this": {}, "that": {}, "with": {}, "for": {}, "not": {}, "but": {},
	"have": {}, "has": {}, "had": {}, "you": {}, "his": {}, "her": {},
	"they": {}, "been": {}, "would": {}, "could": {}, "should": {},
	"movie": {}, "film": {}, "really": {}, "very": {}, "just": {},
	"good": {}, "great": {}, "bad": {}, "best": {}, "better": {},
	"watch": {}, "watched": {}, "story": {}, "about": {}, "what": {},
	"when": {}, "which": {}, "there": {}, "some": {}, "much": {},
	"more": {}, "one": {}, "all": {}, "out": {}, "like": {}, "time": {},
	"it's": {}, "don't": {}, "can't": {}, "didn't": {},
}

var frenchWords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "un": {}, "une": {}, "des": {},
	"et": {}, "est": {}, "sont": {}, "mais": {}, "pour": {}, "pas": {},
	"avec": {}, "dans": {}, "sur": {}, "que": {}, "qui": {}, "quoi": {},
	"ce": {}, "cette": {}, "ces": {}, "son": {}, "ses": {}, "leur": {},
	"très": {}, "bien": {}, "plus": {}, "tout": {}, "tous": {},
	"film": {}, "vraiment": {}, "comme": {}, "fait": {}, "être": {},
	"avoir": {}, "était": {}, "été": {}, "aussi": {}, "même": {},
	"j'ai": {}, "c'est": {}, "n'est": {}, "d'un": {}, "d'une": {},
	"je": {}, "tu": {}, "il": {}, "elle": {}, "nous": {}, "vous": {},
	"ne": {}, "se": {}, "du": {}, "au": {}, "aux": {}, "ou": {},
	"où": {}, "si": {}, "mon": {}, "ma": {}, "mes": {},
}

type Config struct {
	Enabled bool
	APIKey  string
}

type Translator struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	endpoint string
}

func New(cfg Config, httpClient *http.Client, log logx.Logger) *Translator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Translator{cfg: cfg, http: httpClient, log: log, endpoint: deeplEndpoint}
}

// SetEndpoint overrides the DeepL URL (tests).
func (t *Translator) SetEndpoint(u string) { t.endpoint = u }

// IsEnglish reports whether text looks like English prose. Texts
// shorter than 10 runes are never classified as English.
func IsEnglish(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < 10 {
		return false
	}

	var english, french float64
	for _, w := range strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '’'
	}) {
		w = strings.ReplaceAll(w, "’", "'")
		if _, ok := englishWords[w]; ok {
			english++
			continue
		}
		if _, ok := frenchWords[w]; ok {
			french++
			continue
		}
		// English morphology is a weaker signal than a word hit.
		if strings.HasSuffix(w, "ing") || strings.HasSuffix(w, "ed") || strings.HasSuffix(w, "ly") {
			english += 0.5
		}
	}
	return english > french && english >= 2
}

// Normalize returns text translated to French when it is detected as
// English and translation is configured. It never returns an error,
// on any failure the original text comes back unchanged.
func (t *Translator) Normalize(ctx context.Context, text string) string {
	if text == "" || !IsEnglish(text) {
		return text
	}
	if !t.cfg.Enabled || t.cfg.APIKey == "" {
		return text
	}

	translated, err := t.deeplTranslate(ctx, text)
	if err != nil {
		t.log.Warn("translation failed, keeping original text", logx.Err(err))
		return text
	}
	if strings.TrimSpace(translated) == "" {
		return text
	}
	return translated
}

func (t *Translator) deeplTranslate(ctx context.Context, text string) (string, error) {
	form := url.Values{}
	form.Set("auth_key", t.cfg.APIKey)
	form.Set("text", text)
	form.Set("source_lang", "EN")
	form.Set("target_lang", "FR")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepl status %d", resp.StatusCode)
	}

	var out struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Translations) == 0 {
		return "", fmt.Errorf("deepl returned no translations")
	}
	return out.Translations[0].Text, nil
}

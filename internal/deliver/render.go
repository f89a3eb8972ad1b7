package deliver

import (
	"fmt"
	"math"
	"strings"

	"reviewbot/internal/source"
	"reviewbot/internal/storage"
	"reviewbot/pkg/tgui"
)

// contentBudget keeps room for header, rating and link lines inside
// Telegram's message limit.
const contentBudget = 3000

var sourceLabels = map[string]struct {
	emoji string
	name  string
}{
	string(source.Steam):        {"🎮", "Steam"},
	string(source.Letterboxd):   {"🎬", "Letterboxd"},
	string(source.SensCritique): {"🎭", "SensCritique"},
}

// Render builds the Telegram HTML message for one review. It is a
// pure function of its inputs.
func Render(sub storage.Subscription, r storage.Review) string {
	label, ok := sourceLabels[sub.Source]
	if !ok {
		label.emoji, label.name = "📝", sub.Source
	}
	who := sub.DisplayName
	if who == "" {
		who = sub.SourceUserID
	}

	parts := []tgui.H{
		tgui.Raw(label.emoji + " " + tgui.B(fmt.Sprintf("Nouvelle critique de %s sur %s", who, label.name)).String()),
		tgui.B(r.Title),
	}
	if line := ratingLine(sub.Source, r.Rating); line != "" {
		parts = append(parts, tgui.Esc(line))
	}
	if body := strings.TrimSpace(r.Content); body != "" {
		parts = append(parts, tgui.Quote(tgui.TruncRunes(body, contentBudget)))
	}
	if strings.HasPrefix(r.CanonicalID, "http") {
		parts = append(parts, tgui.Link("Lire la critique", r.CanonicalID))
	}
	if r.CoverImage != "" {
		// Zero-width anchor so the link preview picks up the poster
		// without showing a second visible link.
		parts = append(parts, tgui.Raw(fmt.Sprintf(`<a href="%s">&#8203;</a>`, tgui.Esc(r.CoverImage))))
	}
	return tgui.JoinH("\n\n", parts...).String()
}

func ratingLine(src string, rating *float64) string {
	if rating == nil {
		return ""
	}
	switch src {
	case string(source.Steam):
		if *rating > 0 {
			return "👍 Recommandé"
		}
		return "👎 Non recommandé"
	case string(source.Letterboxd):
		return stars(*rating) + fmt.Sprintf(" (%s/5)", trimFloat(*rating))
	default:
		return fmt.Sprintf("Note : %s/10", trimFloat(*rating))
	}
}

// stars renders a rating out of five as full and half star glyphs.
func stars(v float64) string {
	full := int(v)
	half := v-math.Floor(v) >= 0.5
	var b strings.Builder
	for i := 0; i < full; i++ {
		b.WriteRune('★')
	}
	if half {
		b.WriteRune('½')
	}
	return b.String()
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}

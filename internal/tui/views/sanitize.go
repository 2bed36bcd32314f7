package views

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/markup"
)

// renderBody turns a logged message body into escaped terminal text.
// Inline images become "[image N]" markers.
func renderBody(body string) string {
	if _, ids := markup.ExtractImages(body); len(ids) > 0 {
		for _, id := range ids {
			body = strings.Replace(body, markup.ImageTag(id), fmt.Sprintf("&#91;image %d&#93;", id), 1)
		}
	}
	return tview.Escape(sanitizeForTerminal(markup.StripHTML(body)))
}

// sanitizeForTerminal removes codepoints that tcell renders badly: skin tone
// modifiers, zero width joiners and variation selectors. A modified emoji
// falls back to its base form.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}

// formatTimestamp renders epoch seconds as a clock time for today and a
// date otherwise.
func formatTimestamp(sec int64, now time.Time) string {
	if sec == 0 {
		return ""
	}
	t := time.Unix(sec, 0).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// formatLastSeen renders a presence column value.
func formatLastSeen(online, mobile bool, lastSeen int64, now time.Time) string {
	switch {
	case online && mobile:
		return "mobile"
	case online:
		return "online"
	case lastSeen == 0:
		return ""
	}
	d := now.Sub(time.Unix(lastSeen, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return formatTimestamp(lastSeen, now)
	}
}

package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints, one per line.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint panel.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders hints.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	kc := Tag(m.theme.MenuKeyColor)
	for _, h := range hints {
		_, _ = fmt.Fprintf(m, "[%s::b]<%s>[-:-:-] %s\n", kc, tview.Escape(h.Key), h.Description)
	}
}

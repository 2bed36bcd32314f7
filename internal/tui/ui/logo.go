package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo displays a compact ASCII art logo.
type Logo struct {
	*tview.TextView
}

// NewLogo creates a new logo component.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	title := Tag(theme.BorderColor)
	_, _ = fmt.Fprintf(tv,
		"[%s::b]         _    [-:-:-]\n"+
			"[%s::b] \\  /  | /  [-:-:-]\n"+
			"[%s::b]  \\/   |< sync[-:-:-]\n"+
			"[%s]vk.com in a terminal[-:-:-]",
		title, title, title, Tag(theme.DimColor),
	)
	return &Logo{TextView: tv}
}

package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs is a breadcrumb bar showing the page stack.
type Crumbs struct {
	*tview.TextView
	theme *Theme
	title func(page string) string
}

// NewCrumbs creates a breadcrumb bar. title maps a page name to its label;
// nil shows page names as-is.
func NewCrumbs(theme *Theme, title func(page string) string) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
		title:    title,
	}
}

// Update renders the trail for stack, the last entry being active.
func (c *Crumbs) Update(stack []string) {
	c.Clear()
	if len(stack) == 0 {
		return
	}

	parts := make([]string, 0, len(stack))
	for i, name := range stack {
		label := name
		if c.title != nil {
			label = c.title(name)
		}
		label = tview.Escape(label)
		if i == len(stack)-1 {
			parts = append(parts, fmt.Sprintf("[%s:%s:b] %s [-:-:-]",
				Tag(c.theme.CrumbActiveFg), Tag(c.theme.CrumbActiveBg), label))
		} else {
			parts = append(parts, fmt.Sprintf("[%s:%s:] %s [-:-:-]",
				Tag(c.theme.CrumbInactiveFg), Tag(c.theme.CrumbInactiveBg), label))
		}
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " > "))
}

package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/directory"
	"github.com/matheus3301/vksync/internal/tui/ui"
)

// BuddyInfo displays the cached profile of one user.
type BuddyInfo struct {
	*tview.TextView
	theme *ui.Theme
	now   func() time.Time
}

// NewBuddyInfo creates a new profile view.
func NewBuddyInfo(theme *ui.Theme) *BuddyInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Profile ")
	tv.SetTitleColor(theme.TitleColor)

	return &BuddyInfo{
		TextView: tv,
		theme:    theme,
		now:      time.Now,
	}
}

// Name implements ui.Component.
func (bi *BuddyInfo) Name() string { return "Profile" }

// Hints implements ui.Component.
func (bi *BuddyInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// Update renders p. friend reports friend-list membership.
func (bi *BuddyInfo) Update(p directory.UserProfile, friend bool) {
	bi.Clear()
	_, _ = fmt.Fprint(bi, bi.render(p, friend))
	bi.SetTitle(fmt.Sprintf(" %s ", tview.Escape(p.Name)))
}

func (bi *BuddyInfo) render(p directory.UserProfile, friend bool) string {
	fg := ui.Tag(bi.theme.FgColor)
	ct := ui.Tag(bi.theme.CounterColor)

	presence := formatLastSeen(p.Online, p.IsMobile, p.LastSeen, bi.now())
	if presence == "" {
		presence = "offline"
	}
	rows := []struct{ label, value string }{
		{"Name", p.Name},
		{"ID", fmt.Sprintf("%d", p.ID)},
		{"Page", profileURL(p)},
		{"Presence", presence},
		{"Status", p.Activity},
		{"Birthday", p.BirthDate},
		{"Education", p.Education},
		{"Phone", p.MobilePhone},
		{"Friend", yesNo(friend)},
		{"Writable", yesNo(p.CanWrite)},
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		fmt.Fprintf(&b, " [%s::b]%-10s[-:-:-] [%s]%s[-]\n", fg, r.label+":", ct, tview.Escape(sanitizeForTerminal(r.value)))
	}
	return b.String()
}

func profileURL(p directory.UserProfile) string {
	if p.Domain != "" {
		return "https://vk.com/" + p.Domain
	}
	return fmt.Sprintf("https://vk.com/id%d", p.ID)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

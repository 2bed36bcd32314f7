package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds the account summary shown in the header.
type SessionData struct {
	Session string
	Account string
	State   string
	Buddies int
	Online  int
	Uptime  time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders data.
func (si *SessionInfo) Update(data SessionData) {
	si.Clear()

	fg := Tag(si.theme.FgColor)
	ct := Tag(si.theme.CounterColor)
	account := data.Account
	if account == "" {
		account = "-"
	}

	_, _ = fmt.Fprintf(si,
		"[%s::b]Session:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Account:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]State:[-:-:-]   [%s]%s[-]\n"+
			"[%s::b]Buddies:[-:-:-] [%s]%d[-] (%d online)\n"+
			"[%s::b]Uptime:[-:-:-]  [%s]%s[-]",
		fg, ct, tview.Escape(data.Session),
		fg, ct, tview.Escape(account),
		fg, ct, data.State,
		fg, ct, data.Buddies, data.Online,
		fg, ct, FormatDuration(data.Uptime),
	)
}

// FormatDuration renders d as "1h5m" or "5m".
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/tui/ui"
)

// HelpView displays the key and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	_, _ = fmt.Fprint(hv, hv.render())
	return hv
}

// Name implements ui.Component.
func (hv *HelpView) Name() string { return "Help" }

// Hints implements ui.Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global Keys", [][2]string{
		{":", "Command mode"},
		{"?", "Help"},
		{"Esc", "Cancel / Go back"},
		{"q", "Quit (buddy list)"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Buddy List", [][2]string{
		{"Enter", "Open conversation"},
		{"/", "Filter by name"},
		{"d", "Show profile"},
		{"r", "Fetch unread messages"},
		{"S", "Synchronize roster"},
	}},
	{"Conversation", [][2]string{
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"d", "Show profile"},
		{"c", "Close conversation"},
	}},
	{"Commands", [][2]string{
		{":open <screen name|id>", "Open a conversation with a user"},
		{":chat <id>", "Open a group chat"},
		{":close", "Close the current conversation"},
		{":search <text>", "Search the message log"},
		{":alias <name>", "Rename the current buddy locally"},
		{":info", "Show the current buddy's profile"},
		{":sync", "Synchronize the roster now"},
		{":receive", "Fetch unread messages now"},
		{":help, :h", "Show this help"},
		{":quit, :q", "Quit"},
	}},
}

func (hv *HelpView) render() string {
	kc := ui.Tag(hv.theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			fmt.Fprintf(&b, "  [%s]%-24s[-:-:-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
	return b.String()
}

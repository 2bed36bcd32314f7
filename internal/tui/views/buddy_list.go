package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/tui/ui"
	"github.com/matheus3301/vksync/internal/vk"
)

// Entry is one row of the buddy list: a buddy or an open group chat.
type Entry struct {
	Peer     vk.Peer
	Name     string
	Group    string
	Online   bool
	Mobile   bool
	LastSeen int64
	// Open marks a peer with an open conversation.
	Open bool
}

// BuddyList is the main roster table.
type BuddyList struct {
	*tview.Table
	theme   *ui.Theme
	entries []Entry
	visible []Entry
	filter  string
	now     func() time.Time
}

// NewBuddyList creates a new roster table.
func NewBuddyList(theme *ui.Theme) *BuddyList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	bl := &BuddyList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
	bl.render()
	return bl
}

// Name implements ui.Component.
func (bl *BuddyList) Name() string { return "Buddies" }

// Hints implements ui.Component.
func (bl *BuddyList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
	}
}

// Update replaces the rows, keeping the selected peer selected when it is
// still listed.
func (bl *BuddyList) Update(entries []Entry) {
	selected, hadSelection := bl.Selected()
	bl.entries = entries
	bl.render()
	if hadSelection {
		bl.SelectPeer(selected.Peer)
	}
}

// SetFilter shows only entries whose name contains filter, ignoring case.
func (bl *BuddyList) SetFilter(filter string) {
	bl.filter = filter
	bl.render()
}

// Filter returns the active filter.
func (bl *BuddyList) Filter() string { return bl.filter }

// Selected returns the entry under the cursor.
func (bl *BuddyList) Selected() (Entry, bool) {
	row, _ := bl.GetSelection()
	return bl.At(row - 1)
}

// At returns the i-th visible entry (0-based).
func (bl *BuddyList) At(i int) (Entry, bool) {
	if i < 0 || i >= len(bl.visible) {
		return Entry{}, false
	}
	return bl.visible[i], true
}

// Len returns the number of visible entries.
func (bl *BuddyList) Len() int { return len(bl.visible) }

// SelectPeer moves the cursor to peer if it is visible.
func (bl *BuddyList) SelectPeer(peer vk.Peer) bool {
	for i, e := range bl.visible {
		if e.Peer == peer {
			bl.Select(i+1, 0)
			return true
		}
	}
	return false
}

func (bl *BuddyList) render() {
	bl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 2},
		{" GROUP", 1},
		{" SEEN", 0},
	}
	for col, h := range headers {
		bl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(bl.theme.TableHeaderFg).
			SetBackgroundColor(bl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	bl.visible = bl.visible[:0]
	needle := strings.ToLower(bl.filter)
	now := bl.now()
	for _, e := range bl.entries {
		if needle != "" && !strings.Contains(strings.ToLower(e.Name), needle) {
			continue
		}
		bl.visible = append(bl.visible, e)
		row := len(bl.visible)

		name := e.Name
		if e.Open {
			name = "* " + name
		}
		var color tcell.Color
		switch {
		case e.Online && e.Mobile:
			color = bl.theme.MobileColor
		case e.Online:
			color = bl.theme.OnlineColor
		case e.Peer.IsChat():
			color = bl.theme.FgColor
		default:
			color = bl.theme.DimColor
		}

		bl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(2).SetTextColor(color))
		bl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(e.Group)).SetExpansion(1).SetTextColor(bl.theme.FgColor))
		bl.SetCell(row, 2, tview.NewTableCell(formatLastSeen(e.Online, e.Mobile, e.LastSeen, now)+" ").
			SetAlign(tview.AlignRight).SetTextColor(bl.theme.FgColor))
	}

	if bl.filter != "" {
		bl.SetTitle(fmt.Sprintf(" Buddies (%d/%d) filter: %s ", len(bl.visible), len(bl.entries), tview.Escape(bl.filter)))
	} else {
		bl.SetTitle(fmt.Sprintf(" Buddies (%d) ", len(bl.entries)))
	}
}

package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/tui/ui"
	"github.com/matheus3301/vksync/internal/vk"
)

// SearchView searches the local message log.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []store.Message
	now     func() time.Time
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
		now:     time.Now,
	}
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil && sv.input.GetText() != "" {
			sv.onQuery(sv.input.GetText())
		}
	})
	return sv
}

// Name implements ui.Component.
func (sv *SearchView) Name() string { return "Search" }

// Hints implements ui.Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Open"},
		{Key: "Tab", Description: "Results"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnQuery sets the callback run when a query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetQuery fills the input, as if typed.
func (sv *SearchView) SetQuery(q string) {
	sv.input.SetText(q)
}

// Update renders results. nameOf maps a peer to its display name.
func (sv *SearchView) Update(results []store.Message, nameOf func(vk.Peer) string) {
	sv.data = results
	sv.results.Clear()

	for col, h := range []string{" CONVERSATION", " MESSAGE", " TIME"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	now := sv.now()
	for i, m := range results {
		row := i + 1
		name := m.Peer.String()
		if nameOf != nil {
			if n := nameOf(m.Peer); n != "" {
				name = n
			}
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+renderBody(m.Body)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(m.Timestamp, now)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(results)))
}

// SelectedResult returns the conversation of the selected result.
func (sv *SearchView) SelectedResult() (vk.Peer, bool) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(sv.data) {
		return vk.Peer{}, false
	}
	return sv.data[idx].Peer, true
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}

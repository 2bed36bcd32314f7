package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/tui/ui"
	"github.com/matheus3301/vksync/internal/vk"
)

// MessageThread displays the log of one conversation and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	peer     vk.Peer
	onSend   func(text string)
	onTyping func()
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetChangedFunc(func(text string) {
		if text != "" && mt.onTyping != nil {
			mt.onTyping()
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := strings.TrimSpace(composer.GetText())
		if text == "" {
			return
		}
		mt.onSend(text)
		composer.SetText("")
	})

	return mt
}

// Name implements ui.Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Hints implements ui.Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "Esc", Description: "Back"},
	}
}

// Open switches the thread to peer.
func (mt *MessageThread) Open(peer vk.Peer, title string) {
	mt.peer = peer
	mt.title = title
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(title)))
	mt.messages.Clear()
	mt.composer.SetText("")
}

// Peer returns the conversation shown.
func (mt *MessageThread) Peer() vk.Peer { return mt.peer }

// SetOnSend sets the callback run when the composer submits text.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnTyping sets the callback run on every composer edit that leaves
// text behind.
func (mt *MessageThread) SetOnTyping(fn func()) {
	mt.onTyping = fn
}

// Update renders msgs, which come newest first. nameOf maps a sender id to
// a display name.
func (mt *MessageThread) Update(msgs []store.Message, nameOf func(int64) string) {
	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, mt.render(msgs, nameOf))
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) render(msgs []store.Message, nameOf func(int64) string) string {
	var b strings.Builder
	now := mt.now()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ts := formatTimestamp(m.Timestamp, now)
		switch m.Kind {
		case store.KindError:
			fmt.Fprintf(&b, "[%s::b]![-:-:-] [::d]%s[-:-:-]\n[%s]%s[-]\n\n",
				ui.Tag(mt.theme.NoticeColor), ts, ui.Tag(mt.theme.NoticeColor), renderBody(m.Body))
		case store.KindSent:
			fmt.Fprintf(&b, "[%s::b]You[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
				ui.Tag(mt.theme.SelfColor), ts, renderBody(m.Body))
		default:
			sender := ""
			if nameOf != nil {
				sender = nameOf(m.SenderID)
			}
			if sender == "" {
				sender = fmt.Sprintf("id%d", m.SenderID)
			}
			fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
				tview.Escape(sanitizeForTerminal(sender)), ts, renderBody(m.Body))
		}
	}
	return b.String()
}

// Messages returns the log view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

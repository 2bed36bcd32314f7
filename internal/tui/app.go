// Package tui is the terminal front end. It drives a connection in-process
// and redraws from bus events.
package tui

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/captcha"
	"github.com/matheus3301/vksync/internal/conn"
	"github.com/matheus3301/vksync/internal/directory"
	"github.com/matheus3301/vksync/internal/inbox"
	"github.com/matheus3301/vksync/internal/markup"
	"github.com/matheus3301/vksync/internal/status"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/tui/keys"
	"github.com/matheus3301/vksync/internal/tui/ui"
	"github.com/matheus3301/vksync/internal/tui/views"
	"github.com/matheus3301/vksync/internal/vk"
)

const (
	pageBuddies = "buddies"
	pageThread  = "thread"
	pageProfile = "profile"
	pageSearch  = "search"
	pageHelp    = "help"
	pageCaptcha = "captcha"
)

// threadLimit is how many logged messages a conversation shows.
const threadLimit = 200

// Deps are the running pieces the TUI drives.
type Deps struct {
	Session string
	SelfID  int64
	Conn    *conn.Conn
	DB      *store.DB
	Prompt  *captcha.Prompt
	Bus     *bus.Bus
	Machine *status.Machine
	Logger  *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	deps     Deps
	logger   *zap.Logger
	theme    *ui.Theme
	registry *keys.Registry

	pages     *ui.Pages
	body      *tview.Flex
	prompt    *ui.Prompt
	promptOn  bool
	crumbs    *ui.Crumbs
	menu      *ui.Menu
	header    *ui.SessionInfo
	flash     *ui.FlashModel
	flashBar  *ui.FlashBar
	buddies   *views.BuddyList
	thread    *views.MessageThread
	profile   *views.BuddyInfo
	search    *views.SearchView
	help      *views.HelpView
	captcha   *views.CaptchaForm
	pageViews map[string]ui.Component

	typing      typingThrottle
	started     time.Time
	account     string
	buddyCount  int
	onlineCount int

	namesMu sync.RWMutex
	names   map[vk.Peer]string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(deps Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		app:      tview.NewApplication(),
		deps:     deps,
		logger:   logger.Named("tui"),
		theme:    theme,
		registry: keys.NewRegistry(),
		pages:    ui.NewPages(),
		prompt:   ui.NewPrompt(theme),
		menu:     ui.NewMenu(theme),
		header:   ui.NewSessionInfo(theme),
		flash:    ui.NewFlashModel(),
		flashBar: ui.NewFlashBar(theme),
		buddies:  views.NewBuddyList(theme),
		thread:   views.NewMessageThread(theme),
		profile:  views.NewBuddyInfo(theme),
		search:   views.NewSearchView(theme),
		help:     views.NewHelpView(theme),
		captcha:  views.NewCaptchaForm(theme),
		started:  time.Now(),
		names:    make(map[vk.Peer]string),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.pageViews = map[string]ui.Component{
		pageBuddies: a.buddies,
		pageThread:  a.thread,
		pageProfile: a.profile,
		pageSearch:  a.search,
		pageHelp:    a.help,
		pageCaptcha: a.captcha,
	}
	a.crumbs = ui.NewCrumbs(theme, func(page string) string {
		if c, ok := a.pageViews[page]; ok {
			return c.Name()
		}
		return page
	})

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	r := a.registry
	r.Bind(keys.Global, &keys.Action{Key: tcell.KeyRune, Rune: ':', Description: "Command", Handler: func() { a.showPrompt(ui.PromptCommand) }})
	r.Bind(keys.Global, &keys.Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Handler: func() { a.show(pageHelp) }})
	r.Bind(keys.Global, &keys.Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back", Handler: a.back})

	r.Bind(pageBuddies, &keys.Action{Key: tcell.KeyEnter, Label: "Enter", Description: "Open", Handler: a.openSelected})
	r.Bind(pageBuddies, &keys.Action{Key: tcell.KeyRune, Rune: '/', Description: "Filter", Handler: func() { a.showPrompt(ui.PromptFilter) }})
	r.Bind(pageBuddies, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "Profile", Handler: func() {
		if e, ok := a.buddies.Selected(); ok {
			a.showProfile(e.Peer)
		}
	}})
	r.Bind(pageBuddies, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Description: "Receive", Handler: a.receive})
	r.Bind(pageBuddies, &keys.Action{Key: tcell.KeyRune, Rune: 'S', Description: "Sync", Handler: a.synchronize})
	r.Bind(pageBuddies, &keys.Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: a.Stop})

	r.Bind(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'i', Description: "Compose", Handler: func() { a.app.SetFocus(a.thread.Composer()) }})
	r.Bind(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "Profile", Handler: func() { a.showProfile(a.thread.Peer()) }})
	r.Bind(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'c', Description: "Close", Handler: func() { a.closePeer(a.thread.Peer()) }})

	r.Bind(pageSearch, &keys.Action{Key: tcell.KeyEnter, Label: "Enter", Description: "Open", Handler: func() {
		if peer, ok := a.search.SelectedResult(); ok {
			a.openPeer(peer)
		}
	}})
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(stack []string) {
		a.crumbs.Update(stack)
		a.updateMenu()
	})

	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.buddies.SetFilter(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptCommand {
			if err := a.execute(ParseCommand(text)); err != nil {
				a.flash.Err(err)
			}
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.buddies.SetFilter("")
		}
		a.hidePrompt()
	})

	a.thread.SetOnSend(a.send)
	a.thread.SetOnTyping(func() {
		peer := a.thread.Peer()
		now := time.Now()
		if peer.IsChat() || peer.UserID == 0 || !a.typing.due(peer, now) {
			return
		}
		a.typing.sent(peer, now, a.deps.Conn.SendTyping(peer.UserID))
	})

	a.search.SetOnQuery(a.runSearch)

	a.captcha.SetOnSubmit(func(id, key string) {
		a.answerCaptcha(id, func(p *captcha.Prompt) error { return p.Submit(id, key) })
	})
	a.captcha.SetOnCancel(func(id string) {
		a.answerCaptcha(id, func(p *captcha.Prompt) error { return p.Cancel(id) })
	})
}

// answerCaptcha resolves challenge id with answer and moves on to the next
// pending challenge. A stale challenge is reported on the flash bar.
func (a *App) answerCaptcha(id string, answer func(*captcha.Prompt) error) {
	if a.deps.Prompt == nil {
		return
	}
	if err := answer(a.deps.Prompt); err != nil {
		a.logger.Warn("captcha answer rejected", zap.String("id", id), zap.Error(err))
		a.flash.Err(err)
	}
	a.nextCaptcha()
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageBuddies, a.buddies, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageProfile, a.profile, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)
	a.pages.AddOverlay(pageCaptcha, a.captcha)

	header := tview.NewFlex().
		AddItem(a.header, 44, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 24, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(a.body, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.pages.Reset(pageBuddies)
	a.app.SetRoot(root, true).SetFocus(a.buddies)
	a.app.SetInputCapture(a.capture)
}

func (a *App) capture(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC {
		a.Stop()
		return nil
	}
	// The captcha form and the prompt handle their own keys.
	if a.promptOn || a.pages.Current() == pageCaptcha {
		return event
	}

	switch a.app.GetFocus() {
	case a.thread.Composer():
		if event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		return event
	case a.search.Input():
		switch event.Key() {
		case tcell.KeyEscape:
			a.back()
			return nil
		case tcell.KeyTab, tcell.KeyDown:
			a.app.SetFocus(a.search.Results())
			return nil
		}
		return event
	}

	if event.Key() == tcell.KeyEscape {
		a.back()
		return nil
	}
	if a.registry.HandleEvent(a.pages.Current(), event) {
		return nil
	}
	return event
}

func (a *App) updateMenu() {
	page := a.pages.Current()
	var hints []ui.MenuHint
	if c, ok := a.pageViews[page]; ok {
		hints = c.Hints()
	}
	for _, h := range a.registry.Hints(page) {
		if !slices.ContainsFunc(hints, func(x ui.MenuHint) bool { return x.Key == h.Key }) {
			hints = append(hints, h)
		}
	}
	a.menu.Update(hints)
}

// show pushes page and focuses it.
func (a *App) show(page string) {
	a.pages.Push(page)
	a.focusCurrent()
}

func (a *App) back() {
	if a.pages.Current() == pageBuddies {
		if a.buddies.Filter() != "" {
			a.buddies.SetFilter("")
		}
		return
	}
	a.pages.Pop()
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageBuddies:
		a.app.SetFocus(a.buddies)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageProfile:
		a.app.SetFocus(a.profile)
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageHelp:
		a.app.SetFocus(a.help)
	case pageCaptcha:
		a.app.SetFocus(a.captcha)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.buddies.Filter())
	}
	a.promptOn = true
	a.body.Clear().
		AddItem(a.prompt, 3, 0, true).
		AddItem(a.pages, 0, 1, false)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptOn = false
	a.body.Clear().AddItem(a.pages, 0, 1, true)
	a.focusCurrent()
}

// currentPeer returns the conversation in view: the open thread, or the
// selected buddy on the buddy list.
func (a *App) currentPeer() (vk.Peer, bool) {
	if a.pages.Contains(pageThread) {
		return a.thread.Peer(), true
	}
	if e, ok := a.buddies.Selected(); ok {
		return e.Peer, true
	}
	return vk.Peer{}, false
}

func (a *App) openSelected() {
	if e, ok := a.buddies.Selected(); ok {
		a.openPeer(e.Peer)
	}
}

func (a *App) openUser(ref userRef) {
	if ref.ID != 0 {
		a.openPeer(vk.User(ref.ID))
		return
	}
	a.deps.Conn.ResolveScreenName(ref.ScreenName, func(id int64, err error) {
		a.app.QueueUpdateDraw(func() {
			switch {
			case err != nil:
				a.flash.Err(fmt.Errorf("resolve %s: %w", ref.ScreenName, err))
			case id == 0:
				a.flash.Warn(ref.ScreenName + " is not a user")
			default:
				a.openPeer(vk.User(id))
			}
		})
	})
}

// openPeer opens the conversation and shows its thread.
func (a *App) openPeer(peer vk.Peer) {
	a.deps.Conn.OpenConversation(peer, func(err error) {
		if err != nil {
			a.app.QueueUpdateDraw(func() { a.flash.Err(err) })
		}
		a.loadBuddies()
	})

	if a.pages.Contains(pageCaptcha) {
		return
	}
	a.pages.Reset(pageBuddies)
	a.buddies.SelectPeer(peer)
	a.thread.Open(peer, a.nameOf(peer))
	a.show(pageThread)
	a.loadThread(peer)
}

func (a *App) closePeer(peer vk.Peer) {
	a.deps.Conn.CloseConversation(peer, func(err error) {
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(err)
				return
			}
			a.flash.Info("conversation closed")
			if a.pages.Current() == pageThread && a.thread.Peer() == peer {
				a.back()
			}
		})
		a.loadBuddies()
	})
}

func (a *App) send(text string) {
	peer := a.thread.Peer()
	a.deps.Conn.Send(peer, markup.Escape(text), nil, func(err error) {
		a.app.QueueUpdateDraw(func() { a.flash.Err(fmt.Errorf("send: %w", err)) })
	})
}

func (a *App) showProfile(peer vk.Peer) {
	if peer.IsChat() || peer.UserID == 0 {
		a.flash.Warn("group chats have no profile")
		return
	}
	dir := a.deps.Conn.Directory()
	if p, ok := dir.Get(peer.UserID); ok {
		a.profile.Update(p, dir.IsFriend(peer.UserID))
		a.show(pageProfile)
		return
	}
	a.deps.Conn.RefreshProfiles([]int64{peer.UserID}, func(err error) {
		p, ok := dir.Get(peer.UserID)
		a.app.QueueUpdateDraw(func() {
			if err != nil || !ok {
				a.flash.Warn(fmt.Sprintf("no profile for id%d", peer.UserID))
				return
			}
			a.profile.Update(p, dir.IsFriend(peer.UserID))
			a.show(pageProfile)
		})
	})
}

func (a *App) showSearch(query string) {
	a.show(pageSearch)
	if query != "" {
		a.search.SetQuery(query)
		a.runSearch(query)
	}
}

func (a *App) runSearch(query string) {
	go func() {
		results, err := a.deps.DB.SearchMessages(query, nil, 100)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(fmt.Errorf("search: %w", err))
				return
			}
			a.search.Update(results, a.nameOf)
			if len(results) > 0 {
				a.app.SetFocus(a.search.Results())
			}
		})
	}()
}

func (a *App) synchronize() {
	a.flash.Info("synchronizing roster...")
	a.deps.Conn.Synchronize(false, func(err error) {
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Warn("roster sync incomplete: " + err.Error())
				return
			}
			a.flash.Info("roster synchronized")
		})
	})
}

func (a *App) receive() {
	a.deps.Conn.ReceiveUnread(func(msgs []inbox.ReceivedMessage, err error) {
		a.app.QueueUpdateDraw(func() {
			switch {
			case err != nil:
				a.flash.Err(fmt.Errorf("receive: %w", err))
			case len(msgs) == 0:
				a.flash.Info("no unread messages")
			default:
				a.flash.Info(fmt.Sprintf("%d new messages", len(msgs)))
			}
		})
	})
}

// loadBuddies reloads the buddy list from the store. Safe from any goroutine.
func (a *App) loadBuddies() {
	go func() {
		buddies, err := a.deps.DB.ListBuddies()
		if err != nil {
			a.logger.Warn("list buddies failed", zap.Error(err))
			return
		}
		open, err := a.deps.DB.OpenConversations()
		if err != nil {
			a.logger.Warn("list conversations failed", zap.Error(err))
		}
		entries := buildEntries(buddies, open, a.deps.Conn.Directory())

		a.namesMu.Lock()
		for _, e := range entries {
			a.names[e.Peer] = e.Name
		}
		a.namesMu.Unlock()

		online := 0
		for _, b := range buddies {
			if b.Online {
				online++
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.buddies.Update(entries)
			a.buddyCount, a.onlineCount = len(buddies), online
			a.updateHeader()
		})
	}()
}

// loadThread reloads the log of peer if it is still on screen.
func (a *App) loadThread(peer vk.Peer) {
	go func() {
		msgs, err := a.deps.DB.ListMessages(peer, 0, threadLimit)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(fmt.Errorf("load messages: %w", err))
				return
			}
			if a.thread.Peer() == peer {
				a.thread.Update(msgs, func(id int64) string { return a.nameOf(vk.User(id)) })
			}
		})
	}()
}

func (a *App) nameOf(peer vk.Peer) string {
	a.namesMu.RLock()
	name, ok := a.names[peer]
	a.namesMu.RUnlock()
	if ok {
		return name
	}
	if peer.IsChat() {
		return fmt.Sprintf("Chat %d", peer.ChatID)
	}
	if p, ok := a.deps.Conn.Directory().Get(peer.UserID); ok {
		return p.Name
	}
	return ""
}

func (a *App) updateHeader() {
	state := ""
	if a.deps.Machine != nil {
		state = string(a.deps.Machine.Current())
	}
	a.header.Update(ui.SessionData{
		Session: a.deps.Session,
		Account: a.account,
		State:   state,
		Buddies: a.buddyCount,
		Online:  a.onlineCount,
		Uptime:  time.Since(a.started),
	})
}

// showCaptcha puts c on screen unless another challenge is already shown.
func (a *App) showCaptcha(c bus.CaptchaRequired) {
	if a.pages.Contains(pageCaptcha) {
		return
	}
	if a.promptOn {
		a.hidePrompt()
	}
	a.captcha.Show(c)
	a.show(pageCaptcha)
}

// nextCaptcha shows the oldest pending challenge, or closes the dialog.
func (a *App) nextCaptcha() {
	var pending []bus.CaptchaRequired
	if a.deps.Prompt != nil {
		pending = a.deps.Prompt.Pending()
	}
	cur := a.captcha.Current().ID
	pending = slices.DeleteFunc(pending, func(c bus.CaptchaRequired) bool { return c.ID == cur })
	if len(pending) > 0 {
		a.captcha.Show(pending[0])
		a.focusCurrent()
		return
	}
	a.pages.Remove(pageCaptcha)
	a.focusCurrent()
}

func (a *App) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case bus.MessageReceived:
		a.peerChanged(p.Peer)
	case bus.MessageSent:
		a.peerChanged(p.Peer)
	case bus.MessageSendFailed:
		a.peerChanged(p.Peer)
	case bus.RosterSynced:
		a.loadBuddies()
		if p.Err != nil {
			a.app.QueueUpdateDraw(func() { a.flash.Warn("roster sync incomplete") })
		}
	case bus.CaptchaRequired:
		a.app.QueueUpdateDraw(func() { a.showCaptcha(p) })
	case bus.CaptchaResolved:
		a.app.QueueUpdateDraw(func() {
			if a.pages.Contains(pageCaptcha) && a.captcha.Current().ID == p.ID {
				a.nextCaptcha()
			}
		})
	case status.StatusChange:
		a.app.QueueUpdateDraw(a.updateHeader)
	}
}

func (a *App) peerChanged(peer vk.Peer) {
	a.loadBuddies()
	a.loadThread(peer)
}

func (a *App) watch(events <-chan bus.Event) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case evt := <-events:
			a.logger.Debug("event", zap.String("kind", evt.Kind))
			a.handleEvent(evt)
		case <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Current()) })
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.flashBar.Update(a.flash.Current())
				a.updateHeader()
			})
		}
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	if a.deps.Bus != nil {
		events, unsub := a.deps.Bus.Subscribe("", 64)
		defer unsub()
		go a.watch(events)
	} else {
		go a.watch(nil)
	}

	a.updateHeader()
	a.updateMenu()
	a.loadBuddies()
	if a.deps.SelfID != 0 {
		a.deps.Conn.UserFullName(a.deps.SelfID, func(name string, err error) {
			if err != nil {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.account = name
				a.updateHeader()
			})
		})
	}
	if a.deps.Prompt != nil {
		if pending := a.deps.Prompt.Pending(); len(pending) > 0 {
			a.showCaptcha(pending[0])
		}
	}

	return a.app.Run()
}

// Stop shuts the TUI down. The connection is left to its owner.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// buildEntries merges the buddy list with open conversations into list
// rows: online buddies first, then by name, group chats last.
func buildEntries(buddies []store.Buddy, open []vk.Peer, dir *directory.Directory) []views.Entry {
	isOpen := make(map[vk.Peer]bool, len(open))
	for _, p := range open {
		isOpen[p] = true
	}

	entries := make([]views.Entry, 0, len(buddies)+len(open))
	listed := make(map[vk.Peer]bool, len(buddies))
	for _, b := range buddies {
		peer := vk.User(b.UserID)
		listed[peer] = true
		entries = append(entries, views.Entry{
			Peer:     peer,
			Name:     displayName(b.UserID, b.Alias, dir),
			Group:    b.Group,
			Online:   b.Online,
			Mobile:   b.Mobile,
			LastSeen: b.LastSeen,
			Open:     isOpen[peer],
		})
	}
	for _, p := range open {
		if listed[p] {
			continue
		}
		e := views.Entry{Peer: p, Open: true}
		if p.IsChat() {
			e.Name = fmt.Sprintf("Chat %d", p.ChatID)
			e.Group = "chats"
		} else {
			e.Name = displayName(p.UserID, "", dir)
		}
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, func(x, y views.Entry) int {
		if c := cmp.Compare(rank(x), rank(y)); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(x.Name), strings.ToLower(y.Name))
	})
	return entries
}

func rank(e views.Entry) int {
	switch {
	case e.Peer.IsChat():
		return 2
	case e.Online:
		return 0
	default:
		return 1
	}
}

func displayName(id int64, alias string, dir *directory.Directory) string {
	if alias != "" {
		return alias
	}
	if dir != nil {
		if p, ok := dir.Get(id); ok && p.Name != "" {
			return p.Name
		}
	}
	return fmt.Sprintf("id%d", id)
}

// typingThrottle limits typing notifications to one per interval per peer.
type typingThrottle struct {
	peer vk.Peer
	next time.Time
}

func (t *typingThrottle) due(peer vk.Peer, now time.Time) bool {
	return peer != t.peer || !now.Before(t.next)
}

func (t *typingThrottle) sent(peer vk.Peer, now time.Time, interval time.Duration) {
	t.peer = peer
	t.next = now.Add(interval)
}

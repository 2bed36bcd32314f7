package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/vksync/internal/vk"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

var errNoConversation = errors.New("no conversation open")

// userRef is a user given on the command line: either a numeric id or a
// screen name still to be resolved.
type userRef struct {
	ID         int64
	ScreenName string
}

// parseUserRef accepts "123", "id123", "durov", "@durov" and profile URLs
// such as "https://vk.com/durov".
func parseUserRef(s string) (userRef, error) {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, prefix := range []string{"m.vk.com/", "vk.com/", "@"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.ContainsAny(s, "/ ") {
		return userRef{}, fmt.Errorf("not a user: %q", s)
	}

	digits := strings.TrimPrefix(s, "id")
	if id, err := strconv.ParseInt(digits, 10, 64); err == nil {
		if id <= 0 {
			return userRef{}, fmt.Errorf("bad user id %d", id)
		}
		return userRef{ID: id}, nil
	}
	return userRef{ScreenName: s}, nil
}

// parseChatID parses the argument of ":chat".
func parseChatID(s string) (vk.Peer, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return vk.Peer{}, fmt.Errorf("bad chat id %q", s)
	}
	return vk.Chat(id), nil
}

// execute runs cmd on the UI goroutine.
func (a *App) execute(cmd Command) error {
	switch cmd.Name {
	case "", "noop":
		return nil
	case "quit", "q":
		a.Stop()
	case "help", "h":
		a.show(pageHelp)
	case "open", "o":
		ref, err := parseUserRef(cmd.Args)
		if err != nil {
			return err
		}
		a.openUser(ref)
	case "chat":
		peer, err := parseChatID(cmd.Args)
		if err != nil {
			return err
		}
		a.openPeer(peer)
	case "close":
		peer, ok := a.currentPeer()
		if !ok {
			return errNoConversation
		}
		a.closePeer(peer)
	case "info":
		peer, ok := a.currentPeer()
		if !ok {
			return errNoConversation
		}
		a.showProfile(peer)
	case "alias":
		peer, ok := a.currentPeer()
		if !ok || peer.IsChat() {
			return errors.New("alias needs a buddy")
		}
		if cmd.Args == "" {
			return errors.New("usage: alias <name>")
		}
		if err := a.deps.DB.SetCustomAlias(peer.UserID, cmd.Args); err != nil {
			return fmt.Errorf("set alias: %w", err)
		}
		a.loadBuddies()
		a.flash.Info("alias set")
	case "search", "s":
		a.showSearch(cmd.Args)
	case "sync":
		a.synchronize()
	case "receive":
		a.receive()
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}
	return nil
}

// Package keys maps key events to actions per page.
package keys

import (
	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/vksync/internal/tui/ui"
)

// Global is the scope whose bindings apply on every page.
const Global = ""

// Action represents a keybinding action.
type Action struct {
	Key  tcell.Key
	Rune rune
	// Label is the key as shown in hints, e.g. "Enter" or "q".
	Label       string
	Description string
	Handler     func()
	Hidden      bool
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings organized by scope, in registration order.
type Registry struct {
	scopes map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string][]*Action)}
}

// Bind registers action in scope. A later binding for the same key in the
// same scope replaces the earlier one.
func (r *Registry) Bind(scope string, action *Action) {
	if action.Label == "" && action.Key == tcell.KeyRune {
		action.Label = string(action.Rune)
	}
	list := r.scopes[scope]
	for i, a := range list {
		if a.Key == action.Key && a.Rune == action.Rune {
			list[i] = action
			return
		}
	}
	r.scopes[scope] = append(list, action)
}

// Hints returns the visible bindings for page, page bindings first.
// Global bindings shadowed by a page binding are left out.
func (r *Registry) Hints(page string) []ui.MenuHint {
	var hints []ui.MenuHint
	seen := make(map[string]bool)
	for _, scope := range r.order(page) {
		for _, a := range r.scopes[scope] {
			if seen[a.Label] {
				continue
			}
			seen[a.Label] = true
			if !a.Hidden {
				hints = append(hints, ui.MenuHint{Key: a.Label, Description: a.Description})
			}
		}
	}
	return hints
}

// HandleEvent runs the action ev triggers on page. It reports whether a
// handler ran.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, scope := range r.order(page) {
		for _, a := range r.scopes[scope] {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}

func (r *Registry) order(page string) []string {
	if page == Global {
		return []string{Global}
	}
	return []string{page, Global}
}

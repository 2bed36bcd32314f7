package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/vksync/internal/tui/ui"
)

func TestPageBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.Bind(Global, &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: func() { got = append(got, "quit") }})
	r.Bind("thread", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back", Handler: func() { got = append(got, "back") }})

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	r.HandleEvent("thread", q)
	r.HandleEvent("roster", q)

	if len(got) != 2 || got[0] != "back" || got[1] != "quit" {
		t.Errorf("handlers = %v, want [back quit]", got)
	}
}

func TestSpecialKeysIgnoreRune(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.Bind("roster", &Action{Key: tcell.KeyEnter, Label: "Enter", Handler: func() { ran = true }})

	if r.HandleEvent("roster", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("rune matched a special-key binding")
	}
	if !r.HandleEvent("roster", tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)) || !ran {
		t.Error("Enter did not trigger")
	}
}

func TestHints(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.Bind(Global, &Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Handler: noop})
	r.Bind(Global, &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: noop})
	r.Bind(Global, &Action{Key: tcell.KeyCtrlR, Label: "Ctrl-R", Description: "Redraw", Handler: noop, Hidden: true})
	r.Bind("thread", &Action{Key: tcell.KeyRune, Rune: 'i', Description: "Compose", Handler: noop})
	r.Bind("thread", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back", Handler: noop})
	r.Bind("thread", &Action{Key: tcell.KeyRune, Rune: 'i', Description: "Insert", Handler: noop})

	want := []ui.MenuHint{
		{Key: "i", Description: "Insert"},
		{Key: "q", Description: "Back"},
		{Key: "?", Description: "Help"},
	}
	got := r.Hints("thread")
	if len(got) != len(want) {
		t.Fatalf("hints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hint %d = %v, want %v", i, got[i], want[i])
		}
	}
}

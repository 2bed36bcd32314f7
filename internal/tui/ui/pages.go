package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages is a stack-based page manager wrapping tview.Pages.
// Overlay pages are drawn on top of the page below them instead of
// replacing it.
type Pages struct {
	*tview.Pages
	stack    []string
	overlays map[string]bool
	onChange func(stack []string)
}

// NewPages creates a new stack-based page manager.
func NewPages() *Pages {
	return &Pages{
		Pages:    tview.NewPages(),
		overlays: make(map[string]bool),
	}
}

// AddOverlay registers item as an overlay page.
func (p *Pages) AddOverlay(name string, item tview.Primitive) {
	p.overlays[name] = true
	p.AddPage(name, item, true, false)
}

// SetOnChange sets a callback that fires when the stack changes.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current page is a no-op.
func (p *Pages) Push(name string) {
	if p.Current() == name {
		return
	}
	if top := p.Current(); top != "" && !p.overlays[name] {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// Pop removes the top page and shows the previous one.
// Returns the name of the popped page, or empty if only the root is left.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	current := p.stack[len(p.stack)-1]
	p.ShowPage(current)
	p.SendToFront(current)
	p.notify()
	return top
}

// Remove drops name from anywhere in the stack.
func (p *Pages) Remove(name string) {
	if p.Current() == name {
		p.Pop()
		return
	}
	i := slices.Index(p.stack, name)
	if i < 0 {
		return
	}
	p.HidePage(name)
	p.stack = slices.Delete(p.stack, i, i+1)
	p.notify()
}

// Current returns the name of the top page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Contains reports whether name is on the stack.
func (p *Pages) Contains(name string) bool {
	return slices.Contains(p.stack, name)
}

// Stack returns a copy of the current page stack.
func (p *Pages) Stack() []string {
	return slices.Clone(p.stack)
}

// Reset clears the stack and shows only the given page.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}

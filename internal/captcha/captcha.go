// Package captcha asks a human to solve the challenges the API issues when
// it suspects automated sending.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
)

// ErrCancelled is returned when the user dismisses a challenge or it times out.
var ErrCancelled = errors.New("captcha: cancelled")

// ErrUnknownChallenge is returned when answering a challenge that is not pending.
var ErrUnknownChallenge = errors.New("captcha: unknown challenge")

// Solver obtains the solution text for a captcha image.
type Solver interface {
	Solve(ctx context.Context, imageURL string) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, imageURL string) (string, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, imageURL string) (string, error) {
	return f(ctx, imageURL)
}

type answer struct {
	key       string
	cancelled bool
}

type challenge struct {
	req bus.CaptchaRequired
	ch  chan answer
}

// Prompt is a Solver that publishes captcha.required on the bus and waits
// for a front end to call Submit or Cancel with the challenge id.
type Prompt struct {
	bus     *bus.Bus
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*challenge
	order   []string
}

// NewPrompt creates a Prompt. A zero timeout waits until the context ends.
func NewPrompt(b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Prompt {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prompt{
		bus:     b,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*challenge),
	}
}

// Solve blocks until the challenge is answered, cancelled, timed out, or ctx ends.
func (p *Prompt) Solve(ctx context.Context, imageURL string) (string, error) {
	c := &challenge{
		req: bus.CaptchaRequired{ID: uuid.NewString(), ImageURL: imageURL},
		ch:  make(chan answer, 1),
	}
	p.mu.Lock()
	p.pending[c.req.ID] = c
	p.order = append(p.order, c.req.ID)
	p.mu.Unlock()
	defer p.remove(c.req.ID)

	p.logger.Info("captcha required", zap.String("id", c.req.ID), zap.String("img", imageURL))
	p.bus.Emit(bus.KindCaptchaRequired, c.req)

	var timeout <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var a answer
	select {
	case a = <-c.ch:
	case <-timeout:
		p.logger.Warn("captcha timed out", zap.String("id", c.req.ID))
		a.cancelled = true
	case <-ctx.Done():
		p.bus.Emit(bus.KindCaptchaResolved, bus.CaptchaResolved{ID: c.req.ID, Cancelled: true})
		return "", ctx.Err()
	}

	p.bus.Emit(bus.KindCaptchaResolved, bus.CaptchaResolved{ID: c.req.ID, Cancelled: a.cancelled})
	if a.cancelled {
		return "", ErrCancelled
	}
	return a.key, nil
}

// Submit answers the challenge id with key. An empty key cancels it.
func (p *Prompt) Submit(id, key string) error {
	return p.answer(id, answer{key: key, cancelled: key == ""})
}

// Cancel dismisses the challenge id.
func (p *Prompt) Cancel(id string) error {
	return p.answer(id, answer{cancelled: true})
}

// Pending returns the open challenges, oldest first.
func (p *Prompt) Pending() []bus.CaptchaRequired {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bus.CaptchaRequired, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.pending[id].req)
	}
	return out
}

func (p *Prompt) answer(id string, a answer) error {
	p.mu.Lock()
	c, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
		p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == id })
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChallenge, id)
	}
	c.ch <- a
	return nil
}

func (p *Prompt) remove(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == id })
	p.mu.Unlock()
}

package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Gate serializes messages.send calls of one connection. Issue times of
// successive calls must never decrease; a regression is a defect and is
// reported with DPanic, which panics in development loggers.
type Gate struct {
	mu     sync.Mutex
	now    func() time.Time
	last   time.Time
	logger *zap.Logger
}

// NewGate creates a Gate using the wall clock.
func NewGate(logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{now: time.Now, logger: logger}
}

// Do runs fn while holding the gate. It returns ctx.Err() without running fn
// when ctx is already done.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t := g.now()
	if t.Before(g.last) {
		g.logger.DPanic("send issued before the previous one",
			zap.Time("previous", g.last), zap.Time("now", t))
		t = g.last
	}
	g.last = t
	return fn()
}

// Last returns the issue time of the most recent call.
func (g *Gate) Last() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

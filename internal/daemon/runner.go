package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/config"
	"github.com/matheus3301/vksync/internal/conn"
	"github.com/matheus3301/vksync/internal/inbox"
	"github.com/matheus3301/vksync/internal/status"
	"github.com/matheus3301/vksync/internal/vk"
)

// Runner drives a connection: it verifies the token, runs the initial roster
// sync and receive, then polls on the configured intervals.
type Runner struct {
	conn    *conn.Conn
	machine *status.Machine
	cfg     *config.Config
	logger  *zap.Logger

	receiving atomic.Bool
	syncing   atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(c *conn.Conn, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{conn: c, machine: machine, cfg: cfg, logger: logger.Named("runner")}
}

// Start begins the connect sequence. It returns immediately.
func (r *Runner) Start() {
	acct := r.cfg.Account
	if acct.AccessToken == "" || acct.UserID == 0 {
		r.logger.Info("no access token configured, auth required")
		r.transition(status.AuthRequired)
		return
	}

	r.transition(status.Connecting)
	r.conn.UserFullName(acct.UserID, func(name string, err error) {
		if err != nil {
			if vk.IsError(err, vk.ErrCodeAuthFailed) {
				r.logger.Warn("access token rejected", zap.Error(err))
				r.transition(status.AuthRequired)
			} else {
				r.logger.Error("connect failed", zap.Error(err))
				r.transition(status.Error)
			}
			return
		}
		r.logger.Info("connected", zap.String("name", name), zap.Int64("user_id", acct.UserID))
		r.synchronize(true)
		r.receive()
		r.conn.Go("poller", r.poll)
	})
}

func (r *Runner) poll(ctx context.Context) {
	receive := time.NewTicker(r.cfg.Sync.PollInterval.Duration)
	defer receive.Stop()
	roster := time.NewTicker(r.cfg.Sync.RosterInterval.Duration)
	defer roster.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-receive.C:
			r.receive()
		case <-roster.C:
			r.synchronize(false)
		}
	}
}

// synchronize runs a roster sync unless one is already running.
func (r *Runner) synchronize(updatePresence bool) {
	if !r.syncing.CompareAndSwap(false, true) {
		r.logger.Debug("roster sync already running")
		return
	}
	r.ensure(status.Syncing)
	r.conn.Synchronize(updatePresence, func(err error) {
		r.syncing.Store(false)
		if err != nil {
			r.logger.Warn("roster sync incomplete", zap.Error(err))
			r.ensure(status.Degraded)
			return
		}
		r.ensure(status.Ready)
	})
}

// receive fetches unread messages unless a fetch is already running.
func (r *Runner) receive() {
	if !r.receiving.CompareAndSwap(false, true) {
		r.logger.Debug("receive already running")
		return
	}
	r.conn.ReceiveUnread(func(msgs []inbox.ReceivedMessage, err error) {
		r.receiving.Store(false)
		if err != nil {
			r.logger.Warn("receive incomplete", zap.Int("delivered", len(msgs)), zap.Error(err))
			return
		}
		if len(msgs) > 0 {
			r.logger.Info("received messages", zap.Int("count", len(msgs)))
		}
	})
}

func (r *Runner) transition(to status.State) {
	if err := r.machine.Transition(to); err != nil {
		r.logger.Warn("state transition rejected", zap.Error(err))
	}
}

func (r *Runner) ensure(to status.State) {
	if err := r.machine.Ensure(to); err != nil {
		r.logger.Debug("state transition rejected", zap.Error(err))
	}
}

// Package conn ties the pipelines of one account connection together. Every
// entry point returns immediately; the work runs as a task owned by the
// connection and its completion callback runs on the connection's dispatcher
// goroutine, one callback at a time.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/captcha"
	"github.com/matheus3301/vksync/internal/directory"
	"github.com/matheus3301/vksync/internal/inbox"
	"github.com/matheus3301/vksync/internal/outbox"
	"github.com/matheus3301/vksync/internal/roster"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
)

// API is the remote surface a connection needs. *vk.Client implements it.
type API interface {
	vk.Invoker
	vk.Fetcher
	outbox.Uploader
}

// Config configures a connection.
type Config struct {
	SelfID          int64
	FriendsOnly     bool
	DefaultGroup    string
	DialogPageSize  int
	MessagePageSize int
	Outbox          outbox.Options
}

// callbackQueue bounds how many completions may wait for the dispatcher
// before tasks block.
const callbackQueue = 64

// Conn is one live account connection.
type Conn struct {
	dir    *directory.Directory
	db     *store.DB
	roster *roster.Synchronizer
	inbox  *inbox.Receiver
	outbox *outbox.Sender
	bus    *bus.Bus
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup

	callbacks      chan func()
	dispatcherDone chan struct{}

	sendMu    sync.Mutex
	sends     []sendRequest
	sendReady chan struct{}
}

// sendRequest is one queued Send or SendAttachment call.
type sendRequest struct {
	handle     string
	peer       vk.Peer
	body       string
	attachment bool
	success    func(ids []int64)
	fail       func(error)
}

// New creates a connection and starts its dispatcher.
func New(api API, db *store.DB, solver captcha.Solver, b *bus.Bus, cfg Config, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		dir:            directory.New(),
		db:             db,
		bus:            b,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		callbacks:      make(chan func(), callbackQueue),
		dispatcherDone: make(chan struct{}),
		sendReady:      make(chan struct{}, 1),
	}
	c.roster = roster.New(api, api, c.dir, db, db, c, b, roster.Options{
		SelfID:         cfg.SelfID,
		FriendsOnly:    cfg.FriendsOnly,
		DefaultGroup:   cfg.DefaultGroup,
		DialogPageSize: cfg.DialogPageSize,
	}, logger)
	c.inbox = inbox.New(api, api, c.dir, db, db, c.roster, b, inbox.Options{PageSize: cfg.MessagePageSize}, logger)
	c.outbox = outbox.NewSender(api, api, db, db, c.roster, solver, outbox.NewGate(logger), cfg.Outbox, logger)

	go c.dispatch()
	c.Go("sender", c.drainSends)
	return c
}

// Directory returns the connection's user directory.
func (c *Conn) Directory() *directory.Directory { return c.dir }

// Go runs fn as a task owned by the connection. fn must return once ctx is
// cancelled. Tasks started after Close are dropped.
func (c *Conn) Go(name string, fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("connection closed, dropping task", zap.String("task", name))
		return
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn(c.ctx)
	}()
}

// post queues cb for the dispatcher. Nothing is queued once the connection
// is closing.
func (c *Conn) post(cb func()) {
	if cb == nil {
		return
	}
	select {
	case c.callbacks <- cb:
	case <-c.ctx.Done():
	}
}

func (c *Conn) dispatch() {
	defer close(c.dispatcherDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case cb := <-c.callbacks:
			if c.ctx.Err() != nil {
				return
			}
			cb()
		}
	}
}

// Close cancels every task, drops queued callbacks and waits until all tasks
// and the running callback, if any, have returned. No callback runs after
// Close returns. Close must not be called from a callback.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("closing connection")
	c.cancel()
	c.tasks.Wait()
	<-c.dispatcherDone
}

// Synchronize runs a roster synchronization. done receives the joined step
// failures, nil on full success.
func (c *Conn) Synchronize(updatePresence bool, done func(error)) {
	c.Go("synchronize", func(ctx context.Context) {
		err := c.roster.Synchronize(ctx, updatePresence)
		c.post(func() { call(done, err) })
	})
}

// RefreshProfiles updates the Directory entries of ids.
func (c *Conn) RefreshProfiles(ids []int64, done func(error)) {
	c.Go("refresh profiles", func(ctx context.Context) {
		err := c.roster.RefreshProfiles(ctx, ids)
		c.post(func() { call(done, err) })
	})
}

// ReceiveUnread fetches and delivers every unread incoming message.
func (c *Conn) ReceiveUnread(done func([]inbox.ReceivedMessage, error)) {
	c.Go("receive unread", func(ctx context.Context) {
		msgs, err := c.inbox.ReceiveUnread(ctx)
		c.post(func() {
			if done != nil {
				done(msgs, err)
			}
		})
	})
}

// ReceiveByIDs fetches and delivers the given messages.
func (c *Conn) ReceiveByIDs(ids []int64, done func([]inbox.ReceivedMessage, error)) {
	c.Go("receive by ids", func(ctx context.Context) {
		msgs, err := c.inbox.ReceiveByIDs(ctx, ids)
		c.post(func() {
			if done != nil {
				done(msgs, err)
			}
		})
	})
}

// Send queues raw for peer and returns the request handle. Requests on one
// connection are sent one at a time in the order Send and SendAttachment were
// called; a request waiting on a captcha holds back the ones behind it.
// Exactly one of success or fail runs, unless the connection is closed first.
func (c *Conn) Send(peer vk.Peer, raw string, success func(ids []int64), fail func(error)) string {
	return c.enqueueSend(sendRequest{peer: peer, body: raw, success: success, fail: fail})
}

// SendAttachment queues an attachment-only message to peer, ordered with Send.
func (c *Conn) SendAttachment(peer vk.Peer, attachment string, success func(ids []int64), fail func(error)) string {
	return c.enqueueSend(sendRequest{peer: peer, body: attachment, attachment: true, success: success, fail: fail})
}

func (c *Conn) enqueueSend(req sendRequest) string {
	req.handle = uuid.NewString()
	if err := c.db.QueueOutbox(req.handle, req.peer, req.body); err != nil {
		c.logger.Warn("outbox queue failed", zap.String("handle", req.handle), zap.Error(err))
	}
	c.sendMu.Lock()
	c.sends = append(c.sends, req)
	c.sendMu.Unlock()
	select {
	case c.sendReady <- struct{}{}:
	default:
	}
	return req.handle
}

// nextSend pops the oldest queued request.
func (c *Conn) nextSend() (sendRequest, bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if len(c.sends) == 0 {
		return sendRequest{}, false
	}
	req := c.sends[0]
	c.sends[0] = sendRequest{}
	c.sends = c.sends[1:]
	return req, true
}

// drainSends is the connection's only sender. Requests still queued at Close
// stay "queued" in the outbox table and are expired on the next start.
func (c *Conn) drainSends(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sendReady:
		}
		for ctx.Err() == nil {
			req, ok := c.nextSend()
			if !ok {
				break
			}
			var (
				ids []int64
				err error
			)
			if req.attachment {
				ids, err = c.outbox.SendAttachment(ctx, req.peer, req.body)
			} else {
				ids, err = c.outbox.Send(ctx, req.peer, req.body)
			}
			c.completeSend(req.handle, req.peer, ids, err, req.success, req.fail)
		}
	}
}

func (c *Conn) completeSend(handle string, peer vk.Peer, ids []int64, err error, success func([]int64), fail func(error)) {
	if err != nil {
		if merr := c.db.MarkOutboxFailed(handle, err.Error()); merr != nil {
			c.logger.Warn("outbox update failed", zap.String("handle", handle), zap.Error(merr))
		}
		c.bus.Emit(bus.KindMessageSendFailed, bus.MessageSendFailed{Handle: handle, Peer: peer, Err: err})
		c.post(func() { call(fail, err) })
		return
	}
	if merr := c.db.MarkOutboxSent(handle, vk.JoinIDs(ids)); merr != nil {
		c.logger.Warn("outbox update failed", zap.String("handle", handle), zap.Error(merr))
	}
	c.bus.Emit(bus.KindMessageSent, bus.MessageSent{Handle: handle, Peer: peer, MsgIDs: ids})
	c.post(func() {
		if success != nil {
			success(ids)
		}
	})
}

// SendTyping sends a typing notification to userID in the background and
// returns how long to wait before repeating it.
func (c *Conn) SendTyping(userID int64) time.Duration {
	c.Go("typing", func(ctx context.Context) {
		c.outbox.SendTyping(ctx, userID)
	})
	return outbox.TypingInterval
}

// ResolveScreenName maps a screen name to a user id; 0 means not a user.
func (c *Conn) ResolveScreenName(name string, done func(int64, error)) {
	c.Go("resolve screen name", func(ctx context.Context) {
		id, err := c.roster.ResolveScreenName(ctx, name)
		c.post(func() {
			if done != nil {
				done(id, err)
			}
		})
	})
}

// UserFullName fetches "First Last" for id.
func (c *Conn) UserFullName(id int64, done func(string, error)) {
	c.Go("user full name", func(ctx context.Context) {
		name, err := c.roster.UserFullName(ctx, id)
		c.post(func() {
			if done != nil {
				done(name, err)
			}
		})
	})
}

// OpenConversation opens the conversation with peer, adding a user peer to
// the buddy list first if needed.
func (c *Conn) OpenConversation(peer vk.Peer, done func(error)) {
	c.Go("open conversation", func(ctx context.Context) {
		err := c.db.OpenConversation(peer)
		if err == nil && !peer.IsChat() {
			err = c.roster.AddIfNeeded(ctx, peer.UserID)
		}
		c.post(func() { call(done, err) })
	})
}

// CloseConversation closes the conversation with peer. In friends-only mode
// a non-friend is dropped from the buddy list along with it.
func (c *Conn) CloseConversation(peer vk.Peer, done func(error)) {
	c.Go("close conversation", func(ctx context.Context) {
		err := c.db.CloseConversation(peer)
		if err != nil {
			err = fmt.Errorf("close conversation: %w", err)
		} else if !peer.IsChat() {
			err = c.roster.RemoveIfUnneeded([]int64{peer.UserID}, true)
		}
		c.post(func() { call(done, err) })
	})
}

func call(fn func(error), err error) {
	if fn != nil {
		fn(err)
	}
}

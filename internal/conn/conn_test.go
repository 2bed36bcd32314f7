package conn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/captcha"
	"github.com/matheus3301/vksync/internal/inbox"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
	"github.com/matheus3301/vksync/internal/vk/vktest"
)

type fakeAPI struct {
	*vktest.Invoker
	*vktest.Fetcher
}

func (fakeAPI) UploadMessagePhoto(context.Context, string, []byte) (*vk.SavedPhoto, error) {
	return nil, errors.New("uploads disabled")
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newConn(t *testing.T, api *vktest.Invoker, solver captcha.Solver, b *bus.Bus) (*Conn, *store.DB) {
	t.Helper()
	db := testDB(t)
	c := New(fakeAPI{api, vktest.NewFetcher(nil)}, db, solver, b, Config{SelfID: 1}, nil)
	t.Cleanup(c.Close)
	return c, db
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for callback")
		panic("unreachable")
	}
}

func TestSynchronizeCallsBackOnce(t *testing.T) {
	api := vktest.NewInvoker().
		On("friends.get", vktest.OK(`{"items": [{"id": 2, "first_name": "A", "last_name": "B", "can_write_private_message": 1}]}`)).
		On("messages.getDialogs", vktest.OK(`{"items": []}`))
	c, db := newConn(t, api, nil, nil)

	var calls atomic.Int32
	done := make(chan error, 2)
	c.Synchronize(true, func(err error) {
		calls.Add(1)
		done <- err
	})
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if n := calls.Load(); n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
	if !c.Directory().IsFriend(2) {
		t.Error("directory not updated")
	}
	if b, _ := db.FindBuddy(2); b == nil {
		t.Error("buddy not added")
	}
}

func TestCallbacksRunOneAtATime(t *testing.T) {
	api := vktest.NewInvoker().On("utils.resolveScreenName", vktest.OK(`{"type": "user", "object_id": 5}`))
	c, _ := newConn(t, api, nil, nil)

	const n = 10
	var inflight, maxInflight atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		c.ResolveScreenName("someone", func(id int64, err error) {
			defer wg.Done()
			cur := inflight.Add(1)
			if cur > maxInflight.Load() {
				maxInflight.Store(cur)
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			if id != 5 || err != nil {
				t.Errorf("resolve = %d, %v", id, err)
			}
		})
	}
	wg.Wait()
	if maxInflight.Load() != 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", maxInflight.Load())
	}
}

func TestNoCallbackAfterClose(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := vktest.NewInvoker().On("users.get", vktest.OK(`[{"first_name": "A", "last_name": "B"}]`))
	api.OnCall(func(vktest.Call) {
		close(entered)
		<-release
	})
	c, _ := newConn(t, api, nil, nil)

	var called atomic.Bool
	c.UserFullName(1, func(string, error) { called.Store(true) })
	<-entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	<-c.ctx.Done()
	close(release)
	wait(t, closed)

	if called.Load() {
		t.Error("callback ran after Close")
	}
}

func TestGoAfterCloseIsDropped(t *testing.T) {
	c, _ := newConn(t, vktest.NewInvoker(), nil, nil)
	c.Close()

	ran := make(chan struct{}, 1)
	c.Go("late", func(context.Context) { ran <- struct{}{} })
	select {
	case <-ran:
		t.Error("task started after Close")
	case <-time.After(50 * time.Millisecond):
	}
	c.Close() // idempotent
}

func TestSendSuccess(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("message.", 4)
	defer unsub()
	api := vktest.NewInvoker().
		On("users.get", vktest.OK(`[{"id": 3, "first_name": "C", "last_name": "D", "can_write_private_message": 1}]`)).
		On("messages.send", vktest.OK(`77`))
	c, db := newConn(t, api, nil, b)

	got := make(chan []int64, 1)
	handle := c.Send(vk.User(3), "hello", func(ids []int64) { got <- ids }, func(err error) {
		t.Errorf("fail callback: %v", err)
	})
	if ids := wait(t, got); !slices.Equal(ids, []int64{77}) {
		t.Errorf("ids = %v", ids)
	}

	entry, err := db.OutboxEntry(handle)
	if err != nil || entry == nil {
		t.Fatalf("outbox entry = %v, %v", entry, err)
	}
	if entry.Status != "sent" || entry.ServerMsgIDs != "77" {
		t.Errorf("entry = %+v", entry)
	}
	evt := wait(t, events)
	sent, ok := evt.Payload.(bus.MessageSent)
	if !ok || sent.Handle != handle || !slices.Equal(sent.MsgIDs, []int64{77}) {
		t.Errorf("event = %#v", evt)
	}
	if bd, _ := db.FindBuddy(3); bd == nil {
		t.Error("recipient not added before first contact")
	}
}

func TestSendCaptchaCancelledCallsFailOnce(t *testing.T) {
	api := vktest.NewInvoker().On("messages.send", vktest.Captcha("sid", "https://img"))
	solver := captcha.SolverFunc(func(context.Context, string) (string, error) { return "", captcha.ErrCancelled })
	c, db := newConn(t, api, solver, nil)
	peer := vk.Chat(9)
	if err := db.OpenConversation(peer); err != nil {
		t.Fatal(err)
	}

	var fails atomic.Int32
	failed := make(chan error, 2)
	handle := c.Send(peer, "hi", func([]int64) { t.Error("success callback") }, func(err error) {
		fails.Add(1)
		failed <- err
	})
	if err := wait(t, failed); !errors.Is(err, captcha.ErrCancelled) {
		t.Errorf("err = %v", err)
	}
	c.Close()
	if n := fails.Load(); n != 1 {
		t.Errorf("fail ran %d times", n)
	}
	entry, _ := db.OutboxEntry(handle)
	if entry == nil || entry.Status != "failed" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestSendsKeepCallOrder(t *testing.T) {
	// The second message gets a captcha; nothing may overtake it.
	api := vktest.NewInvoker().On("messages.send",
		vktest.OK(`10`), vktest.Captcha("sid", "https://img"), vktest.OK(`11`))
	solver := captcha.SolverFunc(func(context.Context, string) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "42", nil
	})
	c, _ := newConn(t, api, solver, nil)
	peer := vk.Chat(7)

	const n = 6
	done := make(chan int, n)
	fail := func(err error) { t.Errorf("send failed: %v", err) }
	for i := range n {
		if i == 3 {
			c.SendAttachment(peer, "photo1_2", func([]int64) { done <- i }, fail)
			continue
		}
		c.Send(peer, fmt.Sprintf("m%d", i), func([]int64) { done <- i }, fail)
	}

	var completed []int
	for range n {
		completed = append(completed, wait(t, done))
	}
	if !slices.Equal(completed, []int{0, 1, 2, 3, 4, 5}) {
		t.Errorf("callbacks ran in order %v", completed)
	}

	var sent []string
	for _, call := range api.Calls("messages.send") {
		if m := call.Params.Get("message"); m != "" {
			sent = append(sent, m)
		} else {
			sent = append(sent, call.Params.Get("attachment"))
		}
	}
	want := []string{"m0", "m1", "m1", "m2", "photo1_2", "m4", "m5"}
	if !slices.Equal(sent, want) {
		t.Errorf("messages.send order = %v, want %v", sent, want)
	}
	if calls := api.Calls("messages.send"); len(calls) > 2 && calls[2].Params.Get("captcha_key") != "42" {
		t.Errorf("retry params = %v", calls[2].Params)
	}
}

func TestReceiveUnread(t *testing.T) {
	api := vktest.NewInvoker().
		On("messages.get",
			vktest.OK(`{"count": 1, "items": [{"id": 4, "user_id": 2, "date": 10, "body": "yo"}]}`),
			vktest.OK(`{"count": 1, "items": []}`)).
		On("users.get", vktest.OK(`[{"id": 2, "first_name": "A", "last_name": "B", "can_write_private_message": 1}]`)).
		On("messages.markAsRead", vktest.OK(`1`))
	c, db := newConn(t, api, nil, nil)

	got := make(chan []inbox.ReceivedMessage, 1)
	c.ReceiveUnread(func(msgs []inbox.ReceivedMessage, err error) {
		if err != nil {
			t.Error(err)
		}
		got <- msgs
	})
	if msgs := wait(t, got); len(msgs) != 1 || msgs[0].Text != "yo" {
		t.Errorf("msgs = %+v", msgs)
	}
	if open, _ := db.HasConversation(vk.User(2)); !open {
		t.Error("conversation not opened by delivery")
	}
	if !c.Directory().Has(2) {
		t.Error("unknown sender not discovered")
	}
}

func TestCloseConversationFriendsOnly(t *testing.T) {
	db := testDB(t)
	api := vktest.NewInvoker()
	c := New(fakeAPI{api, vktest.NewFetcher(nil)}, db, nil, nil, Config{SelfID: 1, FriendsOnly: true}, nil)
	defer c.Close()

	peer := vk.User(6)
	_ = db.OpenConversation(peer)
	_, _ = db.AddBuddy(6, "", "F G")

	done := make(chan error, 1)
	c.CloseConversation(peer, func(err error) { done <- err })
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
	if open, _ := db.HasConversation(peer); open {
		t.Error("conversation still open")
	}
	if b, _ := db.FindBuddy(6); b != nil {
		t.Error("non-friend kept after conversation closed")
	}
}

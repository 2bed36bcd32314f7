package store

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/matheus3301/vksync/internal/vk"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	change, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if change != (SchemaChange{From: 0, To: 1}) || !change.Applied() {
		t.Errorf("first run = %+v", change)
	}

	change, err = db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if change.Applied() || change.To != 1 {
		t.Errorf("second run = %+v, want no-op at version 1", change)
	}
}

func TestBuddyLifecycle(t *testing.T) {
	db := testDB(t)

	created, err := db.AddBuddy(10, "Friends", "Ann Lee")
	if err != nil || !created {
		t.Fatalf("AddBuddy: created=%v err=%v", created, err)
	}
	created, err = db.AddBuddy(10, "Other", "Other Name")
	if err != nil || created {
		t.Fatalf("second AddBuddy: created=%v err=%v, want existing entry kept", created, err)
	}

	if err := db.SetPresence(10, true, true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastSeen(10, 1500); err != nil {
		t.Fatal(err)
	}
	b, err := db.FindBuddy(10)
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.Group != "Friends" || b.Alias != "Ann Lee" || !b.Online || !b.Mobile || b.LastSeen != 1500 {
		t.Errorf("buddy = %+v", b)
	}

	if err := db.RemoveBuddy(10); err != nil {
		t.Fatal(err)
	}
	b, err = db.FindBuddy(10)
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Errorf("buddy still present after remove: %+v", b)
	}
}

func TestCustomAliasSurvivesSync(t *testing.T) {
	db := testDB(t)

	if _, err := db.AddBuddy(1, "", "Server Name"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCustomAlias(1, "Mom"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAlias(1, "Server Name 2"); err != nil {
		t.Fatal(err)
	}
	b, _ := db.FindBuddy(1)
	if b.Alias != "Mom" || !b.CustomAlias {
		t.Errorf("alias = %q custom=%v, want Mom", b.Alias, b.CustomAlias)
	}

	// Clearing the custom alias lets sync take over again.
	if err := db.SetCustomAlias(1, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAlias(1, "Server Name 2"); err != nil {
		t.Fatal(err)
	}
	b, _ = db.FindBuddy(1)
	if b.Alias != "Server Name 2" || b.CustomAlias {
		t.Errorf("alias = %q custom=%v", b.Alias, b.CustomAlias)
	}
}

func TestAvatar(t *testing.T) {
	db := testDB(t)
	if _, err := db.AddBuddy(1, "", "A"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAvatar(1, []byte("PNG"), "https://pp.vk.me/a.jpg"); err != nil {
		t.Fatal(err)
	}
	data, sum, err := db.Avatar(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("PNG")) || sum != "https://pp.vk.me/a.jpg" {
		t.Errorf("avatar = %q %q", data, sum)
	}
	if err := db.SetAvatar(1, nil, ""); err != nil {
		t.Fatal(err)
	}
	data, sum, _ = db.Avatar(1)
	if data != nil || sum != "" {
		t.Errorf("avatar not cleared: %q %q", data, sum)
	}
}

func TestDeliverIMOpensConversationAndDedups(t *testing.T) {
	db := testDB(t)
	peer := vk.User(5)

	m := &Message{Peer: peer, MsgID: 100, SenderID: 5, Body: "hi", Kind: KindReceived, Timestamp: 1000}
	inserted, err := db.DeliverIM(m)
	if err != nil || !inserted {
		t.Fatalf("DeliverIM: inserted=%v err=%v", inserted, err)
	}
	inserted, err = db.DeliverIM(m)
	if err != nil || inserted {
		t.Fatalf("duplicate DeliverIM: inserted=%v err=%v", inserted, err)
	}

	open, err := db.HasConversation(peer)
	if err != nil || !open {
		t.Fatalf("HasConversation = %v, %v", open, err)
	}

	msgs, err := db.ListMessages(peer, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hi" || msgs[0].Peer != peer {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestWriteErrorOnlyWhenOpen(t *testing.T) {
	db := testDB(t)
	peer := vk.Chat(3)

	written, err := db.WriteError(peer, "Error sending message 'x'")
	if err != nil || written {
		t.Fatalf("closed conversation: written=%v err=%v", written, err)
	}

	if err := db.OpenConversation(peer); err != nil {
		t.Fatal(err)
	}
	written, err = db.WriteError(peer, "Error sending message 'x'")
	if err != nil || !written {
		t.Fatalf("open conversation: written=%v err=%v", written, err)
	}
	// Local notices have no server id and never collide.
	if written, _ := db.WriteError(peer, "again"); !written {
		t.Error("second notice not written")
	}

	msgs, _ := db.ListMessages(peer, 0, 10)
	if len(msgs) != 2 || msgs[0].Kind != KindError {
		t.Errorf("messages = %+v", msgs)
	}

	if err := db.CloseConversation(peer); err != nil {
		t.Fatal(err)
	}
	peers, err := db.OpenConversations()
	if err != nil || len(peers) != 0 {
		t.Errorf("open conversations = %v, %v", peers, err)
	}
}

func TestImages(t *testing.T) {
	db := testDB(t)

	id, err := db.AddImage("thumb.jpg", []byte("JPEG"))
	if err != nil {
		t.Fatal(err)
	}
	img, err := db.Image(id)
	if err != nil {
		t.Fatal(err)
	}
	if img == nil || img.Filename != "thumb.jpg" || string(img.Data) != "JPEG" {
		t.Errorf("image = %+v", img)
	}
	img, err = db.Image(id + 100)
	if err != nil || img != nil {
		t.Errorf("missing image = %+v, %v", img, err)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("h1", vk.User(1), "one"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("h2", vk.Chat(2), "two"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[1].Peer != vk.Chat(2) {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkOutboxSent("h1", "11,12"); err != nil {
		t.Fatal(err)
	}
	e, err := db.OutboxEntry("h1")
	if err != nil || e == nil || e.Status != "sent" || e.ServerMsgIDs != "11,12" {
		t.Errorf("entry = %+v, %v", e, err)
	}

	n, err := db.FailPendingOutbox("restart")
	if err != nil || n != 1 {
		t.Errorf("FailPendingOutbox = %d, %v, want 1", n, err)
	}
	e, _ = db.OutboxEntry("h2")
	if e.Status != "failed" || e.ErrorMessage != "restart" {
		t.Errorf("entry = %+v", e)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	for i, body := range []string{"hello world", "goodbye world", "100% done"} {
		m := &Message{Peer: vk.User(1), MsgID: int64(i + 1), Body: body, Kind: KindReceived, Timestamp: int64(1000 + i)}
		if _, err := db.DeliverIM(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("hello", nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].MsgID != 1 {
		t.Errorf("results = %+v", results)
	}

	results, _ = db.SearchMessages("%", nil, 10)
	if len(results) != 1 || results[0].MsgID != 3 {
		t.Errorf("literal %% search = %+v", results)
	}

	other := vk.User(2)
	results, _ = db.SearchMessages("world", &other, 10)
	if len(results) != 0 {
		t.Errorf("peer filter ignored: %+v", results)
	}
}

package roster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/directory"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
	"github.com/matheus3301/vksync/internal/vk/vktest"
)

// fakeBuddies is an in-memory BuddyList that records structural changes.
type fakeBuddies struct {
	mu      sync.Mutex
	entries map[int64]*store.Buddy
	avatars map[int64][]byte
	ops     []string
}

func newFakeBuddies(ids ...int64) *fakeBuddies {
	f := &fakeBuddies{entries: make(map[int64]*store.Buddy), avatars: make(map[int64][]byte)}
	for _, id := range ids {
		f.entries[id] = &store.Buddy{UserID: id}
	}
	return f
}

func (f *fakeBuddies) FindBuddy(id int64) (*store.Buddy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBuddies) AddBuddy(id int64, group, alias string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; ok {
		return false, nil
	}
	f.entries[id] = &store.Buddy{UserID: id, Group: group, Alias: alias}
	f.ops = append(f.ops, fmt.Sprintf("add %d", id))
	return true, nil
}

func (f *fakeBuddies) RemoveBuddy(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	f.ops = append(f.ops, fmt.Sprintf("remove %d", id))
	return nil
}

func (f *fakeBuddies) BuddyIDs() ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id := range f.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeBuddies) update(id int64, fn func(b *store.Buddy)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.entries[id]; ok {
		fn(b)
	}
	return nil
}

func (f *fakeBuddies) SetAlias(id int64, alias string) error {
	return f.update(id, func(b *store.Buddy) {
		if !b.CustomAlias {
			b.Alias = alias
		}
	})
}

func (f *fakeBuddies) SetPresence(id int64, online, mobile bool) error {
	return f.update(id, func(b *store.Buddy) { b.Online, b.Mobile = online, mobile })
}

func (f *fakeBuddies) SetLastSeen(id, ts int64) error {
	return f.update(id, func(b *store.Buddy) { b.LastSeen = ts })
}

func (f *fakeBuddies) SetAvatar(id int64, data []byte, checksum string) error {
	return f.update(id, func(b *store.Buddy) {
		b.AvatarChecksum = checksum
		f.avatars[id] = data
	})
}

func (f *fakeBuddies) takeOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := f.ops
	f.ops = nil
	return ops
}

type fakeConvs map[int64]bool

func (c fakeConvs) HasConversation(p vk.Peer) (bool, error) { return c[p.UserID], nil }

// inlineTasks runs spawned work synchronously.
type inlineTasks struct{}

func (inlineTasks) Go(_ string, fn func(ctx context.Context)) { fn(context.Background()) }

type fixture struct {
	api     *vktest.Invoker
	fetcher *vktest.Fetcher
	dir     *directory.Directory
	buddies *fakeBuddies
	sync    *Synchronizer
}

func newFixture(opts Options, buddies *fakeBuddies, convs fakeConvs) *fixture {
	f := &fixture{
		api:     vktest.NewInvoker(),
		fetcher: vktest.NewFetcher(nil),
		dir:     directory.New(),
		buddies: buddies,
	}
	if opts.SelfID == 0 {
		opts.SelfID = 100
	}
	f.sync = New(f.api, f.fetcher, f.dir, buddies, convs, inlineTasks{}, nil, opts, nil)
	return f
}

const (
	ann       = `{"id": 1, "first_name": "Ann", "last_name": "Lee", "can_write_private_message": 1, "online": 1}`
	bob       = `{"id": 2, "first_name": "Bob", "last_name": "Ray", "can_write_private_message": 1, "online": 0, "last_seen": {"time": 1500}}`
	carl      = `{"id": 3, "first_name": "Carl", "last_name": "Fox", "can_write_private_message": 1}`
	noLast    = `{"id": 9, "first_name": "Nameless", "can_write_private_message": 1}`
	noDialogs = `{"count": 0, "items": []}`
)

func TestSynchronizeFriendsScenario(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.api.On("friends.get", vktest.OK(`{"count": 2, "items": [`+noLast+`, `+ann+`]}`))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	if err := f.sync.Synchronize(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	if f.dir.Len() != 1 || !f.dir.Has(1) {
		t.Errorf("directory ids = %v, want [1]", f.dir.IDs())
	}
	if !slices.Equal(f.dir.Friends(), []int64{1}) {
		t.Errorf("friends = %v, want [1]", f.dir.Friends())
	}
	if n := len(f.api.Calls("users.get")); n != 0 {
		t.Errorf("users.get calls = %d, want 0", n)
	}

	call := f.api.Calls("friends.get")[0]
	if call.Params.Get("user_id") != "100" || call.Params.Get("fields") != ProfileFields {
		t.Errorf("friends.get params = %v", call.Params)
	}
	b, _ := f.buddies.FindBuddy(1)
	if b == nil || b.Alias != "Ann Lee" || !b.Online {
		t.Errorf("buddy = %+v", b)
	}
}

func TestSynchronizeMergesDialogPartners(t *testing.T) {
	f := newFixture(Options{DefaultGroup: "vk"}, newFakeBuddies(), nil)
	f.api.On("friends.get", vktest.OK(`{"items": [`+ann+`]}`))
	f.api.On("messages.getDialogs",
		vktest.OK(`{"count": 3, "items": [{"user_id": 1}, {"message": {"user_id": 2}}]}`),
		vktest.OK(`{"count": 3, "items": [{"message": {"chat_id": 5}}, {"user_id": 2}]}`),
		vktest.OK(noDialogs))
	f.api.On("users.get", vktest.OK(`[`+bob+`]`))

	if err := f.sync.Synchronize(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	dialogs := f.api.Calls("messages.getDialogs")
	if len(dialogs) != 3 {
		t.Fatalf("getDialogs calls = %d, want 3", len(dialogs))
	}
	for i, want := range []string{"0", "2", "4"} {
		if got := dialogs[i].Params.Get("offset"); got != want {
			t.Errorf("page %d offset = %s, want %s", i, got, want)
		}
		if dialogs[i].Params.Get("preview_length") != "1" {
			t.Errorf("page %d preview_length = %q", i, dialogs[i].Params.Get("preview_length"))
		}
	}

	users := f.api.Calls("users.get")
	if len(users) != 1 || users[0].Params.Get("user_ids") != "2" {
		t.Fatalf("users.get calls = %+v, want one for user 2", users)
	}
	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1, 2}) {
		t.Errorf("buddies = %v, want [1 2]", ids)
	}
	b, _ := f.buddies.FindBuddy(2)
	if b.Group != "vk" || b.LastSeen != 1500 {
		t.Errorf("buddy 2 = %+v", b)
	}
}

func TestSynchronizeIdempotent(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.api.On("friends.get", vktest.OK(`{"items": [`+ann+`]}`))
	f.api.On("messages.getDialogs",
		vktest.OK(`{"items": [{"user_id": 2}]}`), vktest.OK(noDialogs),
		vktest.OK(`{"items": [{"user_id": 2}]}`), vktest.OK(noDialogs))
	f.api.On("users.get", vktest.OK(`[`+bob+`]`))

	ctx := context.Background()
	if err := f.sync.Synchronize(ctx, true); err != nil {
		t.Fatal(err)
	}
	first := f.dir.IDs()
	profile, _ := f.dir.Get(2)
	if ops := f.buddies.takeOps(); len(ops) != 2 {
		t.Errorf("first run ops = %v, want two adds", ops)
	}

	if err := f.sync.Synchronize(ctx, true); err != nil {
		t.Fatal(err)
	}
	if ops := f.buddies.takeOps(); len(ops) != 0 {
		t.Errorf("second run ops = %v, want none", ops)
	}
	if !slices.Equal(f.dir.IDs(), first) {
		t.Errorf("directory changed: %v -> %v", first, f.dir.IDs())
	}
	if again, _ := f.dir.Get(2); again != profile {
		t.Errorf("profile changed: %+v -> %+v", profile, again)
	}
}

func TestSynchronizeRemovesStaleAndUnwritable(t *testing.T) {
	closed := `{"id": 4, "first_name": "Dan", "last_name": "Closed", "can_write_private_message": 0}`
	f := newFixture(Options{}, newFakeBuddies(4, 99), nil)
	f.api.On("friends.get", vktest.OK(`{"items": [`+ann+`, `+closed+`]}`))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	if err := f.sync.Synchronize(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1}) {
		t.Errorf("buddies = %v, want [1]", ids)
	}
	if !f.dir.Has(4) {
		t.Error("unwritable profile should stay cached")
	}
	if f.dir.IsFriend(4) {
		t.Error("unwritable profile should not be in the friend set")
	}
}

func TestSynchronizeFriendsOnly(t *testing.T) {
	f := newFixture(Options{FriendsOnly: true}, newFakeBuddies(), nil)
	f.api.On("friends.get", vktest.OK(`{"items": [`+ann+`]}`))
	f.api.On("messages.getDialogs", vktest.OK(`{"items": [{"user_id": 2}]}`), vktest.OK(noDialogs))

	if err := f.sync.Synchronize(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if n := len(f.api.Calls("users.get")); n != 0 {
		t.Errorf("users.get calls = %d, want 0 in friends-only mode", n)
	}
	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1}) {
		t.Errorf("buddies = %v, want [1]", ids)
	}
}

func TestSynchronizeFriendsOnlyKeepsOpenConversation(t *testing.T) {
	f := newFixture(Options{FriendsOnly: true}, newFakeBuddies(3), fakeConvs{3: true})
	f.dir.Put(directory.UserProfile{ID: 3, Name: "Carl Fox", CanWrite: true})
	f.api.On("friends.get", vktest.OK(`{"items": [`+ann+`]}`))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	if err := f.sync.Synchronize(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1, 3}) {
		t.Errorf("buddies = %v, want [1 3]", ids)
	}
}

func TestSynchronizeFriendsFailureKeepsBuddyList(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(5), nil)
	f.api.On("friends.get", vktest.Fail(errors.New("connection reset")))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	err := f.sync.Synchronize(context.Background(), true)
	if err == nil {
		t.Fatal("expected joined error")
	}
	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{5}) {
		t.Errorf("buddies = %v, want [5] kept", ids)
	}
}

func TestSynchronizeDialogErrorUsesPartialSet(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.api.On("friends.get", vktest.OK(`{"items": []}`))
	f.api.On("messages.getDialogs",
		vktest.OK(`{"items": [{"user_id": 3}]}`),
		vktest.Fail(errors.New("timeout")))
	f.api.On("users.get", vktest.OK(`[`+carl+`]`))

	err := f.sync.Synchronize(context.Background(), true)
	if err == nil {
		t.Fatal("expected error from dialog discovery")
	}
	users := f.api.Calls("users.get")
	if len(users) != 1 || users[0].Params.Get("user_ids") != "3" {
		t.Fatalf("users.get calls = %+v", users)
	}
	if b, _ := f.buddies.FindBuddy(3); b == nil {
		t.Error("partial dialog set not reconciled")
	}
}

func TestSynchronizeMalformedFriendsResponse(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.api.On("friends.get", vktest.OK(`[1, 2]`))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	err := f.sync.Synchronize(context.Background(), true)
	if !errors.Is(err, vk.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestSynchronizePublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("roster.", 1)
	defer unsub()

	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.sync.bus = b
	f.api.On("friends.get", vktest.OK(`{"items": [`+ann+`]}`))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	if err := f.sync.Synchronize(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	evt := <-ch
	synced, ok := evt.Payload.(bus.RosterSynced)
	if !ok || synced.Profiles != 1 || synced.Friends != 1 || synced.Buddies != 1 || synced.Err != nil {
		t.Errorf("payload = %#v", evt.Payload)
	}
}

func TestAvatarFetchedOnceAndCleared(t *testing.T) {
	withPhoto := `{"id": 1, "first_name": "Ann", "last_name": "Lee", "can_write_private_message": 1, "photo_50": "https://pp.vk.me/ann.jpg"}`
	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.fetcher = vktest.NewFetcher(map[string][]byte{"https://pp.vk.me/ann.jpg": []byte("JPEG")})
	f.sync.fetcher = f.fetcher
	f.api.On("friends.get", vktest.OK(`{"items": [`+withPhoto+`]}`), vktest.OK(`{"items": [`+withPhoto+`]}`), vktest.OK(`{"items": [`+ann+`]}`))
	f.api.On("messages.getDialogs", vktest.OK(noDialogs))

	ctx := context.Background()
	for range 2 {
		if err := f.sync.Synchronize(ctx, true); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.fetcher.Fetched(); len(got) != 1 {
		t.Errorf("fetched = %v, want one fetch", got)
	}
	b, _ := f.buddies.FindBuddy(1)
	if b.AvatarChecksum != "https://pp.vk.me/ann.jpg" || string(f.buddies.avatars[1]) != "JPEG" {
		t.Errorf("avatar = %q %q", b.AvatarChecksum, f.buddies.avatars[1])
	}

	// The third sync returns no photo, which clears the avatar.
	if err := f.sync.Synchronize(ctx, true); err != nil {
		t.Fatal(err)
	}
	b, _ = f.buddies.FindBuddy(1)
	if b.AvatarChecksum != "" || f.buddies.avatars[1] != nil {
		t.Errorf("avatar not cleared: %q", b.AvatarChecksum)
	}
}

func TestAddToBuddyList(t *testing.T) {
	f := newFixture(Options{FriendsOnly: true}, newFakeBuddies(), nil)
	f.dir.Put(directory.UserProfile{ID: 1, Name: "Ann Lee", CanWrite: true})
	f.api.On("users.get", vktest.OK(`[`+carl+`]`))

	if err := f.sync.AddToBuddyList(context.Background(), []int64{1, 3}); err != nil {
		t.Fatal(err)
	}
	users := f.api.Calls("users.get")
	if len(users) != 1 || users[0].Params.Get("user_ids") != "3" {
		t.Errorf("users.get = %+v, want only the unknown id", users)
	}
	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1, 3}) {
		t.Errorf("buddies = %v, want [1 3]", ids)
	}
}

func TestAddIfNeeded(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(1), nil)
	f.dir.Put(directory.UserProfile{ID: 1, Name: "Ann Lee", CanWrite: true})

	// Known and listed: no remote call.
	if err := f.sync.AddIfNeeded(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if n := len(f.api.Calls("")); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}

	f.api.On("users.get", vktest.OK(`[`+bob+`]`))
	if err := f.sync.AddIfNeeded(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if b, _ := f.buddies.FindBuddy(2); b == nil {
		t.Error("unknown user not added")
	}
}

func TestRemoveIfUnneeded(t *testing.T) {
	convs := fakeConvs{3: true}
	f := newFixture(Options{FriendsOnly: true}, newFakeBuddies(1, 2, 3), convs)
	f.dir.SetFriends([]int64{1})

	if err := f.sync.RemoveIfUnneeded([]int64{1, 2, 3}, false); err != nil {
		t.Fatal(err)
	}
	ids, _ := f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1, 3}) {
		t.Errorf("buddies = %v, want [1 3]", ids)
	}

	if err := f.sync.RemoveIfUnneeded([]int64{3}, true); err != nil {
		t.Fatal(err)
	}
	ids, _ = f.buddies.BuddyIDs()
	if !slices.Equal(ids, []int64{1}) {
		t.Errorf("buddies = %v, want [1]", ids)
	}
}

func TestRemoveIfUnneededNoopWithoutFriendsOnly(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(2), nil)
	if err := f.sync.RemoveIfUnneeded([]int64{2}, true); err != nil {
		t.Fatal(err)
	}
	if b, _ := f.buddies.FindBuddy(2); b == nil {
		t.Error("buddy removed outside friends-only mode")
	}
}

func TestRefreshProfiles(t *testing.T) {
	f := newFixture(Options{}, newFakeBuddies(), nil)
	f.api.On("users.get", vktest.OK(`[`+ann+`, {"id": 9, "first_name": "No"}, `+carl+`]`))

	if err := f.sync.RefreshProfiles(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if n := len(f.api.Calls("users.get")); n != 0 {
		t.Fatalf("users.get called %d times for no ids", n)
	}

	if err := f.sync.RefreshProfiles(context.Background(), []int64{1, 9, 3}); err != nil {
		t.Fatal(err)
	}
	calls := f.api.Calls("users.get")
	if len(calls) != 1 || calls[0].Params.Get("user_ids") != "1,9,3" {
		t.Fatalf("calls = %+v", calls)
	}
	if !f.dir.Has(1) || !f.dir.Has(3) || f.dir.Has(9) {
		t.Errorf("directory ids = %v", f.dir.IDs())
	}
	if ids, _ := f.buddies.BuddyIDs(); len(ids) != 0 {
		t.Errorf("refresh touched the buddy list: %v", ids)
	}
}

func TestUserFullName(t *testing.T) {
	tests := []struct {
		name    string
		reply   vktest.Reply
		want    string
		wantErr bool
	}{
		{"ok", vktest.OK(`[{"id": 1, "first_name": "Ann", "last_name": "Lee"}]`), "Ann Lee", false},
		{"two users", vktest.OK(`[{"first_name": "A", "last_name": "B"}, {"first_name": "C", "last_name": "D"}]`), "", true},
		{"missing last name", vktest.OK(`[{"first_name": "A"}]`), "", true},
		{"api error", vktest.APIError(vk.ErrCodeAuthFailed, "User authorization failed"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{}, newFakeBuddies(), nil)
			f.api.On("users.get", tt.reply)
			got, err := f.sync.UserFullName(context.Background(), 1)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveScreenName(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  int64
	}{
		{"user", `{"type": "user", "object_id": 42}`, 42},
		{"group", `{"type": "group", "object_id": 7}`, 0},
		{"not found", `[]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{}, newFakeBuddies(), nil)
			f.api.On("utils.resolveScreenName", vktest.OK(tt.reply))
			got, err := f.sync.ResolveScreenName(context.Background(), "durov")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("id = %d, want %d", got, tt.want)
			}
		})
	}
}

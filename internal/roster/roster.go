// Package roster merges friends and dialog partners into the Directory and
// reconciles the local buddy list against it.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/directory"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
)

// ProfileFields is the fields parameter of every friends.get / users.get call.
const ProfileFields = "first_name,last_name,bdate,education,photo_50,photo_max_orig," +
	"online,contacts,can_write_private_message,activity,last_seen,domain"

// BuddyList is the local buddy list the roster is reconciled into.
type BuddyList interface {
	FindBuddy(userID int64) (*store.Buddy, error)
	AddBuddy(userID int64, group, alias string) (bool, error)
	RemoveBuddy(userID int64) error
	BuddyIDs() ([]int64, error)
	SetAlias(userID int64, alias string) error
	SetPresence(userID int64, online, mobile bool) error
	SetLastSeen(userID, lastSeen int64) error
	SetAvatar(userID int64, data []byte, checksum string) error
}

// Conversations reports which conversations are open.
type Conversations interface {
	HasConversation(peer vk.Peer) (bool, error)
}

// Spawner runs fire-and-forget work owned by the connection. Work must stop
// when ctx is cancelled.
type Spawner interface {
	Go(name string, fn func(ctx context.Context))
}

// Options configures a Synchronizer.
type Options struct {
	// SelfID is the account's own user id.
	SelfID int64
	// FriendsOnly restricts the buddy list to friends and users with an open
	// conversation.
	FriendsOnly bool
	// DefaultGroup is the group new buddies are added to.
	DefaultGroup string
	// DialogPageSize is the count of each messages.getDialogs page.
	DialogPageSize int
}

// Synchronizer implements roster synchronization for one connection.
type Synchronizer struct {
	api     vk.Invoker
	fetcher vk.Fetcher
	dir     *directory.Directory
	buddies BuddyList
	convs   Conversations
	tasks   Spawner
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger

	// reconcileMu keeps two reconciliations from interleaving their
	// add/remove decisions.
	reconcileMu sync.Mutex
}

// New creates a Synchronizer.
func New(api vk.Invoker, fetcher vk.Fetcher, dir *directory.Directory, buddies BuddyList, convs Conversations,
	tasks Spawner, b *bus.Bus, opts Options, logger *zap.Logger) *Synchronizer {
	if opts.DialogPageSize <= 0 {
		opts.DialogPageSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		api:     api,
		fetcher: fetcher,
		dir:     dir,
		buddies: buddies,
		convs:   convs,
		tasks:   tasks,
		bus:     b,
		opts:    opts,
		logger:  logger.Named("roster"),
	}
}

// Synchronize fetches friends and dialog partners, merges them into the
// Directory and reconciles the buddy list. A failing step is logged and the
// remaining steps run on the data collected so far; the returned error joins
// every step failure. When friends.get fails the removal phase is skipped so
// a transient outage never empties the buddy list.
func (s *Synchronizer) Synchronize(ctx context.Context, updatePresence bool) error {
	s.logger.Info("synchronizing roster", zap.Bool("update_presence", updatePresence))

	var errs []error
	friendsOK := true
	if err := s.fetchFriends(ctx); err != nil {
		s.logger.Error("friends.get failed, keeping previous friend set", zap.Error(err))
		errs = append(errs, err)
		friendsOK = false
	}

	partners, err := s.dialogPartners(ctx)
	if err != nil {
		s.logger.Warn("dialog discovery incomplete", zap.Int("collected", len(partners)), zap.Error(err))
		errs = append(errs, err)
	}

	if !s.opts.FriendsOnly {
		var nonFriends []int64
		for _, id := range partners {
			if !s.dir.IsFriend(id) {
				nonFriends = append(nonFriends, id)
			}
		}
		if err := s.RefreshProfiles(ctx, nonFriends); err != nil {
			errs = append(errs, err)
		}
	}

	buddies, err := s.reconcile(updatePresence, friendsOK)
	if err != nil {
		s.logger.Error("buddy list reconciliation failed", zap.Error(err))
		errs = append(errs, err)
	}

	joined := errors.Join(errs...)
	s.bus.Emit(bus.KindRosterSynced, bus.RosterSynced{
		Profiles: s.dir.Len(),
		Friends:  len(s.dir.Friends()),
		Buddies:  buddies,
		Err:      joined,
	})
	s.logger.Info("roster synchronized",
		zap.Int("profiles", s.dir.Len()),
		zap.Int("buddies", buddies),
		zap.NamedError("partial", joined))
	return joined
}

// fetchFriends replaces the friend set with the writable ids friends.get returns.
func (s *Synchronizer) fetchFriends(ctx context.Context) error {
	raw, err := s.api.Call(ctx, "friends.get", url.Values{
		"user_id": {strconv.FormatInt(s.opts.SelfID, 10)},
		"fields":  {ProfileFields},
	})
	if err != nil {
		return err
	}
	list, err := vk.DecodeItemList(raw, false)
	if err != nil {
		return fmt.Errorf("friends.get: %w", err)
	}
	s.dir.SetFriends(s.mergeProfiles("friends.get", list.Items))
	return nil
}

// RefreshProfiles fetches profiles for ids with users.get and merges them into
// the Directory. No call is made when ids is empty.
func (s *Synchronizer) RefreshProfiles(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.logger.Debug("refreshing profiles", zap.Int64s("ids", ids))
	raw, err := s.api.Call(ctx, "users.get", url.Values{
		"user_ids": {vk.JoinIDs(ids)},
		"fields":   {ProfileFields},
	})
	if err != nil {
		return err
	}
	items, err := vk.DecodeArray(raw)
	if err != nil {
		return fmt.Errorf("users.get: %w", err)
	}
	s.mergeProfiles("users.get", items)
	return nil
}

// mergeProfiles stores every valid profile in items and returns the ids of
// the writable ones.
func (s *Synchronizer) mergeProfiles(method string, items []json.RawMessage) []int64 {
	var writable []int64
	for _, item := range items {
		p, err := vk.DecodeProfile(item)
		if err != nil {
			s.logger.Error("skipping incomplete profile", zap.String("method", method), zap.Error(err))
			continue
		}
		u := directory.FromAPI(p)
		s.dir.Put(u)
		if u.CanWrite {
			writable = append(writable, u.ID)
		}
	}
	return writable
}

// dialogPartners pages through messages.getDialogs until an empty page and
// returns the distinct partner ids. On error the ids collected so far are
// returned together with the error.
func (s *Synchronizer) dialogPartners(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for offset := 0; ; {
		raw, err := s.api.Call(ctx, "messages.getDialogs", url.Values{
			"preview_length": {"1"},
			"count":          {strconv.Itoa(s.opts.DialogPageSize)},
			"offset":         {strconv.Itoa(offset)},
		})
		if err != nil {
			return ids, err
		}
		list, err := vk.DecodeItemList(raw, false)
		if err != nil {
			return ids, fmt.Errorf("messages.getDialogs: %w", err)
		}
		if len(list.Items) == 0 {
			return ids, nil
		}
		for _, item := range list.Items {
			id, err := vk.DecodeDialogPartner(item)
			if err != nil {
				s.logger.Warn("skipping dialog", zap.Error(err))
				continue
			}
			// Multi-user chats report no partner; negative ids are communities.
			if id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		offset += len(list.Items)
	}
}

// member reports whether a cached profile belongs on the buddy list.
func (s *Synchronizer) member(u directory.UserProfile) (bool, error) {
	if !u.CanWrite {
		return false, nil
	}
	if !s.opts.FriendsOnly || s.dir.IsFriend(u.ID) {
		return true, nil
	}
	return s.convs.HasConversation(vk.User(u.ID))
}

// reconcile pushes the Directory into the buddy list and returns the
// resulting number of buddies.
func (s *Synchronizer) reconcile(updatePresence, removeStale bool) (int, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	var errs []error
	keep := make(map[int64]bool)
	for _, id := range s.dir.IDs() {
		u, _ := s.dir.Get(id)
		ok, err := s.member(u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		keep[id] = true
		if err := s.updateBuddy(u, updatePresence); err != nil {
			errs = append(errs, fmt.Errorf("update buddy %d: %w", id, err))
		}
	}

	existing, err := s.buddies.BuddyIDs()
	if err != nil {
		return 0, errors.Join(append(errs, fmt.Errorf("list buddies: %w", err))...)
	}
	count := len(existing)
	if !removeStale {
		return count, errors.Join(errs...)
	}
	for _, id := range existing {
		if keep[id] {
			continue
		}
		s.logger.Info("removing buddy", zap.Int64("user_id", id))
		if err := s.buddies.RemoveBuddy(id); err != nil {
			errs = append(errs, fmt.Errorf("remove buddy %d: %w", id, err))
			continue
		}
		count--
	}
	return count, errors.Join(errs...)
}

// updateBuddy ensures u is on the buddy list and pushes alias, presence,
// last-seen time and avatar.
func (s *Synchronizer) updateBuddy(u directory.UserProfile, updatePresence bool) error {
	created, err := s.buddies.AddBuddy(u.ID, s.opts.DefaultGroup, u.Name)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("adding buddy", zap.Int64("user_id", u.ID), zap.String("group", s.opts.DefaultGroup))
	}
	if err := s.buddies.SetAlias(u.ID, u.Name); err != nil {
		return err
	}
	if updatePresence {
		if err := s.buddies.SetPresence(u.ID, u.Online, u.IsMobile); err != nil {
			return err
		}
	}
	if !u.Online {
		if u.LastSeen != 0 {
			if err := s.buddies.SetLastSeen(u.ID, u.LastSeen); err != nil {
				return err
			}
		} else {
			s.logger.Debug("zero last seen time", zap.Int64("user_id", u.ID))
		}
	}
	return s.updateAvatar(u)
}

func (s *Synchronizer) updateAvatar(u directory.UserProfile) error {
	if u.PhotoMin == "" {
		return s.buddies.SetAvatar(u.ID, nil, "")
	}
	b, err := s.buddies.FindBuddy(u.ID)
	if err != nil {
		return err
	}
	if b != nil && b.AvatarChecksum == u.PhotoMin {
		return nil
	}
	if s.tasks == nil || s.fetcher == nil {
		return nil
	}
	id, photo := u.ID, u.PhotoMin
	s.tasks.Go("avatar", func(ctx context.Context) {
		data, err := s.fetcher.Fetch(ctx, photo)
		if err != nil {
			s.logger.Warn("avatar fetch failed", zap.Int64("user_id", id), zap.Error(err))
			return
		}
		if err := s.buddies.SetAvatar(id, data, photo); err != nil {
			s.logger.Warn("avatar store failed", zap.Int64("user_id", id), zap.Error(err))
		}
	})
	return nil
}

// AddToBuddyList fetches profiles for ids unknown to the Directory and then
// puts every id on the buddy list, regardless of the friends-only setting.
func (s *Synchronizer) AddToBuddyList(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	fetchErr := s.RefreshProfiles(ctx, s.dir.Unknown(ids))
	if fetchErr != nil {
		s.logger.Warn("profile fetch for new buddies failed", zap.Error(fetchErr))
	}

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	errs := []error{fetchErr}
	for _, id := range ids {
		u, ok := s.dir.Get(id)
		if !ok || !u.CanWrite {
			continue
		}
		if err := s.updateBuddy(u, true); err != nil {
			errs = append(errs, fmt.Errorf("update buddy %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// AddIfNeeded puts userID on the buddy list before first contact when it is
// unknown or missing from the list.
func (s *Synchronizer) AddIfNeeded(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return nil
	}
	if s.dir.Has(userID) {
		b, err := s.buddies.FindBuddy(userID)
		if err != nil || b != nil {
			return err
		}
	}
	return s.AddToBuddyList(ctx, []int64{userID})
}

// RemoveIfUnneeded drops ids from the buddy list in friends-only mode when
// they are neither friends nor, unless conversationClosed, in an open
// conversation.
func (s *Synchronizer) RemoveIfUnneeded(ids []int64, conversationClosed bool) error {
	if !s.opts.FriendsOnly {
		return nil
	}
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	var errs []error
	for _, id := range ids {
		if s.dir.IsFriend(id) {
			continue
		}
		if !conversationClosed {
			open, err := s.convs.HasConversation(vk.User(id))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if open {
				continue
			}
		}
		b, err := s.buddies.FindBuddy(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if b == nil {
			continue
		}
		s.logger.Info("removing unneeded buddy", zap.Int64("user_id", id), zap.Bool("conversation_closed", conversationClosed))
		if err := s.buddies.RemoveBuddy(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserFullName returns "First Last" for id.
func (s *Synchronizer) UserFullName(ctx context.Context, id int64) (string, error) {
	raw, err := s.api.Call(ctx, "users.get", url.Values{
		"user_ids": {strconv.FormatInt(id, 10)},
		"fields":   {"first_name,last_name"},
	})
	if err != nil {
		return "", err
	}
	items, err := vk.DecodeArray(raw)
	if err != nil {
		return "", fmt.Errorf("users.get: %w", err)
	}
	if len(items) != 1 {
		return "", fmt.Errorf("users.get: %w: expected one user, got %d", vk.ErrMalformed, len(items))
	}
	var name struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
	}
	if err := json.Unmarshal(items[0], &name); err != nil || name.FirstName == nil || name.LastName == nil {
		return "", fmt.Errorf("users.get: %w: missing first_name or last_name", vk.ErrMalformed)
	}
	return *name.FirstName + " " + *name.LastName, nil
}

// ResolveScreenName maps a screen name to a user id. It returns 0 when the
// name is unknown or belongs to something other than a user.
func (s *Synchronizer) ResolveScreenName(ctx context.Context, screenName string) (int64, error) {
	raw, err := s.api.Call(ctx, "utils.resolveScreenName", url.Values{"screen_name": {screenName}})
	if err != nil {
		return 0, err
	}
	var r vk.ResolvedName
	if err := json.Unmarshal(raw, &r); err != nil || r.Type == nil || r.ObjectID == nil {
		s.logger.Info("screen name not found", zap.String("screen_name", screenName))
		return 0, nil
	}
	if *r.Type != "user" {
		s.logger.Info("screen name is not a user", zap.String("screen_name", screenName), zap.String("type", *r.Type))
		return 0, nil
	}
	return *r.ObjectID, nil
}

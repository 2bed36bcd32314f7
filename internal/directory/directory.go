package directory

import (
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/vksync/internal/vk"
)

// UserProfile holds the cached attributes of one remote user.
type UserProfile struct {
	ID          int64
	Name        string
	Online      bool
	IsMobile    bool
	LastSeen    int64 // epoch seconds, 0 = unknown
	PhotoMin    string
	PhotoMax    string
	Activity    string
	BirthDate   string
	Education   string
	MobilePhone string
	Domain      string
	// CanWrite is false for deactivated users and users who do not accept
	// private messages. Such profiles stay cached but never join the buddy list.
	CanWrite bool
}

// Default avatars the API returns for users without a photo.
var emptyPhotos = []string{"/camera_a.gif", "/camera_b.gif", "/camera_50.png"}

func isEmptyPhoto(u string) bool {
	for _, suffix := range emptyPhotos {
		if strings.HasSuffix(u, suffix) {
			return true
		}
	}
	return false
}

// FromAPI converts a validated API profile into a UserProfile. Every field is
// set; nothing is carried over from a previous fetch.
func FromAPI(p *vk.Profile) UserProfile {
	u := UserProfile{
		ID:   *p.ID,
		Name: *p.FirstName + " " + *p.LastName,
	}
	if p.Deactivated != nil || p.CanWritePrivateMessage == nil || *p.CanWritePrivateMessage != 1 {
		return u
	}
	u.CanWrite = true

	if p.Photo50 != nil && !isEmptyPhoto(*p.Photo50) {
		u.PhotoMin = *p.Photo50
	}
	if p.PhotoMaxOrig != nil {
		u.PhotoMax = *p.PhotoMaxOrig
	}
	if p.Activity != nil {
		u.Activity = html.UnescapeString(*p.Activity)
	}
	if p.BirthDate != nil {
		u.BirthDate = html.UnescapeString(*p.BirthDate)
	}
	u.Education = html.UnescapeString(education(p))
	if p.MobilePhone != nil {
		u.MobilePhone = html.UnescapeString(*p.MobilePhone)
	}
	if p.Domain != nil {
		u.Domain = *p.Domain
	}
	u.Online = p.Online != nil && *p.Online == 1
	u.IsMobile = p.OnlineMobile != nil
	if p.LastSeen != nil {
		u.LastSeen = p.LastSeen.Time
	}
	return u
}

// education renders "Faculty, University 'YY".
func education(p *vk.Profile) string {
	if p.UniversityName == nil || *p.UniversityName == "" {
		return ""
	}
	var b strings.Builder
	if p.FacultyName != nil && *p.FacultyName != "" {
		b.WriteString(*p.FacultyName)
		b.WriteString(", ")
	}
	b.WriteString(*p.UniversityName)
	if p.Graduation != nil && *p.Graduation != 0 {
		g := *p.Graduation
		if g >= 2000 {
			fmt.Fprintf(&b, " '%02d", g%100)
		} else {
			fmt.Fprintf(&b, " %d", g)
		}
	}
	return b.String()
}

// Directory maps user ids to profiles and tracks the current friend set.
// It is safe for concurrent use; writers are serialized by mu.
type Directory struct {
	mu       sync.RWMutex
	profiles map[int64]UserProfile
	friends  map[int64]struct{}
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		profiles: make(map[int64]UserProfile),
		friends:  make(map[int64]struct{}),
	}
}

// Put stores p, replacing any previous profile for the same id.
func (d *Directory) Put(p UserProfile) {
	d.mu.Lock()
	d.profiles[p.ID] = p
	d.mu.Unlock()
}

// Get returns the profile for id.
func (d *Directory) Get(id int64) (UserProfile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	return p, ok
}

// Has reports whether a profile for id is cached.
func (d *Directory) Has(id int64) bool {
	_, ok := d.Get(id)
	return ok
}

// IDs returns all cached ids in ascending order.
func (d *Directory) IDs() []int64 {
	d.mu.RLock()
	ids := make([]int64, 0, len(d.profiles))
	for id := range d.profiles {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of cached profiles.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.profiles)
}

// SetFriends replaces the friend set.
func (d *Directory) SetFriends(ids []int64) {
	friends := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		friends[id] = struct{}{}
	}
	d.mu.Lock()
	d.friends = friends
	d.mu.Unlock()
}

// IsFriend reports whether id is in the friend set.
func (d *Directory) IsFriend(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.friends[id]
	return ok
}

// Friends returns the friend set in ascending order.
func (d *Directory) Friends() []int64 {
	d.mu.RLock()
	ids := make([]int64, 0, len(d.friends))
	for id := range d.friends {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Unknown returns the ids from ids that have no cached profile, keeping order
// and dropping duplicates.
func (d *Directory) Unknown(ids []int64) []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[int64]struct{}, len(ids))
	var out []int64
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := d.profiles[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

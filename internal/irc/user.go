package irc

import (
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

const (
	seenCacheSize = 4096
	seenCacheTTL  = 6 * time.Hour
)

// User is a network user we share at least one channel with, or ourselves.
type User struct {
	Nick        string
	Ident       string
	Host        string
	Gecos       string
	Server      string
	Hops        int
	IsOper      bool
	IsAway      bool
	AwayMessage string
	Account     string
	LastSeen    time.Time

	id uint64
}

// Hostmask returns nick!ident@host with the parts we know.
func (u *User) Hostmask() string {
	switch {
	case u.Ident != "" && u.Host != "":
		return fmt.Sprintf("%s!%s@%s", u.Nick, u.Ident, u.Host)
	case u.Host != "":
		return fmt.Sprintf("%s@%s", u.Nick, u.Host)
	}
	return u.Nick
}

// UserRegistry owns every User. Channels refer to users by pointer, and the
// registry is the only place users are created or destroyed. Keys are
// case-folded nicks.
type UserRegistry struct {
	fold   func(string) string
	arena  map[uint64]*User
	byNick map[string]uint64
	nextID uint64

	seen *otter.Cache[string, User]
}

// NewUserRegistry returns an empty registry keyed by fold(nick).
func NewUserRegistry(fold func(string) string) *UserRegistry {
	return &UserRegistry{
		fold:   fold,
		arena:  make(map[uint64]*User),
		byNick: make(map[string]uint64),
		seen: otter.Must(&otter.Options[string, User]{
			MaximumSize:      seenCacheSize,
			ExpiryCalculator: otter.ExpiryWriting[string, User](seenCacheTTL),
		}),
	}
}

// Key returns the folded lookup key for nick.
func (r *UserRegistry) Key(nick string) string {
	return r.fold(nick)
}

// Get returns the user for nick, or nil.
func (r *UserRegistry) Get(nick string) *User {
	id, ok := r.byNick[r.fold(nick)]
	if !ok {
		return nil
	}
	return r.arena[id]
}

// Ensure returns the user for nick, creating it on first sighting.
func (r *UserRegistry) Ensure(nick string) (*User, bool) {
	if u := r.Get(nick); u != nil {
		return u, false
	}
	r.nextID++
	u := &User{Nick: nick, id: r.nextID, LastSeen: time.Now()}
	r.arena[u.id] = u
	r.byNick[r.fold(nick)] = u.id
	r.seen.Invalidate(r.fold(nick))
	return u, true
}

// Rename moves a user to a new nick. A user already holding the new nick
// is displaced and returned so callers can drop its memberships.
func (r *UserRegistry) Rename(oldNick, newNick string) (renamed, displaced *User) {
	oldKey, newKey := r.fold(oldNick), r.fold(newNick)

	id, ok := r.byNick[oldKey]
	if !ok {
		return nil, nil
	}
	u := r.arena[id]

	if oldKey != newKey {
		if otherID, taken := r.byNick[newKey]; taken {
			displaced = r.arena[otherID]
			delete(r.arena, otherID)
		}
		delete(r.byNick, oldKey)
		r.byNick[newKey] = id
	}
	u.Nick = newNick
	u.LastSeen = time.Now()
	return u, displaced
}

// Remove destroys the user for nick and remembers a copy in the
// recently seen cache.
func (r *UserRegistry) Remove(nick string) {
	key := r.fold(nick)
	id, ok := r.byNick[key]
	if !ok {
		return
	}
	u := r.arena[id]
	delete(r.byNick, key)
	delete(r.arena, id)

	gone := *u
	gone.LastSeen = time.Now()
	r.seen.Set(key, gone)
}

// Sweep removes every user for which keep returns false and reports how
// many were removed.
func (r *UserRegistry) Sweep(keep func(*User) bool) int {
	var removed []string
	for _, u := range r.arena {
		if !keep(u) {
			removed = append(removed, u.Nick)
		}
	}
	for _, nick := range removed {
		r.Remove(nick)
	}
	return len(removed)
}

// Seen returns the last known state of a user we stopped tracking.
func (r *UserRegistry) Seen(nick string) (User, bool) {
	return r.seen.GetIfPresent(r.fold(nick))
}

// Len returns the number of tracked users.
func (r *UserRegistry) Len() int {
	return len(r.arena)
}

// All returns every tracked user.
func (r *UserRegistry) All() []*User {
	out := make([]*User, 0, len(r.arena))
	for _, u := range r.arena {
		out = append(out, u)
	}
	return out
}

// SetFold rekeys the registry after a CASEMAPPING change.
func (r *UserRegistry) SetFold(fold func(string) string) {
	r.fold = fold
	r.byNick = make(map[string]uint64, len(r.arena))
	for id, u := range r.arena {
		r.byNick[fold(u.Nick)] = id
	}
}

// Reset forgets every tracked user. The recently seen cache survives.
func (r *UserRegistry) Reset() {
	r.arena = make(map[uint64]*User)
	r.byNick = make(map[string]uint64)
}

package irc

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dalnet/ircbot/internal/metrics"
)

// State is the client's view of the network. The event loop is the only
// writer and holds the lock for the whole of each dispatched message;
// exported methods take the read lock and return copies.
type State struct {
	mu sync.RWMutex

	me         string
	registered bool
	userModes  string
	connected  time.Time

	server   *ServerInfo
	users    *UserRegistry
	channels map[string]*Channel
}

// NewState returns empty state for a client that wants to be nick.
func NewState(nick string) *State {
	s := &State{me: nick}
	s.reset()
	return s
}

// reset clears everything learned from a previous connection.
func (s *State) reset() {
	s.registered = false
	s.userModes = ""
	s.connected = time.Time{}
	s.server = NewServerInfo()
	if s.users == nil {
		s.users = NewUserRegistry(s.server.Fold)
	} else {
		s.users.SetFold(s.server.Fold)
		s.users.Reset()
	}
	s.channels = make(map[string]*Channel)
	s.updateGauges()
}

// Reset clears all per-connection state before registering as nick.
func (s *State) Reset(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.me = nick
}

func (s *State) channel(name string) *Channel {
	return s.channels[s.server.Fold(name)]
}

func (s *State) addChannel(name string) *Channel {
	key := s.server.Fold(name)
	ch := newChannel(name)
	s.channels[key] = ch
	s.updateGauges()
	return ch
}

func (s *State) removeChannel(name string) {
	delete(s.channels, s.server.Fold(name))
	s.updateGauges()
}

func (s *State) isMe(nick string) bool {
	return s.server.Fold(nick) == s.server.Fold(s.me)
}

// ensureUser returns the user for nick and refreshes ident and host when
// they are known.
func (s *State) ensureUser(nick, ident, host string) *User {
	u, created := s.users.Ensure(nick)
	if ident != "" {
		u.Ident = ident
	}
	if host != "" {
		u.Host = host
	}
	u.LastSeen = time.Now()
	if created {
		s.updateGauges()
	}
	return u
}

// channelsOf returns the names of channels nick is a member of.
func (s *State) channelsOf(nick string) []string {
	key := s.users.Key(nick)
	var out []string
	for _, ch := range s.channels {
		if ch.HasMember(key) {
			out = append(out, ch.Name)
		}
	}
	slices.Sort(out)
	return out
}

// sweep drops users that share no channel with us.
func (s *State) sweep() {
	n := s.users.Sweep(func(u *User) bool {
		if s.isMe(u.Nick) {
			return true
		}
		key := s.users.Key(u.Nick)
		for _, ch := range s.channels {
			if ch.HasMember(key) {
				return true
			}
		}
		return false
	})
	if n > 0 {
		s.updateGauges()
	}
}

// refold rekeys users and channels after CASEMAPPING changed.
func (s *State) refold() {
	s.users.SetFold(s.server.Fold)
	channels := make(map[string]*Channel, len(s.channels))
	for _, ch := range s.channels {
		users := make(map[string]*User, len(ch.Users))
		ranks := make(map[string]string, len(ch.Ranks))
		for key, u := range ch.Users {
			users[s.server.Fold(u.Nick)] = u
			ranks[s.server.Fold(u.Nick)] = ch.Ranks[key]
		}
		ch.Users, ch.Ranks = users, ranks
		channels[s.server.Fold(ch.Name)] = ch
	}
	s.channels = channels
}

func (s *State) updateGauges() {
	metrics.Channels.Set(float64(len(s.channels)))
	metrics.Users.Set(float64(s.users.Len()))
}

// Nick returns our current nick.
func (s *State) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// Registered reports whether the server sent 001 on this connection.
func (s *State) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

// UserModes returns our own user mode letters.
func (s *State) UserModes() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userModes
}

// IsChannel reports whether name is a channel per CHANTYPES.
func (s *State) IsChannel(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server.IsChannel(name)
}

// Channels returns the names of the channels we are in, sorted.
func (s *State) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Name)
	}
	slices.Sort(out)
	return out
}

// Channel returns a copy of the named channel.
func (s *State) Channel(name string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.channel(name)
	if ch == nil {
		return nil, false
	}
	return ch.clone(), true
}

// User returns a copy of the tracked user for nick.
func (s *State) User(nick string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.users.Get(nick)
	if u == nil {
		return User{}, false
	}
	return *u, true
}

// Seen returns the last state of a user no longer tracked.
func (s *State) Seen(nick string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users.Seen(nick)
}

// Rank returns the rank letters nick holds in channel, in the order they
// were given.
func (s *State) Rank(channel, nick string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.channel(channel)
	if ch == nil {
		return ""
	}
	return ch.Ranks[s.users.Key(nick)]
}

// Server returns a copy of the server feature registry.
func (s *State) Server() ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server.clone()
}

// ChannelSummary is a channel as reported on the status endpoint.
type ChannelSummary struct {
	Name    string         `json:"name"`
	Topic   string         `json:"topic,omitempty"`
	Modes   string         `json:"modes,omitempty"`
	Members int            `json:"members"`
	Ranks   map[string]int `json:"ranks,omitempty"`
}

// Snapshot is a read-only view of State for reporting.
type Snapshot struct {
	Nick       string            `json:"nick"`
	Registered bool              `json:"registered"`
	UserModes  string            `json:"user_modes,omitempty"`
	Connected  time.Time         `json:"connected_at,omitzero"`
	Server     string            `json:"server,omitempty"`
	Network    string            `json:"network,omitempty"`
	ISupport   map[string]string `json:"isupport"`
	Users      int               `json:"users"`
	Channels   []ChannelSummary  `json:"channels"`
}

// Snapshot returns a summary of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nick:       s.me,
		Registered: s.registered,
		UserModes:  s.userModes,
		Connected:  s.connected,
		Server:     s.server.ServerName,
		Network:    s.server.Network,
		ISupport:   maps.Clone(s.server.RawTokens),
		Users:      s.users.Len(),
		Channels:   make([]ChannelSummary, 0, len(s.channels)),
	}
	for _, ch := range s.channels {
		sum := ChannelSummary{
			Name:    ch.Name,
			Topic:   ch.Topic,
			Modes:   ch.ModeString(),
			Members: len(ch.Users),
		}
		for _, ranks := range ch.Ranks {
			if top := s.server.HighestRank(ranks); top != 0 {
				if sum.Ranks == nil {
					sum.Ranks = make(map[string]int)
				}
				sum.Ranks[string(top)]++
			}
		}
		snap.Channels = append(snap.Channels, sum)
	}
	slices.SortFunc(snap.Channels, func(a, b ChannelSummary) int {
		return strings.Compare(a.Name, b.Name)
	})
	return snap
}

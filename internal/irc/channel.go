package irc

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// ModeValue is the state held for one channel mode letter. List modes use
// List; parameterised modes use Param.
type ModeValue struct {
	Param string
	List  map[string]struct{}
}

// Channel is a channel we are in. Members are keyed by folded nick and
// point into the UserRegistry.
type Channel struct {
	Name        string
	Modes       map[rune]ModeValue
	Users       map[string]*User
	Ranks       map[string]string
	Topic       string
	TopicSetter string
	TopicTime   time.Time
	Created     time.Time

	// UserlistComplete is false between the first 353 of a NAMES burst
	// and its 366.
	UserlistComplete bool
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:             name,
		Modes:            make(map[rune]ModeValue),
		Users:            make(map[string]*User),
		Ranks:            make(map[string]string),
		UserlistComplete: true,
	}
}

// HasMember reports whether the folded nick key is in the channel.
func (c *Channel) HasMember(key string) bool {
	_, ok := c.Users[key]
	return ok
}

func (c *Channel) addMember(key string, u *User, ranks string) {
	c.Users[key] = u
	c.Ranks[key] = ranks
}

func (c *Channel) removeMember(key string) {
	delete(c.Users, key)
	delete(c.Ranks, key)
}

func (c *Channel) renameMember(oldKey, newKey string) {
	u, ok := c.Users[oldKey]
	if !ok {
		return
	}
	ranks := c.Ranks[oldKey]
	c.removeMember(oldKey)
	c.addMember(newKey, u, ranks)
}

func (c *Channel) clearMembers() {
	c.Users = make(map[string]*User)
	c.Ranks = make(map[string]string)
}

// ModeString renders the non-list modes as "+ntk key".
func (c *Channel) ModeString() string {
	letters := slices.Sorted(maps.Keys(c.Modes))

	var flags strings.Builder
	var params []string
	flags.WriteByte('+')
	for _, r := range letters {
		v := c.Modes[r]
		if v.List != nil {
			continue
		}
		flags.WriteRune(r)
		if v.Param != "" {
			params = append(params, v.Param)
		}
	}
	if flags.Len() == 1 {
		return ""
	}
	return strings.Join(append([]string{flags.String()}, params...), " ")
}

// List returns the entries of a list mode such as 'b', sorted.
func (c *Channel) List(letter rune) []string {
	return slices.Sorted(maps.Keys(c.Modes[letter].List))
}

func (c *Channel) clone() *Channel {
	out := *c
	out.Modes = make(map[rune]ModeValue, len(c.Modes))
	for r, v := range c.Modes {
		if v.List != nil {
			v.List = maps.Clone(v.List)
		}
		out.Modes[r] = v
	}
	out.Users = make(map[string]*User, len(c.Users))
	for k, u := range c.Users {
		cp := *u
		out.Users[k] = &cp
	}
	out.Ranks = maps.Clone(c.Ranks)
	return &out
}

package irc

import (
	"time"

	"github.com/dalnet/ircbot/internal/proto"
)

// Event names emitted by the dispatcher and controller.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventWelcome        = "welcome"
	EventISupport       = "isupport"
	EventChannelJoin    = "channeljoin"
	EventChannelPart    = "channelpart"
	EventChannelKick    = "channelkick"
	EventUserQuit       = "userquit"
	EventUserNick       = "usernick"
	EventChannelModes   = "modeschanged-channel"
	EventUserModes      = "modeschanged-user"
	EventTopic          = "topic"
	EventInvite         = "invite"
	EventChannelMessage = "message-channel"
	EventUserMessage    = "message-user"
	EventChannelNotice  = "notice-channel"
	EventUserNotice     = "notice-user"
	EventChannelCTCP    = "ctcp-channel"
	EventUserCTCP       = "ctcp-user"
	EventAway           = "away"
	EventAccount        = "account"
	EventChangeHost     = "chghost"
	EventNames          = "names"
	EventNickInUse      = "nickinuse"
	EventSASLSuccess    = "sasl-success"
	EventSASLFailure    = "sasl-failure"
	EventRaw            = "raw"
)

// Event is a semantic notification derived from one inbound message.
// Only the fields meaningful for Name are set.
type Event struct {
	Name    string
	Time    time.Time
	Message *proto.Message

	// Nick is the user that caused the event.
	Nick string
	// Target is the nick or channel the event was aimed at.
	Target  string
	Channel string
	Text    string
	OldNick string
	Reason  string

	// Rank holds the user's rank letters in Channel before a part or kick.
	Rank string
	// Channels lists the channels a quitting user was in.
	Channels []string

	Modes *ModeChange
	User  *User
}

// Emitter receives events. Implementations must not block the caller.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

func nopEmitter() Emitter {
	return EmitterFunc(func(Event) {})
}

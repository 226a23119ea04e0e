package irc

import (
	"strconv"
	"strings"
	"time"

	"github.com/dalnet/ircbot/internal/config"
	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/metrics"
	"github.com/dalnet/ircbot/internal/proto"
)

// maxNickRetries bounds how often registration retries a taken nick.
const maxNickRetries = 8

type handlerFunc func(m *proto.Message)

// minParams is the parameter count below which a command is malformed.
// Such lines are dropped before any event, raw included.
var minParams = map[string]int{
	"PRIVMSG": 2,
	"NOTICE":  2,
	"JOIN":    1,
	"PART":    1,
	"NICK":    1,
	"KICK":    2,
	"MODE":    2,
	"TOPIC":   2,
	"INVITE":  2,
	"CAP":     3,
	"324":     3,
	"353":     4,
}

// Dispatcher routes parsed messages to handlers that update State, drive
// the Negotiator and emit events. It is run by exactly one goroutine.
type Dispatcher struct {
	state *State
	caps  *Negotiator
	out   Sender
	emit  Emitter
	log   logger.Logger

	alternate string
	channels  []config.Channel
	nickTries int

	handlers map[string]handlerFunc

	// OnServerError is called with the reason of an ERROR line.
	OnServerError func(reason string)
	// OnRegistered is called after RPL_WELCOME.
	OnRegistered func()
}

// NewDispatcher wires a dispatcher to its collaborators.
func NewDispatcher(cfg *config.Config, state *State, caps *Negotiator, out Sender, emit Emitter, log logger.Logger) *Dispatcher {
	if emit == nil {
		emit = nopEmitter()
	}
	d := &Dispatcher{
		state:     state,
		caps:      caps,
		out:       out,
		emit:      emit,
		log:       log.Named("dispatch"),
		alternate: cfg.Alternate,
		channels:  cfg.Channels,
	}
	d.registerHandlers()
	return d
}

// reset forgets per-connection registration progress.
func (d *Dispatcher) reset() {
	d.nickTries = 0
}

func (d *Dispatcher) registerHandlers() {
	d.handlers = map[string]handlerFunc{
		"PING":  d.onPing,
		"ERROR": d.onError,

		// Capability negotiation and SASL
		"CAP":          d.onCap,
		"AUTHENTICATE": d.onAuthenticate,
		"410":          d.onInvalidCap,  // ERR_INVALIDCAPCMD
		"421":          d.onUnknownCmd,  // ERR_UNKNOWNCOMMAND
		"900":          d.onLoggedIn,    // RPL_LOGGEDIN
		"901":          d.onLoggedOut,   // RPL_LOGGEDOUT
		"903":          d.onSASLSuccess, // RPL_SASLSUCCESS
		"902":          d.onSASLFailure, // ERR_NICKLOCKED
		"904":          d.onSASLFailure, // ERR_SASLFAIL
		"905":          d.onSASLFailure, // ERR_SASLTOOLONG
		"906":          d.onSASLFailure, // ERR_SASLABORTED
		"907":          d.onSASLFailure, // ERR_SASLALREADY
		"908":          d.onSASLMechs,   // RPL_SASLMECHS

		// Registration
		"001": d.onWelcome,   // RPL_WELCOME
		"004": d.onMyInfo,    // RPL_MYINFO
		"005": d.onISupport,  // RPL_ISUPPORT
		"432": d.onNickInUse, // ERR_ERRONEUSNICKNAME
		"433": d.onNickInUse, // ERR_NICKNAMEINUSE

		// Membership
		"JOIN":  d.onJoin,
		"PART":  d.onPart,
		"KICK":  d.onKick,
		"QUIT":  d.onQuit,
		"NICK":  d.onNick,
		"353":   d.onNames,    // RPL_NAMREPLY
		"366":   d.onEndNames, // RPL_ENDOFNAMES
		"MODE":  d.onMode,
		"324":   d.onChannelModeIs, // RPL_CHANNELMODEIS
		"329":   d.onCreationTime,  // RPL_CREATIONTIME
		"TOPIC": d.onTopic,
		"331":   d.onNoTopic,    // RPL_NOTOPIC
		"332":   d.onTopicReply, // RPL_TOPIC
		"333":   d.onTopicWhoTime,

		// User attributes
		"352":     d.onWhoReply,  // RPL_WHOREPLY
		"315":     d.onEndWho,    // RPL_ENDOFWHO
		"311":     d.onWhoisUser, // RPL_WHOISUSER
		"313":     d.onWhoisOper, // RPL_WHOISOPERATOR
		"301":     d.onAwayReply, // RPL_AWAY
		"305":     d.onUnaway,    // RPL_UNAWAY
		"306":     d.onNowAway,   // RPL_NOWAWAY
		"AWAY":    d.onAway,
		"ACCOUNT": d.onAccount,
		"CHGHOST": d.onChgHost,

		// Messages
		"PRIVMSG": d.onPrivmsg,
		"NOTICE":  d.onNotice,
		"INVITE":  d.onInvite,
	}
}

// Dispatch handles one parsed message to completion. Unknown commands are
// only surfaced as raw events; lines too short for their command produce
// no event at all.
func (d *Dispatcher) Dispatch(m *proto.Message) {
	if len(m.Params) < minParams[m.Command] {
		metrics.ParseFailures.Inc()
		d.discard(m, "too few parameters")
		return
	}

	d.state.mu.Lock()
	defer d.state.mu.Unlock()

	d.emit.Emit(d.event(EventRaw, m))

	h, ok := d.handlers[m.Command]
	if !ok {
		d.log.Trace("unhandled command", "command", m.Command)
		return
	}
	h(m)
}

func (d *Dispatcher) event(name string, m *proto.Message) Event {
	return Event{Name: name, Time: m.Time(), Message: m}
}

func (d *Dispatcher) send(command string, params ...string) {
	if err := d.out.Send(proto.NewMessage(command, params...)); err != nil {
		d.log.Error("send failed", err, "command", command)
	}
}

// discard logs a message that references state we do not have.
func (d *Dispatcher) discard(m *proto.Message, why string) {
	d.log.Debug("discarding "+m.Command, "reason", why, "line", m.String())
}

// source resolves the user behind a message prefix, creating it on first
// sighting. Server prefixes resolve to nil.
func (d *Dispatcher) source(m *proto.Message) *User {
	if m.FromServer() {
		return nil
	}
	nick, ident, host := m.Source()
	if nick == "" {
		return nil
	}
	return d.state.ensureUser(nick, ident, host)
}

func userCopy(u *User) *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

func (d *Dispatcher) onPing(m *proto.Message) {
	d.send("PONG", m.Params...)
}

func (d *Dispatcher) onError(m *proto.Message) {
	d.log.Warn("server closed the link", "reason", m.Last())
	if d.OnServerError != nil {
		d.OnServerError(m.Last())
	}
}

func (d *Dispatcher) onCap(m *proto.Message) {
	if err := d.caps.HandleCap(m); err != nil {
		d.log.Error("CAP handling failed", err)
	}
}

func (d *Dispatcher) onAuthenticate(m *proto.Message) {
	if err := d.caps.HandleAuthenticate(m); err != nil {
		d.log.Error("AUTHENTICATE handling failed", err)
	}
}

func (d *Dispatcher) onInvalidCap(m *proto.Message) {
	d.log.Warn("server rejected a CAP subcommand", "line", m.String())
	if err := d.caps.Abort(); err != nil {
		d.log.Error("CAP END failed", err)
	}
}

func (d *Dispatcher) onUnknownCmd(m *proto.Message) {
	// 421 <me> <command> :Unknown command
	if strings.EqualFold(m.Param(1), "CAP") {
		d.caps.HandleUnsupported()
	}
}

func (d *Dispatcher) onLoggedIn(m *proto.Message) {
	// 900 <me> <nick!ident@host> <account> :You are now logged in
	account := m.Param(2)
	d.log.Info("logged in", "account", account)
	d.state.ensureUser(d.state.me, "", "").Account = account
	if err := d.caps.HandleSASLResult(true); err != nil {
		d.log.Error("CAP END failed", err)
	}
}

func (d *Dispatcher) onLoggedOut(m *proto.Message) {
	if u := d.state.users.Get(d.state.me); u != nil {
		u.Account = ""
	}
}

func (d *Dispatcher) onSASLSuccess(m *proto.Message) {
	if err := d.caps.HandleSASLResult(true); err != nil {
		d.log.Error("CAP END failed", err)
	}
	d.emit.Emit(d.event(EventSASLSuccess, m))
}

func (d *Dispatcher) onSASLFailure(m *proto.Message) {
	d.log.Warn("SASL failed", "numeric", m.Command, "reason", m.Last())
	if err := d.caps.HandleSASLResult(false); err != nil {
		d.log.Error("CAP END failed", err)
	}
	ev := d.event(EventSASLFailure, m)
	ev.Reason = m.Last()
	d.emit.Emit(ev)
}

func (d *Dispatcher) onSASLMechs(m *proto.Message) {
	d.log.Info("server SASL mechanisms", "mechanisms", m.Param(1))
}

func (d *Dispatcher) onWelcome(m *proto.Message) {
	s := d.state
	if nick := m.Param(0); nick != "" {
		s.me = nick
	}
	s.registered = true
	s.connected = time.Now()
	d.nickTries = 0

	// A server that registers us mid-negotiation ignored CAP.
	d.caps.HandleUnsupported()

	self := s.ensureUser(s.me, "", "")
	metrics.Connected.Set(1)
	d.log.Info("registered", "nick", s.me)

	ev := d.event(EventWelcome, m)
	ev.Nick = s.me
	ev.User = userCopy(self)
	d.emit.Emit(ev)

	if d.OnRegistered != nil {
		d.OnRegistered()
	}

	for _, ch := range d.channels {
		if ch.Key != "" {
			d.send("JOIN", ch.Name, ch.Key)
		} else {
			d.send("JOIN", ch.Name)
		}
	}
}

func (d *Dispatcher) onMyInfo(m *proto.Message) {
	d.state.server.ParseMyInfo(m.Params)
}

func (d *Dispatcher) onISupport(m *proto.Message) {
	s := d.state
	before := s.server.CaseMapping
	if err := s.server.ParseISupport(m.Params); err != nil {
		d.log.Warn("bad ISUPPORT tokens", "error", err.Error())
	}
	if s.server.CaseMapping != before {
		s.refold()
	}
	d.emit.Emit(d.event(EventISupport, m))
}

func (d *Dispatcher) onNickInUse(m *proto.Message) {
	// 433 <me> <nick> :Nickname is already in use
	s := d.state
	ev := d.event(EventNickInUse, m)
	ev.Target = m.Param(1)
	d.emit.Emit(ev)

	if s.registered {
		d.log.Warn("nick change refused", "nick", m.Param(1), "reason", m.Last())
		return
	}
	if d.nickTries >= maxNickRetries {
		d.log.Warn("giving up on finding a free nick", "tries", d.nickTries)
		return
	}

	attempted := m.Param(1)
	if attempted == "" || attempted == "*" {
		attempted = s.me
	}
	next := attempted + "_"
	if d.nickTries == 0 && d.alternate != "" && !strings.EqualFold(attempted, d.alternate) {
		next = d.alternate
	}
	d.nickTries++

	d.log.Info("nick unavailable, trying another", "nick", attempted, "next", next)
	s.me = next
	d.send("NICK", next)
}

func (d *Dispatcher) onJoin(m *proto.Message) {
	s := d.state
	name := m.Param(0)
	nick, ident, host := m.Source()
	if name == "" || nick == "" {
		d.discard(m, "missing channel or source")
		return
	}

	ch := s.channel(name)
	if s.isMe(nick) {
		if ch == nil {
			ch = s.addChannel(name)
		}
		d.send("MODE", name)
		d.send("WHO", name)
	} else if ch == nil {
		d.discard(m, "unknown channel")
		return
	}

	u := s.ensureUser(nick, ident, host)
	if len(m.Params) >= 3 {
		// extended-join: JOIN <channel> <account> :<gecos>
		u.Account = m.Params[1]
		if u.Account == "*" {
			u.Account = ""
		}
		u.Gecos = m.Params[2]
	}
	ch.addMember(s.users.Key(nick), u, "")

	ev := d.event(EventChannelJoin, m)
	ev.Nick = nick
	ev.Channel = ch.Name
	ev.User = userCopy(u)
	d.emit.Emit(ev)
}

func (d *Dispatcher) onPart(m *proto.Message) {
	d.leave(m, EventChannelPart, m.Nick(), m.Param(0), m.Param(1))
}

func (d *Dispatcher) onKick(m *proto.Message) {
	// KICK <channel> <target> [:reason]
	d.leave(m, EventChannelKick, m.Param(1), m.Param(0), m.Param(2))
}

// leave removes nick from channel after the event has been emitted.
func (d *Dispatcher) leave(m *proto.Message, name, nick, channel, reason string) {
	s := d.state
	ch := s.channel(channel)
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}
	key := s.users.Key(nick)
	if !ch.HasMember(key) {
		d.discard(m, "user not in channel")
		return
	}

	ev := d.event(name, m)
	ev.Channel = ch.Name
	ev.Reason = reason
	ev.Rank = ch.Ranks[key]
	ev.User = userCopy(ch.Users[key])
	if name == EventChannelKick {
		ev.Nick = m.Nick()
		ev.Target = nick
	} else {
		ev.Nick = nick
	}
	d.emit.Emit(ev)

	if s.isMe(nick) {
		s.removeChannel(channel)
	} else {
		ch.removeMember(key)
	}
	s.sweep()
}

func (d *Dispatcher) onQuit(m *proto.Message) {
	s := d.state
	nick := m.Nick()
	u := s.users.Get(nick)
	if u == nil {
		d.discard(m, "unknown user")
		return
	}

	channels := s.channelsOf(nick)
	ev := d.event(EventUserQuit, m)
	ev.Nick = nick
	ev.Reason = m.Param(0)
	ev.Channels = channels
	ev.User = userCopy(u)
	d.emit.Emit(ev)

	key := s.users.Key(nick)
	for _, name := range channels {
		s.channel(name).removeMember(key)
	}
	if !s.isMe(nick) {
		s.users.Remove(nick)
		s.updateGauges()
	}
}

func (d *Dispatcher) onNick(m *proto.Message) {
	s := d.state
	oldNick, ident, host := m.Source()
	newNick := m.Param(0)
	if oldNick == "" || newNick == "" {
		d.discard(m, "missing nick")
		return
	}

	wasMe := s.isMe(oldNick)
	if wasMe {
		s.me = newNick
	}

	if s.users.Get(oldNick) == nil {
		d.discard(m, "unknown user")
		s.ensureUser(newNick, ident, host)
		return
	}

	oldKey, newKey := s.users.Key(oldNick), s.users.Key(newNick)
	channels := s.channelsOf(oldNick)
	u, displaced := s.users.Rename(oldNick, newNick)
	for _, ch := range s.channels {
		if displaced != nil && oldKey != newKey {
			ch.removeMember(newKey)
		}
		ch.renameMember(oldKey, newKey)
	}

	ev := d.event(EventUserNick, m)
	ev.Nick = newNick
	ev.OldNick = oldNick
	ev.Channels = channels
	ev.User = userCopy(u)
	d.emit.Emit(ev)
}

func (d *Dispatcher) onMode(m *proto.Message) {
	s := d.state
	target := m.Param(0)
	if len(m.Params) < 2 {
		d.discard(m, "no mode string")
		return
	}

	if !s.server.IsChannel(target) {
		if !s.isMe(target) {
			return
		}
		modes, changed := ApplyUserModes(s.userModes, m.Params[1])
		s.userModes = modes
		if changed {
			ev := d.event(EventUserModes, m)
			ev.Nick = m.Nick()
			ev.Target = target
			ev.Text = strings.Join(m.Params[1:], " ")
			d.emit.Emit(ev)
		}
		return
	}

	ch := s.channel(target)
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}

	change := ApplyModeString(ch, s.server, m.Params[1], m.Params[2:])
	if change == nil {
		metrics.ModeDesyncs.Inc()
		d.log.Warn("could not apply MODE, resyncing", "channel", ch.Name, "modes", strings.Join(m.Params[1:], " "))
		d.send("MODE", ch.Name)
		return
	}
	for _, skipped := range change.Skipped {
		d.log.Debug("mode for user not in channel", "channel", ch.Name, "mode", skipped.String())
	}
	if change.Empty() {
		return
	}

	ev := d.event(EventChannelModes, m)
	ev.Nick = m.Nick()
	ev.Channel = ch.Name
	ev.Modes = change
	d.emit.Emit(ev)
}

func (d *Dispatcher) onChannelModeIs(m *proto.Message) {
	// 324 <me> <channel> <modes> [params...]
	s := d.state
	ch := s.channel(m.Param(1))
	if ch == nil || len(m.Params) < 3 {
		d.discard(m, "unknown channel")
		return
	}

	// 324 replaces the non-list modes; list modes only come from their
	// own list replies.
	previous := ch.Modes
	ch.Modes = make(map[rune]ModeValue, len(previous))
	for r, v := range previous {
		if v.List != nil {
			ch.Modes[r] = v
		}
	}
	if ApplyModeString(ch, s.server, m.Params[2], m.Params[3:]) == nil {
		ch.Modes = previous
		metrics.ModeDesyncs.Inc()
		d.log.Warn("could not apply channel modes, resyncing", "channel", ch.Name, "modes", strings.Join(m.Params[2:], " "))
		d.send("MODE", ch.Name)
	}
}

func (d *Dispatcher) onCreationTime(m *proto.Message) {
	// 329 <me> <channel> <timestamp>
	ch := d.state.channel(m.Param(1))
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}
	if ts, err := strconv.ParseInt(m.Param(2), 10, 64); err == nil {
		ch.Created = time.Unix(ts, 0)
	}
}

func (d *Dispatcher) onTopic(m *proto.Message) {
	ch := d.state.channel(m.Param(0))
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}
	ch.Topic = m.Param(1)
	ch.TopicSetter = m.Nick()
	ch.TopicTime = m.Time()

	ev := d.event(EventTopic, m)
	ev.Nick = m.Nick()
	ev.Channel = ch.Name
	ev.Text = ch.Topic
	d.emit.Emit(ev)
}

func (d *Dispatcher) onNoTopic(m *proto.Message) {
	if ch := d.state.channel(m.Param(1)); ch != nil {
		ch.Topic = ""
	}
}

func (d *Dispatcher) onTopicReply(m *proto.Message) {
	// 332 <me> <channel> :<topic>
	ch := d.state.channel(m.Param(1))
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}
	ch.Topic = m.Param(2)
}

func (d *Dispatcher) onTopicWhoTime(m *proto.Message) {
	// 333 <me> <channel> <setter> <timestamp>
	ch := d.state.channel(m.Param(1))
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}
	ch.TopicSetter = m.Param(2)
	if ts, err := strconv.ParseInt(m.Param(3), 10, 64); err == nil {
		ch.TopicTime = time.Unix(ts, 0)
	}
}

func (d *Dispatcher) onNames(m *proto.Message) {
	// 353 <me> <symbol> <channel> :[prefix]<nick>[!ident@host] ...
	s := d.state
	if len(m.Params) < 4 {
		d.discard(m, "short NAMES reply")
		return
	}
	ch := s.channel(m.Params[2])
	if ch == nil {
		d.discard(m, "unknown channel")
		return
	}

	if ch.UserlistComplete {
		ch.clearMembers()
		ch.UserlistComplete = false
	}

	for _, entry := range strings.Fields(m.Last()) {
		ranks, rest := s.server.SplitStatus(entry)
		if rest == "" {
			continue
		}
		nm := &proto.Message{Prefix: rest}
		nick, ident, host := nm.Source()
		u := s.ensureUser(nick, ident, host)
		ch.addMember(s.users.Key(nick), u, ranks)
	}
}

func (d *Dispatcher) onEndNames(m *proto.Message) {
	// 366 <me> <channel> :End of /NAMES list.
	s := d.state
	ch := s.channel(m.Param(1))
	if ch == nil {
		return
	}
	ch.UserlistComplete = true
	s.sweep()

	ev := d.event(EventNames, m)
	ev.Channel = ch.Name
	d.emit.Emit(ev)
}

func (d *Dispatcher) onWhoReply(m *proto.Message) {
	// 352 <me> <channel> <ident> <host> <server> <nick> <flags> :<hops> <gecos>
	s := d.state
	if len(m.Params) < 8 {
		d.discard(m, "short WHO reply")
		return
	}
	nick, flags := m.Params[5], m.Params[6]
	u := s.ensureUser(nick, m.Params[2], m.Params[3])
	u.Server = m.Params[4]
	u.IsAway = strings.HasPrefix(flags, "G")
	u.IsOper = strings.Contains(flags, "*")

	hops, gecos, _ := strings.Cut(m.Last(), " ")
	if n, err := strconv.Atoi(hops); err == nil {
		u.Hops = n
	}
	u.Gecos = gecos

	ch := s.channel(m.Params[1])
	if ch == nil {
		return
	}
	key := s.users.Key(nick)
	if !ch.HasMember(key) {
		return
	}
	var ranks strings.Builder
	for _, r := range flags {
		if letter, ok := s.server.StatusSymbols[r]; ok {
			ranks.WriteRune(letter)
		}
	}
	if ranks.Len() > 0 {
		ch.Ranks[key] = mergeRanks(ch.Ranks[key], ranks.String())
	}
}

// mergeRanks appends letters from add not already in ranks.
func mergeRanks(ranks, add string) string {
	for _, r := range add {
		if !strings.ContainsRune(ranks, r) {
			ranks += string(r)
		}
	}
	return ranks
}

func (d *Dispatcher) onEndWho(m *proto.Message) {
	d.state.sweep()
}

func (d *Dispatcher) onWhoisUser(m *proto.Message) {
	// 311 <me> <nick> <ident> <host> * :<gecos>
	u := d.state.users.Get(m.Param(1))
	if u == nil {
		return
	}
	u.Ident = m.Param(2)
	u.Host = m.Param(3)
	u.Gecos = m.Last()
}

func (d *Dispatcher) onWhoisOper(m *proto.Message) {
	// 313 <me> <nick> :is an IRC operator
	if u := d.state.users.Get(m.Param(1)); u != nil {
		u.IsOper = true
	}
}

func (d *Dispatcher) onAwayReply(m *proto.Message) {
	// 301 <me> <nick> :<message>
	if u := d.state.users.Get(m.Param(1)); u != nil {
		u.IsAway = true
		u.AwayMessage = m.Param(2)
	}
}

func (d *Dispatcher) onUnaway(m *proto.Message) {
	if u := d.state.users.Get(d.state.me); u != nil {
		u.IsAway = false
		u.AwayMessage = ""
	}
}

func (d *Dispatcher) onNowAway(m *proto.Message) {
	if u := d.state.users.Get(d.state.me); u != nil {
		u.IsAway = true
	}
}

func (d *Dispatcher) onAway(m *proto.Message) {
	u := d.source(m)
	if u == nil {
		return
	}
	u.AwayMessage = m.Param(0)
	u.IsAway = u.AwayMessage != ""

	ev := d.event(EventAway, m)
	ev.Nick = u.Nick
	ev.Text = u.AwayMessage
	ev.User = userCopy(u)
	d.emit.Emit(ev)
}

func (d *Dispatcher) onAccount(m *proto.Message) {
	u := d.source(m)
	if u == nil {
		return
	}
	u.Account = m.Param(0)
	if u.Account == "*" {
		u.Account = ""
	}

	ev := d.event(EventAccount, m)
	ev.Nick = u.Nick
	ev.Text = u.Account
	ev.User = userCopy(u)
	d.emit.Emit(ev)
}

func (d *Dispatcher) onChgHost(m *proto.Message) {
	// CHGHOST <new ident> <new host>
	u := d.source(m)
	if u == nil || len(m.Params) < 2 {
		d.discard(m, "missing user or params")
		return
	}
	u.Ident, u.Host = m.Params[0], m.Params[1]

	ev := d.event(EventChangeHost, m)
	ev.Nick = u.Nick
	ev.Text = u.Ident + "@" + u.Host
	ev.User = userCopy(u)
	d.emit.Emit(ev)
}

func (d *Dispatcher) onInvite(m *proto.Message) {
	// INVITE <target> <channel>
	ev := d.event(EventInvite, m)
	ev.Nick = m.Nick()
	ev.Target = m.Param(0)
	ev.Channel = m.Param(1)
	d.emit.Emit(ev)
}

func (d *Dispatcher) onPrivmsg(m *proto.Message) {
	d.message(m, EventChannelMessage, EventUserMessage)
}

func (d *Dispatcher) onNotice(m *proto.Message) {
	d.message(m, EventChannelNotice, EventUserNotice)
}

// message emits PRIVMSG and NOTICE events, splitting out CTCP requests.
func (d *Dispatcher) message(m *proto.Message, toChannel, toUser string) {
	if len(m.Params) < 2 {
		d.discard(m, "missing target or text")
		return
	}
	target, text := m.Params[0], m.Params[1]
	u := d.source(m)

	channel := ""
	if name := strings.TrimLeftFunc(target, func(r rune) bool {
		_, ok := d.state.server.StatusSymbols[r]
		return ok
	}); d.state.server.IsChannel(name) {
		channel = name
	}

	name := toUser
	if channel != "" {
		name = toChannel
	}
	if m.Command == "PRIVMSG" && len(text) > 1 && text[0] == '\x01' {
		name = EventUserCTCP
		if channel != "" {
			name = EventChannelCTCP
		}
		text = strings.TrimSuffix(text[1:], "\x01")
	}

	ev := d.event(name, m)
	ev.Nick = m.Nick()
	ev.Target = target
	ev.Channel = channel
	ev.Text = text
	ev.User = userCopy(u)
	d.emit.Emit(ev)
}

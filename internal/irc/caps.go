package irc

import (
	"encoding/base64"
	"slices"
	"strings"
	"sync"

	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/proto"
	"github.com/emersion/go-sasl"
	"github.com/ergochat/irc-go/ircutils"
)

const (
	capSASL       = "sasl"
	saslMechPlain = "PLAIN"
)

// CapState is a snapshot of capability negotiation.
type CapState struct {
	Init      bool
	Available map[string]string
	Requested []string
	Enabled   []string
	Finished  []string
}

// Negotiator drives CAP LS/REQ/ACK/NAK/END and the SASL PLAIN exchange
// nested inside it. It is driven from the event loop; State may be called
// from anywhere.
type Negotiator struct {
	mu sync.Mutex

	wanted       []string
	saslUser     string
	saslPassword string

	init      bool
	available map[string]string
	lsOrder   []string
	requested []string
	enabled   map[string]bool
	finished  map[string]bool

	saslClient  sasl.Client
	saslStarted bool

	out Sender
	log logger.Logger
}

// NewNegotiator returns a negotiator that will request wanted (plus sasl
// when credentials are given) from servers that offer them.
func NewNegotiator(wanted []string, saslUser, saslPassword string, out Sender, log logger.Logger) *Negotiator {
	n := &Negotiator{
		wanted:       slices.Clone(wanted),
		saslUser:     saslUser,
		saslPassword: saslPassword,
		out:          out,
		log:          log.Named("cap"),
	}
	n.reset()
	return n
}

func (n *Negotiator) reset() {
	n.init = false
	n.available = make(map[string]string)
	n.lsOrder = nil
	n.requested = nil
	n.enabled = make(map[string]bool)
	n.finished = make(map[string]bool)
	n.saslClient = nil
	n.saslStarted = false
}

func (n *Negotiator) desired(name string) bool {
	if name == capSASL {
		return n.saslUser != "" && n.saslPassword != ""
	}
	return slices.Contains(n.wanted, name)
}

// Start resets all negotiation state and opens negotiation with CAP LS 302.
// Called once per connection before NICK/USER.
func (n *Negotiator) Start() error {
	n.mu.Lock()
	n.reset()
	n.init = true
	n.mu.Unlock()

	return n.out.Send(proto.NewMessage("CAP", "LS", "302"))
}

// Active reports whether negotiation is still holding registration open.
func (n *Negotiator) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.init
}

// IsEnabled reports whether the server acknowledged capability name.
func (n *Negotiator) IsEnabled(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled[name]
}

// State returns a copy of the negotiation state.
func (n *Negotiator) State() CapState {
	n.mu.Lock()
	defer n.mu.Unlock()

	st := CapState{
		Init:      n.init,
		Available: make(map[string]string, len(n.available)),
		Requested: slices.Clone(n.requested),
	}
	for k, v := range n.available {
		st.Available[k] = v
	}
	for k := range n.enabled {
		st.Enabled = append(st.Enabled, k)
	}
	for k := range n.finished {
		st.Finished = append(st.Finished, k)
	}
	slices.Sort(st.Enabled)
	slices.Sort(st.Finished)
	return st
}

// HandleCap processes a CAP message: CAP <target> <subcommand> [*] :<caps>
func (n *Negotiator) HandleCap(m *proto.Message) error {
	if len(m.Params) < 3 {
		n.log.Debug("short CAP line ignored", "line", m.String())
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	sub := strings.ToUpper(m.Params[1])
	more := len(m.Params) > 3 && m.Params[2] == "*"
	caps := strings.Fields(m.Last())

	switch sub {
	case "LS":
		return n.onLS(caps, more)
	case "ACK":
		return n.onACK(caps)
	case "NAK":
		return n.onNAK(caps)
	case "NEW":
		return n.onNew(caps)
	case "DEL":
		for _, c := range caps {
			delete(n.available, c)
			delete(n.enabled, c)
			delete(n.finished, c)
		}
		n.log.Info("capabilities removed by server", "caps", caps)
	case "LIST":
		n.log.Debug("enabled capabilities", "caps", caps)
	default:
		n.log.Debug("unknown CAP subcommand", "sub", sub)
	}
	return nil
}

func (n *Negotiator) onLS(caps []string, more bool) error {
	for _, token := range caps {
		name, value, _ := strings.Cut(token, "=")
		if _, seen := n.available[name]; !seen {
			n.lsOrder = append(n.lsOrder, name)
		}
		n.available[name] = value
	}
	if more {
		return nil
	}

	for _, name := range n.lsOrder {
		if n.desired(name) && !n.enabled[name] && !slices.Contains(n.requested, name) {
			n.requested = append(n.requested, name)
		}
	}

	if !n.init {
		return nil
	}
	if len(n.requested) > 0 {
		n.log.Debug("requesting capabilities", "caps", n.requested)
		if err := n.send(proto.NewMessage("CAP", "REQ", strings.Join(n.requested, " ")), true); err != nil {
			return err
		}
	}
	return n.checkComplete()
}

// onNew records capabilities announced by cap-notify. They are not
// requested: enabled and finished are fixed once negotiation has ended.
func (n *Negotiator) onNew(caps []string) error {
	for _, token := range caps {
		name, value, _ := strings.Cut(token, "=")
		n.available[name] = value
	}
	n.log.Info("capabilities offered by server", "caps", caps)
	return nil
}

func (n *Negotiator) onACK(caps []string) error {
	if !n.init {
		n.log.Debug("CAP ACK after negotiation ended, ignoring", "caps", caps)
		return nil
	}

	for _, token := range caps {
		name := strings.TrimPrefix(token, "-")
		n.requested = slices.DeleteFunc(n.requested, func(s string) bool { return s == name })
		if strings.HasPrefix(token, "-") {
			delete(n.enabled, name)
			continue
		}
		n.enabled[name] = true
		if name != capSASL {
			n.finished[name] = true
			continue
		}
		if err := n.beginSASL(); err != nil {
			return err
		}
	}
	return n.checkComplete()
}

func (n *Negotiator) onNAK(caps []string) error {
	if !n.init {
		n.log.Debug("CAP NAK after negotiation ended, ignoring", "caps", caps)
		return nil
	}
	for _, token := range caps {
		name := strings.TrimPrefix(token, "-")
		n.requested = slices.DeleteFunc(n.requested, func(s string) bool { return s == name })
	}
	n.log.Info("capabilities rejected", "caps", caps)
	return n.checkComplete()
}

func (n *Negotiator) beginSASL() error {
	mechs := n.available[capSASL]
	if mechs != "" && !slices.Contains(strings.Split(mechs, ","), saslMechPlain) {
		n.log.Warn("server offers no SASL mechanism we support", "mechanisms", mechs)
		n.finished[capSASL] = true
		return nil
	}

	n.saslClient = sasl.NewPlainClient(n.saslUser, n.saslUser, n.saslPassword)
	n.saslStarted = false
	return n.send(proto.NewMessage("AUTHENTICATE", saslMechPlain), false)
}

// HandleAuthenticate answers a server AUTHENTICATE challenge.
func (n *Negotiator) HandleAuthenticate(m *proto.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.saslClient == nil {
		n.log.Debug("AUTHENTICATE without a SASL exchange in progress")
		return nil
	}

	var (
		resp []byte
		err  error
	)
	var challenge []byte
	if m.Param(0) != "+" {
		challenge, err = base64.StdEncoding.DecodeString(m.Param(0))
	}
	if err == nil {
		if !n.saslStarted {
			_, resp, err = n.saslClient.Start()
			n.saslStarted = true
		} else {
			resp, err = n.saslClient.Next(challenge)
		}
	}
	if err != nil {
		n.log.Error("SASL exchange failed, aborting", err)
		n.saslClient = nil
		n.saslStarted = false
		return n.send(proto.NewMessage("AUTHENTICATE", "*"), false)
	}

	for _, chunk := range ircutils.EncodeSASLResponse(resp) {
		if err := n.send(proto.NewMessage("AUTHENTICATE", chunk), false); err != nil {
			return err
		}
	}
	return nil
}

// HandleSASLResult records the outcome of the SASL exchange from one of
// 900/903 (success) or 902/904/905/906/907 (failure).
func (n *Negotiator) HandleSASLResult(success bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.saslClient = nil
	n.saslStarted = false
	if !success {
		n.log.Warn("SASL authentication failed, continuing without it")
	}
	n.finished[capSASL] = true
	if !n.init {
		return nil
	}
	return n.checkComplete()
}

// HandleUnsupported ends negotiation without CAP END, for servers that do
// not understand CAP at all or registered us without waiting.
func (n *Negotiator) HandleUnsupported() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.init {
		n.log.Debug("server does not support capability negotiation")
	}
	n.init = false
}

// Abort ends negotiation immediately with CAP END.
func (n *Negotiator) Abort() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.init {
		return nil
	}
	n.requested = nil
	return n.finish()
}

func (n *Negotiator) checkComplete() error {
	if !n.init || len(n.requested) > 0 {
		return nil
	}
	if len(n.enabled) != len(n.finished) {
		return nil
	}
	for name := range n.enabled {
		if !n.finished[name] {
			return nil
		}
	}
	return n.finish()
}

func (n *Negotiator) finish() error {
	n.log.Debug("capability negotiation complete")
	err := n.send(proto.NewMessage("CAP", "END"), false)
	n.init = false
	return err
}

func (n *Negotiator) send(m *proto.Message, forceTrailing bool) error {
	if forceTrailing {
		return n.out.SendTrailing(m)
	}
	return n.out.Send(m)
}

package irc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dalnet/ircbot/internal/proto"
)

// Version information (set at build time from main)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// maxLineLength is the RFC 1459 limit including CRLF.
const maxLineLength = 512

// ErrNotConnected is returned when sending without a live session.
var ErrNotConnected = errors.New("not connected")

// Sender queues one outbound message for the current connection.
type Sender interface {
	Send(m *proto.Message) error
	// SendTrailing is Send with the last parameter always written as a
	// trailing parameter.
	SendTrailing(m *proto.Message) error
}

// Client is the handle given to actions: read access to the network state
// through the embedded State and an outbound command API.
type Client struct {
	*State

	caps *Negotiator
	out  Sender
	quit func(reason string) error
}

func newClient(state *State, caps *Negotiator, out Sender, quit func(string) error) *Client {
	return &Client{State: state, caps: caps, out: out, quit: quit}
}

// Caps returns the capability negotiation state.
func (c *Client) Caps() CapState {
	return c.caps.State()
}

// Send sends a command with parameters.
func (c *Client) Send(command string, params ...string) error {
	return c.out.Send(proto.NewMessage(command, params...))
}

// SendRaw parses line and sends it, so a malformed raw line is rejected
// before it reaches the wire.
func (c *Client) SendRaw(line string) error {
	m, err := proto.Parse(line)
	if err != nil {
		return fmt.Errorf("raw line %q: %w", line, err)
	}
	return c.out.Send(m)
}

// Join joins a channel, with an optional key.
func (c *Client) Join(channel, key string) error {
	if key != "" {
		return c.Send("JOIN", channel, key)
	}
	return c.Send("JOIN", channel)
}

// Part leaves a channel.
func (c *Client) Part(channel, reason string) error {
	if reason != "" {
		return c.Send("PART", channel, reason)
	}
	return c.Send("PART", channel)
}

// Mode sends MODE target [modes [args...]].
func (c *Client) Mode(target string, args ...string) error {
	return c.Send("MODE", append([]string{target}, args...)...)
}

// Privmsg sends text to target, split over several lines when it does not
// fit in one.
func (c *Client) Privmsg(target, text string) error {
	return c.sendText("PRIVMSG", target, text)
}

// Notice sends a NOTICE to target, split like Privmsg.
func (c *Client) Notice(target, text string) error {
	return c.sendText("NOTICE", target, text)
}

// Action sends a CTCP ACTION.
func (c *Client) Action(target, text string) error {
	return c.Send("PRIVMSG", target, "\x01ACTION "+text+"\x01")
}

// CTCPReply answers a CTCP request with a NOTICE.
func (c *Client) CTCPReply(target, command, text string) error {
	body := command
	if text != "" {
		body += " " + text
	}
	return c.Send("NOTICE", target, "\x01"+body+"\x01")
}

// ChangeNick asks the server for a new nick.
func (c *Client) ChangeNick(nick string) error {
	return c.Send("NICK", nick)
}

// Who queries WHO for a channel or mask.
func (c *Client) Who(mask string) error {
	return c.Send("WHO", mask)
}

// Names queries NAMES for a channel.
func (c *Client) Names(channel string) error {
	return c.Send("NAMES", channel)
}

// Pong answers a PING.
func (c *Client) Pong(token string) error {
	return c.Send("PONG", token)
}

// Quit disconnects without reconnecting.
func (c *Client) Quit(reason string) error {
	return c.quit(reason)
}

func (c *Client) sendText(command, target, text string) error {
	for _, chunk := range splitText(text, c.textBudget(command, target)) {
		if err := c.out.SendTrailing(proto.NewMessage(command, target, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// textBudget is how many bytes of text fit in one line once the server
// prepends our full hostmask.
func (c *Client) textBudget(command, target string) int {
	c.mu.RLock()
	source := c.me + "!" + strings.Repeat("x", 10) + "@" + strings.Repeat("x", 63)
	if u := c.users.Get(c.me); u != nil && u.Ident != "" && u.Host != "" {
		source = u.Hostmask()
	}
	c.mu.RUnlock()

	overhead := len(":") + len(source) + len(" ") + len(command) + len(" ") + len(target) + len(" :") + len("\r\n")
	return maxLineLength - overhead
}

// splitText splits text into chunks of at most max bytes, preferring to
// break at spaces and never splitting a UTF-8 sequence.
func splitText(text string, max int) []string {
	if max < utf8.UTFMax {
		max = utf8.UTFMax
	}
	var out []string
	for len(text) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if sp := strings.LastIndexByte(text[:cut], ' '); sp > 0 {
			cut = sp
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], " ")
	}
	return append(out, text)
}

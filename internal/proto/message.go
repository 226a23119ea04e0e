// Package proto implements the IRC line protocol: framing raw transport
// chunks into lines, parsing lines into messages and serializing messages
// back into lines.
package proto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
)

var (
	// ErrNoCommand is returned for lines that are empty or carry no verb.
	ErrNoCommand = errors.New("line has no command")
	// ErrMalformedTags is returned when a tag section is not followed by a space.
	ErrMalformedTags = errors.New("tag section not terminated")
	// ErrMalformedPrefix is returned when a prefix is not followed by a space.
	ErrMalformedPrefix = errors.New("prefix not terminated")

	ErrInvalidCommand = errors.New("invalid command")
	ErrInvalidParam   = errors.New("invalid parameter")
	ErrInvalidPrefix  = errors.New("invalid prefix")
	ErrInvalidTagKey  = errors.New("invalid tag key")
)

// ParamError describes a parameter the serializer refused to send.
type ParamError struct {
	Index  int
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %d (%q): %s", e.Index, e.Param, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParam }

// TagKeyError describes a tag key containing illegal characters.
type TagKeyError struct {
	Key string
}

func (e *TagKeyError) Error() string {
	return fmt.Sprintf("tag key %q: only alphanumerics, '-', '/' and '.' allowed", e.Key)
}

func (e *TagKeyError) Unwrap() error { return ErrInvalidTagKey }

// Message is one parsed IRC line.
//
// Params never holds empty strings except an explicit empty trailing
// parameter; only the last parameter may contain spaces.
type Message struct {
	Tags    Tags
	Prefix  string
	Command string
	Params  []string
}

// NewMessage builds an outbound message.
func NewMessage(command string, params ...string) *Message {
	return &Message{
		Command: strings.ToUpper(command),
		Params:  params,
	}
}

// Parse parses a single decoded line. Embedded NUL characters are dropped.
func Parse(line string) (*Message, error) {
	line = strings.ReplaceAll(line, "\x00", "")
	if line == "" {
		return nil, ErrNoCommand
	}

	m := &Message{Tags: Tags{}}
	rest := line

	if rest[0] == '@' {
		tagSegment, after, found := strings.Cut(rest, " ")
		if !found {
			return nil, ErrMalformedTags
		}
		m.Tags = ParseTags(tagSegment[1:])
		rest = strings.TrimLeft(after, " ")
	}

	if strings.HasPrefix(rest, ":") {
		prefixSegment, after, found := strings.Cut(rest, " ")
		if !found {
			return nil, ErrMalformedPrefix
		}
		m.Prefix = prefixSegment[1:]
		rest = strings.TrimLeft(after, " ")
	}

	linePart, trailing, hasTrailing := strings.Cut(rest, " :")

	fields := strings.FieldsFunc(linePart, func(r rune) bool { return r == ' ' })
	if len(fields) == 0 {
		return nil, ErrNoCommand
	}

	m.Command = strings.ToUpper(fields[0])
	if len(fields) > 1 || hasTrailing {
		m.Params = make([]string, 0, len(fields))
		m.Params = append(m.Params, fields[1:]...)
	}
	if hasTrailing {
		m.Params = append(m.Params, trailing)
	}

	return m, nil
}

// Param returns the nth parameter (zero based), or "" if absent.
func (m *Message) Param(n int) string {
	if n < 0 || n >= len(m.Params) {
		return ""
	}
	return m.Params[n]
}

// Last returns the final parameter, or "" if there are none.
func (m *Message) Last() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Source splits the prefix into nick, ident and host. A server prefix comes
// back as the nick with ident and host empty.
func (m *Message) Source() (nick, ident, host string) {
	if m.Prefix == "" {
		return "", "", ""
	}
	nuh, err := ircmsg.ParseNUH(m.Prefix)
	if err != nil {
		return m.Prefix, "", ""
	}
	return nuh.Name, nuh.User, nuh.Host
}

// Nick returns the nickname portion of the prefix.
func (m *Message) Nick() string {
	nick, _, _ := m.Source()
	return nick
}

// FromServer reports whether the prefix names a server rather than a user.
func (m *Message) FromServer() bool {
	if m.Prefix == "" {
		return true
	}
	return !strings.ContainsAny(m.Prefix, "!@") && strings.Contains(m.Prefix, ".")
}

// Time returns the server-time tag if present and valid, otherwise now.
func (m *Message) Time() time.Time {
	if v, ok := m.Tags.Get("time"); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Now()
}

// IsNumeric reports whether the command is a three digit reply code.
func (m *Message) IsNumeric() bool {
	c := m.Command
	return len(c) == 3 && c[0] >= '0' && c[0] <= '9' && c[1] >= '0' && c[1] <= '9' && c[2] >= '0' && c[2] <= '9'
}

// String returns the wire form, or a diagnostic if the message cannot be
// serialized.
func (m *Message) String() string {
	line, err := m.Line()
	if err != nil {
		return fmt.Sprintf("<invalid %s: %v>", m.Command, err)
	}
	return line
}

package proto

import (
	"fmt"
	"strings"
)

// Line serializes the message without the CRLF terminator.
func (m *Message) Line() (string, error) {
	return Encode(m, false)
}

// Format serializes a bare command with parameters.
func Format(command string, params ...string) (string, error) {
	return Encode(&Message{Command: command, Params: params}, false)
}

// Encode serializes m. When forceTrailing is set the final parameter is
// always written with a leading ':'. Illegal characters are rejected rather
// than stripped: they indicate a bug in the caller.
func Encode(m *Message, forceTrailing bool) (string, error) {
	if m.Command == "" || strings.ContainsAny(m.Command, " \r\n\x00") || m.Command[0] == ':' || m.Command[0] == '@' {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, m.Command)
	}
	if strings.ContainsAny(m.Prefix, " \r\n\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrefix, m.Prefix)
	}

	var b strings.Builder
	b.Grow(128)

	if len(m.Tags) > 0 {
		tags, err := m.Tags.encode()
		if err != nil {
			return "", err
		}
		b.WriteByte('@')
		b.WriteString(tags)
		b.WriteByte(' ')
	}

	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}

	b.WriteString(strings.ToUpper(m.Command))

	last := len(m.Params) - 1
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i < last {
			if err := checkMiddle(i, p); err != nil {
				return "", err
			}
			b.WriteString(p)
			continue
		}

		if strings.ContainsAny(p, "\r\n\x00") {
			return "", &ParamError{Index: i, Param: p, Reason: "contains CR, LF or NUL"}
		}
		if forceTrailing || p == "" || strings.Contains(p, " ") || p[0] == ':' {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}

	return strings.ReplaceAll(b.String(), "\x00", ""), nil
}

func checkMiddle(i int, p string) error {
	switch {
	case p == "":
		return &ParamError{Index: i, Param: p, Reason: "empty parameter before the last"}
	case strings.ContainsAny(p, " \r\n\x00"):
		return &ParamError{Index: i, Param: p, Reason: "contains space, CR, LF or NUL"}
	case p[0] == ':':
		return &ParamError{Index: i, Param: p, Reason: "starts with ':'"}
	}
	return nil
}

package proto

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Framer turns transport chunks into decoded lines and lines into wire bytes.
type Framer struct {
	fallback encoding.Encoding
}

// NewFramer returns a framer. charset names an optional legacy encoding
// (e.g. "iso-8859-1") tried for lines that are not valid UTF-8.
func NewFramer(charset string) (*Framer, error) {
	f := &Framer{}
	if charset == "" {
		return f, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	f.fallback = enc
	return f, nil
}

// Split splits a chunk on LF, then on CR, and decodes every non-empty
// segment. It never fails: malformed bytes become U+FFFD.
func (f *Framer) Split(chunk []byte) []string {
	var lines []string
	for _, segment := range bytes.Split(chunk, []byte{'\n'}) {
		for _, part := range bytes.Split(segment, []byte{'\r'}) {
			if len(part) == 0 {
				continue
			}
			lines = append(lines, f.decode(part))
		}
	}
	return lines
}

func (f *Framer) decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if f.fallback != nil {
		if out, err := f.fallback.NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�")))
	}
	return string(out)
}

// Frame terminates an outbound line with CRLF.
func (f *Framer) Frame(line string) []byte {
	out := make([]byte, 0, len(line)+2)
	out = append(out, line...)
	return append(out, '\r', '\n')
}

package proto

import (
	"sort"
	"strings"
)

// TagValue is a single IRCv3 message tag value. HasValue is false for
// flag-style tags written without '='.
type TagValue struct {
	Value    string
	HasValue bool
}

// Tags maps tag keys to their unescaped values.
type Tags map[string]TagValue

// Get returns the value of key and whether the key was present.
func (t Tags) Get(key string) (string, bool) {
	v, ok := t[key]
	return v.Value, ok
}

// Has reports whether key was present, with or without a value.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Set stores key with a value.
func (t Tags) Set(key, value string) {
	t[key] = TagValue{Value: value, HasValue: true}
}

// SetFlag stores key without a value.
func (t Tags) SetFlag(key string) {
	t[key] = TagValue{}
}

// ParseTags decodes the wire form of a tag section, without the leading '@'.
func ParseTags(raw string) Tags {
	tags := make(Tags)
	for _, item := range strings.Split(raw, ";") {
		if item == "" {
			continue
		}
		key, value, hasValue := strings.Cut(item, "=")
		if key == "" {
			continue
		}
		if hasValue {
			tags[key] = TagValue{Value: UnescapeTagValue(value), HasValue: true}
		} else {
			tags[key] = TagValue{}
		}
	}
	return tags
}

// encode writes the tag section without the leading '@'. Keys are sorted so
// output is stable.
func (t Tags) encode() (string, error) {
	keys := make([]string, 0, len(t))
	for k := range t {
		if !validTagKey(k) {
			return "", &TagKeyError{Key: k}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if v := t[k]; v.HasValue {
			b.WriteByte('=')
			b.WriteString(EscapeTagValue(v.Value))
		}
	}
	return b.String(), nil
}

// validTagKey accepts alphanumerics, '-', '/' and '.', with an optional
// leading '+' marking a client-only tag.
func validTagKey(key string) bool {
	key = strings.TrimPrefix(key, "+")
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '/', c == '.':
		default:
			return false
		}
	}
	return true
}

// EscapeTagValue escapes a tag value for transmission.
func EscapeTagValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		switch c := value[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// UnescapeTagValue reverses EscapeTagValue. Unknown escapes drop the
// backslash and a trailing lone backslash is discarded.
func UnescapeTagValue(value string) string {
	if strings.IndexByte(value, '\\') < 0 {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(value) {
			break
		}
		switch value[i] {
		case '\\':
			b.WriteByte('\\')
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

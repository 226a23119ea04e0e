package irc

import (
	"errors"
	"fmt"
	"strings"
)

// ModeType is the parameter behaviour of a channel mode letter, taken from
// the four CHANMODES groups in order.
type ModeType int

const (
	// ModeList takes a parameter on add and remove and holds a set (bans).
	ModeList ModeType = iota
	// ModeParamSetUnset takes a parameter on add and remove (key).
	ModeParamSetUnset
	// ModeParamSet takes a parameter only when set (limit).
	ModeParamSet
	// ModeNoParam never takes a parameter.
	ModeNoParam
)

func (t ModeType) String() string {
	switch t {
	case ModeList:
		return "list"
	case ModeParamSetUnset:
		return "param-set-unset"
	case ModeParamSet:
		return "param-set"
	case ModeNoParam:
		return "no-param"
	}
	return fmt.Sprintf("ModeType(%d)", int(t))
}

const (
	defaultChanTypes = "#"
	defaultChanModes = "b,k,l,imnpst"
	defaultPrefix    = "(ov)@+"
)

// ServerInfo is what the server told us about itself in 004 and 005.
// Fields start at RFC 1459 defaults and are refined token by token.
type ServerInfo struct {
	ServerName    string
	ServerVersion string
	Network       string
	UserModes     string
	ChanTypes     string
	ChanModes     map[rune]ModeType
	StatusModes   map[rune]rune // mode letter -> prefix symbol
	StatusSymbols map[rune]rune // prefix symbol -> mode letter
	StatusOrder   string        // highest rank first
	CaseMapping   string
	RawTokens     map[string]string
}

// NewServerInfo returns a registry holding RFC 1459 defaults.
func NewServerInfo() *ServerInfo {
	s := &ServerInfo{
		ChanTypes:   defaultChanTypes,
		CaseMapping: "rfc1459",
		RawTokens:   make(map[string]string),
	}
	s.setChanModes(defaultChanModes)
	_ = s.setPrefix(defaultPrefix)
	return s
}

// ParseMyInfo handles RPL_MYINFO (004):
// <me> <servername> <version> <usermodes> <chanmodes> ...
func (s *ServerInfo) ParseMyInfo(params []string) {
	if len(params) > 1 {
		s.ServerName = params[1]
	}
	if len(params) > 2 {
		s.ServerVersion = params[2]
	}
	if len(params) > 3 {
		s.UserModes = params[3]
	}
}

// ParseISupport merges one RPL_ISUPPORT (005) line. The first parameter is
// our nick and the last is the human readable trailer.
func (s *ServerInfo) ParseISupport(params []string) error {
	if len(params) < 3 {
		return fmt.Errorf("ISUPPORT with %d params", len(params))
	}

	var errs []error
	for _, token := range params[1 : len(params)-1] {
		if token == "" {
			continue
		}
		if strings.HasPrefix(token, "-") {
			delete(s.RawTokens, strings.ToUpper(token[1:]))
			continue
		}

		key, value, _ := strings.Cut(token, "=")
		key = strings.ToUpper(key)
		s.RawTokens[key] = value

		switch key {
		case "NETWORK":
			s.Network = value
		case "CHANTYPES":
			s.ChanTypes = value
		case "CHANMODES":
			s.setChanModes(value)
		case "PREFIX":
			if err := s.setPrefix(value); err != nil {
				errs = append(errs, err)
			}
		case "CASEMAPPING":
			switch value {
			case "ascii", "rfc1459", "strict-rfc1459":
				s.CaseMapping = value
			default:
				errs = append(errs, fmt.Errorf("unsupported CASEMAPPING %q", value))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *ServerInfo) setChanModes(value string) {
	s.ChanModes = make(map[rune]ModeType)
	groups := strings.Split(value, ",")
	for i, group := range groups {
		if i > int(ModeNoParam) {
			break
		}
		for _, r := range group {
			s.ChanModes[r] = ModeType(i)
		}
	}
}

// setPrefix parses "(ov)@+" and replaces all status mode tables.
func (s *ServerInfo) setPrefix(value string) error {
	modes := make(map[rune]rune)
	symbols := make(map[rune]rune)

	if value != "" {
		if !strings.HasPrefix(value, "(") {
			return fmt.Errorf("malformed PREFIX %q", value)
		}
		letters, syms, ok := strings.Cut(value[1:], ")")
		if !ok {
			return fmt.Errorf("malformed PREFIX %q", value)
		}
		lr, sr := []rune(letters), []rune(syms)
		if len(lr) != len(sr) {
			return fmt.Errorf("malformed PREFIX %q: %d letters, %d symbols", value, len(lr), len(sr))
		}
		for i := range lr {
			modes[lr[i]] = sr[i]
			symbols[sr[i]] = lr[i]
		}
		value = letters
	}

	s.StatusModes = modes
	s.StatusSymbols = symbols
	s.StatusOrder = value
	return nil
}

// ModeType returns the category of a non-status channel mode letter.
func (s *ServerInfo) ModeType(letter rune) (ModeType, bool) {
	t, ok := s.ChanModes[letter]
	return t, ok
}

// IsStatusMode reports whether letter is a membership rank such as 'o'.
func (s *ServerInfo) IsStatusMode(letter rune) bool {
	_, ok := s.StatusModes[letter]
	return ok
}

// IsChannel reports whether name starts with one of the channel types.
func (s *ServerInfo) IsChannel(name string) bool {
	if name == "" {
		return false
	}
	return strings.ContainsRune(s.ChanTypes, []rune(name)[0])
}

// SplitStatus strips leading prefix symbols from a NAMES entry and returns
// the corresponding mode letters.
func (s *ServerInfo) SplitStatus(entry string) (ranks, rest string) {
	var b strings.Builder
	for i, r := range entry {
		letter, ok := s.StatusSymbols[r]
		if !ok {
			return b.String(), entry[i:]
		}
		b.WriteRune(letter)
	}
	return b.String(), ""
}

// HighestRank returns the most senior letter in ranks, or 0.
func (s *ServerInfo) HighestRank(ranks string) rune {
	best, bestIdx := rune(0), -1
	for _, r := range ranks {
		idx := strings.IndexRune(s.StatusOrder, r)
		if idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = r, idx
		}
	}
	return best
}

// Fold case-folds a nick or channel name per CASEMAPPING.
func (s *ServerInfo) Fold(name string) string {
	return foldFunc(s.CaseMapping)(name)
}

func foldFunc(casemapping string) func(string) string {
	var upper rune
	switch casemapping {
	case "ascii":
		upper = 'Z'
	case "strict-rfc1459":
		upper = ']'
	default:
		upper = '^'
	}
	return func(name string) string {
		return strings.Map(func(r rune) rune {
			if (r >= 'A' && r <= 'Z') || (r >= '[' && r <= upper) {
				return r + 32
			}
			return r
		}, name)
	}
}

func (s *ServerInfo) clone() ServerInfo {
	c := *s
	c.ChanModes = make(map[rune]ModeType, len(s.ChanModes))
	for k, v := range s.ChanModes {
		c.ChanModes[k] = v
	}
	c.StatusModes = make(map[rune]rune, len(s.StatusModes))
	for k, v := range s.StatusModes {
		c.StatusModes[k] = v
	}
	c.StatusSymbols = make(map[rune]rune, len(s.StatusSymbols))
	for k, v := range s.StatusSymbols {
		c.StatusSymbols[k] = v
	}
	c.RawTokens = make(map[string]string, len(s.RawTokens))
	for k, v := range s.RawTokens {
		c.RawTokens[k] = v
	}
	return c
}

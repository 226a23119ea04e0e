package irc

import (
	"strings"
)

// ModeDelta is one mode letter that changed state.
type ModeDelta struct {
	Mode     rune
	Param    string
	HasParam bool
}

func (d ModeDelta) String() string {
	if d.HasParam {
		return string(d.Mode) + " " + d.Param
	}
	return string(d.Mode)
}

// ModeChange is the net effect of one MODE line. Skipped holds status
// changes aimed at nicks that are not in the channel.
type ModeChange struct {
	Added   []ModeDelta
	Removed []ModeDelta
	Skipped []ModeDelta
}

// Empty reports whether the MODE line changed nothing.
func (c *ModeChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// String renders the change in MODE syntax, e.g. "+o-b alice x!*@*".
func (c *ModeChange) String() string {
	var flags strings.Builder
	var params []string
	write := func(sign byte, deltas []ModeDelta) {
		if len(deltas) == 0 {
			return
		}
		flags.WriteByte(sign)
		for _, d := range deltas {
			flags.WriteRune(d.Mode)
			if d.HasParam {
				params = append(params, d.Param)
			}
		}
	}
	write('+', c.Added)
	write('-', c.Removed)
	return strings.Join(append([]string{flags.String()}, params...), " ")
}

type modeKind int

const (
	kindStatus modeKind = iota
	kindList
	kindParamSetUnset
	kindParamSet
	kindNoParam
)

type plannedMode struct {
	letter   rune
	add      bool
	kind     modeKind
	param    string
	hasParam bool
}

// ApplyModeString applies a channel MODE to ch using the categories in
// info. modes is the first mode argument; params are the rest. A parameter
// that itself starts with '+' or '-' after the current group's parameters
// are consumed opens a further group.
//
// The line is planned before anything is touched. An unknown letter or a
// missing required parameter returns nil and leaves ch unchanged: the
// caller has lost sync and should re-query the channel.
func ApplyModeString(ch *Channel, info *ServerInfo, modes string, params []string) *ModeChange {
	plan, ok := planModes(info, modes, params)
	if !ok {
		return nil
	}

	change := &ModeChange{}
	for _, p := range plan {
		delta := ModeDelta{Mode: p.letter, Param: p.param, HasParam: p.hasParam}
		var changed bool

		switch p.kind {
		case kindStatus:
			key := info.Fold(p.param)
			if !ch.HasMember(key) {
				change.Skipped = append(change.Skipped, delta)
				continue
			}
			changed = applyStatus(ch, key, p.letter, p.add)
		case kindList:
			changed = applyList(ch, p.letter, p.param, p.add)
		case kindParamSetUnset, kindParamSet:
			changed = applyParam(ch, p.letter, p.param, p.add)
		case kindNoParam:
			changed = applyFlag(ch, p.letter, p.add)
		}

		if !changed {
			continue
		}
		if p.add {
			change.Added = append(change.Added, delta)
		} else {
			change.Removed = append(change.Removed, delta)
		}
	}
	return change
}

func planModes(info *ServerInfo, modes string, params []string) ([]plannedMode, bool) {
	var plan []plannedMode
	next := 0
	group := modes

	for {
		add := true
		for _, r := range group {
			switch r {
			case '+':
				add = true
				continue
			case '-':
				add = false
				continue
			}

			p := plannedMode{letter: r, add: add}
			var needsParam bool
			if info.IsStatusMode(r) {
				p.kind, needsParam = kindStatus, true
			} else {
				typ, ok := info.ModeType(r)
				if !ok {
					return nil, false
				}
				switch typ {
				case ModeList:
					p.kind, needsParam = kindList, true
				case ModeParamSetUnset:
					p.kind, needsParam = kindParamSetUnset, true
				case ModeParamSet:
					p.kind, needsParam = kindParamSet, add
				case ModeNoParam:
					p.kind = kindNoParam
				}
			}

			if needsParam {
				if next >= len(params) {
					return nil, false
				}
				p.param, p.hasParam = params[next], true
				next++
			}
			plan = append(plan, p)
		}

		if next < len(params) && isModeGroup(params[next]) {
			group = params[next]
			next++
			continue
		}
		return plan, true
	}
}

func isModeGroup(s string) bool {
	return len(s) > 1 && (s[0] == '+' || s[0] == '-')
}

func applyStatus(ch *Channel, key string, letter rune, add bool) bool {
	ranks := ch.Ranks[key]
	has := strings.ContainsRune(ranks, letter)
	switch {
	case add && !has:
		ch.Ranks[key] = ranks + string(letter)
		return true
	case !add && has:
		ch.Ranks[key] = strings.ReplaceAll(ranks, string(letter), "")
		return true
	}
	return false
}

func applyList(ch *Channel, letter rune, entry string, add bool) bool {
	v, ok := ch.Modes[letter]
	if add {
		if !ok || v.List == nil {
			v = ModeValue{List: make(map[string]struct{})}
		}
		if _, exists := v.List[entry]; exists {
			return false
		}
		v.List[entry] = struct{}{}
		ch.Modes[letter] = v
		return true
	}

	if _, exists := v.List[entry]; !ok || !exists {
		return false
	}
	delete(v.List, entry)
	if len(v.List) == 0 {
		delete(ch.Modes, letter)
	}
	return true
}

func applyParam(ch *Channel, letter rune, param string, add bool) bool {
	v, ok := ch.Modes[letter]
	if add {
		if ok && v.Param == param {
			return false
		}
		ch.Modes[letter] = ModeValue{Param: param}
		return true
	}
	if !ok {
		return false
	}
	delete(ch.Modes, letter)
	return true
}

func applyFlag(ch *Channel, letter rune, add bool) bool {
	_, ok := ch.Modes[letter]
	switch {
	case add && !ok:
		ch.Modes[letter] = ModeValue{}
		return true
	case !add && ok:
		delete(ch.Modes, letter)
		return true
	}
	return false
}

// ApplyUserModes applies a user MODE string to the current set of user
// mode letters and returns the new set and whether it changed.
func ApplyUserModes(current, modes string) (string, bool) {
	add := true
	out := current
	for _, r := range modes {
		switch {
		case r == '+':
			add = true
		case r == '-':
			add = false
		case add && !strings.ContainsRune(out, r):
			out += string(r)
		case !add:
			out = strings.ReplaceAll(out, string(r), "")
		}
	}
	return out, out != current
}

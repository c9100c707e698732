// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package atom parses dependency strings into structured predicates over
// package records and implements the version/tag/revision comparison
// lattice used to order candidates for the same key.
package atom

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Op is a version-comparison operator carried by an Atom.
type Op int

// The operator set
const (
	OpNone Op = iota
	OpEq
	OpEqStar
	OpTilde
	OpGT
	OpGTE
	OpLT
	OpLTE
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpEqStar:
		return "=*"
	case OpTilde:
		return "~"
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	default:
		return ""
	}
}

// UseDep is a single required or forbidden USE flag ("[+a,-b]").
type UseDep struct {
	Flag    string
	Enabled bool
}

// Atom is a structured dependency predicate: category/name (the Key) plus
// zero or more qualifiers,
type Atom struct {
	Category string
	Name     string

	Conflict bool // leading "!"

	Op      Op
	Version string

	Tag string

	Slot string

	Revision    int64
	HasRevision bool // revision was stated via "~rev", separate from Version's own "-r<n>"

	UseDeps []UseDep

	// Or holds the alternatives of an "or"-group ("a;b;c?" resolves to the
	// first sub-atom whose resolution succeeds). A plain atom has a nil
	// Or; a group atom has Key/Op/etc. zeroed and Or populated in request
	// order.
	Or []*Atom
}

// Key returns the "category/name" identity, the lookup key modulo
// version/slot.
func (a *Atom) Key() string {
	return a.Category + "/" + a.Name
}

// IsGroup reports whether this Atom represents an "or"-group rather than a
// single predicate.
func (a *Atom) IsGroup() bool {
	return len(a.Or) > 0
}

// String renders the atom back to its grammar form, primarily for error
// messages and cache keys.
func (a *Atom) String() string {
	if a.IsGroup() {
		parts := make([]string, len(a.Or))
		for i, sub := range a.Or {
			parts[i] = sub.String()
		}
		return strings.Join(parts, ";") + "?"
	}

	var b strings.Builder
	if a.Conflict {
		b.WriteByte('!')
	}
	if a.Op != OpNone {
		b.WriteString(a.Op.String())
	}
	b.WriteString(a.Key())
	if a.Version != "" {
		b.WriteByte('-')
		b.WriteString(a.Version)
	}
	if a.Slot != "" {
		b.WriteByte(':')
		b.WriteString(a.Slot)
	}
	if a.HasRevision {
		fmt.Fprintf(&b, "~%d", a.Revision)
	}
	if a.Tag != "" {
		b.WriteByte('#')
		b.WriteString(a.Tag)
	}
	if len(a.UseDeps) > 0 {
		b.WriteByte('[')
		for i, ud := range a.UseDeps {
			if i > 0 {
				b.WriteByte(',')
			}
			if ud.Enabled {
				b.WriteByte('+')
			} else {
				b.WriteByte('-')
			}
			b.WriteString(ud.Flag)
		}
		b.WriteByte(']')
	}
	return b.String()
}

// ErrMalformedAtom is wrapped with the offending fragment by Parse.
var ErrMalformedAtom = errors.New("malformed atom")

// Parse parses a single dependency string, which may be an "or"-group
// ("a;b;c?"), into a structured Atom.
func Parse(s string) (*Atom, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.Wrap(ErrMalformedAtom, "empty atom")
	}

	if strings.Contains(s, ";") {
		trimmed := strings.TrimSuffix(s, "?")
		fields := strings.Split(trimmed, ";")
		group := &Atom{Or: make([]*Atom, 0, len(fields))}
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			sub, err := parseSingle(f)
			if err != nil {
				return nil, err
			}
			group.Or = append(group.Or, sub)
		}
		if len(group.Or) == 0 {
			return nil, errors.Wrapf(ErrMalformedAtom, "empty or-group %q", s)
		}
		return group, nil
	}

	return parseSingle(s)
}

// parseSingle parses one non-group atom:
//
//	["!"] [op] category "/" name ["-" version] [":" slot] ["~" revision] ["#" tag] ["[" usedeps "]"]
func parseSingle(s string) (*Atom, error) {
	scanner := newScanner(s)
	a := &Atom{}

	if scanner.consumeByte('!') {
		a.Conflict = true
	}

	a.Op = scanner.consumeOp()

	body, useClause, err := splitUseDeps(scanner.rest())
	if err != nil {
		return nil, errors.Wrapf(err, "atom %q", s)
	}
	if useClause != "" {
		deps, err := parseUseDeps(useClause)
		if err != nil {
			return nil, errors.Wrapf(err, "atom %q", s)
		}
		a.UseDeps = deps
	}

	body, tag := splitTrailing(body, '#')
	body, revStr := splitTrailing(body, '~')
	body, slot := splitTrailing(body, ':')

	a.Tag = tag
	a.Slot = slot
	if revStr != "" {
		rev, ok := parseUint(revStr)
		if !ok {
			return nil, errors.Wrapf(ErrMalformedAtom, "bad revision %q in atom %q", revStr, s)
		}
		a.Revision = rev
		a.HasRevision = true
	}

	cat, name, version, err := splitKeyVersion(body, a.Op != OpNone)
	if err != nil {
		return nil, errors.Wrapf(err, "atom %q", s)
	}
	a.Category = cat
	a.Name = name
	a.Version = version

	// "=V*" carries its star at the end of the version, not after the "=".
	if a.Op == OpEq && strings.HasSuffix(a.Version, "*") {
		a.Op = OpEqStar
	}

	if a.Op != OpNone && a.Version == "" {
		return nil, errors.Wrapf(ErrMalformedAtom, "operator %s requires a version in atom %q", a.Op, s)
	}

	return a, nil
}

// splitTrailing splits off a trailing "<sep><rest>" clause, scanning from
// the right so that "-" inside the version itself (e.g. "1.2-r0" handled by
// the atom package's own version run splitting) is not mistaken for the
// slot/tag/revision separators, which never appear inside version text.
func splitTrailing(s string, sep byte) (head, tail string) {
	idx := strings.LastIndexByte(s, sep)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

// splitKeyVersion splits "category/name[-version]" into its parts. A
// version is split off only when an operator was given; without one the
// whole remainder after the first "/" is the name (a bare atom like
// "cat/name" never carries a version). With an operator, the version
// starts after the last "-" that is followed by a digit.
func splitKeyVersion(body string, hasOp bool) (category, name, version string, err error) {
	slash := strings.IndexByte(body, '/')
	if slash < 0 {
		return "", "", "", errors.Wrapf(ErrMalformedAtom, "missing category/name separator in %q", body)
	}
	category = body[:slash]
	rest := body[slash+1:]
	if category == "" || rest == "" {
		return "", "", "", errors.Wrapf(ErrMalformedAtom, "empty category or name in %q", body)
	}

	if !hasOp {
		name = rest
		return category, name, "", nil
	}

	// With an operator present, the version is required: split at the last
	// "-" that is immediately followed by a digit.
	for i := len(rest) - 2; i > 0; i-- {
		if rest[i] == '-' && isDigit(rest[i+1]) {
			return category, rest[:i], rest[i+1:], nil
		}
	}
	return "", "", "", errors.Wrapf(ErrMalformedAtom, "operator present but no version found in %q", rest)
}

func splitUseDeps(s string) (body, useClause string, err error) {
	if !strings.HasSuffix(s, "]") {
		if strings.Contains(s, "[") {
			return "", "", errors.Wrap(ErrMalformedAtom, "unterminated use-dep clause")
		}
		return s, "", nil
	}
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return "", "", errors.Wrap(ErrMalformedAtom, "unmatched ']' in atom")
	}
	return s[:open], s[open+1 : len(s)-1], nil
}

func parseUseDeps(clause string) ([]UseDep, error) {
	fields := strings.Split(clause, ",")
	deps := make([]UseDep, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		switch f[0] {
		case '+':
			deps = append(deps, UseDep{Flag: f[1:], Enabled: true})
		case '-':
			deps = append(deps, UseDep{Flag: f[1:], Enabled: false})
		default:
			return nil, errors.Wrapf(ErrMalformedAtom, "use-dep %q missing +/- sign", f)
		}
	}
	return deps, nil
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package atom

import "strings"

// Candidate is the subset of a package record's scope the matcher needs;
// callers adapt their own record type to it rather than this package
// depending on pkgrecord, keeping the comparison lattice free of the data
// model.
type Candidate struct {
	Category string
	Name     string
	Version  string
	Tag      string
	Slot     string
	// EnabledUse is the candidate's enabled USE flag set, used to satisfy
	// an atom's UseDeps.
	EnabledUse map[string]bool
}

// Matches implements the operator semantics for a candidate
// against this atom. It never consults masking — that is the mask engine's
// job — only the atom's own predicate.
func (a *Atom) Matches(c Candidate) bool {
	if a.IsGroup() {
		for _, sub := range a.Or {
			if sub.Matches(c) {
				return true
			}
		}
		return false
	}

	if a.Category != c.Category || a.Name != c.Name {
		return false
	}

	if a.Slot != "" && a.Slot != c.Slot {
		return false
	}

	if a.HasRevision && a.Revision != Revision(c.Version) {
		return false
	}

	if a.Tag != "" && a.Tag != c.Tag {
		return false
	}

	if !matchUseDeps(a.UseDeps, c.EnabledUse) {
		return false
	}

	return matchOp(a.Op, a.Version, c.Version)
}

func matchUseDeps(want []UseDep, have map[string]bool) bool {
	for _, ud := range want {
		if have[ud.Flag] != ud.Enabled {
			return false
		}
	}
	return true
}

// matchOp applies the operator semantics for a candidate
// version cv against a requested version v under operator op.
func matchOp(op Op, v, cv string) bool {
	switch op {
	case OpNone:
		return true
	case OpEq:
		return CompareVersions(v, cv) == 0 && Revision(v) == Revision(cv)
	case OpEqStar:
		return matchPrefix(v, cv)
	case OpTilde:
		// Match ignoring revision, but candidate revision must be >= the
		// revision stated in v.
		vBase, vRev := splitVersionRevision(v)
		cBase, cRev := splitVersionRevision(cv)
		return CompareVersions(vBase, cBase) == 0 && cRev >= vRev
	case OpGT:
		return CompareVersions(cv, v) > 0
	case OpGTE:
		return CompareVersions(cv, v) >= 0
	case OpLT:
		return CompareVersions(cv, v) < 0
	case OpLTE:
		return CompareVersions(cv, v) <= 0
	default:
		return false
	}
}

// matchPrefix implements "=V*": a printable prefix match on the candidate
// version string. v may still carry its trailing "*".
func matchPrefix(v, cv string) bool {
	return strings.HasPrefix(cv, strings.TrimSuffix(v, "*"))
}

// splitVersionRevision splits a printable version into its base and
// revision for "~" (tilde, ignore-revision) comparison.
func splitVersionRevision(v string) (base string, rev int64) {
	if idx := strings.LastIndex(v, "-r"); idx >= 0 {
		if n, ok := parseUint(v[idx+2:]); ok {
			return v[:idx], n
		}
	}
	return v, 0
}

// Compare orders two candidates of the same key under the full tuple
// (version, tag, revision) used by the resolver's tie-break cascade.
// requestedTag, when non-empty, changes tag preference from "empty wins" to
// plain lexicographic (the candidates are assumed already filtered to an
// exact tag match in that case).
func Compare(a, b Candidate, requestedTag string) int {
	if c := CompareVersions(a.Version, b.Version); c != 0 {
		return c
	}
	if c := CompareTagsForSelection(a.Tag, b.Tag, requestedTag); c != 0 {
		return c
	}
	return CompareRevisions(Revision(a.Version), Revision(b.Version))
}

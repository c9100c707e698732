// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pathindex provides a typed radix-tree wrapper used for two things
// the core does by path prefix: CONFIG_PROTECT/CONFIG_PROTECT_MASK prefix
// matching and owner lookups keyed by filesystem path (the content_index).
//
// Grounded on golang-dep's typed_radix.go, which wraps github.com/armon/go-radix
// the same way to avoid type assertions scattered through calling code;
// this package generalizes the wrapped value from golang-dep's pathDeducer
// to a prefix-list membership test and, separately, to a path->owner set.
package pathindex

import "github.com/armon/go-radix"

// PrefixSet is a typed radix tree over a boolean membership value, used for
// CONFIG_PROTECT / CONFIG_PROTECT_MASK prefix lists.
type PrefixSet struct {
	t *radix.Tree
}

// NewPrefixSet builds a PrefixSet from a list of path prefixes.
func NewPrefixSet(prefixes ...string) PrefixSet {
	ps := PrefixSet{t: radix.New()}
	for _, p := range prefixes {
		ps.t.Insert(p, true)
	}
	return ps
}

// Matches reports whether path has any inserted prefix as a path prefix.
func (ps PrefixSet) Matches(path string) bool {
	if ps.t == nil {
		return false
	}
	_, _, ok := ps.t.LongestPrefix(path)
	return ok
}

// Len returns the number of prefixes in the set.
func (ps PrefixSet) Len() int {
	if ps.t == nil {
		return 0
	}
	return ps.t.Len()
}

// OwnerIndex is a typed radix tree from filesystem path to the set of
// package IDs that own it, backing content_index. Package IDs are
// kept as plain owner strings (the callers use "pkg:<n>" tokens) so this
// package stays free of a dependency on pkgrecord.
type OwnerIndex struct {
	t *radix.Tree
}

// NewOwnerIndex returns an empty OwnerIndex.
func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{t: radix.New()}
}

// AddOwner records owner as an owner of path, returning the new owner count
// for that path.
func (oi *OwnerIndex) AddOwner(path, owner string) int {
	owners, _ := oi.Owners(path)
	for _, o := range owners {
		if o == owner {
			return len(owners)
		}
	}
	owners = append(owners, owner)
	oi.t.Insert(path, owners)
	return len(owners)
}

// RemoveOwner drops owner from path's owner set, deleting the path entry
// entirely once its owner set becomes empty. Reports the remaining owner
// count.
func (oi *OwnerIndex) RemoveOwner(path, owner string) int {
	owners, ok := oi.Owners(path)
	if !ok {
		return 0
	}
	out := owners[:0]
	for _, o := range owners {
		if o != owner {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		oi.t.Delete(path)
		return 0
	}
	oi.t.Insert(path, out)
	return len(out)
}

// Owners returns the current owner set of path.
func (oi *OwnerIndex) Owners(path string) ([]string, bool) {
	v, ok := oi.t.Get(path)
	if !ok {
		return nil, false
	}
	return v.([]string), true
}

// Len returns the number of distinct owned paths.
func (oi *OwnerIndex) Len() int {
	return oi.t.Len()
}

// LongestOwnedPrefix finds the longest inserted path that is a prefix of
// path, together with that path's owners.
func (oi *OwnerIndex) LongestOwnedPrefix(path string) (string, []string, bool) {
	p, v, ok := oi.t.LongestPrefix(path)
	if !ok {
		return "", nil, false
	}
	return p, v.([]string), true
}

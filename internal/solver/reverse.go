// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/resolver"
)

// ReverseOptions are the per-run flags of a reverse solve.
type ReverseOptions struct {
	// Deep enables the orphan-detection fallback: when a level empties out,
	// compute the closure of each seed id's own dependencies resolved
	// within the installed registry (not repositories) and add those whose
	// reverse_dep_index is a subset of the already-in-tree set.
	Deep bool
	// Protected ids are never added to any level, regardless of reverse
	// dependency membership.
	Protected map[pkgrecord.ID]bool
}

// Reverse starts from seeds and builds the removal order (deepest first)
// by walking reverse_dep_index level by level.
func Reverse(reg *installed.Registry, seeds []pkgrecord.ID, opts ReverseOptions) *Plan {
	inTree := make(map[pkgrecord.ID]bool, len(seeds))
	var levels [][]pkgrecord.ID

	level := append([]pkgrecord.ID(nil), seeds...)
	for _, id := range level {
		inTree[id] = true
	}
	levels = append(levels, level)

	for len(level) > 0 {
		next := nextLevel(reg, level, inTree, opts)
		if len(next) == 0 && opts.Deep {
			next = orphanLevel(reg, level, inTree, opts)
		}
		if len(next) == 0 {
			break
		}
		for _, id := range next {
			inTree[id] = true
		}
		levels = append(levels, next)
		level = next
	}

	dedupeUpward(levels)

	plan := &Plan{Matches: make(map[int][]Match)}
	for depth, ids := range levels {
		for _, id := range ids {
			plan.Matches[depth] = append(plan.Matches[depth], Match{Result: resolver.Result{PackageID: id}})
		}
	}
	return plan
}

func nextLevel(reg *installed.Registry, level []pkgrecord.ID, inTree map[pkgrecord.ID]bool, opts ReverseOptions) []pkgrecord.ID {
	seen := make(map[pkgrecord.ID]bool)
	var out []pkgrecord.ID
	for _, id := range level {
		for _, dep := range reg.ReverseDeps(id) {
			if inTree[dep] || seen[dep] || opts.Protected[dep] {
				continue
			}
			if rec, ok := reg.Record(dep); ok && rec.System && !reg.CanRemoveRoot(dep) {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
		}
	}
	return out
}

// orphanLevel computes the closure of each id's own dependencies resolved
// within the installed registry, keeping only those whose entire
// reverse_dep_index is already contained in the in-tree set (i.e. nothing
// outside the removal tree still needs them).
func orphanLevel(reg *installed.Registry, level []pkgrecord.ID, inTree map[pkgrecord.ID]bool, opts ReverseOptions) []pkgrecord.ID {
	seen := make(map[pkgrecord.ID]bool)
	var out []pkgrecord.ID

	for _, id := range level {
		rec, ok := reg.Record(id)
		if !ok {
			continue
		}
		for _, dep := range rec.Dependencies {
			if dep.Kind == pkgrecord.DepBuild {
				continue
			}
			a, err := atom.Parse(dep.Atom)
			if err != nil || a.Conflict {
				continue
			}
			for _, candID := range matchInstalledAll(reg, a) {
				if inTree[candID] || seen[candID] || opts.Protected[candID] {
					continue
				}
				if isOrphan(reg, candID, inTree) {
					seen[candID] = true
					out = append(out, candID)
				}
			}
		}
	}
	return out
}

func isOrphan(reg *installed.Registry, id pkgrecord.ID, inTree map[pkgrecord.ID]bool) bool {
	for _, dep := range reg.ReverseDeps(id) {
		if !inTree[dep] {
			return false
		}
	}
	return true
}

func matchInstalledAll(reg *installed.Registry, a *atom.Atom) []pkgrecord.ID {
	var out []pkgrecord.ID
	for _, rec := range reg.All() {
		cand := atom.Candidate{
			Category:   rec.Scope.Category,
			Name:       rec.Scope.Name,
			Version:    rec.Scope.Version,
			Tag:        rec.Scope.Tag,
			Slot:       rec.Scope.Slot,
			EnabledUse: rec.Build.Use,
		}
		if a.Matches(cand) {
			out = append(out, rec.PackageID)
		}
	}
	return out
}

// dedupeUpward removes, for each level from deepest to shallowest, any id
// that also appears at a shallower level,
func dedupeUpward(levels [][]pkgrecord.ID) {
	// Walk deepest to shallowest, stripping any id already placed at a
	// shallower depth.
	placedAt := make(map[pkgrecord.ID]int)
	for d := 0; d < len(levels); d++ {
		for _, id := range levels[d] {
			if _, ok := placedAt[id]; !ok {
				placedAt[id] = d
			}
		}
	}
	for d := len(levels) - 1; d >= 0; d-- {
		filtered := levels[d][:0]
		for _, id := range levels[d] {
			if placedAt[id] == d {
				filtered = append(filtered, id)
			}
		}
		levels[d] = filtered
	}
}

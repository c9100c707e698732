// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package solver is the forward and reverse dependency solvers: a
// worklist-driven, no-backtrack tree build over the atom resolver and the
// installed registry.
//
// Grounded on golang-dep/solver.go's worklist-driven solve loop (there, a
// backtracking CDCL stack; here, a simpler depth-layered, no-backtrack
// forward tree) and golang-dep/satisfy.go's per-atom
// constraint-check accumulation style, generalized from "collect
// satisfiability errors" to "collect conflicts and not-found atoms".
package solver

import (
	"strconv"

	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/resolver"
	"github.com/pkg/errors"
)

func idString(id pkgrecord.ID) string {
	return strconv.FormatInt(int64(id), 10)
}

// ErrMissingDependencies is returned by Forward when one or more
// dependency atoms could not be resolved; the partial tree built so far is
// returned alongside it, since the caller must not install from it, even
// though it is not empty.
var ErrMissingDependencies = errors.New("unresolved dependencies")

// Root is one resolved starting point for a forward solve.
type Root struct {
	PackageID    pkgrecord.ID
	RepositoryID pkgrecord.RepositoryID
}

// ForwardOptions are the per-run flags of a forward solve.
type ForwardOptions struct {
	EmptyDeps bool // treat all dependencies as unsatisfied
	DeepDeps  bool // re-visit an installed dependency whose version disagrees with the best candidate
	UseFilter bool // dedupe across multiple roots of one invocation via a shared match cache
}

// Match is one resolved node of the forward tree.
type Match struct {
	Atom   string
	Result resolver.Result
	Parent pkgrecord.ID // zero for a root
}

// Plan is the output of a forward (or reverse) solve.
type Plan struct {
	// Matches maps depth to the matches resolved at that depth; higher
	// depth installs first.
	Matches map[int][]Match
	// Conflicts holds installed ids found to conflict with something
	// pulled into the tree; logically depth 0's companion set, since
	// index 0 carries conflicts, for removal.
	Conflicts []pkgrecord.ID
	// NotFound holds dependency atoms that failed to resolve.
	NotFound []string
}

// Adjacency renders the layered match map as a plain parent->children
// adjacency list, so a caller can walk the tree without depth bookkeeping
// of its own.
func (p *Plan) Adjacency() map[pkgrecord.ID][]pkgrecord.ID {
	adj := make(map[pkgrecord.ID][]pkgrecord.ID)
	for _, matches := range p.Matches {
		for _, m := range matches {
			if m.Parent == 0 {
				continue
			}
			adj[m.Parent] = append(adj[m.Parent], m.Result.PackageID)
		}
	}
	return adj
}

type workItem struct {
	depth  int
	atom   string
	parent pkgrecord.ID
}

// Forward builds a layered install tree over a set of already-resolved
// roots.
func Forward(res *resolver.Resolver, reg *installed.Registry, roots []Root, opts ForwardOptions) (*Plan, error) {
	plan := &Plan{Matches: make(map[int][]Match)}

	treeCache := make(map[string]bool)
	matchCache := make(map[string]resolver.Result)

	// Roots arrive pre-resolved (package_id, repository_id), not as atom
	// strings, so they're recorded directly rather than pushed through
	// atom resolution; only their dependency sets flow through the
	// worklist below.
	var stack []workItem
	for _, root := range roots {
		rec, ok := res.RecordFor(resolver.Result{PackageID: root.PackageID, RepositoryID: root.RepositoryID})
		if !ok {
			plan.NotFound = append(plan.NotFound, string(root.RepositoryID)+"/"+idString(root.PackageID))
			continue
		}
		m := Match{Atom: rec.Scope.Key(), Result: resolver.Result{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}
		plan.Matches[0] = append(plan.Matches[0], m)
		pushDependencies(&stack, rec, root.PackageID, 1, reg, res, opts)
	}

	var missing bool
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		a, err := atom.Parse(item.atom)
		if err != nil {
			plan.NotFound = append(plan.NotFound, item.atom)
			missing = true
			continue
		}

		if a.Conflict {
			if id, ok := matchInstalledConflict(reg, a); ok {
				plan.Conflicts = append(plan.Conflicts, id)
			}
			continue
		}

		if opts.UseFilter {
			if treeCache[item.atom] {
				continue
			}
			treeCache[item.atom] = true
		}

		var result resolver.Result
		if cached, ok := matchCache[item.atom]; ok && opts.UseFilter {
			result = cached
		} else {
			r, err := res.Resolve(item.atom, "", nil, true)
			if err != nil {
				plan.NotFound = append(plan.NotFound, item.atom)
				missing = true
				continue
			}
			result = r
			if opts.UseFilter {
				matchCache[item.atom] = result
			}
		}

		rec, ok := res.RecordFor(result)
		if !ok {
			plan.NotFound = append(plan.NotFound, item.atom)
			missing = true
			continue
		}

		plan.Matches[item.depth] = append(plan.Matches[item.depth], Match{Atom: item.atom, Result: result, Parent: item.parent})

		pushDependencies(&stack, rec, result.PackageID, item.depth+1, reg, res, opts)
		pushLibraryBreakage(&stack, reg, rec, item.depth+1)
	}

	if missing {
		return plan, ErrMissingDependencies
	}
	return plan, nil
}

func pushDependencies(stack *[]workItem, rec *pkgrecord.Record, parent pkgrecord.ID, depth int, reg *installed.Registry, res *resolver.Resolver, opts ForwardOptions) {
	for _, dep := range rec.Dependencies {
		if dep.Kind == pkgrecord.DepBuild {
			continue
		}
		if !opts.EmptyDeps && isSatisfiedByInstalled(reg, res, dep.Atom, opts) {
			continue
		}
		*stack = append(*stack, workItem{depth: depth, atom: dep.Atom, parent: parent})
	}
	for _, c := range rec.Conflicts {
		*stack = append(*stack, workItem{depth: depth, atom: c, parent: parent})
	}
}

// pushLibraryBreakage implements escalation: when rec (the
// candidate just selected) changes what it needs relative to the installed
// record at the same (key, slot), anything installed that needs a now-
// absent SONAME is re-enqueued so its own resolution is reconsidered.
func pushLibraryBreakage(stack *[]workItem, reg *installed.Registry, rec *pkgrecord.Record, depth int) {
	old, ok := reg.ByKeySlot(rec.Scope.Key(), rec.Scope.Slot)
	if !ok {
		return
	}
	if old.Scope.Version == rec.Scope.Version && old.Scope.Tag == rec.Scope.Tag && old.Scope.Revision == rec.Scope.Revision {
		return
	}

	newNeeded := make(map[string]bool, len(rec.Needed))
	for _, n := range rec.Needed {
		newNeeded[n.SONAME] = true
	}

	for _, n := range old.Needed {
		if newNeeded[n.SONAME] {
			continue
		}
		for _, ownerID := range reg.OwnersOfSONAME(n.SONAME) {
			owner, ok := reg.Record(ownerID)
			if !ok {
				continue
			}
			*stack = append(*stack, workItem{depth: depth, atom: owner.Scope.Key() + ":" + owner.Scope.Slot, parent: rec.PackageID})
		}
	}
}

// isSatisfiedByInstalled reports whether some installed record already
// satisfies depAtom. With opts.DeepDeps set, satisfaction additionally
// requires the installed record's version/tag/revision to agree with the
// repositories' current best candidate for depAtom: a disagreement means
// the dependency is re-pushed onto the worklist for re-resolution even
// though something installed technically matches the atom's constraints.
func isSatisfiedByInstalled(reg *installed.Registry, res *resolver.Resolver, depAtom string, opts ForwardOptions) bool {
	a, err := atom.Parse(depAtom)
	if err != nil {
		return false
	}

	var installedMatch *pkgrecord.InstalledRecord
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
			installedMatch = rec
			break
		}
	}
	if installedMatch == nil {
		return false
	}
	if !opts.DeepDeps || res == nil {
		return true
	}

	result, err := res.Resolve(depAtom, "", nil, true)
	if err != nil {
		return true
	}
	best, ok := res.RecordFor(result)
	if !ok {
		return true
	}
	return best.Scope.Version == installedMatch.Scope.Version &&
		best.Scope.Tag == installedMatch.Scope.Tag &&
		best.Scope.Revision == installedMatch.Scope.Revision
}

func matchInstalledConflict(reg *installed.Registry, a *atom.Atom) (pkgrecord.ID, bool) {
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
			return rec.PackageID, true
		}
	}
	return 0, false
}

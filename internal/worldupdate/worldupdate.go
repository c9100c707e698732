// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worldupdate is the world-update planner: for
// every installed package, recompute its closure against current
// repositories, including cross-branch migration, and produce the three
// buckets a caller needs — packages to update, packages removed upstream
// (orphan-removal candidates), and branch migrations to persist before the
// executor runs.
//
// Grounded on golang-dep/status.go's runStatusAll: "for every project in
// the lock, compare against what the solver would pick now" is the direct
// model, generalized from a VCS-revision diff to a resolved-revision /
// branch-replay comparison.
package worldupdate

import (
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/resolver"
	"github.com/ashang/entropy/internal/solver"
	"github.com/Masterminds/semver"
)

// BranchFilter narrows the set of branches a resolution will accept to
// those satisfying a semver-style constraint expression (e.g. `>=1.0.0`),
// by mapping each
// candidate branch name to a pseudo-version via Versions before checking
// it against Constraint. A branch absent from Versions, or one that fails
// to parse as a semver version, is never accepted.
type BranchFilter struct {
	Constraint semver.Constraint
	Versions   map[string]string // branch name -> semver version string
}

// Accepts filters branches down to those BranchFilter allows. A nil
// *BranchFilter accepts every branch unfiltered.
func (f *BranchFilter) Accepts(branches []string) []string {
	if f == nil || f.Constraint == nil {
		return branches
	}
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		vs, ok := f.Versions[b]
		if !ok {
			continue
		}
		v, err := semver.NewVersion(vs)
		if err != nil {
			continue
		}
		if ok, _ := f.Constraint.Check(v); ok {
			out = append(out, b)
		}
	}
	return out
}

// Options configures one world-update planning pass.
type Options struct {
	// TargetBranches are the branches a resolution may draw from, before
	// BranchFilter narrows them further. An empty slice means "whatever
	// branches the repository carries" (no restriction).
	TargetBranches []string
	Branches       *BranchFilter
	UseCache       bool
}

func (o Options) resolveBranches() []string {
	return o.Branches.Accepts(o.TargetBranches)
}

// UpdateCandidate is one installed package whose current repository best
// candidate disagrees with what is installed.
type UpdateCandidate struct {
	Installed *pkgrecord.InstalledRecord
	Resolved  resolver.Result
}

// BranchMigration records that an installed package's target branch has
// moved, to be persisted before the executor runs.
type BranchMigration struct {
	Installed *pkgrecord.InstalledRecord
	From      string
	To        string
}

// Plan is the output of a world-update pass. An installed package that
// resolves to nothing is in RemovedUpstream only; otherwise it is in
// Updates when its version, tag or revision differs, in BranchMigrations
// when its branch differs, in both when both differ, and in neither when
// nothing changed.
type Plan struct {
	Updates          []UpdateCandidate
	RemovedUpstream  []pkgrecord.ID
	BranchMigrations []BranchMigration
}

// Compute runs one world-update pass over every record currently in reg.
func Compute(reg *installed.Registry, res *resolver.Resolver, opts Options) *Plan {
	plan := &Plan{}
	branches := opts.resolveBranches()

	for _, rec := range reg.All() {
		result, err := res.Resolve(rec.Scope.Key(), rec.Scope.Slot, branches, opts.UseCache)
		if err != nil {
			plan.RemovedUpstream = append(plan.RemovedUpstream, rec.PackageID)
			continue
		}

		resolvedRec, ok := res.RecordFor(result)
		if !ok {
			plan.RemovedUpstream = append(plan.RemovedUpstream, rec.PackageID)
			continue
		}

		if resolvedRec.Scope.Branch != rec.Scope.Branch {
			plan.BranchMigrations = append(plan.BranchMigrations, BranchMigration{
				Installed: rec,
				From:      rec.Scope.Branch,
				To:        resolvedRec.Scope.Branch,
			})
		}

		if resolvedRec.Scope.Revision != rec.Scope.Revision || rec.Scope.Version != resolvedRec.Scope.Version || rec.Scope.Tag != resolvedRec.Scope.Tag {
			plan.Updates = append(plan.Updates, UpdateCandidate{Installed: rec, Resolved: result})
			continue
		}
	}

	return plan
}

// OrphanRemovalPlan runs the reverse solver over every package marked
// "removed upstream" with Deep disabled: only direct reverse-dependency
// closure, no transitive orphan rediscovery.
func OrphanRemovalPlan(reg *installed.Registry, removedUpstream []pkgrecord.ID) *solver.Plan {
	return solver.Reverse(reg, removedUpstream, solver.ReverseOptions{Deep: false})
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package entropy wires the core's leaf packages (components, leaves
// first) into the two top-level operations the CLI layer consumes:
// resolve+install and resolve+remove, plus the world-update driver. It
// owns the session object, repository readers, installed registry,
// resolver, fetcher and executor for one process invocation — a single
// session object that owns these plus the mask cache, in place of any
// ambient globals.
//
// Grounded on golang-dep/ensure.go and golang-dep/remove.go: both are thin
// orchestration over "load project state, run the solver, apply the
// result", the same shape Install and Remove follow here over the core's
// own solver and executor.
package entropy

import (
	"context"
	"time"

	"github.com/ashang/entropy/internal/cachemgr"
	"github.com/ashang/entropy/internal/config"
	"github.com/ashang/entropy/internal/fetch"
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/lockfile"
	"github.com/ashang/entropy/internal/mask"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/registry"
	"github.com/ashang/entropy/internal/resolver"
	"github.com/ashang/entropy/internal/sink"
	"github.com/ashang/entropy/internal/solver"
	"github.com/ashang/entropy/internal/txexec"
	"github.com/ashang/entropy/internal/worldupdate"
	"github.com/pkg/errors"
)

// Sentinel error kinds defined at the Core level, beside the ones
// individual packages already define (resolver.ErrNotFound,
// installed.ErrRegistryMissing, lockfile.ErrLocked,
// solver.ErrMissingDependencies). No Core method returns ErrNoMatch: an
// atom that resolves to nothing surfaces from PlanInstall and Install as a
// wrapped resolver.ErrNotFound.
var (
	// ErrNoMatch mirrors exit code 127: nothing to do, no atom
	// in a request resolved to anything.
	ErrNoMatch = errors.New("not_matched: no candidate for the requested atom")
)

// mirrorSource adapts the configured repository list to fetch.MirrorSource.
type mirrorSource struct {
	byRepo map[pkgrecord.RepositoryID][]string
}

func (m mirrorSource) Mirrors(repo pkgrecord.RepositoryID) []string {
	return m.byRepo[repo]
}

// Core is the session facade: one instance per process invocation, built
// once by Open and torn down by Close.
type Core struct {
	Session   *config.Session
	Cache     *cachemgr.Manager
	Installed *installed.Registry
	Resolver  *resolver.Resolver
	Fetcher   *fetch.Fetcher
	Executor  *txexec.Executor
	Lock      *lockfile.Lock
	Events    *sink.Bus

	readers []*registry.Reader
}

// Open builds a Core for one process invocation: opens every configured
// repository's index (read-only, shared connection pool),
// the installed registry, the resolver cache, and the transaction
// executor, then returns the assembled Core ready for Install/Remove/
// WorldUpdate. The caller is responsible for calling Close.
func Open(sess *config.Session, repoConfigs []config.RepositoryConfig, policy *mask.Policy, maskCacheThreshold int, execCfg txexec.Config) (*Core, error) {
	cache, err := cachemgr.Open(sess.CacheDir, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache manager")
	}

	reg, err := installed.Open(sess.InstalledDBPath, true)
	if err != nil {
		return nil, errors.Wrap(err, "opening installed registry")
	}

	mirrors := mirrorSource{byRepo: make(map[pkgrecord.RepositoryID][]string, len(repoConfigs))}
	repos := make([]resolver.Repository, 0, len(repoConfigs))
	readers := make([]*registry.Reader, 0, len(repoConfigs))

	for _, rc := range repoConfigs {
		path := sess.RootDir + "/repositories/" + string(rc.ID) + "/index.db"
		rd, err := registry.Open(path, rc.ID)
		if err != nil {
			closeAll(readers)
			reg.Close()
			return nil, errors.Wrapf(err, "opening repository index %s", rc.ID)
		}
		readers = append(readers, rd)
		mirrors.byRepo[rc.ID] = append([]string{rc.BaseURL}, rc.Mirrors...)
		repos = append(repos, resolver.Repository{
			ID:       rc.ID,
			Reader:   rd,
			Mask:     mask.NewEngine(policy, maskCacheThreshold),
			Priority: rc.Priority,
		})
	}

	res := resolver.New(repos, cache)
	fetcher := fetch.New(mirrors, sess.PackagesDir, 0, 0)
	executor := txexec.New(execCfg, fetcher, reg)

	return &Core{
		Session:   sess,
		Cache:     cache,
		Installed: reg,
		Resolver:  res,
		Fetcher:   fetcher,
		Executor:  executor,
		Lock:      lockfile.New(sess.LockFilePath),
		Events:    sink.NewBus(),
		readers:   readers,
	}, nil
}

func closeAll(readers []*registry.Reader) {
	for _, rd := range readers {
		rd.Close()
	}
}

// Close releases the repository indices and the installed registry. It
// does not release the process lock; Install and Remove release it before
// they return.
func (c *Core) Close() error {
	closeAll(c.readers)
	return c.Installed.Close()
}

// InstallPlan is the outcome of resolving a set of user atoms into a
// forward solve, ready to be applied by Apply.
type InstallPlan struct {
	Plan  *solver.Plan
	Roots []solver.Root
}

// PlanInstall resolves each requested atom and runs the
// forward solver over the results, without touching the
// filesystem or the installed registry.
func (c *Core) PlanInstall(atoms []string, opts solver.ForwardOptions) (*InstallPlan, error) {
	roots := make([]solver.Root, 0, len(atoms))
	for _, a := range atoms {
		res, err := c.Resolver.Resolve(a, "", nil, true)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %q", a)
		}
		roots = append(roots, solver.Root{PackageID: res.PackageID, RepositoryID: res.RepositoryID})
	}

	plan, err := solver.Forward(c.Resolver, c.Installed, roots, opts)
	if err != nil {
		return &InstallPlan{Plan: plan, Roots: roots}, err
	}
	return &InstallPlan{Plan: plan, Roots: roots}, nil
}

// Install runs PlanInstall and then applies it: conflicts are removed
// first (seed scenario 4 — "a/b-1 is removed before c/d-1
// installs"), then every match installs in descending depth order so a
// dependency always lands before its dependent ("depth(B) >
// depth(A)" invariant). Applying the plan runs under the process-wide
// exclusive lock; PlanInstall runs before the lock is taken.
func (c *Core) Install(ctx context.Context, atoms []string, opts solver.ForwardOptions) ([]*txexec.Result, error) {
	ip, err := c.PlanInstall(atoms, opts)
	if err != nil {
		return nil, err
	}
	return c.applyInstallPlan(ctx, ip.Plan)
}

func (c *Core) applyInstallPlan(ctx context.Context, plan *solver.Plan) ([]*txexec.Result, error) {
	var results []*txexec.Result

	err := c.Lock.TryAcquire()
	if err != nil {
		return nil, err
	}
	defer c.Lock.Release()

	for _, id := range plan.Conflicts {
		res := c.Executor.RemoveOne(ctx, id)
		results = append(results, res)
		c.publishResult(res, true)
		if res.Err != nil {
			return results, errors.Wrapf(res.Err, "removing conflicting package during step %s", res.FailedStep)
		}
	}

	maxDepth := 0
	for depth := range plan.Matches {
		if depth > maxDepth {
			maxDepth = depth
		}
	}

	for depth := maxDepth; depth >= 0; depth-- {
		for _, m := range plan.Matches[depth] {
			rec, ok := c.Resolver.RecordFor(m.Result)
			if !ok {
				continue
			}
			res := c.Executor.InstallOne(ctx, rec)
			results = append(results, res)
			c.publishResult(res, false)
			if res.Err != nil {
				return results, errors.Wrapf(res.Err, "installing package %d at step %s", res.ID, res.FailedStep)
			}
		}
	}

	return results, nil
}

func (c *Core) publishResult(res *txexec.Result, removal bool) {
	if res.Err != nil {
		c.Events.Publish(sink.Event{Kind: sink.StepFailed, PackageID: res.ID, Step: res.FailedStep.String(), Err: res.Err})
		return
	}
	kind := sink.Installed
	if removal {
		kind = sink.Removed
	}
	c.Events.Publish(sink.Event{Kind: kind, PackageID: res.ID})
}

// Remove runs the reverse solver over seeds and applies the
// resulting removal order: depth 0 holds the requested seeds and higher
// depths hold their successive reverse dependents, so a dependent must be
// removed before the thing it depends on — the same depth-descending walk
// Install uses, applied to the removal tree instead of the install tree.
// The operation runs under the process-wide exclusive lock.
func (c *Core) Remove(ctx context.Context, seeds []pkgrecord.ID, opts solver.ReverseOptions) (*solver.Plan, []*txexec.Result, error) {
	plan := solver.Reverse(c.Installed, seeds, opts)

	if err := c.Lock.TryAcquire(); err != nil {
		return plan, nil, err
	}
	defer c.Lock.Release()

	maxDepth := 0
	for depth := range plan.Matches {
		if depth > maxDepth {
			maxDepth = depth
		}
	}

	var results []*txexec.Result
	for depth := maxDepth; depth >= 0; depth-- {
		for _, m := range plan.Matches[depth] {
			res := c.Executor.RemoveOne(ctx, m.Result.PackageID)
			results = append(results, res)
			c.publishResult(res, true)
			if res.Err != nil {
				return plan, results, errors.Wrapf(res.Err, "removing package %d at step %s", res.ID, res.FailedStep)
			}
		}
	}
	return plan, results, nil
}

// WorldUpdate runs the world-update planner and, for every
// branch migration the plan reports, persists the new active branch
// atomically before returning — "after the planner accepts the plan,
// before the executor runs" is satisfied by the caller then driving the
// returned plan's Updates through Install/Remove.
func (c *Core) WorldUpdate(opts worldupdate.Options) (*worldupdate.Plan, error) {
	plan := worldupdate.Compute(c.Installed, c.Resolver, opts)
	for _, mig := range plan.BranchMigrations {
		if err := c.Installed.Update(func(txn *installed.Txn) error {
			return txn.RecordBranchMigration(installed.BranchMigration{
				Key:       mig.Installed.Scope.Key(),
				Slot:      mig.Installed.Scope.Slot,
				From:      mig.From,
				To:        mig.To,
				Timestamp: time.Now().Unix(),
			})
		}); err != nil {
			return plan, errors.Wrap(err, "persisting branch migration")
		}
	}
	return plan, nil
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolver is the atom resolver: given an atom string
// (possibly an "or"-group), an optional slot, and an optional accepted-
// branch set, pick the single best candidate across every configured
// repository, applying masking and a two-tier cache.
//
// Grounded on golang-dep/sm_cache.go's smcache: a cache decorator layered
// in front of a SourceManager-like lookup, generalized from "sorted
// version list per project" to "resolved candidate per (atom, slot,
// branches) key", with a second, persistent tier behind it keyed by
// repository snapshot checksum step 5.
package resolver

import (
	"bytes"
	"encoding/gob"
	"sort"
	"strings"
	"sync"

	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/cachemgr"
	"github.com/ashang/entropy/internal/mask"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/registry"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no repository contributes a surviving
// candidate for the requested atom.
var ErrNotFound = errors.New("no candidate found")

// Repository is one configured repository the resolver may draw
// candidates from, in configuration order (the order the final tie break
// falls back on).
type Repository struct {
	ID       pkgrecord.RepositoryID
	Reader   *registry.Reader
	Mask     *mask.Engine
	Priority int
}

// Result is the outcome of a successful resolution.
type Result struct {
	PackageID    pkgrecord.ID
	RepositoryID pkgrecord.RepositoryID
}

type cacheKey struct {
	atom     string
	slot     string
	branches string
}

func makeCacheKey(atomStr, slot string, branches []string) cacheKey {
	sorted := append([]string(nil), branches...)
	sort.Strings(sorted)
	return cacheKey{atom: atomStr, slot: slot, branches: strings.Join(sorted, ",")}
}

func (k cacheKey) persistentName(checksums string) string {
	return checksums + "|" + k.atom + "|" + k.slot + "|" + k.branches
}

// Resolver evaluates atoms against a fixed, ordered set of repositories.
type Resolver struct {
	repos []Repository
	cache *cachemgr.Manager

	mu        sync.Mutex
	inProcess map[cacheKey]Result
}

// New returns a Resolver over repos, in configuration order. cache may be
// nil to disable the persistent tier.
func New(repos []Repository, cache *cachemgr.Manager) *Resolver {
	return &Resolver{repos: repos, cache: cache, inProcess: make(map[cacheKey]Result)}
}

// InvalidateAll drops both cache tiers and every repository's mask cache;
// call it whenever a repository is replaced.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.inProcess = make(map[cacheKey]Result)
	r.mu.Unlock()

	for _, repo := range r.repos {
		if repo.Mask != nil {
			repo.Mask.InvalidateAll()
		}
	}
	if r.cache != nil {
		r.cache.InvalidatePrefix("")
	}
}

// RecordFor looks up the full record a Result refers to, letting callers
// (the forward solver, the transaction executor) avoid holding their own
// copy of the repository list.
func (r *Resolver) RecordFor(res Result) (*pkgrecord.Record, bool) {
	for _, repo := range r.repos {
		if repo.ID == res.RepositoryID {
			return repo.Reader.Record(res.PackageID)
		}
	}
	return nil, false
}

func (r *Resolver) snapshotChecksums() string {
	parts := make([]string, len(r.repos))
	for i, repo := range r.repos {
		parts[i] = string(repo.ID) + ":" + repo.Reader.Checksum()
	}
	return strings.Join(parts, ",")
}

// Resolve turns an atom string into a single winning candidate, including
// "or"-group resolution to the first sub-atom whose resolution succeeds.
func (r *Resolver) Resolve(atomStr, slot string, branches []string, useCache bool) (Result, error) {
	a, err := atom.Parse(atomStr)
	if err != nil {
		return Result{}, err
	}

	if a.IsGroup() {
		var lastErr error
		for _, sub := range a.Or {
			res, err := r.resolveAtom(sub, slot, branches, useCache)
			if err == nil {
				return res, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = ErrNotFound
		}
		return Result{}, lastErr
	}

	return r.resolveAtom(a, slot, branches, useCache)
}

func (r *Resolver) resolveAtom(a *atom.Atom, slot string, branches []string, useCache bool) (Result, error) {
	key := makeCacheKey(a.String(), slot, branches)

	if useCache {
		r.mu.Lock()
		if res, ok := r.inProcess[key]; ok {
			r.mu.Unlock()
			return res, nil
		}
		r.mu.Unlock()

		if r.cache != nil {
			name := key.persistentName(r.snapshotChecksums())
			if b, ok := r.cache.Get(name); ok {
				var res Result
				if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&res); err == nil {
					r.mu.Lock()
					r.inProcess[key] = res
					r.mu.Unlock()
					return res, nil
				}
			}
		}
	}

	res, err := r.compute(a, slot, branches)
	if err != nil {
		return Result{}, err
	}

	if useCache {
		r.mu.Lock()
		r.inProcess[key] = res
		r.mu.Unlock()

		if r.cache != nil {
			var buf bytes.Buffer
			if gob.NewEncoder(&buf).Encode(res) == nil {
				name := key.persistentName(r.snapshotChecksums())
				r.cache.Put(name, buf.Bytes())
			}
		}
	}

	return res, nil
}

type candidate struct {
	repo Repository
	rec  *pkgrecord.Record
}

func (r *Resolver) compute(a *atom.Atom, slot string, branches []string) (Result, error) {
	branchSet := make(map[string]bool, len(branches))
	for _, b := range branches {
		branchSet[b] = true
	}

	best := make(map[pkgrecord.RepositoryID]candidate)

	for _, repo := range r.repos {
		recs := repo.Reader.ByAtom(a)
		var bestRec *pkgrecord.Record
		for _, rec := range recs {
			if slot != "" && rec.Scope.Slot != slot {
				continue
			}
			if len(branchSet) > 0 && !branchSet[rec.Scope.Branch] {
				continue
			}
			if repo.Mask != nil {
				if visible, _ := repo.Mask.Evaluate(rec, repo.ID); !visible {
					continue
				}
			}
			if bestRec == nil || atom.Compare(candOf(rec), candOf(bestRec), a.Tag) > 0 {
				bestRec = rec
			}
		}
		if bestRec != nil {
			best[repo.ID] = candidate{repo: repo, rec: bestRec}
		}
	}

	if len(best) == 0 {
		return Result{}, ErrNotFound
	}
	if len(best) == 1 {
		for _, c := range best {
			return Result{PackageID: c.rec.PackageID, RepositoryID: c.repo.ID}, nil
		}
	}

	all := make([]candidate, 0, len(best))
	for _, repo := range r.repos {
		if c, ok := best[repo.ID]; ok {
			all = append(all, c)
		}
	}

	winner := pickWinner(all, a.Tag)
	return Result{PackageID: winner.rec.PackageID, RepositoryID: winner.repo.ID}, nil
}

// pickWinner runs the tie-break cascade across repositories: maximum
// version, then maximum tag, then maximum revision, then configuration
// order: the first-listed repository wins. Repository.Priority is not
// consulted.
func pickWinner(cands []candidate, requestedTag string) candidate {
	cands = filterMax(cands, func(c candidate) string { return c.rec.Scope.Version },
		func(a, b string) int { return atom.CompareVersions(a, b) })
	if len(cands) == 1 {
		return cands[0]
	}

	cands = filterMaxFunc(cands, func(a, b candidate) int {
		return atom.CompareTagsForSelection(a.rec.Scope.Tag, b.rec.Scope.Tag, requestedTag)
	})
	if len(cands) == 1 {
		return cands[0]
	}

	cands = filterMaxFunc(cands, func(a, b candidate) int {
		return atom.CompareRevisions(atom.Revision(a.rec.Scope.Version), atom.Revision(b.rec.Scope.Version))
	})
	if len(cands) == 1 {
		return cands[0]
	}

	return cands[0]
}

func filterMax(cands []candidate, key func(candidate) string, cmp func(a, b string) int) []candidate {
	return filterMaxFunc(cands, func(a, b candidate) int { return cmp(key(a), key(b)) })
}

func filterMaxFunc(cands []candidate, cmp func(a, b candidate) int) []candidate {
	var out []candidate
	for _, c := range cands {
		if len(out) == 0 {
			out = append(out, c)
			continue
		}
		d := cmp(c, out[0])
		switch {
		case d > 0:
			out = []candidate{c}
		case d == 0:
			out = append(out, c)
		}
	}
	return out
}

func candOf(rec *pkgrecord.Record) atom.Candidate {
	return atom.Candidate{
		Category:   rec.Scope.Category,
		Name:       rec.Scope.Name,
		Version:    rec.Scope.Version,
		Tag:        rec.Scope.Tag,
		Slot:       rec.Scope.Slot,
		EnabledUse: rec.Build.Use,
	}
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mask is the mask engine: given a candidate record
// and the repository it came from, decide whether it is visible to the
// resolver, and why.
//
// Grounded on golang-dep/selection.go's plain layered-filter style: that
// filtering logic is bare control flow with no third-party dependency,
// which is why this package is too.
package mask

import (
	"sync"

	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/pkgrecord"
)

// Reason enumerates why Evaluate decided as it did.
type Reason int

const (
	ReasonVisible Reason = iota
	ReasonLiveMask
	ReasonLiveUnmask
	ReasonUserMask
	ReasonUserUnmask
	ReasonRepoMask
	ReasonLicenseMask
	ReasonSystemKeyword
	ReasonRepoAtomWildcard
	ReasonRepoAtomKeyword
	ReasonUserKeywordFile
	ReasonRepoUniversalKeyword
	ReasonRepoPackageSetting
	ReasonCompletelyMasked
)

func (r Reason) String() string {
	switch r {
	case ReasonVisible:
		return "visible"
	case ReasonLiveMask:
		return "live_mask"
	case ReasonLiveUnmask:
		return "live_unmask"
	case ReasonUserMask:
		return "user_mask"
	case ReasonUserUnmask:
		return "user_unmask"
	case ReasonRepoMask:
		return "repo_mask"
	case ReasonLicenseMask:
		return "license_mask"
	case ReasonSystemKeyword:
		return "system_keyword"
	case ReasonRepoAtomWildcard:
		return "repo_atom_wildcard"
	case ReasonRepoAtomKeyword:
		return "repo_atom_keyword"
	case ReasonUserKeywordFile:
		return "user_keyword_file"
	case ReasonRepoUniversalKeyword:
		return "repo_universal_keyword"
	case ReasonRepoPackageSetting:
		return "repo_package_setting"
	case ReasonCompletelyMasked:
		return "completely_masked"
	default:
		return "unknown"
	}
}

// keywordOverride is one atom-scoped keyword grant, shared by the
// per-repository and user-level keyword override lists.
type keywordOverride struct {
	Atom     *atom.Atom
	Keywords []string // "*" grants any keyword
}

// Policy holds the configured inputs the engine consults. internal/config
// fills the user mask/unmask lists from package.mask.toml and the keyword
// and license settings from package.keywords.toml; the live masks/unmasks
// and the repository-side mask lists (RepoMaskAtoms) are set by the caller.
type Policy struct {
	LiveMasks   map[pkgrecord.ID]bool
	LiveUnmasks map[pkgrecord.ID]bool

	UserMaskAtoms   []*atom.Atom
	UserUnmaskAtoms []*atom.Atom

	RepoMaskAtoms map[pkgrecord.RepositoryID][]*atom.Atom

	LicenseMaskSet map[string]bool

	AcceptedKeywords map[string]bool

	RepoAtomKeywords map[pkgrecord.RepositoryID][]keywordOverride
	UserKeywordFile  []keywordOverride
	RepoUniversal    map[pkgrecord.RepositoryID][]string
	RepoPackage      map[pkgrecord.RepositoryID][]keywordOverride
}

// NewPolicy returns an empty Policy with its maps initialized.
func NewPolicy() *Policy {
	return &Policy{
		LiveMasks:        make(map[pkgrecord.ID]bool),
		LiveUnmasks:      make(map[pkgrecord.ID]bool),
		RepoMaskAtoms:    make(map[pkgrecord.RepositoryID][]*atom.Atom),
		LicenseMaskSet:   make(map[string]bool),
		AcceptedKeywords: make(map[string]bool),
		RepoAtomKeywords: make(map[pkgrecord.RepositoryID][]keywordOverride),
		RepoUniversal:    make(map[pkgrecord.RepositoryID][]string),
		RepoPackage:      make(map[pkgrecord.RepositoryID][]keywordOverride),
	}
}

// AddRepoAtomKeyword registers a per-repository per-atom keyword override.
func (p *Policy) AddRepoAtomKeyword(repo pkgrecord.RepositoryID, a *atom.Atom, keywords []string) {
	p.RepoAtomKeywords[repo] = append(p.RepoAtomKeywords[repo], keywordOverride{Atom: a, Keywords: keywords})
}

// AddUserKeywordFile registers a user-level keyword override, applicable
// regardless of which repository the candidate came from.
func (p *Policy) AddUserKeywordFile(a *atom.Atom, keywords []string) {
	p.UserKeywordFile = append(p.UserKeywordFile, keywordOverride{Atom: a, Keywords: keywords})
}

// AddRepoPackageSetting registers a per-repository per-package keyword
// setting sourced from the repository's own configuration.
func (p *Policy) AddRepoPackageSetting(repo pkgrecord.RepositoryID, a *atom.Atom, keywords []string) {
	p.RepoPackage[repo] = append(p.RepoPackage[repo], keywordOverride{Atom: a, Keywords: keywords})
}

type cacheKey struct {
	id   pkgrecord.ID
	repo pkgrecord.RepositoryID
}

type cacheEntry struct {
	visible bool
	reason  Reason
}

// Engine evaluates Policy against candidate records, caching decisions
// until the cache is explicitly invalidated or grows past its threshold,
// at which point it is cleared wholesale rather than evicted entry by
// entry.
type Engine struct {
	policy    *Policy
	threshold int

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// NewEngine returns an Engine over policy. The cache holds at most
// threshold entries: it is cleared when it is full and a new decision is
// added.
func NewEngine(policy *Policy, threshold int) *Engine {
	return &Engine{policy: policy, threshold: threshold, cache: make(map[cacheKey]cacheEntry)}
}

// InvalidateAll clears the decision cache, to be called whenever a
// repository snapshot is replaced.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[cacheKey]cacheEntry)
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

func anyMatches(atoms []*atom.Atom, cand atom.Candidate) bool {
	for _, a := range atoms {
		if a.Matches(cand) {
			return true
		}
	}
	return false
}

func matchingKeywords(overrides []keywordOverride, cand atom.Candidate) ([]string, bool) {
	for _, ov := range overrides {
		if ov.Atom.Matches(cand) {
			return ov.Keywords, true
		}
	}
	return nil, false
}

func grantsKeyword(keywords []string, recordKeywords []string) bool {
	for _, k := range keywords {
		if k == "*" {
			return true
		}
		for _, rk := range recordKeywords {
			if k == rk {
				return true
			}
		}
	}
	return false
}

// Evaluate decides the visibility of rec as contributed by repo, walking
// the layers below in their exact order.
func (e *Engine) Evaluate(rec *pkgrecord.Record, repo pkgrecord.RepositoryID) (bool, Reason) {
	key := cacheKey{id: rec.PackageID, repo: repo}

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return entry.visible, entry.reason
	}
	e.mu.Unlock()

	visible, reason := e.evaluate(rec, repo)

	e.mu.Lock()
	if len(e.cache) >= e.threshold {
		e.cache = make(map[cacheKey]cacheEntry)
	}
	e.cache[key] = cacheEntry{visible: visible, reason: reason}
	e.mu.Unlock()

	return visible, reason
}

func (e *Engine) evaluate(rec *pkgrecord.Record, repo pkgrecord.RepositoryID) (bool, Reason) {
	p := e.policy
	cand := candOf(rec)

	// 1. Live masks/unmasks.
	if p.LiveMasks[rec.PackageID] {
		return false, ReasonLiveMask
	}
	if p.LiveUnmasks[rec.PackageID] {
		return true, ReasonLiveUnmask
	}

	// 2. User package.mask.
	if anyMatches(p.UserMaskAtoms, cand) {
		return false, ReasonUserMask
	}

	// 3. User package.unmask.
	if anyMatches(p.UserUnmaskAtoms, cand) {
		return true, ReasonUserUnmask
	}

	// 4. Repository-side mask list.
	if anyMatches(p.RepoMaskAtoms[repo], cand) {
		return false, ReasonRepoMask
	}

	// 5. License mask.
	for _, lic := range rec.Build.License {
		if p.LicenseMaskSet[lic] {
			return false, ReasonLicenseMask
		}
	}

	// 6. Keyword policy, sub-order a-f.
	for _, kw := range rec.Build.Keywords {
		if p.AcceptedKeywords[kw] {
			return true, ReasonSystemKeyword
		}
	}
	if kws, ok := matchingKeywords(p.RepoAtomKeywords[repo], cand); ok {
		for _, k := range kws {
			if k == "*" {
				return true, ReasonRepoAtomWildcard
			}
		}
		if grantsKeyword(kws, rec.Build.Keywords) {
			return true, ReasonRepoAtomKeyword
		}
	}
	if kws, ok := matchingKeywords(p.UserKeywordFile, cand); ok {
		if grantsKeyword(kws, rec.Build.Keywords) {
			return true, ReasonUserKeywordFile
		}
	}
	if grantsKeyword(p.RepoUniversal[repo], rec.Build.Keywords) {
		return true, ReasonRepoUniversalKeyword
	}
	if kws, ok := matchingKeywords(p.RepoPackage[repo], cand); ok {
		if grantsKeyword(kws, rec.Build.Keywords) {
			return true, ReasonRepoPackageSetting
		}
	}

	return false, ReasonCompletelyMasked
}

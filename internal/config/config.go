// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config is the session object and TOML configuration layer: a
// small struct built once per process invocation that carries the
// resolved paths, the active branch, and the *Loggers, plus the readers
// for the four on-disk TOML documents the core depends on. Replacing
// ambient globals with one explicit struct, from which entropy.Open
// derives every component's paths, is the whole point of the type.
//
// Grounded on golang-dep/context.go's Ctx for the session-object shape
// and golang-dep/toml.go's tomlMapper for the query-based extraction with
// a sticky first-error: each Load* function here stops at the first
// malformed document and reports which one, rather than piling up
// unrelated parse errors from documents it never needed to read.
package config

import (
	"io/ioutil"
	"path/filepath"

	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/mask"
	"github.com/ashang/entropy/internal/pathindex"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Session is the explicit configuration object that replaces the
// source's ambient globals (etpConst, etpRepositories, and friends). One
// Session is built per process invocation and handed to entropy.Open,
// which reads its paths to open the cache, the installed registry, the
// repository indices, the fetcher and the lock. The resolver, solver,
// fetcher and executor constructors do not take the Session itself.
type Session struct {
	RootDir         string
	RepositoriesDir string
	PackagesDir     string
	CacheDir        string
	StateDir        string
	LockFilePath    string
	InstalledDBPath string
	ActiveBranch    string
	Loggers         *Loggers
}

// NewSession lays out the conventional directory structure under root
// ("persisted state layout"): repositories/, packages/,
// cache/, and a state/ directory holding the lock file and installed
// registry side by side.
func NewSession(root, activeBranch string, loggers *Loggers) *Session {
	state := filepath.Join(root, "state")
	return &Session{
		RootDir:         root,
		RepositoriesDir: filepath.Join(root, "repositories"),
		PackagesDir:     filepath.Join(root, "packages"),
		CacheDir:        filepath.Join(root, "cache"),
		StateDir:        state,
		LockFilePath:    filepath.Join(state, "lock"),
		InstalledDBPath: filepath.Join(state, "installed.db"),
		ActiveBranch:    activeBranch,
		Loggers:         loggers,
	}
}

// RepositoryConfig is one configured repository's address and priority,
// read from repositories.toml.
type RepositoryConfig struct {
	ID       pkgrecord.RepositoryID
	BaseURL  string
	Mirrors  []string
	Priority int
}

type rawRepositoryEntry struct {
	ID       string   `toml:"id"`
	BaseURL  string   `toml:"base_url"`
	Mirrors  []string `toml:"mirrors"`
	Priority int      `toml:"priority"`
}

type rawRepositoriesFile struct {
	Repository []rawRepositoryEntry `toml:"repository"`
}

// tomlLoader accumulates a sticky first error across several sequential
// document loads, the same discipline golang-dep/toml.go's tomlMapper
// applies to a single tree's queries: once Error is set, every subsequent
// load is a no-op, and the caller reports exactly the first failure.
type tomlLoader struct {
	Error error
}

func (l *tomlLoader) load(path string, out interface{}) {
	if l.Error != nil {
		return
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		l.Error = errors.Wrapf(err, "reading %s", path)
		return
	}
	if err := toml.Unmarshal(b, out); err != nil {
		l.Error = errors.Wrapf(err, "parsing %s", path)
	}
}

// LoadRepositories reads repositories.toml into RepositoryConfig values in
// file order; they are not sorted by Priority (configuration order is
// authoritative for the resolver's final tie break).
func LoadRepositories(path string) ([]RepositoryConfig, error) {
	var raw rawRepositoriesFile
	l := &tomlLoader{}
	l.load(path, &raw)
	if l.Error != nil {
		return nil, l.Error
	}

	out := make([]RepositoryConfig, 0, len(raw.Repository))
	for _, r := range raw.Repository {
		out = append(out, RepositoryConfig{
			ID:       pkgrecord.RepositoryID(r.ID),
			BaseURL:  r.BaseURL,
			Mirrors:  r.Mirrors,
			Priority: r.Priority,
		})
	}
	return out, nil
}

type rawKeywordEntry struct {
	Repo     string   `toml:"repo"`
	Atom     string   `toml:"atom"`
	Keywords []string `toml:"keywords"`
}

type rawMaskFile struct {
	Mask   []string `toml:"mask"`
	Unmask []string `toml:"unmask"`
}

type rawKeywordsFile struct {
	AcceptedKeywords []string            `toml:"accepted_keywords"`
	LicenseMask      []string            `toml:"license_mask"`
	RepoAtom         []rawKeywordEntry   `toml:"repo_atom"`
	UserFile         []rawKeywordEntry   `toml:"user_file"`
	RepoUniversal    map[string][]string `toml:"repo_universal"`
	RepoPackage      []rawKeywordEntry   `toml:"repo_package"`
}

// LoadMaskPolicy reads package.mask.toml and package.keywords.toml into a
// *mask.Policy ready for internal/mask.NewEngine. Live masks/unmasks
// (layer 1) are session-runtime state, not on-disk
// configuration, and are set directly on the returned Policy by the
// caller.
func LoadMaskPolicy(maskPath, keywordsPath string) (*mask.Policy, error) {
	var rawMask rawMaskFile
	var rawKw rawKeywordsFile
	l := &tomlLoader{}
	l.load(maskPath, &rawMask)
	l.load(keywordsPath, &rawKw)
	if l.Error != nil {
		return nil, l.Error
	}

	policy := mask.NewPolicy()

	for _, s := range rawMask.Mask {
		a, err := atom.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing package.mask.toml entry %q", s)
		}
		policy.UserMaskAtoms = append(policy.UserMaskAtoms, a)
	}
	for _, s := range rawMask.Unmask {
		a, err := atom.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing package.mask.toml unmask entry %q", s)
		}
		policy.UserUnmaskAtoms = append(policy.UserUnmaskAtoms, a)
	}

	for _, kw := range rawKw.AcceptedKeywords {
		policy.AcceptedKeywords[kw] = true
	}
	for _, lic := range rawKw.LicenseMask {
		policy.LicenseMaskSet[lic] = true
	}
	for repo, kws := range rawKw.RepoUniversal {
		policy.RepoUniversal[pkgrecord.RepositoryID(repo)] = kws
	}
	for _, e := range rawKw.RepoAtom {
		a, err := atom.Parse(e.Atom)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing package.keywords.toml repo_atom entry %q", e.Atom)
		}
		policy.AddRepoAtomKeyword(pkgrecord.RepositoryID(e.Repo), a, e.Keywords)
	}
	for _, e := range rawKw.UserFile {
		a, err := atom.Parse(e.Atom)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing package.keywords.toml user_file entry %q", e.Atom)
		}
		policy.AddUserKeywordFile(a, e.Keywords)
	}
	for _, e := range rawKw.RepoPackage {
		a, err := atom.Parse(e.Atom)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing package.keywords.toml repo_package entry %q", e.Atom)
		}
		policy.AddRepoPackageSetting(pkgrecord.RepositoryID(e.Repo), a, e.Keywords)
	}

	return policy, nil
}

type rawConfigProtectFile struct {
	Protect     []string `toml:"protect"`
	ProtectMask []string `toml:"protect_mask"`
}

// LoadConfigProtect reads config-protect.toml's CONFIG_PROTECT and
// CONFIG_PROTECT_MASK prefix lists into the radix-backed pathindex sets
// the transaction executor consults at install step 5.
func LoadConfigProtect(path string) (protect, protectMask pathindex.PrefixSet, err error) {
	var raw rawConfigProtectFile
	l := &tomlLoader{}
	l.load(path, &raw)
	if l.Error != nil {
		return pathindex.PrefixSet{}, pathindex.PrefixSet{}, l.Error
	}
	return pathindex.NewPrefixSet(raw.Protect...), pathindex.NewPrefixSet(raw.ProtectMask...), nil
}

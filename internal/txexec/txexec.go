// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package txexec is the transaction executor: the ordered
// step machine that fetches, verifies, runs hooks, unpacks, places files
// under collision/config-protect policy, and atomically updates the
// installed registry for one install or removal.
//
// Grounded on golang-dep/txn_writer.go (package dep) for the
// write-to-temp-then-rename discipline on the final registry write and
// golang-dep/internal/gps/strip_vendor.go/prune.go for the "walk a staged
// tree, decide keep/drop/divert per entry" shape, generalized from vendor
// tree pruning to live-filesystem installation.
package txexec

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ashang/entropy/internal/fetch"
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/pathindex"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/pkg/errors"
)

// CollisionLevel classifies how aggressively the install step guards
// against one path being claimed by two live records,
type CollisionLevel int

const (
	// CollisionPermissive overwrites silently.
	CollisionPermissive CollisionLevel = iota
	// CollisionWarn overwrites but records a protection event.
	CollisionWarn
	// CollisionRefuse refuses the write and records a protection event.
	CollisionRefuse
)

// Step names one stage of the install or removal sequence
type Step int

const (
	StepFetch Step = iota
	StepChecksum
	StepPreRemove
	StepPreInstall
	StepInstall
	StepPostRemove
	StepPostInstall
	StepShowMessages
	StepRemove
)

func (s Step) String() string {
	switch s {
	case StepFetch:
		return "fetch"
	case StepChecksum:
		return "checksum"
	case StepPreRemove:
		return "preremove"
	case StepPreInstall:
		return "preinstall"
	case StepInstall:
		return "install"
	case StepPostRemove:
		return "postremove"
	case StepPostInstall:
		return "postinstall"
	case StepShowMessages:
		return "showmessages"
	case StepRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ProtectionEvent records a collision-policy decision made during install.
type ProtectionEvent struct {
	Path   string
	Reason string
}

// Config holds the per-run policy the executor applies.
type Config struct {
	ConfigProtect     pathindex.PrefixSet
	ConfigProtectMask pathindex.PrefixSet
	CollisionLevel    CollisionLevel
	RootDir           string
	StagingDir        string
	HookTimeout       time.Duration
}

// Result is the outcome of one InstallOne or RemoveOne call. FailedStep is
// meaningless when Err is nil.
type Result struct {
	ID               pkgrecord.ID
	FailedStep       Step
	Err              error
	ProtectionEvents []ProtectionEvent
	ConfigDiversions []pkgrecord.AutomergeEvent
	Messages         []string
}

// Executor runs install/removal step sequences against one installed
// registry, fetching archives through fetcher.
type Executor struct {
	cfg     Config
	fetcher *fetch.Fetcher
	reg     *installed.Registry
}

// New returns an Executor.
func New(cfg Config, fetcher *fetch.Fetcher, reg *installed.Registry) *Executor {
	return &Executor{cfg: cfg, fetcher: fetcher, reg: reg}
}

// InstallOne runs the 8-step install sequence for rec.
// Steps 1-2 are retryable without side effects; from step 3 onward a
// failure may leave the live filesystem in a partial state, which Result
// reports via FailedStep. Per , cancellation is honored up to
// and including the last file placement of step 5; step 7 (postinstall
// plus the atomic registry update) is treated as non-cancellable.
func (e *Executor) InstallOne(ctx context.Context, rec *pkgrecord.Record) *Result {
	res := &Result{ID: rec.PackageID}

	req := fetch.Request{
		RepositoryID: rec.RepositoryID,
		RelativePath: rec.Artifact.DownloadPath,
	}
	archivePath, _, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		res.FailedStep, res.Err = StepFetch, err
		return res
	}

	if rec.Artifact.DigestMD5 != "" {
		sum, err := fileMD5(archivePath)
		if err != nil || !strings.EqualFold(sum, rec.Artifact.DigestMD5) {
			// Re-fetch with the digest; the fetcher retries up to its ceiling.
			req.ExpectedMD5 = rec.Artifact.DigestMD5
			if archivePath, _, err = e.fetcher.Fetch(ctx, req); err != nil {
				res.FailedStep = StepChecksum
				res.Err = errors.Wrap(err, "archive digest mismatch after retry ceiling")
				return res
			}
		}
	}

	old, superseding := e.reg.ByKeySlot(rec.Scope.Key(), rec.Scope.Slot)

	if superseding {
		if _, err := runHook(ctx, old.Hooks.PreRemove, e.cfg.HookTimeout); err != nil {
			res.FailedStep, res.Err = StepPreRemove, err
			return res
		}
	}

	if _, err := runHook(ctx, rec.Hooks.PreInstall, e.cfg.HookTimeout); err != nil {
		res.FailedStep, res.Err = StepPreInstall, err
		return res
	}

	stageDir, err := ioutil.TempDir(e.cfg.StagingDir, "stage-")
	if err != nil {
		res.FailedStep, res.Err = StepInstall, errors.Wrap(err, "creating staging directory")
		return res
	}
	defer os.RemoveAll(stageDir)

	if err := unpackArchive(archivePath, stageDir); err != nil {
		res.FailedStep, res.Err = StepInstall, err
		return res
	}

	placements, err := walkStage(stageDir, e.cfg.RootDir)
	if err != nil {
		res.FailedStep, res.Err = StepInstall, err
		return res
	}

	newContent := make([]pkgrecord.ContentEntry, 0, len(placements))
	for _, p := range placements {
		entry, err := e.installPlacement(ctx, rec.PackageID, p, res)
		if err != nil {
			res.FailedStep, res.Err = StepInstall, err
			return res
		}
		newContent = append(newContent, entry)
	}

	if superseding {
		if _, err := runHook(ctx, old.Hooks.PostRemove, e.cfg.HookTimeout); err != nil {
			res.FailedStep, res.Err = StepPostRemove, err
			return res
		}
		if err := removeContentDiff(old.Content, newContent, e.cfg); err != nil {
			res.FailedStep, res.Err = StepPostRemove, err
			return res
		}
	}

	bg := context.Background()
	if _, err := runHook(bg, rec.Hooks.PostInstall, e.cfg.HookTimeout); err != nil {
		res.FailedStep, res.Err = StepPostInstall, err
		return res
	}

	instRec := &pkgrecord.InstalledRecord{
		Record:                  *rec,
		InstalledFromRepository: rec.RepositoryID,
		InstallSource:           pkgrecord.SourceUser,
	}
	instRec.Record.Content = newContent
	if len(res.ConfigDiversions) > 0 {
		instRec.AutomergeHistory = append(instRec.AutomergeHistory, res.ConfigDiversions...)
		instRec.AutomergeMap = make(map[string]string, len(res.ConfigDiversions))
		for _, d := range res.ConfigDiversions {
			instRec.AutomergeMap[d.Path] = d.MD5
		}
	}

	if err := e.reg.Update(func(txn *installed.Txn) error {
		_, err := txn.Upsert(instRec)
		return err
	}); err != nil {
		res.FailedStep, res.Err = StepPostInstall, err
		return res
	}

	res.Messages = append(res.Messages, rec.Hooks.Messages...)
	return res
}

// RemoveOne runs the preremove -> remove -> postremove sequence for an
// installed id, deleting every path in its content set still exclusively
// owned by it, then dropping it from the registry.
func (e *Executor) RemoveOne(ctx context.Context, id pkgrecord.ID) *Result {
	res := &Result{ID: id}

	rec, ok := e.reg.Record(id)
	if !ok {
		res.FailedStep, res.Err = StepRemove, errors.Errorf("id %d not installed", id)
		return res
	}

	if _, err := runHook(ctx, rec.Hooks.PreRemove, e.cfg.HookTimeout); err != nil {
		res.FailedStep, res.Err = StepPreRemove, err
		return res
	}

	owned := make([]string, 0, len(rec.Content))
	for _, c := range rec.Content {
		owners := e.reg.OwnersOfPath(c.Path)
		sole := len(owners) == 0
		for _, o := range owners {
			if o == id && len(owners) == 1 {
				sole = true
			}
		}
		if !sole {
			continue
		}
		if err := deleteContentEntry(c, e.cfg); err != nil {
			res.FailedStep, res.Err = StepRemove, err
			return res
		}
		owned = append(owned, c.Path)
	}
	removeEmptyParentDirs(owned, e.cfg.RootDir)

	bg := context.Background()
	if _, err := runHook(bg, rec.Hooks.PostRemove, e.cfg.HookTimeout); err != nil {
		res.FailedStep, res.Err = StepPostRemove, err
		return res
	}

	if err := e.reg.Update(func(txn *installed.Txn) error {
		return txn.Remove(id)
	}); err != nil {
		res.FailedStep, res.Err = StepPostRemove, err
		return res
	}
	return res
}

// removeContentDiff deletes every path in oldContent that is no longer
// present in newContent, step 6.
func removeContentDiff(oldContent, newContent []pkgrecord.ContentEntry, cfg Config) error {
	keep := make(map[string]bool, len(newContent))
	for _, c := range newContent {
		keep[c.Path] = true
	}

	var removed []string
	for _, c := range oldContent {
		if keep[c.Path] {
			continue
		}
		if err := deleteContentEntry(c, cfg); err != nil {
			return err
		}
		removed = append(removed, c.Path)
	}
	removeEmptyParentDirs(removed, cfg.RootDir)
	return nil
}

// deleteContentEntry removes one owned path. A config-protected regular
// file (under ConfigProtect and not under ConfigProtectMask) is always left
// in place: no shipped md5 is recorded for it, so a user-modified file is
// not told apart from an unmodified one.
func deleteContentEntry(c pkgrecord.ContentEntry, cfg Config) error {
	if c.Kind == pkgrecord.ContentDir {
		return nil // directories are pruned bottom-up separately
	}
	if cfg.ConfigProtect.Matches(c.Path) && !cfg.ConfigProtectMask.Matches(c.Path) {
		if info, err := os.Stat(c.Path); err == nil && info.Mode().IsRegular() {
			// A config-protected file with no recorded baseline is always
			// treated as potentially user-modified and left in place.
			return nil
		}
	}
	err := os.Remove(c.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// removeEmptyParentDirs removes, bottom-up, any directory left empty by
// the paths just deleted, stopping at rootDir.
func removeEmptyParentDirs(paths []string, rootDir string) {
	dirs := make(map[string]bool)
	for _, p := range paths {
		dirs[filepath.Dir(p)] = true
	}

	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	for _, d := range ordered {
		for d != rootDir && d != "." && d != string(filepath.Separator) {
			entries, err := ioutil.ReadDir(d)
			if err != nil || len(entries) > 0 {
				break
			}
			if err := os.Remove(d); err != nil {
				break
			}
			d = filepath.Dir(d)
		}
	}
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fetch is the single-archive fetcher: given a
// repository id, a path relative to the packages directory, and an
// optional expected digest, try each configured mirror in order, verify
// by digest, and retry a bounded number of times across the mirror list
// before giving up.
//
// Grounded on golang-dep/vcs_repo.go's Get/Update retrieval shape
// (try a remote, verify the result, retry or fall through), generalized
// from a VCS checkout to an archive-over-HTTP download, and on
// golang-dep/fs.go's write-to-temp-then-rename discipline so a reader
// never observes a partially downloaded archive.
package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
)

// Outcome classifies how Fetch concluded,
type Outcome int

const (
	// Fetched means the archive was freshly downloaded and verified.
	Fetched Outcome = iota
	// Cached means an existing on-disk file already passed verification.
	Cached
	// AllMirrorsFailed means every attempt across the mirror list failed.
	AllMirrorsFailed
	// Cancelled means the caller's context ended the fetch; no partial
	// file is left behind.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Fetched:
		return "fetched"
	case Cached:
		return "ok_cached"
	case AllMirrorsFailed:
		return "all_mirrors_failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request names one archive to retrieve.
type Request struct {
	RepositoryID pkgrecord.RepositoryID
	RelativePath string
	ExpectedMD5  string // empty means no digest is known in advance
}

// MirrorSource resolves the ordered, most-recent-first mirror base URLs
// configured for a repository.
type MirrorSource interface {
	Mirrors(repo pkgrecord.RepositoryID) []string
}

// Fetcher retrieves archives into a fixed packages directory.
type Fetcher struct {
	mirrors        MirrorSource
	packagesDir    string
	retryCeiling   int
	attemptTimeout time.Duration
	client         *http.Client
}

// New returns a Fetcher. retryCeiling and attemptTimeout fall back to
// small defaults (3 attempts, 60s) when zero.
func New(mirrors MirrorSource, packagesDir string, retryCeiling int, attemptTimeout time.Duration) *Fetcher {
	if retryCeiling <= 0 {
		retryCeiling = 3
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}
	return &Fetcher{
		mirrors:        mirrors,
		packagesDir:    packagesDir,
		retryCeiling:   retryCeiling,
		attemptTimeout: attemptTimeout,
		client:         &http.Client{},
	}
}

// Fetch implements contract for one archive.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (path string, outcome Outcome, err error) {
	target := filepath.Join(f.packagesDir, filepath.FromSlash(req.RelativePath))

	if existingPasses(target, req.ExpectedMD5) {
		return target, Cached, nil
	}

	mirrors := f.mirrors.Mirrors(req.RepositoryID)
	if len(mirrors) == 0 {
		return "", AllMirrorsFailed, errors.Errorf("no mirrors configured for repository %s", req.RepositoryID)
	}

	for attempt := 0; attempt < f.retryCeiling; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", Cancelled, err
		}

		base := mirrors[attempt%len(mirrors)]
		url := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(req.RelativePath, "/")

		tmpName, derr := f.download(ctx, url, target)
		if derr != nil {
			if errors.Cause(derr) == context.Canceled {
				return "", Cancelled, derr
			}
			continue
		}

		if req.ExpectedMD5 != "" && !fileMD5Matches(tmpName, req.ExpectedMD5) {
			os.Remove(tmpName)
			continue
		}

		if err := renameWithFallback(tmpName, target); err != nil {
			os.Remove(tmpName)
			return "", AllMirrorsFailed, errors.Wrap(err, "moving fetched archive into place")
		}
		return target, Fetched, nil
	}

	return "", AllMirrorsFailed, errors.Errorf("all mirrors failed for %s after %d attempts", req.RelativePath, f.retryCeiling)
}

// download retrieves url into a temp file beside target's eventual
// location and returns the temp file's path without renaming it: the
// caller decides whether the digest check passes before committing it.
func (f *Fetcher) download(ctx context.Context, url, target string) (tmpName string, err error) {
	cctx, cancel := constext.Cons(ctx, context.Background())
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, f.attemptTimeout)
	defer timeoutCancel()

	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "building fetch request")
	}
	httpReq = httpReq.WithContext(cctx)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("mirror returned %s", resp.Status)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating packages directory")
	}

	tmp, err := ioutil.TempFile(dir, ".fetch-tmp-")
	if err != nil {
		return "", errors.Wrap(err, "creating temp file for download")
	}
	tmpName = tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

func existingPasses(path, expectedMD5 string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if expectedMD5 == "" {
		return info.Size() > 0
	}
	return fileMD5Matches(path, expectedMD5)
}

func fileMD5Matches(path, expected string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), expected)
}

// renameWithFallback attempts a rename, falling back to a copy when src
// and dest are on different devices.
func renameWithFallback(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	terr, ok := err.(*os.LinkError)
	if !ok || terr.Err != syscall.EXDEV {
		if runtime.GOOS != "windows" {
			return err
		}
	}

	data, rerr := ioutil.ReadFile(src)
	if rerr != nil {
		return rerr
	}
	if werr := ioutil.WriteFile(dest, data, 0644); werr != nil {
		return werr
	}
	return os.Remove(src)
}

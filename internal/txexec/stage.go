// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package txexec

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

// unpackArchive extracts archivePath (a gzip-compressed tar; any trailer
// appended after the tar's end-of-archive marker is simply
// left unread) into stageDir.
func unpackArchive(archivePath, stageDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "opening archive")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "opening archive gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading archive entry")
		}

		target := filepath.Join(stageDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.MkdirAll(filepath.Dir(target), 0755)
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// placement is one staged entry resolved to its real target path.
type placement struct {
	stagePath  string
	targetPath string
	isDir      bool
	mode       os.FileMode
}

// walkStage lists every entry under stageDir along with the real root-
// relative target path it maps to.
func walkStage(stageDir, rootDir string) ([]placement, error) {
	var out []placement
	err := godirwalk.Walk(stageDir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == stageDir {
				return nil
			}
			rel, err := filepath.Rel(stageDir, osPathname)
			if err != nil {
				return err
			}
			info, err := os.Lstat(osPathname)
			if err != nil {
				return err
			}
			out = append(out, placement{
				stagePath:  osPathname,
				targetPath: filepath.Join(rootDir, rel),
				isDir:      de.IsDir(),
				mode:       info.Mode(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "walking staged tree")
	}
	return out, nil
}

// installPlacement places one staged entry into the live filesystem,
// applying collision and config-protect policy for regular files. It
// returns the content entry actually recorded and any config-protect
// diversion produced.
func (e *Executor) installPlacement(ctx context.Context, id pkgrecord.ID, p placement, res *Result) (pkgrecord.ContentEntry, error) {
	if err := ctx.Err(); err != nil {
		return pkgrecord.ContentEntry{}, err
	}

	if p.isDir {
		if err := os.MkdirAll(p.targetPath, p.mode); err != nil {
			return pkgrecord.ContentEntry{}, err
		}
		return pkgrecord.ContentEntry{Path: p.targetPath, Kind: pkgrecord.ContentDir}, nil
	}

	if p.mode&os.ModeSymlink != 0 {
		linkTarget, err := os.Readlink(p.stagePath)
		if err != nil {
			return pkgrecord.ContentEntry{}, err
		}
		os.Remove(p.targetPath)
		if err := os.Symlink(linkTarget, p.targetPath); err != nil {
			return pkgrecord.ContentEntry{}, err
		}
		return pkgrecord.ContentEntry{Path: p.targetPath, Kind: pkgrecord.ContentSymlink}, nil
	}

	owners := e.reg.OwnersOfPath(p.targetPath)
	owned := false
	for _, o := range owners {
		if o != id {
			owned = true
		}
	}
	if owned {
		switch {
		case e.cfg.CollisionLevel >= CollisionRefuse:
			res.ProtectionEvents = append(res.ProtectionEvents, ProtectionEvent{Path: p.targetPath, Reason: "collision"})
			return pkgrecord.ContentEntry{}, errors.Errorf("collision refused at %s", p.targetPath)
		case e.cfg.CollisionLevel == CollisionWarn:
			res.ProtectionEvents = append(res.ProtectionEvents, ProtectionEvent{Path: p.targetPath, Reason: "collision_warning"})
		}
	}

	finalPath := p.targetPath
	if divert, existingMD5, stagedMD5, ok := e.needsConfigProtect(p.targetPath, p.stagePath); ok && divert {
		sibling, err := allocateDivertedSibling(p.targetPath)
		if err != nil {
			return pkgrecord.ContentEntry{}, err
		}
		res.ConfigDiversions = append(res.ConfigDiversions, pkgrecord.AutomergeEvent{
			Path: p.targetPath, SiblingPath: sibling, MD5: stagedMD5,
		})
		_ = existingMD5
		finalPath = sibling
	}

	if err := movePlaced(p.stagePath, finalPath, p.mode); err != nil {
		return pkgrecord.ContentEntry{}, err
	}
	return pkgrecord.ContentEntry{Path: p.targetPath, Kind: pkgrecord.ContentFile}, nil
}

// needsConfigProtect reports whether targetPath should be diverted rather
// than written through, step 5's config-file protection
// rule: the path is under CONFIG_PROTECT and not under CONFIG_PROTECT_MASK,
// the existing on-disk target is a regular file, and its md5 differs from
// the staged replacement.
func (e *Executor) needsConfigProtect(targetPath, stagedPath string) (divert bool, existingMD5, stagedMD5 string, applicable bool) {
	if !e.cfg.ConfigProtect.Matches(targetPath) || e.cfg.ConfigProtectMask.Matches(targetPath) {
		return false, "", "", false
	}

	info, err := os.Stat(targetPath)
	if err != nil || !info.Mode().IsRegular() {
		return false, "", "", false
	}

	existingMD5, err1 := fileMD5(targetPath)
	stagedMD5, err2 := fileMD5(stagedPath)
	if err1 != nil || err2 != nil {
		return false, "", "", false
	}
	if existingMD5 == stagedMD5 {
		return false, existingMD5, stagedMD5, true
	}
	return true, existingMD5, stagedMD5, true
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// allocateDivertedSibling implements config-protect diversion
// naming: "<dir>/._cfg<NNNN>_<basename>" for the smallest four-digit NNNN
// whose sibling does not already exist.
func allocateDivertedSibling(targetPath string) (string, error) {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)
	for n := 0; n < 10000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("._cfg%04d_%s", n, base))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", errors.Errorf("no free config-protect slot for %s", targetPath)
}

// movePlaced moves src to dest, renaming when possible and falling back to
// a copy+unlink across filesystems, grounded on golang-dep/fs.go's
// renameWithFallback and, for the copy leg, go-shutil's CopyFile.
func movePlaced(src, dest string, mode os.FileMode) error {
	os.MkdirAll(filepath.Dir(dest), 0755)

	err := os.Rename(src, dest)
	if err == nil {
		return os.Chmod(dest, mode)
	}

	terr, ok := err.(*os.LinkError)
	if !ok || terr.Err != syscall.EXDEV {
		if runtime.GOOS != "windows" {
			return err
		}
	}

	if err := shutil.CopyFile(src, dest, false); err != nil {
		return errors.Wrap(err, "copying staged file into place")
	}
	os.Remove(src)
	return os.Chmod(dest, mode)
}

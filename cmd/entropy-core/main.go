// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command entropy-core is a thin driver over the core library: it builds
// a config.Session, opens the configured repositories and the installed
// registry, and runs exactly one resolve+install or resolve+remove
// operation before exiting with one of a stable set of exit codes.
//
// The CLI option parser, terminal formatting and colors are out of scope
// — this binary exists only to show the wiring order, the
// same role golang-dep/cmd/dep/main.go plays for its own library.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ashang/entropy"
	"github.com/ashang/entropy/internal/config"
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/lockfile"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/resolver"
	"github.com/ashang/entropy/internal/solver"
	"github.com/ashang/entropy/internal/txexec"
	"github.com/pkg/errors"
)

// Exit codes, .
const (
	exitSuccess             = 0
	exitGenericFailure      = 1
	exitNoNetwork           = 2
	exitNoMatch             = 127
	exitPartialRepoUpdate   = 128
	exitUnresolvedDep       = 130
	exitRegistryUnavailable = 200
	exitOutOfDiskSpace      = 512
)

func main() {
	root := flag.String("root", "/var/lib/entropy", "root of the repositories/packages/cache/state layout")
	branch := flag.String("branch", "stable", "active branch")
	verbose := flag.Bool("v", false, "enable verbose logging")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: entropy-core [-root dir] [-branch name] install ATOM... | remove PACKAGE_ID...")
		os.Exit(exitGenericFailure)
	}

	loggers := &config.Loggers{
		Out:     log.New(os.Stdout, "", 0),
		Err:     log.New(os.Stderr, "", 0),
		Verbose: *verbose,
	}

	os.Exit(run(*root, *branch, args[0], args[1:], loggers))
}

func run(root, branch, op string, rest []string, loggers *config.Loggers) int {
	sess := config.NewSession(root, branch, loggers)

	repoConfigs, err := config.LoadRepositories(filepath.Join(root, "repositories.toml"))
	if err != nil {
		loggers.Errf("loading repositories.toml: %v", err)
		return exitRegistryUnavailable
	}

	policy, err := config.LoadMaskPolicy(
		filepath.Join(root, "package.mask.toml"),
		filepath.Join(root, "package.keywords.toml"),
	)
	if err != nil {
		loggers.Errf("loading mask policy: %v", err)
		return exitGenericFailure
	}

	protect, protectMask, err := config.LoadConfigProtect(filepath.Join(root, "config-protect.toml"))
	if err != nil {
		loggers.Errf("loading config-protect.toml: %v", err)
		return exitGenericFailure
	}

	execCfg := txexec.Config{
		ConfigProtect:     protect,
		ConfigProtectMask: protectMask,
		CollisionLevel:    txexec.CollisionWarn,
		RootDir:           "/",
		StagingDir:        filepath.Join(sess.CacheDir, "staging"),
	}

	core, err := entropy.Open(sess, repoConfigs, policy, 10000, execCfg)
	if err != nil {
		loggers.Errf("opening core: %v", err)
		if errors.Cause(err) == installed.ErrRegistryMissing {
			return exitRegistryUnavailable
		}
		return exitGenericFailure
	}
	defer core.Close()

	ctx := context.Background()

	switch op {
	case "install":
		_, err := core.Install(ctx, rest, solver.ForwardOptions{})
		return exitForInstallErr(err)
	case "remove":
		ids, err := parseIDs(rest)
		if err != nil {
			loggers.Errf("%v", err)
			return exitGenericFailure
		}
		_, _, err = core.Remove(ctx, ids, solver.ReverseOptions{})
		return exitForRemoveErr(err)
	default:
		loggers.Errf("unknown operation %q", op)
		return exitGenericFailure
	}
}

func parseIDs(args []string) ([]pkgrecord.ID, error) {
	ids := make([]pkgrecord.ID, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing package id %q", a)
		}
		ids = append(ids, pkgrecord.ID(n))
	}
	return ids, nil
}

func exitForInstallErr(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Cause(err) == resolver.ErrNotFound:
		return exitNoMatch
	case errors.Cause(err) == solver.ErrMissingDependencies:
		return exitUnresolvedDep
	case errors.Cause(err) == lockfile.ErrLocked:
		return exitGenericFailure
	default:
		return exitGenericFailure
	}
}

func exitForRemoveErr(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Cause(err) == lockfile.ErrLocked:
		return exitGenericFailure
	default:
		return exitGenericFailure
	}
}

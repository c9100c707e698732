// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lockfile is the process-wide exclusive lock: no
// two transactions over the same installed registry may run concurrently,
// enforced by a process-wide exclusive lock file with advisory locking
// acquired at the start of any mutating operation and released on
// completion or abort.
//
// golang/dep has no direct analogue of its own — it relies on the user
// not running two instances concurrently — so this package is wired from
// github.com/theckman/go-flock, which golang/dep vendors
// (vendor/github.com/theckman/go-flock) but never calls from any
// non-test source file. This is the first real caller of it here.
package lockfile

import (
	flock "github.com/theckman/go-flock"
	"github.com/pkg/errors"
)

// ErrLocked is returned by TryAcquire when another transaction already
// holds the lock, surfacing registry_locked error kind.
var ErrLocked = errors.New("registry_locked: another transaction is in progress")

// Lock guards one installed registry against concurrent mutating
// transactions. It is safe to share across goroutines within one process;
// cross-process exclusion is provided by the underlying advisory lock.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock backed by the advisory lock file at path. The file is
// created on first acquisition if absent; it is never removed, matching
// "lock file and installed registry file side by side in a
// state directory" (a persistent, not transient, path).
func New(path string) *Lock {
	return &Lock{fl: flock.NewFlock(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Acquire blocks until the exclusive lock is held. Most callers should
// prefer TryAcquire, treating "another transaction in progress" as a
// reportable error kind rather than a wait condition, but Acquire is kept
// for callers (e.g. the world-update driver queuing several sequential
// transactions) that want to wait their turn.
func (l *Lock) Acquire() error {
	return errors.Wrap(l.fl.Lock(), "acquiring registry lock")
}

// TryAcquire attempts to take the exclusive lock without blocking. It
// returns ErrLocked, not a bare false, when another transaction holds it,
// so callers can propagate registry_locked kind directly. A Lock that is
// already held through this same value also reports ErrLocked.
func (l *Lock) TryAcquire() error {
	if l.fl.Locked() {
		return ErrLocked
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquiring registry lock")
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Release drops the lock. It is safe to call on a Lock that was never
// successfully acquired.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	return errors.Wrap(l.fl.Unlock(), "releasing registry lock")
}

// WithLock runs fn while holding the exclusive lock, releasing it
// unconditionally afterward. It is the shape every mutating entry point
// (install, remove, world-update) should use: acquire at the start of the
// operation, release on completion or abort,
func WithLock(path string, fn func() error) error {
	l := New(path)
	if err := l.TryAcquire(); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package installed

import (
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// BranchMigration is one entry of branch_migration_log: a record taken off
// one branch and placed onto another by an in-place slot move.
type BranchMigration struct {
	Key       string
	Slot      string
	From      string
	To        string
	Timestamp int64
}

// Txn is the mutation surface handed to the callback passed to
// Registry.Update. It is only valid for the lifetime of that callback.
type Txn struct {
	tx       *bolt.Tx
	nextID   pkgrecord.ID
	registry *Registry
}

func (t *Txn) allocID() pkgrecord.ID {
	t.nextID++
	return t.nextID
}

// Upsert stores rec under a freshly allocated installed-registry id,
// regardless of any PackageID rec already carries in from its originating
// repository: a repository-scoped package_id is unique only within that
// one repository, so it cannot double as the installed registry's own
// primary key without risking two different packages from two different
// repositories colliding on the same id. A non-Injected record silently
// supersedes any existing non-Injected record sharing the same (key,
// slot); Injected records are exempt and may coexist with others at the
// same (key, slot).
func (t *Txn) Upsert(rec *pkgrecord.InstalledRecord) (pkgrecord.ID, error) {
	recs := t.tx.Bucket([]byte(bucketRecords))

	rec.PackageID = t.allocID()

	if !rec.Injected {
		ks := pkgrecord.KeySlot{Key: rec.Scope.Key(), Slot: rec.Scope.Slot}
		if existing, ok := t.registry.byKeySlot[ks]; ok && existing != rec.PackageID {
			if old, ok := t.registry.byID[existing]; ok && !old.Injected {
				if err := recs.Delete(idKey(existing)); err != nil {
					return 0, errors.Wrap(err, "superseding previous (key, slot) record")
				}
			}
		}
	}

	b, err := encodeInstalled(rec)
	if err != nil {
		return 0, err
	}
	if err := recs.Put(idKey(rec.PackageID), b); err != nil {
		return 0, errors.Wrap(err, "writing installed record")
	}
	return rec.PackageID, nil
}

// Remove deletes the installed record for id.
func (t *Txn) Remove(id pkgrecord.ID) error {
	recs := t.tx.Bucket([]byte(bucketRecords))
	return recs.Delete(idKey(id))
}

// RecordBranchMigration appends m to the branch_migration_log for m's (key,
// slot).
func (t *Txn) RecordBranchMigration(m BranchMigration) error {
	bucket := t.tx.Bucket([]byte(bucketBranchMigration))
	k := keySlotKey(m.Key, m.Slot)

	existing, err := decodeMigrations(bucket.Get(k))
	if err != nil {
		return err
	}
	existing = append(existing, m)

	b, err := encodeMigrations(existing)
	if err != nil {
		return err
	}
	return bucket.Put(k, b)
}

// Update runs fn inside a single bolt write transaction, incrementing the
// registry generation counter exactly once on success and
// reloading the in-memory indices before returning. fn's Txn argument is
// invalid once Update returns.
func (g *Registry) Update(fn func(txn *Txn) error) error {
	err := g.db.Update(func(tx *bolt.Tx) error {
		t := &Txn{tx: tx, nextID: g.maxID(), registry: g}
		if err := fn(t); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(bucketMeta))
		gen := decodeInt64(meta.Get([]byte(metaKeyGeneration))) + 1
		return meta.Put([]byte(metaKeyGeneration), encodeInt64(gen))
	})
	if err != nil {
		return err
	}
	return g.reload()
}

func (g *Registry) maxID() pkgrecord.ID {
	var max pkgrecord.ID
	for id := range g.byID {
		if id > max {
			max = id
		}
	}
	return max
}

// BranchMigrations returns the recorded branch-migration history for (key,
// slot).
func (g *Registry) BranchMigrations(key, slot string) ([]BranchMigration, error) {
	var out []BranchMigration
	err := g.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketBranchMigration))
		ms, err := decodeMigrations(bucket.Get(keySlotKey(key, slot)))
		if err != nil {
			return err
		}
		out = ms
		return nil
	})
	return out, err
}

// CanRemoveRoot reports whether id may be the root of a removal plan: a
// System record may not be removed unless a sibling slot of the same key
// survives.
func (g *Registry) CanRemoveRoot(id pkgrecord.ID) bool {
	rec, ok := g.byID[id]
	if !ok || !rec.System {
		return true
	}
	key := rec.Scope.Key()
	for other, orec := range g.byID {
		if other == id {
			continue
		}
		if orec.Scope.Key() == key {
			return true
		}
	}
	return false
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package installed is the installed registry: a read/write
// handle over the local metadata store of installed packages, with the
// back-indices (reverse deps, owner-of-file, installed-from-repository,
// automerge hashes) and their invariants.
//
// Grounded on the same bolt-bucket discipline as internal/registry, plus
// golang-dep/lock.go's generation-counter idea generalized from a lock-file
// hash to the monotonic registry generation
package installed

import (
	"time"

	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/pathindex"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// ErrRegistryMissing is returned by Open when the registry file does not
// exist and the caller did not ask for it to be created.
var ErrRegistryMissing = errors.New("installed registry does not exist")

// Registry is a read/write handle over the installed-packages store. There
// is exactly one writer at a time, enforced externally by
// internal/lockfile, not by this package.
type Registry struct {
	path string
	db   *bolt.DB

	generation int64
	byID       map[pkgrecord.ID]*pkgrecord.InstalledRecord
	byKeySlot  map[pkgrecord.KeySlot]pkgrecord.ID
	content    *pathindex.OwnerIndex
	needed     map[string][]pkgrecord.ID
	reverse    map[pkgrecord.ID]map[pkgrecord.ID]bool
}

// Open opens the installed registry at path. If the file does not exist
// and create is false, ErrRegistryMissing is returned's
// registry_missing error kind.
func Open(path string, create bool) (*Registry, error) {
	if !create {
		if _, err := statExists(path); err != nil {
			return nil, ErrRegistryMissing
		}
	}

	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening installed registry %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketMeta, bucketRecords, bucketKeySlot, bucketBranchMigration} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing installed registry buckets")
	}

	g := &Registry{path: path, db: db}
	if err := g.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

// Close releases the underlying file handle.
func (g *Registry) Close() error {
	return g.db.Close()
}

// Generation returns the monotonic counter incremented exactly once per
// committed transaction; in-process caches keyed on it invalidate
// implicitly when it changes.
func (g *Registry) Generation() int64 {
	return g.generation
}

func (g *Registry) reload() error {
	byID := make(map[pkgrecord.ID]*pkgrecord.InstalledRecord)
	byKeySlot := make(map[pkgrecord.KeySlot]pkgrecord.ID)
	content := pathindex.NewOwnerIndex()
	needed := make(map[string][]pkgrecord.ID)

	err := g.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		g.generation = decodeInt64(meta.Get([]byte(metaKeyGeneration)))

		recs := tx.Bucket([]byte(bucketRecords))
		return recs.ForEach(func(k, v []byte) error {
			rec, err := decodeInstalled(v)
			if err != nil {
				return err
			}
			id := keyToID(k)
			byID[id] = rec
			byKeySlot[pkgrecord.KeySlot{Key: rec.Scope.Key(), Slot: rec.Scope.Slot}] = id
			for _, c := range rec.Content {
				content.AddOwner(c.Path, idStr(id))
			}
			for _, n := range rec.Needed {
				needed[n.SONAME] = append(needed[n.SONAME], id)
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "loading installed registry")
	}

	g.byID = byID
	g.byKeySlot = byKeySlot
	g.content = content
	g.needed = needed
	g.reverse = computeReverseIndex(byID)
	return nil
}

// computeReverseIndex derives reverse_dep_index from the record set: it is
// a pure function of the record set, lazily recomputed but always strongly
// consistent before any removal plan runs. Only runtime and post-install
// dependency edges count as "depends on" for removal purposes; build-time
// edges do not keep an installed
// package alive.
func computeReverseIndex(byID map[pkgrecord.ID]*pkgrecord.InstalledRecord) map[pkgrecord.ID]map[pkgrecord.ID]bool {
	rev := make(map[pkgrecord.ID]map[pkgrecord.ID]bool)
	for id, rec := range byID {
		for _, dep := range rec.Dependencies {
			if dep.Kind != pkgrecord.DepRuntime && dep.Kind != pkgrecord.DepPost {
				continue
			}
			a, err := atom.Parse(dep.Atom)
			if err != nil || a.Conflict {
				continue
			}
			for _, target := range matchInstalled(a, byID) {
				if rev[target] == nil {
					rev[target] = make(map[pkgrecord.ID]bool)
				}
				rev[target][id] = true
			}
		}
	}
	return rev
}

func matchInstalled(a *atom.Atom, byID map[pkgrecord.ID]*pkgrecord.InstalledRecord) []pkgrecord.ID {
	var out []pkgrecord.ID
	for id, rec := range byID {
		cand := atom.Candidate{
			Category:   rec.Scope.Category,
			Name:       rec.Scope.Name,
			Version:    rec.Scope.Version,
			Tag:        rec.Scope.Tag,
			Slot:       rec.Scope.Slot,
			EnabledUse: rec.Build.Use,
		}
		if a.Matches(cand) {
			out = append(out, id)
		}
	}
	return out
}

// Record returns the installed record for id.
func (g *Registry) Record(id pkgrecord.ID) (*pkgrecord.InstalledRecord, bool) {
	rec, ok := g.byID[id]
	return rec, ok
}

// ByKeySlot returns the unique installed record at (key, slot), enforcing
// the invariant that (key, slot) identifies at most one installed record.
func (g *Registry) ByKeySlot(key, slot string) (*pkgrecord.InstalledRecord, bool) {
	id, ok := g.byKeySlot[pkgrecord.KeySlot{Key: key, Slot: slot}]
	if !ok {
		return nil, false
	}
	return g.byID[id], true
}

// All returns every installed record, in no particular order.
func (g *Registry) All() []*pkgrecord.InstalledRecord {
	out := make([]*pkgrecord.InstalledRecord, 0, len(g.byID))
	for _, rec := range g.byID {
		out = append(out, rec)
	}
	return out
}

// OwnersOfPath returns the package IDs currently owning path, the
// installed-registry-facing half of content_index, exposed as a public
// query rather than a collision-check-only internal helper.
func (g *Registry) OwnersOfPath(path string) []pkgrecord.ID {
	owners, ok := g.content.Owners(path)
	if !ok {
		return nil
	}
	out := make([]pkgrecord.ID, 0, len(owners))
	for _, o := range owners {
		if id, ok := parseIDStr(o); ok {
			out = append(out, id)
		}
	}
	return out
}

// OwnersOfSONAME returns the package IDs whose NEEDED set contains soname,
// used by the forward solver's library-breakage escalation, exposed here
// as a public query.
func (g *Registry) OwnersOfSONAME(soname string) []pkgrecord.ID {
	return g.needed[soname]
}

// ReverseDeps returns reverse_dep_index[id]: the installed packages that
// depend on id.
func (g *Registry) ReverseDeps(id pkgrecord.ID) []pkgrecord.ID {
	set := g.reverse[id]
	out := make([]pkgrecord.ID, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	return out
}

func idStr(id pkgrecord.ID) string {
	return idKeyString(id)
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry is the repository index reader: a
// read-only, thread-safe handle over one repository's metadata snapshot,
// backed by a local indexed file opened read-only and shared across
// concurrent opens of the same path.
//
// Grounded on golang-dep/internal/gps/source_cache_bolt.go /
// source_cache_bolt_encode.go for the bucket layout and manual
// encode/decode; libraries: github.com/boltdb/bolt.
package registry

import (
	"strconv"
	"strings"
	"sync"

	"github.com/ashang/entropy/internal/atom"
	"github.com/ashang/entropy/internal/pathindex"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// sonameKey indexes a SONAME together with its ELF class, since SONAME
// lookups take an optional class filter.
type sonameKey struct {
	soname string
	class  pkgrecord.ELFClass
}

// ProvideMember is one member of a PROVIDE alias's membership set.
type ProvideMember struct {
	PackageID pkgrecord.ID
	Default   bool
}

// Reader is a read-only handle over one repository snapshot.
type Reader struct {
	repoID   pkgrecord.RepositoryID
	path     string
	db       *bolt.DB
	revision int64
	checksum string

	mu sync.RWMutex

	byID      map[pkgrecord.ID]*pkgrecord.Record
	byKey     map[string][]pkgrecord.ID
	byKeySlot map[pkgrecord.KeySlot]pkgrecord.ID
	bySoname  map[sonameKey][]pkgrecord.ID
	byContent *pathindex.OwnerIndex
	byProvide map[string][]ProvideMember
	bySet     map[string][]pkgrecord.ID
}

// Open opens (or reuses, via the shared connection pool) the snapshot at
// path and loads its secondary indices into memory. Loading the full
// snapshot into memory on open keeps every subsequent query a simple map
// lookup; repository snapshots are bounded in size by construction (one
// repository's package index), so this trades a bounded amount of memory
// for O(1) queries instead of a bolt round trip per lookup.
func Open(path string, repoID pkgrecord.RepositoryID) (*Reader, error) {
	db, err := defaultPool.acquire(path, true)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		repoID:    repoID,
		path:      path,
		db:        db,
		byID:      make(map[pkgrecord.ID]*pkgrecord.Record),
		byKey:     make(map[string][]pkgrecord.ID),
		byKeySlot: make(map[pkgrecord.KeySlot]pkgrecord.ID),
		bySoname:  make(map[sonameKey][]pkgrecord.ID),
		byContent: pathindex.NewOwnerIndex(),
		byProvide: make(map[string][]ProvideMember),
		bySet:     make(map[string][]pkgrecord.ID),
	}

	if err := r.load(); err != nil {
		defaultPool.release(path)
		return nil, err
	}
	return r, nil
}

func (r *Reader) load() error {
	return r.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if meta == nil {
			return errors.New("repository snapshot missing meta bucket")
		}
		r.revision = decodeInt64(meta.Get([]byte(metaKeyRevision)))
		r.checksum = string(meta.Get([]byte(metaKeyChecksum)))

		recs := tx.Bucket([]byte(bucketRecords))
		if recs == nil {
			return errors.New("repository snapshot missing records bucket")
		}
		return recs.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			r.index(rec)
			return nil
		})
	})
}

func (r *Reader) index(rec *pkgrecord.Record) {
	r.byID[rec.PackageID] = rec

	key := rec.Scope.Key()
	r.byKey[key] = append(r.byKey[key], rec.PackageID)
	r.byKeySlot[pkgrecord.KeySlot{Key: key, Slot: rec.Scope.Slot}] = rec.PackageID

	for _, n := range rec.Needed {
		sk := sonameKey{soname: n.SONAME, class: n.Class}
		r.bySoname[sk] = append(r.bySoname[sk], rec.PackageID)
	}
	for _, so := range rec.ProvidedSOs {
		sk := sonameKey{soname: so}
		r.bySoname[sk] = append(r.bySoname[sk], rec.PackageID)
	}

	for _, c := range rec.Content {
		r.byContent.AddOwner(c.Path, idString(rec.PackageID))
	}

	for _, p := range rec.Provides {
		r.byProvide[p.Name] = append(r.byProvide[p.Name], ProvideMember{PackageID: rec.PackageID, Default: p.Default})
	}
}

// Close releases this Reader's reference to the shared connection.
func (r *Reader) Close() error {
	return defaultPool.release(r.path)
}

// RepositoryID returns the configured identity of this repository.
func (r *Reader) RepositoryID() pkgrecord.RepositoryID { return r.repoID }

// Revision returns the snapshot's monotonic integer revision.
func (r *Reader) Revision() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Checksum returns the snapshot's opaque content checksum, used to key
// caches.
func (r *Reader) Checksum() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checksum
}

// Record retrieves a package record by id; callers access whatever field
// they need as ordinary struct field access rather than through a
// generic/reflective accessor.
func (r *Reader) Record(id pkgrecord.ID) (*pkgrecord.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return rec, ok
}

// ByCategoryName returns every candidate record under category/name.
func (r *Reader) ByCategoryName(category, name string) []*pkgrecord.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byKey[category+"/"+name]
	out := make([]*pkgrecord.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// ByAtom returns every candidate record whose scope matches atom a (slot,
// version operator, tag, revision, use-deps), without applying masking —
// masking is the mask engine's concern, not the reader's.
func (r *Reader) ByAtom(a *atom.Atom) []*pkgrecord.Record {
	if a.IsGroup() {
		var out []*pkgrecord.Record
		for _, sub := range a.Or {
			out = append(out, r.ByAtom(sub)...)
		}
		return out
	}

	var out []*pkgrecord.Record
	for _, rec := range r.ByCategoryName(a.Category, a.Name) {
		if a.Matches(toCandidate(rec)) {
			out = append(out, rec)
		}
	}
	return out
}

// ByKeySlot returns the single record, if any, at (key, slot).
func (r *Reader) ByKeySlot(key, slot string) (*pkgrecord.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKeySlot[pkgrecord.KeySlot{Key: key, Slot: slot}]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// BySONAME returns every record providing or requiring soname. When like is
// true, soname is matched as a substring rather than exactly.
func (r *Reader) BySONAME(soname string, class pkgrecord.ELFClass, like bool) []*pkgrecord.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[pkgrecord.ID]bool)
	var out []*pkgrecord.Record
	for sk, ids := range r.bySoname {
		if class != pkgrecord.ELFClassUnknown && sk.class != pkgrecord.ELFClassUnknown && sk.class != class {
			continue
		}
		matched := sk.soname == soname
		if like {
			matched = strings.Contains(sk.soname, soname)
		}
		if !matched {
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, r.byID[id])
			}
		}
	}
	return out
}

// ByContentPath returns the repository-declared owners of path, i.e.
// which candidate records ship that path.
func (r *Reader) ByContentPath(path string) []*pkgrecord.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owners, ok := r.byContent.Owners(path)
	if !ok {
		return nil
	}
	out := make([]*pkgrecord.Record, 0, len(owners))
	for _, o := range owners {
		if id, ok := parseIDString(o); ok {
			if rec, ok := r.byID[id]; ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

// DependencyStringsMatching returns every distinct dependency atom string
// in this snapshot containing substr, by a full linear scan of the
// in-memory record set.
func (r *Reader) DependencyStringsMatching(substr string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, rec := range r.byID {
		for _, d := range rec.Dependencies {
			if strings.Contains(d.Atom, substr) && !seen[d.Atom] {
				seen[d.Atom] = true
				out = append(out, d.Atom)
			}
		}
	}
	return out
}

// PackagesRequiring returns every record that declares depAtom as one of
// its dependencies — the "who needs X" query.
func (r *Reader) PackagesRequiring(depAtom string) []*pkgrecord.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*pkgrecord.Record
	for _, rec := range r.byID {
		for _, d := range rec.Dependencies {
			if d.Atom == depAtom {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// BySetName returns the membership of a named package set. Nothing fills
// the set index when a snapshot is loaded, so it returns an empty list for
// every name.
func (r *Reader) BySetName(name string) []*pkgrecord.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.bySet[name]
	out := make([]*pkgrecord.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// ByProvide returns the membership of a PROVIDE alias.
func (r *Reader) ByProvide(name string) []ProvideMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byProvide[name]
}

func toCandidate(rec *pkgrecord.Record) atom.Candidate {
	return atom.Candidate{
		Category:   rec.Scope.Category,
		Name:       rec.Scope.Name,
		Version:    rec.Scope.Version,
		Tag:        rec.Scope.Tag,
		Slot:       rec.Scope.Slot,
		EnabledUse: rec.Build.Use,
	}
}

func idString(id pkgrecord.ID) string {
	return "pkg:" + strconv.FormatInt(int64(id), 10)
}

func parseIDString(s string) (pkgrecord.ID, bool) {
	const prefix = "pkg:"
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(s[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return pkgrecord.ID(n), true
}

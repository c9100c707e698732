// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"time"

	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// Build writes a fresh repository snapshot at path containing records,
// tagged with revision and checksum. This is the write side used by the
// (external, out-of-scope) repository sync process; the core itself only
// ever opens the result read-only via Open.
func Build(path string, revision int64, checksum string, records []*pkgrecord.Record) error {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return errors.Wrapf(err, "creating repository snapshot %s", path)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}
		if err := meta.Put([]byte(metaKeyRevision), encodeInt64(revision)); err != nil {
			return err
		}
		if err := meta.Put([]byte(metaKeyChecksum), []byte(checksum)); err != nil {
			return err
		}

		recs, err := tx.CreateBucketIfNotExists([]byte(bucketRecords))
		if err != nil {
			return err
		}
		for _, rec := range records {
			b, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			if err := recs.Put(idKey(rec.PackageID), b); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeInt64(n int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * uint(7-i)))
	}
	return b
}

func decodeInt64(b []byte) int64 {
	var n int64
	for i := 0; i < 8 && i < len(b); i++ {
		n = n<<8 | int64(b[i])
	}
	return n
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/pkg/errors"
)

// Bucket names of the on-disk snapshot: one bucket for metadata and one
// for the records; the query indices are built in memory when a Reader
// loads the snapshot. Grounded on the bolt layout of
// golang-dep/internal/gps/source_cache_bolt.go.
const (
	bucketMeta    = "meta"
	bucketRecords = "records"
)

const (
	metaKeyRevision = "revision"
	metaKeyChecksum = "checksum"
)

func idKey(id pkgrecord.ID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func keyToID(b []byte) pkgrecord.ID {
	return pkgrecord.ID(binary.BigEndian.Uint64(b))
}

func encodeRecord(rec *pkgrecord.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "encoding package record")
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (*pkgrecord.Record, error) {
	var rec pkgrecord.Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "decoding package record")
	}
	return &rec, nil
}

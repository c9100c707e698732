// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package installed

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"strconv"
	"strings"

	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/pkg/errors"
)

// Bucket names, grounded on the same bucket-per-concern bolt layout as
// internal/registry.
const (
	bucketMeta     = "meta"
	bucketRecords  = "records"
	bucketKeySlot  = "keyslot"
	bucketBranchMigration = "branch_migration"
)

const metaKeyGeneration = "generation"

func idKey(id pkgrecord.ID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func keyToID(b []byte) pkgrecord.ID {
	return pkgrecord.ID(binary.BigEndian.Uint64(b))
}

func encodeInt64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func encodeInstalled(rec *pkgrecord.InstalledRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "encoding installed record")
	}
	return buf.Bytes(), nil
}

func decodeInstalled(b []byte) (*pkgrecord.InstalledRecord, error) {
	var rec pkgrecord.InstalledRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "decoding installed record")
	}
	return &rec, nil
}

func keySlotKey(key, slot string) []byte {
	return []byte(key + "\x00" + slot)
}

// idKeyString renders id as the same "pkg:<n>" token internal/registry uses
// for path-index ownership, so the two packages' OwnerIndex entries are
// never confused if ever compared.
func idKeyString(id pkgrecord.ID) string {
	return "pkg:" + strconv.FormatInt(int64(id), 10)
}

func parseIDStr(s string) (pkgrecord.ID, bool) {
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

func statExists(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func encodeMigrations(ms []BranchMigration) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ms); err != nil {
		return nil, errors.Wrap(err, "encoding branch migration log")
	}
	return buf.Bytes(), nil
}

func decodeMigrations(b []byte) ([]BranchMigration, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var ms []BranchMigration
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ms); err != nil {
		return nil, errors.Wrap(err, "decoding branch migration log")
	}
	return ms, nil
}

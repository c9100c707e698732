// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// connPool shares one *bolt.DB handle across concurrent opens of the same
// snapshot path. Grounded on golang-dep/internal/gps's bolt cache,
// generalized from one-cache-per-process to one-handle-per-path with
// reference counting so repeated Open/Close pairs over the same repository
// snapshot do not reopen the file.
type connPool struct {
	mu   sync.Mutex
	dbs  map[string]*pooledDB
}

type pooledDB struct {
	db   *bolt.DB
	refs int
}

var defaultPool = &connPool{dbs: make(map[string]*pooledDB)}

func (p *connPool) acquire(path string, readOnly bool) (*bolt.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pd, ok := p.dbs[path]; ok {
		pd.refs++
		return pd.db, nil
	}

	db, err := bolt.Open(path, 0644, &bolt.Options{
		Timeout:  2 * time.Second,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening repository snapshot %s", path)
	}
	p.dbs[path] = &pooledDB{db: db, refs: 1}
	return db, nil
}

func (p *connPool) release(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pd, ok := p.dbs[path]
	if !ok {
		return nil
	}
	pd.refs--
	if pd.refs > 0 {
		return nil
	}
	delete(p.dbs, path)
	return pd.db.Close()
}

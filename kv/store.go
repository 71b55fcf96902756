// Copyright 2024 The jsondb Authors
// This file is part of jsondb.
//
// jsondb is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// jsondb is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with jsondb. If not, see <http://www.gnu.org/licenses/>.

package kv

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// boltStore is the single concrete Store implementation: one bbolt
// database file holds every bucket a partition needs (the object table
// bucket plus one bucket per index). Only one RwTx may be open at a time,
// enforced by writeMu, matching spec.md's "at most one concurrent write
// transaction per store".
type boltStore struct {
	db *bbolt.DB

	writeMu sync.Mutex // held for the lifetime of the live RwTx
	state   uint64     // atomic: advances once per commit
}

// Open opens (creating if necessary) a bbolt-backed Store at path.
func Open(path string) (Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) StateNumber() uint64 { return atomic.LoadUint64(&s.state) }

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) BeginRo() (Tx, error) {
	btx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &roTx{btx: btx}, nil
}

func (s *boltStore) BeginRw() (RwTx, error) {
	if !s.writeMu.TryLock() {
		return nil, ErrWriteInProgress
	}
	btx, err := s.db.Begin(true)
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	return &rwTx{
		store:   s,
		btx:     btx,
		offsets: make(map[string]*btreeOffsets),
	}, nil
}

// kvEntry is one pending write recorded in a transaction's offsets map
// (spec.md §3: "an in-memory ordered mapping offsets: K -> V-location").
type kvEntry struct {
	key     []byte
	value   []byte
	deleted bool
}

func entryLess(a, b kvEntry) bool { return bytes.Compare(a.key, b.key) < 0 }

// --- read-only transaction ---

type roTx struct {
	btx    *bbolt.Tx
	closed bool
}

func (t *roTx) Get(bucket string, key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrTxClosed
	}
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *roTx) Cursor(bucket string) (Cursor, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	b := t.btx.Bucket([]byte(bucket))
	return newMergeCursor(b, nil), nil
}

func (t *roTx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	_ = t.btx.Rollback()
}

// --- read-write transaction ---

type rwTx struct {
	store   *boltStore
	btx     *bbolt.Tx
	offsets map[string]*btreeOffsets
	closed  bool
}

// btreeOffsets is the ordered in-memory pending-writes map for one bucket,
// the Go analogue of the original QMap<QByteArray,...> m_offsets (see
// SPEC_FULL.md §3).
type btreeOffsets struct {
	entries []kvEntry // kept sorted by key; small enough per-txn to use a
	// plain sorted slice with binary search rather than a full tree node
	// structure, but modeled on the BTreeG ordered-map contract.
}

func (o *btreeOffsets) get(key []byte) (kvEntry, bool) {
	i := sort.Search(len(o.entries), func(i int) bool { return bytes.Compare(o.entries[i].key, key) >= 0 })
	if i < len(o.entries) && bytes.Equal(o.entries[i].key, key) {
		return o.entries[i], true
	}
	return kvEntry{}, false
}

func (o *btreeOffsets) put(e kvEntry) {
	i := sort.Search(len(o.entries), func(i int) bool { return bytes.Compare(o.entries[i].key, e.key) >= 0 })
	if i < len(o.entries) && bytes.Equal(o.entries[i].key, e.key) {
		o.entries[i] = e
		return
	}
	o.entries = append(o.entries, kvEntry{})
	copy(o.entries[i+1:], o.entries[i:])
	o.entries[i] = e
}

func (t *rwTx) offsetsFor(bucket string) *btreeOffsets {
	o, ok := t.offsets[bucket]
	if !ok {
		o = &btreeOffsets{}
		t.offsets[bucket] = o
	}
	return o
}

func (t *rwTx) Get(bucket string, key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrTxClosed
	}
	if o, ok := t.offsets[bucket]; ok {
		if e, found := o.get(key); found {
			if e.deleted {
				return nil, false, nil
			}
			return e.value, true, nil
		}
	}
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *rwTx) Put(bucket string, key, value []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	t.offsetsFor(bucket).put(kvEntry{key: k, value: v})
	return nil
}

func (t *rwTx) Delete(bucket string, key []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	k := append([]byte(nil), key...)
	t.offsetsFor(bucket).put(kvEntry{key: k, deleted: true})
	return nil
}

func (t *rwTx) CreateBucketIfNotExists(bucket string) error {
	if t.closed {
		return ErrTxClosed
	}
	_, err := t.btx.CreateBucketIfNotExists([]byte(bucket))
	return err
}

func (t *rwTx) Cursor(bucket string) (Cursor, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	b := t.btx.Bucket([]byte(bucket))
	return newMergeCursor(b, t.offsetsFor(bucket)), nil
}

// Commit applies every bucket's pending offsets into the bbolt bucket,
// commits the underlying bbolt transaction, and advances the store's
// state number. Per spec.md §3, offsets merge atomically with the base.
func (t *rwTx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	for bucket, o := range t.offsets {
		if len(o.entries) == 0 {
			continue
		}
		b, err := t.btx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			t.closed = true
			t.store.writeMu.Unlock()
			_ = t.btx.Rollback()
			return err
		}
		for _, e := range o.entries {
			if e.deleted {
				if err := b.Delete(e.key); err != nil {
					t.closed = true
					t.store.writeMu.Unlock()
					_ = t.btx.Rollback()
					return err
				}
				continue
			}
			if err := b.Put(e.key, e.value); err != nil {
				t.closed = true
				t.store.writeMu.Unlock()
				_ = t.btx.Rollback()
				return err
			}
		}
	}
	t.closed = true
	defer t.store.writeMu.Unlock()
	if err := t.btx.Commit(); err != nil {
		return err
	}
	atomic.AddUint64(&t.store.state, 1)
	return nil
}

func (t *rwTx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	defer t.store.writeMu.Unlock()
	_ = t.btx.Rollback()
}

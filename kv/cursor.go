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
	"sort"

	"go.etcd.io/bbolt"
)

// cursorState is the tri-state every cursor moves through; grounded on
// the original qtjsondb cursor's Uninitialized/Found/NotFound variant
// (see original_source/src/qkeyvaluestore/qkeyvaluestorecursor.cpp).
type cursorState int

const (
	csUninitialized cursorState = iota
	csFound
	csNotFound
)

// mergeCursor walks the merged view of a committed bbolt bucket shadowed
// by a transaction's pending offsets. A read-only transaction's cursor has
// a nil offsets (the base bucket is the whole view); a write transaction's
// cursor merges both layers, with offsets entries (including tombstones)
// shadowing the base on key collision.
//
// Values are never cached on the cursor: Current() always re-resolves the
// key against the offsets/base layering, matching the "materialize lazily
// on current()" contract of spec.md §4.1 — cheaper here than in the
// original single-layer implementation, since a fresh lookup is the same
// cost as reading a cached value once the merge has already located the key.
type mergeCursor struct {
	base    *bbolt.Bucket
	baseCur *bbolt.Cursor
	offsets *btreeOffsets

	state  cursorState
	curKey []byte
}

func newMergeCursor(base *bbolt.Bucket, offsets *btreeOffsets) *mergeCursor {
	c := &mergeCursor{base: base, offsets: offsets}
	if base != nil {
		c.baseCur = base.Cursor()
	}
	return c
}

func (c *mergeCursor) lookup(key []byte) ([]byte, bool) {
	if c.offsets != nil {
		if e, found := c.offsets.get(key); found {
			if e.deleted {
				return nil, false
			}
			return append([]byte(nil), e.value...), true
		}
	}
	if c.base == nil {
		return nil, false
	}
	v := c.base.Get(key)
	if v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// --- base-side neighbor search (bbolt cursor is bidirectional: any of
// Seek/First/Last/Next/Prev may be called regardless of prior position) ---

func (c *mergeCursor) baseFirst() (key []byte, ok bool) {
	if c.baseCur == nil {
		return nil, false
	}
	k, _ := c.baseCur.First()
	return k, k != nil
}

func (c *mergeCursor) baseLast() (key []byte, ok bool) {
	if c.baseCur == nil {
		return nil, false
	}
	k, _ := c.baseCur.Last()
	return k, k != nil
}

func (c *mergeCursor) baseStrictlyAfter(key []byte) (out []byte, ok bool) {
	if c.baseCur == nil {
		return nil, false
	}
	k, _ := c.baseCur.Seek(key)
	if k != nil && bytes.Equal(k, key) {
		k, _ = c.baseCur.Next()
	}
	return k, k != nil
}

func (c *mergeCursor) baseStrictlyBefore(key []byte) (out []byte, ok bool) {
	if c.baseCur == nil {
		return nil, false
	}
	k, _ := c.baseCur.Seek(key)
	if k == nil {
		k, _ = c.baseCur.Last()
		return k, k != nil
	}
	k, _ = c.baseCur.Prev()
	return k, k != nil
}

func (c *mergeCursor) baseAtOrAfter(key []byte) (out []byte, ok bool) {
	if c.baseCur == nil {
		return nil, false
	}
	k, _ := c.baseCur.Seek(key)
	return k, k != nil
}

func (c *mergeCursor) baseAtOrBefore(key []byte) (out []byte, ok bool) {
	if c.baseCur == nil {
		return nil, false
	}
	k, _ := c.baseCur.Seek(key)
	if k != nil && bytes.Equal(k, key) {
		return k, true
	}
	if k == nil {
		k, _ = c.baseCur.Last()
		return k, k != nil
	}
	k, _ = c.baseCur.Prev()
	return k, k != nil
}

// --- offsets-side neighbor search (sorted slice, binary search) ---

func (c *mergeCursor) offEntries() []kvEntry {
	if c.offsets == nil {
		return nil
	}
	return c.offsets.entries
}

func (c *mergeCursor) offFirst() (e kvEntry, ok bool) {
	es := c.offEntries()
	if len(es) == 0 {
		return kvEntry{}, false
	}
	return es[0], true
}

func (c *mergeCursor) offLast() (e kvEntry, ok bool) {
	es := c.offEntries()
	if len(es) == 0 {
		return kvEntry{}, false
	}
	return es[len(es)-1], true
}

func (c *mergeCursor) offStrictlyAfter(key []byte) (e kvEntry, ok bool) {
	es := c.offEntries()
	i := sort.Search(len(es), func(i int) bool { return bytes.Compare(es[i].key, key) > 0 })
	if i >= len(es) {
		return kvEntry{}, false
	}
	return es[i], true
}

func (c *mergeCursor) offStrictlyBefore(key []byte) (e kvEntry, ok bool) {
	es := c.offEntries()
	i := sort.Search(len(es), func(i int) bool { return bytes.Compare(es[i].key, key) >= 0 })
	i--
	if i < 0 {
		return kvEntry{}, false
	}
	return es[i], true
}

func (c *mergeCursor) offAtOrAfter(key []byte) (e kvEntry, ok bool) {
	es := c.offEntries()
	i := sort.Search(len(es), func(i int) bool { return bytes.Compare(es[i].key, key) >= 0 })
	if i >= len(es) {
		return kvEntry{}, false
	}
	return es[i], true
}

func (c *mergeCursor) offAtOrBefore(key []byte) (e kvEntry, ok bool) {
	es := c.offEntries()
	i := sort.Search(len(es), func(i int) bool { return bytes.Compare(es[i].key, key) >= 0 })
	if i < len(es) && bytes.Equal(es[i].key, key) {
		return es[i], true
	}
	i--
	if i < 0 {
		return kvEntry{}, false
	}
	return es[i], true
}

// --- merged candidate selection, shadowing ties toward offsets, with
// tombstone skipping ---

// candidate is either empty (ok=false) or names a merged key plus whether
// that key's offsets-sourced entry (if any) is a tombstone.
type candidate struct {
	key     []byte
	deleted bool
}

func pickMin(base []byte, baseOk bool, off kvEntry, offOk bool) (candidate, bool) {
	switch {
	case !baseOk && !offOk:
		return candidate{}, false
	case baseOk && !offOk:
		return candidate{key: base}, true
	case !baseOk && offOk:
		return candidate{key: off.key, deleted: off.deleted}, true
	default:
		cmp := bytes.Compare(base, off.key)
		if cmp <= 0 {
			if cmp == 0 {
				return candidate{key: off.key, deleted: off.deleted}, true
			}
			return candidate{key: base}, true
		}
		return candidate{key: off.key, deleted: off.deleted}, true
	}
}

func pickMax(base []byte, baseOk bool, off kvEntry, offOk bool) (candidate, bool) {
	switch {
	case !baseOk && !offOk:
		return candidate{}, false
	case baseOk && !offOk:
		return candidate{key: base}, true
	case !baseOk && offOk:
		return candidate{key: off.key, deleted: off.deleted}, true
	default:
		cmp := bytes.Compare(base, off.key)
		if cmp >= 0 {
			if cmp == 0 {
				return candidate{key: off.key, deleted: off.deleted}, true
			}
			return candidate{key: base}, true
		}
		return candidate{key: off.key, deleted: off.deleted}, true
	}
}

func (c *mergeCursor) firstCandidate() (candidate, bool) {
	b, bok := c.baseFirst()
	o, ook := c.offFirst()
	return pickMin(b, bok, o, ook)
}

func (c *mergeCursor) lastCandidate() (candidate, bool) {
	b, bok := c.baseLast()
	o, ook := c.offLast()
	return pickMax(b, bok, o, ook)
}

func (c *mergeCursor) afterCandidate(key []byte) (candidate, bool) {
	b, bok := c.baseStrictlyAfter(key)
	o, ook := c.offStrictlyAfter(key)
	return pickMin(b, bok, o, ook)
}

func (c *mergeCursor) beforeCandidate(key []byte) (candidate, bool) {
	b, bok := c.baseStrictlyBefore(key)
	o, ook := c.offStrictlyBefore(key)
	return pickMax(b, bok, o, ook)
}

func (c *mergeCursor) atOrAfterCandidate(key []byte) (candidate, bool) {
	b, bok := c.baseAtOrAfter(key)
	o, ook := c.offAtOrAfter(key)
	return pickMin(b, bok, o, ook)
}

func (c *mergeCursor) atOrBeforeCandidate(key []byte) (candidate, bool) {
	b, bok := c.baseAtOrBefore(key)
	o, ook := c.offAtOrBefore(key)
	return pickMax(b, bok, o, ook)
}

// --- public Cursor interface ---

func (c *mergeCursor) First() (bool, error) {
	cand, ok := c.firstCandidate()
	for ok && cand.deleted {
		cand, ok = c.afterCandidate(cand.key)
	}
	if !ok {
		c.state, c.curKey = csNotFound, nil
		return false, nil
	}
	c.state, c.curKey = csFound, cand.key
	return true, nil
}

func (c *mergeCursor) Last() (bool, error) {
	cand, ok := c.lastCandidate()
	for ok && cand.deleted {
		cand, ok = c.beforeCandidate(cand.key)
	}
	if !ok {
		c.state, c.curKey = csNotFound, nil
		return false, nil
	}
	c.state, c.curKey = csFound, cand.key
	return true, nil
}

func (c *mergeCursor) Next() (bool, error) {
	if c.state == csUninitialized {
		return false, nil
	}
	if c.state == csNotFound && c.curKey == nil {
		return false, nil
	}
	cand, ok := c.afterCandidate(c.curKey)
	for ok && cand.deleted {
		cand, ok = c.afterCandidate(cand.key)
	}
	if !ok {
		c.state, c.curKey = csNotFound, nil
		return false, nil
	}
	c.state, c.curKey = csFound, cand.key
	return true, nil
}

func (c *mergeCursor) Previous() (bool, error) {
	if c.state == csUninitialized {
		return false, nil
	}
	if c.state == csNotFound && c.curKey == nil {
		return false, nil
	}
	cand, ok := c.beforeCandidate(c.curKey)
	for ok && cand.deleted {
		cand, ok = c.beforeCandidate(cand.key)
	}
	if !ok {
		c.state, c.curKey = csNotFound, nil
		return false, nil
	}
	c.state, c.curKey = csFound, cand.key
	return true, nil
}

func (c *mergeCursor) Current() (key, value []byte, ok bool, err error) {
	if c.state != csFound {
		return nil, nil, false, nil
	}
	v, found := c.lookup(c.curKey)
	if !found {
		// Shouldn't happen: a Found state always names a live key. Treat
		// defensively as NotFound rather than panic.
		return nil, nil, false, nil
	}
	return append([]byte(nil), c.curKey...), v, true, nil
}

func (c *mergeCursor) Seek(key []byte) (bool, error) {
	v, ok := c.lookup(key)
	if !ok {
		c.state, c.curKey = csNotFound, nil
		return false, nil
	}
	_ = v
	c.state, c.curKey = csFound, append([]byte(nil), key...)
	return true, nil
}

func (c *mergeCursor) SeekRange(key []byte, policy SeekPolicy) (bool, error) {
	var cand candidate
	var ok bool
	if policy == EqualOrGreater {
		cand, ok = c.atOrAfterCandidate(key)
		for ok && cand.deleted {
			cand, ok = c.afterCandidate(cand.key)
		}
	} else {
		cand, ok = c.atOrBeforeCandidate(key)
		for ok && cand.deleted {
			cand, ok = c.beforeCandidate(cand.key)
		}
	}
	if !ok {
		c.state, c.curKey = csNotFound, nil
		return false, nil
	}
	c.state, c.curKey = csFound, cand.key
	return true, nil
}

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

// Package index implements a named secondary index over a single
// property path: forward keys of encode(value) || ObjectKey for
// range-scanning by value, and a reverse-key bucket keyed by ObjectKey so
// Apply can evict a document's stale forward entry in O(1) rather than
// scanning the forward keyspace for it.
package index

import (
	"fmt"

	"github.com/erigontech/jsondb/kv"
	"github.com/erigontech/jsondb/objecttable"
)

// Index is one (property-path, value-type) secondary index. It owns two
// buckets within the shared kv.Store: a forward bucket (the one
// IndexQuery scans) and a reverse bucket used only internally by Apply.
type Index struct {
	store        kv.Store
	propertyPath string
	valueType    ValueType
	forwardName  string
	reverseName  string
}

// BucketName returns the kv bucket name for a forward index over path,
// matching spec.md §6's "<partition>/index-<property>.db" naming
// convention collapsed onto bucket names within one store file.
func BucketName(path string) string { return "index-" + path }

func reverseBucketName(path string) string { return "index-" + path + "-rev" }

// Open returns an Index over propertyPath/valueType backed by store,
// creating its buckets on first write.
func Open(store kv.Store, propertyPath string, valueType ValueType) *Index {
	return &Index{
		store:        store,
		propertyPath: propertyPath,
		valueType:    valueType,
		forwardName:  BucketName(propertyPath),
		reverseName:  reverseBucketName(propertyPath),
	}
}

// PropertyPath returns the dotted path this index is built over.
func (ix *Index) PropertyPath() string { return ix.propertyPath }

// ValueType returns this index's declared value type.
func (ix *Index) ValueType() ValueType { return ix.valueType }

// ForwardBucket is the bucket name IndexQuery scans.
func (ix *Index) ForwardBucket() string { return ix.forwardName }

// StateNumber is the index's own commit counter ("tag()" in spec.md §4.3).
// Every commit to the underlying store advances every index's tag
// uniformly since all index buckets live in the same kv.Store and share
// its single commit counter.
func (ix *Index) StateNumber() uint64 { return ix.store.StateNumber() }

func forwardKey(encodedValue []byte, key objecttable.ObjectKey) []byte {
	return ForwardKey(encodedValue, key)
}

// ForwardKey builds the forward-bucket key encode(value) || ObjectKey.
// Exported so query.Compiler can build seek bounds without duplicating
// the concatenation rule.
func ForwardKey(encodedValue []byte, key objecttable.ObjectKey) []byte {
	out := make([]byte, 0, len(encodedValue)+16)
	out = append(out, encodedValue...)
	out = append(out, key[:]...)
	return out
}

// Apply updates this index for a write (objecttable.ObjectKey, oldDoc?,
// newDoc?) inside tx, per spec.md §4.3: extract, coerce, drop the stale
// forward entry, insert the new one if present.
func (ix *Index) Apply(tx kv.RwTx, key objecttable.ObjectKey, oldDoc, newDoc objecttable.Document) error {
	if err := tx.CreateBucketIfNotExists(ix.forwardName); err != nil {
		return err
	}
	if err := tx.CreateBucketIfNotExists(ix.reverseName); err != nil {
		return err
	}

	if err := ix.evictStale(tx, key); err != nil {
		return err
	}

	if newDoc == nil || newDoc.Deleted() {
		return nil
	}
	raw, ok := ExtractPath(newDoc, ix.propertyPath)
	if !ok {
		return nil
	}
	coerced, ok := Coerce(raw, ix.valueType)
	if !ok {
		return nil // sparse: no entry for a type mismatch (spec.md §4.3)
	}
	encoded, err := EncodeValue(coerced, ix.valueType)
	if err != nil {
		return err
	}
	fk := forwardKey(encoded, key)
	if err := tx.Put(ix.forwardName, fk, key[:]); err != nil {
		return err
	}
	return tx.Put(ix.reverseName, key[:], fk)
}

// evictStale removes key's previous forward entry, if any, using the
// reverse-key bucket to find it without a forward-index scan.
func (ix *Index) evictStale(tx kv.RwTx, key objecttable.ObjectKey) error {
	prevFk, found, err := tx.Get(ix.reverseName, key[:])
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := tx.Delete(ix.forwardName, prevFk); err != nil {
		return err
	}
	return tx.Delete(ix.reverseName, key[:])
}

// Remove evicts key's forward entry entirely (used when a document is
// hard-deleted from the Object Table rather than tombstoned).
func (ix *Index) Remove(tx kv.RwTx, key objecttable.ObjectKey) error {
	return ix.evictStale(tx, key)
}

// SplitForwardKey separates a raw forward-bucket key into its encoded
// value prefix and trailing 16-byte ObjectKey suffix.
func SplitForwardKey(raw []byte) (encodedValue []byte, key objecttable.ObjectKey, err error) {
	if len(raw) < 16 {
		return nil, objecttable.ObjectKey{}, fmt.Errorf("index: forward key too short: %d bytes", len(raw))
	}
	n := len(raw) - 16
	copy(key[:], raw[n:])
	return raw[:n], key, nil
}

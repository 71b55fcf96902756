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

// Package objecttable is the persistent store of document bodies, keyed by
// a 16-byte object identity (ObjectKey). It wraps a single kv bucket and
// a CBOR codec for the self-describing document encoding.
package objecttable

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"

	"github.com/erigontech/jsondb/kv"
)

// BucketName is the bucket the Object Table occupies within a partition's
// underlying kv.Store (spec.md §6: "<partition>/objects.db").
const BucketName = "objects"

// ObjectKey is a stable, 16-byte object identity (a UUID). It sorts
// byte-wise lexicographically, matching spec.md §3's ordering rule for
// identity-keyed data.
type ObjectKey [16]byte

// String renders k in canonical 36-character text form.
func (k ObjectKey) String() string { return uuid.UUID(k).String() }

// ParseObjectKey parses the canonical 36-character text form (the "_uuid"
// property's wire representation) into an ObjectKey.
func ParseObjectKey(s string) (ObjectKey, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ObjectKey{}, fmt.Errorf("objecttable: invalid object key %q: %w", s, err)
	}
	return ObjectKey(u), nil
}

// NewObjectKey generates a fresh random (v4) object identity.
func NewObjectKey() ObjectKey {
	return ObjectKey(uuid.New())
}

// Document is a JSON-shaped object: string property names to JSON values
// (nil / bool / float64 / string / []interface{} / map[string]interface{}),
// the decoded form spec.md §3 describes.
type Document map[string]interface{}

// Reserved property names (spec.md §6).
const (
	PropUUID    = "_uuid"
	PropType    = "_type"
	PropVersion = "_version"
	PropDeleted = "_deleted"
	PropIndexValue = "_indexValue"
)

// UUID returns the document's "_uuid" property as text, or "" if absent
// or not a string.
func (d Document) UUID() string {
	s, _ := d[PropUUID].(string)
	return s
}

// Type returns the document's "_type" property, or "" if absent.
func (d Document) Type() string {
	s, _ := d[PropType].(string)
	return s
}

// Deleted reports whether this document is a tombstone.
func (d Document) Deleted() bool {
	b, _ := d[PropDeleted].(bool)
	return b
}

// Clone returns a shallow copy of d (sufficient for read-only snapshot use;
// nested mutable values such as maps/slices are shared with the original).
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

var cborHandle = func() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}()

// Encode serializes d into the self-describing binary encoding spec.md
// §4.2 requires (round-trip-exact CBOR, chosen per SPEC_FULL.md §3).
func Encode(d Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, cborHandle)
	if err := enc.Encode(map[string]interface{}(d)); err != nil {
		return nil, fmt.Errorf("objecttable: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a document previously produced by Encode.
func Decode(raw []byte) (Document, error) {
	var m map[string]interface{}
	dec := codec.NewDecoderBytes(raw, cborHandle)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("objecttable: decode: %w", err)
	}
	return Document(m), nil
}

// Table is the Object Table: get/put/del keyed by ObjectKey, backed by one
// kv.Store bucket, with the store's commit counter as its state number.
type Table struct {
	store kv.Store
}

// Open returns a Table view over store's object bucket, creating the
// bucket if this is the first write.
func Open(store kv.Store) *Table {
	return &Table{store: store}
}

// StateNumber returns the Object Table's commit counter (spec.md §4.2).
func (t *Table) StateNumber() uint64 { return t.store.StateNumber() }

// Get fetches and decodes the document stored at key within tx, or
// ok=false if absent.
func Get(tx kv.Tx, key ObjectKey) (doc Document, ok bool, err error) {
	raw, found, err := tx.Get(BucketName, key[:])
	if err != nil || !found {
		return nil, false, err
	}
	doc, err = Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Put encodes and stores doc at key within tx.
func Put(tx kv.RwTx, key ObjectKey, doc Document) error {
	if err := tx.CreateBucketIfNotExists(BucketName); err != nil {
		return err
	}
	raw, err := Encode(doc)
	if err != nil {
		return err
	}
	return tx.Put(BucketName, key[:], raw)
}

// Delete removes key's document within tx. Per spec.md, callers typically
// prefer writing a tombstone document (_deleted: true) over a hard
// Delete, since queries must still be able to observe a removed
// identity's terminal state for change notification purposes; Delete is
// exposed for callers (e.g. compaction) that genuinely want the bytes gone.
func Delete(tx kv.RwTx, key ObjectKey) error {
	return tx.Delete(BucketName, key[:])
}

// Cursor opens a raw ObjectKey-ordered cursor over the Object Table
// within tx, used by UuidQuery (query package) and ChangesSince
// (partition package) to scan identities directly.
func Cursor(tx kv.Tx) (kv.Cursor, error) {
	return tx.Cursor(BucketName)
}

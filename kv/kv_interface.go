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

// Package kv is the ordered key-value substrate every other layer of the
// engine is built on: an offsets map (pending writes) layered over a
// committed base map, read through read-only snapshots and a single
// in-flight write transaction per Store.
//
// Naming follows the convention of the wider engine:
//
//	tx  - database transaction
//	k/v - key/value
//	ro  - read-only
//	rw  - read-write
package kv

import "errors"

var (
	// ErrTxClosed is returned when an operation is attempted against a
	// transaction that has already been committed or aborted.
	ErrTxClosed = errors.New("kv: transaction already committed or aborted")

	// ErrWriteInProgress is returned by BeginRw when another write
	// transaction is already live against the same Store.
	ErrWriteInProgress = errors.New("kv: a write transaction is already in progress")

	// ErrBucketNotFound names a missing bucket. This package's Store does
	// not return it: Get on a bucket that does not exist reports ok=false
	// and Cursor yields an empty view.
	ErrBucketNotFound = errors.New("kv: bucket not found")
)

// SeekPolicy selects which boundary SeekRange lands on when the exact key
// is absent from the ordered view.
type SeekPolicy int

const (
	// EqualOrGreater positions at the least key >= the sought key.
	EqualOrGreater SeekPolicy = iota
	// EqualOrLess positions at the greatest key <= the sought key.
	EqualOrLess
)

// Tx is a read-only view over every bucket's ordered key space: the
// transaction's own pending writes (if any; a write transaction also
// satisfies Tx) shadow the committed base.
type Tx interface {
	// Get returns the value for key, or ok=false if absent in this view.
	Get(bucket string, key []byte) (value []byte, ok bool, err error)

	// Cursor opens a new Cursor over bucket positioned at Uninitialized.
	Cursor(bucket string) (Cursor, error)

	// Rollback discards a write transaction's pending offsets, or releases
	// a read-only snapshot (later calls on it return ErrTxClosed). Safe to
	// call after Commit.
	Rollback()
}

// RwTx is a write transaction: one may be in flight per Store at a time.
type RwTx interface {
	Tx

	// Put records bucket[key] = value into the pending offsets; visible to
	// this transaction's own Get/Cursor calls immediately, to others only
	// after Commit.
	Put(bucket string, key, value []byte) error

	// Delete records a tombstone for bucket[key] in the pending offsets.
	Delete(bucket string, key []byte) error

	// CreateBucketIfNotExists ensures bucket exists in the committed base.
	CreateBucketIfNotExists(bucket string) error

	// Commit merges the pending offsets into the base map atomically and
	// advances the Store's state number. The transaction is unusable
	// afterward except for a (harmless) Rollback.
	Commit() error
}

// Cursor walks one bucket's key space within the transaction that created
// it. Its lifetime is strictly bounded by that transaction: using a Cursor
// after its Tx has committed or aborted is a programmer error.
//
// Every positioning method (First/Last/Next/Previous and Seek/SeekRange)
// records only the key; no value is cached at seek time, and Current
// resolves the value afresh on each call.
type Cursor interface {
	// First positions at the smallest key. False (NotFound) if the view
	// is empty.
	First() (ok bool, err error)
	// Last positions at the largest key. False (NotFound) if the view is
	// empty.
	Last() (ok bool, err error)
	// Next advances one position. False, with no implicit seek, if the
	// cursor is Uninitialized, if the view is empty, or if already past
	// the end.
	Next() (ok bool, err error)
	// Previous moves back one position. Same Uninitialized/empty/
	// past-the-beginning rules as Next.
	Previous() (ok bool, err error)
	// Current returns the key/value at the cursor's position. Only
	// returns true when the cursor state is Found.
	Current() (key, value []byte, ok bool, err error)
	// Seek positions exactly at key, or reports NotFound.
	Seek(key []byte) (ok bool, err error)
	// SeekRange positions per policy when key itself is absent; see
	// EqualOrGreater / EqualOrLess for the exact boundary contract.
	SeekRange(key []byte, policy SeekPolicy) (ok bool, err error)
}

// Store is an ordered KV substrate: at most one write transaction may be
// in flight at a time; read transactions observe an immutable snapshot.
type Store interface {
	// BeginRo opens a read-only snapshot transaction.
	BeginRo() (Tx, error)
	// BeginRw opens the (exclusive) write transaction. Returns
	// ErrWriteInProgress if one is already live.
	BeginRw() (RwTx, error)
	// StateNumber returns the store's current commit counter.
	StateNumber() uint64
	// Close releases underlying resources. No transaction may be live.
	Close() error
}

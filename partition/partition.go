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

// Package partition ties the Object Table, secondary indexes, and the
// watcher hub together into one commit pipeline, per spec.md §4.5/§5:
// a single in-flight write transaction per partition, all affected
// indexes advancing alongside the Object Table within that transaction,
// and notifications fanned out only after a successful commit.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/erigontech/jsondb/index"
	"github.com/erigontech/jsondb/internal/logutil"
	"github.com/erigontech/jsondb/kv"
	"github.com/erigontech/jsondb/objecttable"
)

// storeFileName is the single bbolt file backing a partition; every
// index lives in its own bucket within it (see index.BucketName),
// collapsing spec.md §6's "<partition>/index-<property>.db" per-file
// naming onto bucket names within one store file.
const storeFileName = "partition.db"

// Partition owns one Object Table, its secondary indexes, and the
// watchers registered against it. It implements query.TxSource so an
// IndexQuery opened during a write borrows the writer's transaction
// instead of starting its own (spec.md §5).
type Partition struct {
	name string
	dir  string
	lock *flock.Flock

	store kv.Store
	table *objecttable.Table

	indexesMu sync.RWMutex
	indexes   map[string]*index.Index

	curTxMu sync.Mutex
	curTx   kv.RwTx

	hub     *Hub
	metrics *metrics
	log     *logutil.Logger
}

// Open locks and opens (creating if necessary) the partition directory
// <dataDir>/<name>, the Go analogue of the original's single-process
// assumption made explicit via an exclusive github.com/gofrs/flock lock
// on <dir>/LOCK.
func Open(dataDir, name string) (*Partition, error) {
	dir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("partition: create directory %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("partition: lock %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("partition: %s is locked by another process", name)
	}

	store, err := kv.Open(filepath.Join(dir, storeFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("partition: open store for %s: %w", name, err)
	}

	return &Partition{
		name:    name,
		dir:     dir,
		lock:    lock,
		store:   store,
		table:   objecttable.Open(store),
		indexes: make(map[string]*index.Index),
		hub:     newHub(),
		metrics: newMetrics(name),
		log:     logutil.New("partition").With("partition", name),
	}, nil
}

// Name returns the partition's name.
func (p *Partition) Name() string { return p.name }

// Table returns the partition's Object Table, for direct reads (e.g. a
// UuidQuery) alongside IndexQuery.
func (p *Partition) Table() *objecttable.Table { return p.table }

// Store satisfies query.TxSource.
func (p *Partition) Store() kv.Store { return p.store }

// CurrentWriteTx satisfies query.TxSource: it returns the in-flight
// write transaction, if Create/Update/Remove is currently executing on
// this partition, so a concurrently-opened IndexQuery shares it instead
// of starting its own (spec.md §5, "shared resources").
func (p *Partition) CurrentWriteTx() (kv.RwTx, bool) {
	p.curTxMu.Lock()
	defer p.curTxMu.Unlock()
	if p.curTx == nil {
		return nil, false
	}
	return p.curTx, true
}

func (p *Partition) setCurrentTx(tx kv.RwTx) {
	p.curTxMu.Lock()
	p.curTx = tx
	p.curTxMu.Unlock()
}

func (p *Partition) clearCurrentTx() {
	p.curTxMu.Lock()
	p.curTx = nil
	p.curTxMu.Unlock()
}

// EnsureIndex returns the Index over (propertyPath, valueType), opening,
// backfilling, and registering it on first use. A freshly-opened index
// has an empty forward bucket, so every live (non-tombstoned) document
// already in the Object Table is scanned and applied to it before it is
// registered — otherwise a query against an index built after some
// matching documents were written would silently miss them, violating
// spec.md §4.3's "an index covers every live document with a coercible
// value at its property path". Restored from original_source's
// JsonDbIndex::populateIndex, which spec.md's distillation omits.
func (p *Partition) EnsureIndex(propertyPath string, valueType index.ValueType) (*index.Index, error) {
	key := indexKey(propertyPath, valueType)

	p.indexesMu.Lock()
	defer p.indexesMu.Unlock()
	if ix, ok := p.indexes[key]; ok {
		return ix, nil
	}

	ix := index.Open(p.store, propertyPath, valueType)
	if err := p.backfillIndex(ix); err != nil {
		return nil, err
	}
	p.indexes[key] = ix
	return ix, nil
}

// backfillIndex scans every document currently in the Object Table and
// applies it to ix, all within one write transaction so a concurrent
// mutate (which shares the store's single-writer transaction slot)
// cannot commit a document between the scan and ix's registration and
// be missed by both. The caller holds indexesMu for the duration, which
// blocks mutate's own index list read until the backfill transaction
// has committed.
func (p *Partition) backfillIndex(ix *index.Index) error {
	tx, err := p.store.BeginRw()
	if err != nil {
		return err
	}
	p.setCurrentTx(tx)
	defer p.clearCurrentTx()

	cur, err := objecttable.Cursor(tx)
	if err != nil {
		tx.Rollback()
		return err
	}

	for ok, err := cur.First(); ; ok, err = cur.Next() {
		if err != nil {
			tx.Rollback()
			return err
		}
		if !ok {
			break
		}
		rawKey, raw, found, err := cur.Current()
		if err != nil {
			tx.Rollback()
			return err
		}
		if !found {
			continue
		}
		doc, err := objecttable.Decode(raw)
		if err != nil {
			tx.Rollback()
			return err
		}
		if doc.Deleted() {
			continue
		}
		var key objecttable.ObjectKey
		copy(key[:], rawKey)
		if err := ix.Apply(tx, key, nil, doc); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Index looks up an already-registered index, if any.
func (p *Partition) Index(propertyPath string, valueType index.ValueType) (*index.Index, bool) {
	p.indexesMu.RLock()
	defer p.indexesMu.RUnlock()
	ix, ok := p.indexes[indexKey(propertyPath, valueType)]
	return ix, ok
}

func indexKey(propertyPath string, valueType index.ValueType) string {
	return propertyPath + "|" + valueType.String()
}

// WriteResult is the outcome of a committed mutation: the identity
// affected and the partition's state number after the commit.
type WriteResult struct {
	Key         objecttable.ObjectKey
	StateNumber uint64
}

// Create inserts doc as a new document, assigning it a fresh ObjectKey.
func (p *Partition) Create(doc objecttable.Document) (WriteResult, error) {
	key := objecttable.NewObjectKey()
	return p.commitAndNotify(key, doc.Clone(), "create")
}

// Update replaces the document at key with doc.
func (p *Partition) Update(key objecttable.ObjectKey, doc objecttable.Document) (WriteResult, error) {
	return p.commitAndNotify(key, doc.Clone(), "update")
}

// Remove writes a tombstone (_deleted: true) for key, per spec.md §3's
// preference for tombstones over a hard Delete so change notification
// can still observe the removed identity's terminal state.
func (p *Partition) Remove(key objecttable.ObjectKey) (WriteResult, error) {
	tomb := objecttable.Document{objecttable.PropUUID: key.String(), objecttable.PropDeleted: true}
	return p.commitAndNotify(key, tomb, "remove")
}

func (p *Partition) commitAndNotify(key objecttable.ObjectKey, doc objecttable.Document, action string) (WriteResult, error) {
	state, newDoc, err := p.mutate(key, doc)
	if err != nil {
		return WriteResult{}, err
	}
	p.hub.notify(p.log, action, newDoc)
	return WriteResult{Key: key, StateNumber: state}, nil
}

// mutate runs one commit: fetch the identity's prior state, write the
// new document, apply every registered index, and commit — all inside a
// single kv.RwTx, matching spec.md §5's "within a commit, all affected
// indexes observe the same state number".
func (p *Partition) mutate(key objecttable.ObjectKey, newDoc objecttable.Document) (uint64, objecttable.Document, error) {
	tx, err := p.store.BeginRw()
	if err != nil {
		return 0, nil, err
	}
	p.setCurrentTx(tx)
	defer p.clearCurrentTx()

	oldDoc, _, err := objecttable.Get(tx, key)
	if err != nil {
		tx.Rollback()
		return 0, nil, err
	}

	newDoc[objecttable.PropUUID] = key.String()
	newDoc[objecttable.PropVersion] = strconv.FormatUint(p.store.StateNumber()+1, 10)

	if err := objecttable.Put(tx, key, newDoc); err != nil {
		tx.Rollback()
		return 0, nil, err
	}

	p.indexesMu.RLock()
	idxs := make([]*index.Index, 0, len(p.indexes))
	for _, ix := range p.indexes {
		idxs = append(idxs, ix)
	}
	p.indexesMu.RUnlock()

	for _, ix := range idxs {
		if err := ix.Apply(tx, key, oldDoc, newDoc); err != nil {
			tx.Rollback()
			return 0, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	p.metrics.commits.Inc()
	return p.store.StateNumber(), newDoc, nil
}

// RegisterWatcher arms a new watcher: persists its "notification"
// document (spec.md §4.5) and adds it to the hub in one call. matches
// compiles the watcher's stored query (typically via query.BuildResidual)
// and is supplied by the connection/transport layer.
func (p *Partition) RegisterWatcher(uuid, queryText string, actions Action, matches func(objecttable.Document) bool) (*Watcher, error) {
	key, err := objecttable.ParseObjectKey(uuid)
	if err != nil {
		return nil, fmt.Errorf("partition: invalid watcher uuid %q: %w", uuid, err)
	}
	doc := objecttable.Document{
		objecttable.PropType: "notification",
		"query":              queryText,
		"actions":            actionNames(actions),
		"partition":          p.name,
	}
	if _, _, err := p.mutate(key, doc); err != nil {
		return nil, err
	}
	w := NewWatcher(uuid, queryText, actions, matches)
	p.hub.Register(w)
	p.metrics.watchersActive.Set(float64(p.hub.Len()))
	return w, nil
}

// UnregisterWatcher disarms uuid's watcher and tombstones its
// notification document.
func (p *Partition) UnregisterWatcher(uuid string) error {
	p.hub.Unregister(uuid)
	p.metrics.watchersActive.Set(float64(p.hub.Len()))
	key, err := objecttable.ParseObjectKey(uuid)
	if err != nil {
		return fmt.Errorf("partition: invalid watcher uuid %q: %w", uuid, err)
	}
	tomb := objecttable.Document{objecttable.PropUUID: uuid, objecttable.PropDeleted: true}
	_, _, err = p.mutate(key, tomb)
	return err
}

// ChangesSince scans the Object Table for every document whose _version
// (the embedded commit state number) exceeds floor, filtered by an
// optional _type allow-list, returned newest state first. Restored from
// original_source/src/imports/jsondb/jsondbpartition.h's
// changesSince/createChangesSince entry points, which spec.md's
// distillation folds into "find"/"changesSince" without describing.
func (p *Partition) ChangesSince(floor uint64, types []string) ([]objecttable.Document, error) {
	tx, err := p.store.BeginRo()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := objecttable.Cursor(tx)
	if err != nil {
		return nil, err
	}

	typeSet := make(map[string]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	var out []objecttable.Document
	for ok, err := cur.First(); ; ok, err = cur.Next() {
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		_, raw, found, err := cur.Current()
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		doc, err := objecttable.Decode(raw)
		if err != nil {
			return nil, err
		}
		verStr, _ := doc[objecttable.PropVersion].(string)
		ver, perr := strconv.ParseUint(verStr, 10, 64)
		if perr != nil || ver <= floor {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[doc.Type()]; !ok {
				continue
			}
		}
		out = append(out, doc)
	}

	sort.Slice(out, func(i, j int) bool {
		vi, _ := strconv.ParseUint(out[i][objecttable.PropVersion].(string), 10, 64)
		vj, _ := strconv.ParseUint(out[j][objecttable.PropVersion].(string), 10, 64)
		return vi > vj
	})
	return out, nil
}

// Close disarms every watcher and releases the store and directory lock.
func (p *Partition) Close() error {
	p.hub.closeAll()
	err := p.store.Close()
	if uerr := p.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

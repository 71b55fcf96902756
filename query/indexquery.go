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

package query

import (
	"strings"

	"github.com/erigontech/jsondb/index"
	"github.com/erigontech/jsondb/kv"
	"github.com/erigontech/jsondb/objecttable"
)

// UuidPropertyName is the reserved property name that degenerates an
// IndexQuery into a direct Object Table scan (spec.md §4.4).
const UuidPropertyName = "_uuid"

// TxSource lets an IndexQuery borrow an in-progress write transaction
// instead of starting its own read snapshot, per spec.md §5's "an
// IndexQuery opened during a write uses the writer's transaction rather
// than starting its own". Implemented by partition.Partition.
type TxSource interface {
	CurrentWriteTx() (kv.RwTx, bool)
	Store() kv.Store
}

// Projection is one result-expression: an ordered chain of dotted-path
// segments split on "->" (spec.md §4.4.1), stored under OutputKey.
type Projection struct {
	OutputKey string
	Segments  [][]string
}

// IndexQuery drives a cursor over an index (or, via UuidQuery, the
// Object Table directly) under a set of constraints, applying the
// tombstone/_type/residual filters and optional join projection from
// spec.md §4.4.
type IndexQuery struct {
	tx    kv.Tx
	owned bool

	strategy            cursorStrategy
	constraints         []Constraint
	sparseMatchPossible bool
	typeNames           map[string]struct{}
	residual            Residual
	projections         []Projection
	cache               *objecttable.Cache

	fieldValue interface{}
}

// Open constructs an IndexQuery over idx (or, if idx is nil, a UuidQuery
// degenerate scan of table directly), acquiring a transaction from src
// per the scoped-ownership rule above.
func Open(src TxSource, table *objecttable.Table, idx *index.Index, cq CompiledQuery, ascending bool, typeNames []string, residual Residual, projections []Projection) (*IndexQuery, error) {
	tx, owned, err := acquireTx(src)
	if err != nil {
		return nil, err
	}

	var strat cursorStrategy
	if idx == nil {
		strat, err = newUUIDStrategy(table, tx, ascending, cq.Min, cq.Max)
	} else {
		strat, err = newIndexStrategy(idx, tx, ascending, cq.Min, cq.Max)
	}
	if err != nil {
		if owned {
			tx.Rollback()
		}
		return nil, err
	}

	names := make(map[string]struct{}, len(typeNames))
	for _, n := range typeNames {
		names[n] = struct{}{}
	}

	return &IndexQuery{
		tx:          tx,
		owned:       owned,
		strategy:    strat,
		constraints: cq.Constraints,
		typeNames:   names,
		residual:    residual,
		projections: projections,
		cache:       objecttable.NewCache(256),
	}, nil
}

func acquireTx(src TxSource) (kv.Tx, bool, error) {
	if wtx, ok := src.CurrentWriteTx(); ok {
		return wtx, false, nil
	}
	rtx, err := src.Store().BeginRo()
	if err != nil {
		return nil, false, err
	}
	return rtx, true, nil
}

// Close releases the query's transaction if it was opened for this
// query's exclusive use ("isOwnTransaction" in the grounding source);
// a borrowed writer transaction is left untouched for its owner to
// commit or abort.
func (q *IndexQuery) Close() {
	if q.owned {
		q.tx.Rollback()
	}
}

// StateNumber reports the index's tag (or the Object Table's state
// number for a UuidQuery), per spec.md §4.4.
func (q *IndexQuery) StateNumber() uint64 { return q.strategy.stateNumber() }

func (q *IndexQuery) matches(v interface{}) bool {
	for _, c := range q.constraints {
		if !c.Matches(v) {
			return false
		}
	}
	return true
}

func (q *IndexQuery) typeAccepted(doc objecttable.Document) bool {
	if len(q.typeNames) == 0 {
		return true
	}
	_, ok := q.typeNames[doc.Type()]
	return ok
}

// First seeks to the query's starting position and returns the first
// matching, non-tombstoned, type-accepted, residual-accepted result.
func (q *IndexQuery) First() (objecttable.Document, bool, error) {
	q.sparseMatchPossible = false
	for _, c := range q.constraints {
		if c.SparseMatchPossible() {
			q.sparseMatchPossible = true
		}
	}
	fv, ok, err := q.strategy.seekToStart()
	return q.scan(fv, ok, err)
}

// Next continues iteration from the current cursor position.
func (q *IndexQuery) Next() (objecttable.Document, bool, error) {
	fv, ok, err := q.strategy.seekToNext()
	return q.scan(fv, ok, err)
}

// scan implements the execution protocol of spec.md §4.4 step 3-8: for
// each candidate field value, enforce matches(); on a miss, continue
// scanning if any constraint permits sparse misses, otherwise terminate
// (the index is sorted, so no later entry can match either). On a hit,
// dereference, skip tombstones, enforce the type filter and residual
// predicate, then project. A cursor or seek failure ends iteration with
// no result rather than an error.
func (q *IndexQuery) scan(fv interface{}, ok bool, err error) (objecttable.Document, bool, error) {
	for {
		if err != nil {
			return nil, false, nil
		}
		if !ok {
			return nil, false, nil
		}
		q.fieldValue = fv
		if q.matches(fv) {
			objKey, kerr := q.strategy.currentObjectKey()
			if kerr != nil {
				return nil, false, kerr
			}
			doc, found, gerr := objecttable.Get(q.tx, objKey)
			if gerr != nil {
				return nil, false, gerr
			}
			if found && !doc.Deleted() && q.typeAccepted(doc) && (q.residual == nil || q.residual(doc, q.cache)) {
				return q.project(doc), true, nil
			}
		} else if !q.sparseMatchPossible {
			return nil, false, nil
		}
		fv, ok, err = q.strategy.seekToNext()
	}
}

// project computes the final result document: either doc with an
// injected "_indexValue", or the evaluated join/projection expressions
// (spec.md §4.4 step 8, §4.4.1).
func (q *IndexQuery) project(doc objecttable.Document) objecttable.Document {
	if len(q.projections) == 0 {
		out := doc.Clone()
		out[objecttable.PropIndexValue] = q.fieldValue
		return out
	}
	result := objecttable.Document{}
	for _, p := range q.projections {
		result[p.OutputKey] = q.evalJoinPath(doc, p.Segments)
	}
	return result
}

// evalJoinPath walks a "->"-separated chain of dotted-path segments,
// dereferencing each intermediate string result as an object identity
// through the partition (cached by identity text), per spec.md §4.4.1.
func (q *IndexQuery) evalJoinPath(doc objecttable.Document, segments [][]string) interface{} {
	cur := map[string]interface{}(doc)
	for i, seg := range segments {
		v, ok := index.ExtractPath(cur, strings.Join(seg, "."))
		if !ok {
			return nil
		}
		if i == len(segments)-1 {
			return v
		}
		id, ok := v.(string)
		if !ok {
			return nil
		}
		next, found := q.dereference(id)
		if !found {
			return nil
		}
		cur = map[string]interface{}(next)
	}
	return nil
}

func (q *IndexQuery) dereference(id string) (objecttable.Document, bool) {
	if doc, ok, hit := q.cache.Get(id); hit {
		return doc, ok
	}
	key, err := objecttable.ParseObjectKey(id)
	if err != nil {
		q.cache.Put(id, nil, false)
		return nil, false
	}
	doc, found, err := objecttable.Get(q.tx, key)
	if err != nil || !found || doc.Deleted() {
		q.cache.Put(id, nil, false)
		return nil, false
	}
	q.cache.Put(id, doc, true)
	return doc, true
}

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

package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/jsondb/index"
	"github.com/erigontech/jsondb/objecttable"
	"github.com/erigontech/jsondb/query"
)

func openTestPartition(t *testing.T) *Partition {
	t.Helper()
	p, err := Open(t.TempDir(), "t1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestOpenRejectsSecondLockHolder(t *testing.T) {
	dir := t.TempDir()
	p1, err := Open(dir, "locked")
	require.NoError(t, err)
	defer p1.Close()

	_, err = Open(dir, "locked")
	require.Error(t, err)
}

func TestCreateUpdateRemoveRoundTrip(t *testing.T) {
	p := openTestPartition(t)

	res, err := p.Create(objecttable.Document{"_type": "t", "n": 1.0})
	require.NoError(t, err)
	require.NotZero(t, res.StateNumber)

	tx, err := p.Store().BeginRo()
	require.NoError(t, err)
	doc, found, err := objecttable.Get(tx, res.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1.0, doc["n"])
	tx.Rollback()

	_, err = p.Update(res.Key, objecttable.Document{"_type": "t", "n": 2.0})
	require.NoError(t, err)

	tx, err = p.Store().BeginRo()
	require.NoError(t, err)
	doc, found, err = objecttable.Get(tx, res.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2.0, doc["n"])
	tx.Rollback()

	_, err = p.Remove(res.Key)
	require.NoError(t, err)

	tx, err = p.Store().BeginRo()
	require.NoError(t, err)
	doc, found, err = objecttable.Get(tx, res.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, doc.Deleted())
	tx.Rollback()
}

func TestCommitAdvancesAllIndexesTogether(t *testing.T) {
	p := openTestPartition(t)
	ageIdx, err := p.EnsureIndex("age", index.TypeNumber)
	require.NoError(t, err)
	nameIdx, err := p.EnsureIndex("name", index.TypeString)
	require.NoError(t, err)

	before := ageIdx.StateNumber()
	require.Equal(t, before, nameIdx.StateNumber())

	_, err = p.Create(objecttable.Document{"_type": "t", "age": 30.0, "name": "a"})
	require.NoError(t, err)

	require.Greater(t, ageIdx.StateNumber(), before)
	require.Equal(t, ageIdx.StateNumber(), nameIdx.StateNumber())
}

func TestIndexQueryBorrowsWriterTransaction(t *testing.T) {
	p := openTestPartition(t)
	ageIdx, err := p.EnsureIndex("age", index.TypeNumber)
	require.NoError(t, err)

	_, err = p.Create(objecttable.Document{"_type": "t", "age": 1.0})
	require.NoError(t, err)

	tx, err := p.Store().BeginRw()
	require.NoError(t, err)
	p.setCurrentTx(tx)

	cq, err := query.Compile(nil, index.TypeNumber)
	require.NoError(t, err)
	q, err := query.Open(p, p.Table(), ageIdx, cq, true, nil, nil, nil)
	require.NoError(t, err)

	_, ok, err := q.First()
	require.NoError(t, err)
	require.True(t, ok)

	q.Close()
	p.clearCurrentTx()
	tx.Rollback()
}

func TestEnsureIndexBackfillsAlreadyWrittenDocuments(t *testing.T) {
	p := openTestPartition(t)

	res, err := p.Create(objecttable.Document{"_type": "contact", "name": "alice"})
	require.NoError(t, err)
	_, err = p.Create(objecttable.Document{"_type": "contact", "name": "bob"})
	require.NoError(t, err)

	nameIdx, err := p.EnsureIndex("name", index.TypeString)
	require.NoError(t, err)

	cq, err := query.Compile([]query.PathTerm{{Path: "name", Op: query.OpEq, Value: "alice"}}, index.TypeString)
	require.NoError(t, err)
	q, err := query.Open(p, p.Table(), nameIdx, cq, true, nil, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	doc, ok, err := q.First()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.Key.String(), doc.UUID())

	_, ok, err = q.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureIndexSkipsTombstonedDocuments(t *testing.T) {
	p := openTestPartition(t)

	res, err := p.Create(objecttable.Document{"_type": "contact", "name": "alice"})
	require.NoError(t, err)
	_, err = p.Remove(res.Key)
	require.NoError(t, err)

	nameIdx, err := p.EnsureIndex("name", index.TypeString)
	require.NoError(t, err)

	cq, err := query.Compile(nil, index.TypeString)
	require.NoError(t, err)
	q, err := query.Open(p, p.Table(), nameIdx, cq, true, nil, nil, nil)
	require.NoError(t, err)
	defer q.Close()

	_, ok, err := q.First()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangesSinceReturnsNewestFirstAboveFloor(t *testing.T) {
	p := openTestPartition(t)

	res1, err := p.Create(objecttable.Document{"_type": "t", "n": 1.0})
	require.NoError(t, err)
	res2, err := p.Create(objecttable.Document{"_type": "t", "n": 2.0})
	require.NoError(t, err)

	changes, err := p.ChangesSince(res1.StateNumber-1, nil)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, res2.Key.String(), changes[0].UUID())
	require.Equal(t, res1.Key.String(), changes[1].UUID())

	changes, err = p.ChangesSince(res1.StateNumber, nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, res2.Key.String(), changes[0].UUID())
}

func TestChangesSinceFiltersByType(t *testing.T) {
	p := openTestPartition(t)

	_, err := p.Create(objecttable.Document{"_type": "a"})
	require.NoError(t, err)
	_, err = p.Create(objecttable.Document{"_type": "b"})
	require.NoError(t, err)

	changes, err := p.ChangesSince(0, []string{"a"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "a", changes[0].Type())
}

func TestWatcherReceivesMatchingEventsOnly(t *testing.T) {
	p := openTestPartition(t)

	matches := func(doc objecttable.Document) bool {
		return doc.Type() == "t"
	}
	w, err := p.RegisterWatcher(objecttable.NewObjectKey().String(), `_type = "t"`, ActionCreated, matches)
	require.NoError(t, err)
	defer w.Close()

	_, err = p.Create(objecttable.Document{"_type": "t", "n": 1.0})
	require.NoError(t, err)
	_, err = p.Create(objecttable.Document{"_type": "other"})
	require.NoError(t, err)

	select {
	case ev := <-w.Events():
		require.Equal(t, "create", ev.Action)
		require.Equal(t, "t", ev.Object.Type())
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected second notification: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterWatcherStopsDelivery(t *testing.T) {
	p := openTestPartition(t)

	uuid := objecttable.NewObjectKey().String()
	w, err := p.RegisterWatcher(uuid, `_type = "t"`, ActionCreated, nil)
	require.NoError(t, err)

	require.NoError(t, p.UnregisterWatcher(uuid))

	_, err = p.Create(objecttable.Document{"_type": "t"})
	require.NoError(t, err)

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected notification after unregister: %+v", ev)
	case <-w.closed:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected watcher to be closed after unregister")
	}
}

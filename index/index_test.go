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

package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/jsondb/kv"
	"github.com/erigontech/jsondb/objecttable"
)

func openTestStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "idx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEncodeValueOrderPreservingNumbers(t *testing.T) {
	neg, err := EncodeValue(-3.5, TypeNumber)
	require.NoError(t, err)
	zero, err := EncodeValue(0.0, TypeNumber)
	require.NoError(t, err)
	pos, err := EncodeValue(3.5, TypeNumber)
	require.NoError(t, err)

	require.True(t, string(neg) < string(zero))
	require.True(t, string(zero) < string(pos))
}

func TestEncodeValueOrderPreservingStrings(t *testing.T) {
	a, err := EncodeValue("alpha", TypeString)
	require.NoError(t, err)
	b, err := EncodeValue("beta", TypeString)
	require.NoError(t, err)
	require.True(t, string(a) < string(b))
}

func TestCoerceDropsTypeMismatch(t *testing.T) {
	_, ok := Coerce("not a number", TypeNumber)
	require.False(t, ok)
	_, ok = Coerce(float64(1), TypeBoolean)
	require.False(t, ok)
	v, ok := Coerce(true, TypeBoolean)
	require.True(t, ok)
	require.Equal(t, true, v)
}

func TestApplySparseIndexing(t *testing.T) {
	s := openTestStore(t)
	ix := Open(s, "n", TypeNumber)
	key := objecttable.NewObjectKey()

	wtx, err := s.BeginRw()
	require.NoError(t, err)
	// document has no "n" property: no forward entry should be created.
	require.NoError(t, ix.Apply(wtx, key, nil, objecttable.Document{"_uuid": key.String(), "_type": "t"}))
	require.NoError(t, wtx.Commit())

	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor(ix.ForwardBucket())
	require.NoError(t, err)
	ok, err := cur.First()
	require.NoError(t, err)
	require.False(t, ok, "sparse index must have no entry for a document missing the property")
}

func TestApplyUpdateEvictsStaleForwardEntry(t *testing.T) {
	s := openTestStore(t)
	ix := Open(s, "n", TypeNumber)
	key := objecttable.NewObjectKey()

	wtx, err := s.BeginRw()
	require.NoError(t, err)
	doc1 := objecttable.Document{"_uuid": key.String(), "_type": "t", "n": float64(1)}
	require.NoError(t, ix.Apply(wtx, key, nil, doc1))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.BeginRw()
	require.NoError(t, err)
	doc2 := objecttable.Document{"_uuid": key.String(), "_type": "t", "n": float64(2)}
	require.NoError(t, ix.Apply(wtx2, key, doc1, doc2))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor(ix.ForwardBucket())
	require.NoError(t, err)

	var encodedValues [][]byte
	ok, err := cur.First()
	require.NoError(t, err)
	for ok {
		k, _, _, err := cur.Current()
		require.NoError(t, err)
		ev, _, err := SplitForwardKey(k)
		require.NoError(t, err)
		encodedValues = append(encodedValues, ev)
		ok, err = cur.Next()
		require.NoError(t, err)
	}
	require.Len(t, encodedValues, 1, "stale entry for n=1 must be evicted, only n=2 remains")

	want, err := EncodeValue(float64(2), TypeNumber)
	require.NoError(t, err)
	require.Equal(t, want, encodedValues[0])
}

func TestApplyRemovalOnTombstone(t *testing.T) {
	s := openTestStore(t)
	ix := Open(s, "n", TypeNumber)
	key := objecttable.NewObjectKey()

	wtx, err := s.BeginRw()
	require.NoError(t, err)
	doc1 := objecttable.Document{"_uuid": key.String(), "_type": "t", "n": float64(1)}
	require.NoError(t, ix.Apply(wtx, key, nil, doc1))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.BeginRw()
	require.NoError(t, err)
	tombstone := objecttable.Document{"_uuid": key.String(), "_type": "t", "n": float64(1), "_deleted": true}
	require.NoError(t, ix.Apply(wtx2, key, doc1, tombstone))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor(ix.ForwardBucket())
	require.NoError(t, err)
	ok, err := cur.First()
	require.NoError(t, err)
	require.False(t, ok, "tombstoned document must have no forward entry")
}

func TestExtractPathNested(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{"b": "hello"},
	}
	v, ok := ExtractPath(doc, "a.b")
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok = ExtractPath(doc, "a.c")
	require.False(t, ok)
	_, ok = ExtractPath(doc, "missing")
	require.False(t, ok)
}

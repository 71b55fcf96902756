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
	"testing"

	"github.com/stretchr/testify/require"
)

func seedBucket(t *testing.T, s Store, bucket string, kvs map[string]string) {
	t.Helper()
	wtx, err := s.BeginRw()
	require.NoError(t, err)
	require.NoError(t, wtx.CreateBucketIfNotExists(bucket))
	for k, v := range kvs {
		require.NoError(t, wtx.Put(bucket, []byte(k), []byte(v)))
	}
	require.NoError(t, wtx.Commit())
}

func TestCursorEmptyViewFirstLast(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", nil)
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	ok, err := cur.First()
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = cur.Last()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorUninitializedNextPreviousDoNotSeek(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "b": "2"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	ok, err := cur.Next()
	require.NoError(t, err)
	require.False(t, ok, "next from Uninitialized must not implicitly seek")

	ok, err = cur.Previous()
	require.NoError(t, err)
	require.False(t, ok, "previous from Uninitialized must not implicitly seek")
}

func TestCursorForwardIteration(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "b": "2", "c": "3"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	var keys []string
	ok, err := cur.First()
	require.NoError(t, err)
	for ok {
		k, v, found, err := cur.Current()
		require.NoError(t, err)
		require.True(t, found)
		keys = append(keys, string(k)+"="+string(v))
		ok, err = cur.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a=1", "b=2", "c=3"}, keys)

	// past the end: NotFound, current() false
	k, v, found, err := cur.Current()
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, k)
	require.Nil(t, v)
}

func TestCursorBackwardIteration(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "b": "2", "c": "3"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	var keys []string
	ok, err := cur.Last()
	require.NoError(t, err)
	for ok {
		k, _, _, err := cur.Current()
		require.NoError(t, err)
		keys = append(keys, string(k))
		ok, err = cur.Previous()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestCursorCurrentStableUntilMove(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)
	ok, err := cur.First()
	require.NoError(t, err)
	require.True(t, ok)

	k1, v1, _, _ := cur.Current()
	k2, v2, _, _ := cur.Current()
	require.Equal(t, k1, k2)
	require.Equal(t, v1, v2)
}

func TestCursorSeekExact(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "c": "3"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	ok, err := cur.Seek([]byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	k, v, found, _ := cur.Current()
	require.True(t, found)
	require.Equal(t, "c", string(k))
	require.Equal(t, "3", string(v))

	ok, err = cur.Seek([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorSeekRangeEqualOrGreater(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "c": "3", "e": "5"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	ok, err := cur.SeekRange([]byte("b"), EqualOrGreater)
	require.NoError(t, err)
	require.True(t, ok)
	k, _, _, _ := cur.Current()
	require.Equal(t, "c", string(k))

	ok, err = cur.SeekRange([]byte("f"), EqualOrGreater)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorSeekRangeEqualOrLess(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "c": "3", "e": "5"})
	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	cur, err := rtx.Cursor("b")
	require.NoError(t, err)

	ok, err := cur.SeekRange([]byte("d"), EqualOrLess)
	require.NoError(t, err)
	require.True(t, ok)
	k, _, _, _ := cur.Current()
	require.Equal(t, "c", string(k))

	// below the first key entirely: no key <= "0" exists
	ok, err = cur.SeekRange([]byte("0"), EqualOrLess)
	require.NoError(t, err)
	require.False(t, ok)

	// exact match
	ok, err = cur.SeekRange([]byte("c"), EqualOrLess)
	require.NoError(t, err)
	require.True(t, ok)
	k, _, _, _ = cur.Current()
	require.Equal(t, "c", string(k))
}

func TestCursorMergesPendingOffsetsOverBase(t *testing.T) {
	s := openTestStore(t)
	seedBucket(t, s, "b", map[string]string{"a": "1", "c": "3"})

	wtx, err := s.BeginRw()
	require.NoError(t, err)
	defer wtx.Rollback()
	require.NoError(t, wtx.Put("b", []byte("b"), []byte("2")))   // new key between a,c
	require.NoError(t, wtx.Put("b", []byte("a"), []byte("1.1"))) // shadow existing key
	require.NoError(t, wtx.Delete("b", []byte("c")))             // tombstone existing key

	cur, err := wtx.Cursor("b")
	require.NoError(t, err)
	var got []string
	ok, err := cur.First()
	require.NoError(t, err)
	for ok {
		k, v, _, _ := cur.Current()
		got = append(got, string(k)+"="+string(v))
		ok, err = cur.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a=1.1", "b=2"}, got, "tombstoned c must be skipped, shadowed a must show new value")
}

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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBeginRwExclusivity(t *testing.T) {
	s := openTestStore(t)
	tx1, err := s.BeginRw()
	require.NoError(t, err)
	defer tx1.Rollback()

	_, err = s.BeginRw()
	require.ErrorIs(t, err, ErrWriteInProgress)
}

func TestCommitAdvancesStateAndIsVisibleToNewReaders(t *testing.T) {
	s := openTestStore(t)
	require.EqualValues(t, 0, s.StateNumber())

	wtx, err := s.BeginRw()
	require.NoError(t, err)
	require.NoError(t, wtx.CreateBucketIfNotExists("b"))
	require.NoError(t, wtx.Put("b", []byte("k1"), []byte("v1")))
	require.NoError(t, wtx.Commit())
	require.EqualValues(t, 1, s.StateNumber())

	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()
	v, ok, err := rtx.Get("b", []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestAbortDiscardsOffsets(t *testing.T) {
	s := openTestStore(t)
	wtx, err := s.BeginRw()
	require.NoError(t, err)
	require.NoError(t, wtx.CreateBucketIfNotExists("b"))
	require.NoError(t, wtx.Put("b", []byte("k1"), []byte("v1")))
	wtx.Rollback()
	require.EqualValues(t, 0, s.StateNumber())

	wtx2, err := s.BeginRw()
	require.NoError(t, err)
	defer wtx2.Rollback()
	_, ok, err := wtx2.Get("b", []byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadSnapshotIsolation(t *testing.T) {
	s := openTestStore(t)
	wtx, err := s.BeginRw()
	require.NoError(t, err)
	require.NoError(t, wtx.CreateBucketIfNotExists("b"))
	require.NoError(t, wtx.Put("b", []byte("k1"), []byte("v1")))
	require.NoError(t, wtx.Commit())

	rtx, err := s.BeginRo()
	require.NoError(t, err)
	defer rtx.Rollback()

	wtx2, err := s.BeginRw()
	require.NoError(t, err)
	require.NoError(t, wtx2.Put("b", []byte("k1"), []byte("v2")))
	require.NoError(t, wtx2.Commit())

	v, ok, err := rtx.Get("b", []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v), "pre-existing read snapshot must not observe a later commit")
}

func TestWriteTxSeesItsOwnPendingWrites(t *testing.T) {
	s := openTestStore(t)
	wtx, err := s.BeginRw()
	require.NoError(t, err)
	defer wtx.Rollback()
	require.NoError(t, wtx.CreateBucketIfNotExists("b"))
	require.NoError(t, wtx.Put("b", []byte("k1"), []byte("v1")))

	v, ok, err := wtx.Get("b", []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

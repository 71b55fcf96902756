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
	"github.com/erigontech/jsondb/index"
	"github.com/erigontech/jsondb/kv"
	"github.com/erigontech/jsondb/objecttable"
)

// cursorStrategy abstracts the two concrete cursor-driving behaviors
// JsonDbIndexQuery/JsonDbUuidQuery split into subclasses in
// original_source/src/partition/jsondbindexquery.cpp: scanning an
// index's forward bucket by encoded value, versus scanning the Object
// Table directly by identity when propertyName is the reserved "_uuid".
type cursorStrategy interface {
	seekToStart() (fieldValue interface{}, ok bool, err error)
	seekToNext() (fieldValue interface{}, ok bool, err error)
	currentObjectKey() (objecttable.ObjectKey, error)
	stateNumber() uint64
}

var zeroObjectKey objecttable.ObjectKey

var maxObjectKey = func() objecttable.ObjectKey {
	var k objecttable.ObjectKey
	for i := range k {
		k[i] = 0xFF
	}
	return k
}()

// indexStrategy drives a cursor over one index's forward bucket.
type indexStrategy struct {
	idx       *index.Index
	cur       kv.Cursor
	ascending bool
	min, max  interface{}
	valueType index.ValueType
}

func newIndexStrategy(idx *index.Index, tx kv.Tx, ascending bool, min, max interface{}) (*indexStrategy, error) {
	cur, err := tx.Cursor(idx.ForwardBucket())
	if err != nil {
		return nil, err
	}
	return &indexStrategy{idx: idx, cur: cur, ascending: ascending, min: min, max: max, valueType: idx.ValueType()}, nil
}

func (s *indexStrategy) stateNumber() uint64 { return s.idx.StateNumber() }

func (s *indexStrategy) seekToStart() (interface{}, bool, error) {
	var ok bool
	var err error
	if s.ascending {
		if s.min != nil {
			encoded, eerr := index.EncodeValue(s.min, s.valueType)
			if eerr != nil {
				return nil, false, eerr
			}
			ok, err = s.cur.SeekRange(index.ForwardKey(encoded, zeroObjectKey), kv.EqualOrGreater)
			if err != nil {
				return nil, false, err
			}
		}
		if !ok {
			ok, err = s.cur.First()
			if err != nil {
				return nil, false, err
			}
		}
	} else {
		if s.max != nil {
			encoded, eerr := index.EncodeValue(s.max, s.valueType)
			if eerr != nil {
				return nil, false, eerr
			}
			ok, err = s.cur.SeekRange(index.ForwardKey(encoded, maxObjectKey), kv.EqualOrLess)
			if err != nil {
				return nil, false, err
			}
		}
		if !ok {
			ok, err = s.cur.Last()
			if err != nil {
				return nil, false, err
			}
		}
	}
	if !ok {
		return nil, false, nil
	}
	return s.currentFieldValue()
}

func (s *indexStrategy) seekToNext() (interface{}, bool, error) {
	var ok bool
	var err error
	if s.ascending {
		ok, err = s.cur.Next()
	} else {
		ok, err = s.cur.Previous()
	}
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return s.currentFieldValue()
}

func (s *indexStrategy) currentFieldValue() (interface{}, bool, error) {
	k, _, ok, err := s.cur.Current()
	if err != nil || !ok {
		return nil, false, err
	}
	encoded, _, err := index.SplitForwardKey(k)
	if err != nil {
		return nil, false, err
	}
	v, err := index.DecodeValue(encoded, s.valueType)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *indexStrategy) currentObjectKey() (objecttable.ObjectKey, error) {
	k, _, _, err := s.cur.Current()
	if err != nil {
		return objecttable.ObjectKey{}, err
	}
	_, objKey, err := index.SplitForwardKey(k)
	return objKey, err
}

// uuidStrategy drives a cursor directly over the Object Table, the
// degenerate case spec.md §4.4 names for property-name "_uuid". It
// carries the same defensive 16-byte key-length guard
// original_source/src/partition/jsondbindexquery.cpp's JsonDbUuidQuery
// does, skipping any shorter/longer key it encounters in the bucket.
type uuidStrategy struct {
	table      *objecttable.Table
	cur        kv.Cursor
	ascending  bool
	min, max   interface{} // string identity text, or nil
	currentKey objecttable.ObjectKey
}

func newUUIDStrategy(table *objecttable.Table, tx kv.Tx, ascending bool, min, max interface{}) (*uuidStrategy, error) {
	cur, err := objecttable.Cursor(tx)
	if err != nil {
		return nil, err
	}
	return &uuidStrategy{table: table, cur: cur, ascending: ascending, min: min, max: max}, nil
}

func (s *uuidStrategy) stateNumber() uint64 { return s.table.StateNumber() }

func (s *uuidStrategy) seekToStart() (interface{}, bool, error) {
	var ok bool
	var err error
	if s.ascending {
		if s.min != nil {
			key, perr := objecttable.ParseObjectKey(s.min.(string))
			if perr != nil {
				return nil, false, perr
			}
			ok, err = s.cur.SeekRange(key[:], kv.EqualOrGreater)
		} else {
			ok, err = s.cur.First()
		}
	} else {
		if s.max != nil {
			key, perr := objecttable.ParseObjectKey(s.max.(string))
			if perr != nil {
				return nil, false, perr
			}
			ok, err = s.cur.SeekRange(key[:], kv.EqualOrLess)
		} else {
			ok, err = s.cur.Last()
		}
	}
	if err != nil {
		return nil, false, err
	}
	return s.advanceToValidKey(ok)
}

func (s *uuidStrategy) seekToNext() (interface{}, bool, error) {
	var ok bool
	var err error
	if s.ascending {
		ok, err = s.cur.Next()
	} else {
		ok, err = s.cur.Previous()
	}
	if err != nil {
		return nil, false, err
	}
	return s.advanceToValidKey(ok)
}

func (s *uuidStrategy) advanceToValidKey(ok bool) (interface{}, bool, error) {
	for ok {
		k, _, found, err := s.cur.Current()
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		if len(k) == 16 {
			copy(s.currentKey[:], k)
			return s.currentKey.String(), true, nil
		}
		if s.ascending {
			ok, err = s.cur.Next()
		} else {
			ok, err = s.cur.Previous()
		}
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

func (s *uuidStrategy) currentObjectKey() (objecttable.ObjectKey, error) {
	return s.currentKey, nil
}

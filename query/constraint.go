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
	"regexp"
	"strings"
)

// Constraint is a predicate on one indexed field value, grounded 1:1 on
// the QueryConstraint* hierarchy in
// original_source/src/partition/jsondbindexquery.cpp. SparseMatchPossible
// tells IndexQuery whether a non-match should skip the current entry and
// keep scanning (true) or terminate the scan outright, since a sorted
// index guarantees no further entry can match (false).
type Constraint interface {
	Matches(v interface{}) bool
	SparseMatchPossible() bool
}

type Gt struct{ Value interface{} }

func (c Gt) Matches(v interface{}) bool  { return GreaterThan(v, c.Value) }
func (Gt) SparseMatchPossible() bool     { return false }

type Ge struct{ Value interface{} }

func (c Ge) Matches(v interface{}) bool { return GreaterThan(v, c.Value) || jsonEqual(v, c.Value) }
func (Ge) SparseMatchPossible() bool    { return false }

type Lt struct{ Value interface{} }

func (c Lt) Matches(v interface{}) bool { return LessThan(v, c.Value) }
func (Lt) SparseMatchPossible() bool    { return false }

type Le struct{ Value interface{} }

func (c Le) Matches(v interface{}) bool { return LessThan(v, c.Value) || jsonEqual(v, c.Value) }
func (Le) SparseMatchPossible() bool    { return false }

type Eq struct{ Value interface{} }

func (c Eq) Matches(v interface{}) bool { return jsonEqual(v, c.Value) }
func (Eq) SparseMatchPossible() bool    { return false }

type Ne struct{ Value interface{} }

func (c Ne) Matches(v interface{}) bool { return !jsonEqual(v, c.Value) }
func (Ne) SparseMatchPossible() bool    { return true }

// Exists matches any defined value.
type Exists struct{}

func (Exists) Matches(v interface{}) bool { return v != nil }
func (Exists) SparseMatchPossible() bool  { return false }

// NotExists never matches a value read off a sparse index (every entry
// that reaches the scan already has a defined value by construction).
// Per spec.md §9's open question, this constraint only makes sense
// evaluated residually against a full document; see query.BuildResidual.
type NotExists struct{}

func (NotExists) Matches(v interface{}) bool { return v == nil }
func (NotExists) SparseMatchPossible() bool  { return false }

type In struct{ Values []interface{} }

func (c In) Matches(v interface{}) bool {
	for _, x := range c.Values {
		if jsonEqual(v, x) {
			return true
		}
	}
	return false
}
func (In) SparseMatchPossible() bool { return true }

type NotIn struct{ Values []interface{} }

func (c NotIn) Matches(v interface{}) bool {
	for _, x := range c.Values {
		if jsonEqual(v, x) {
			return false
		}
	}
	return true
}
func (NotIn) SparseMatchPossible() bool { return true }

type StartsWith struct{ Prefix string }

func (c StartsWith) Matches(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, c.Prefix)
}
func (StartsWith) SparseMatchPossible() bool { return true }

// Regex matches a compiled, already-anchored pattern; Negated inverts
// the result (the "!=~" operator).
type Regex struct {
	Re      *regexp.Regexp
	Negated bool
}

func (c Regex) Matches(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	m := c.Re.MatchString(s)
	if c.Negated {
		return !m
	}
	return m
}
func (Regex) SparseMatchPossible() bool { return true }

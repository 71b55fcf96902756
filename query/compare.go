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

// Package query is the IndexQuery execution engine: constraints driven
// over an index cursor, the query compiler that turns parsed terms into
// constraints and scan bounds, and the join/projection evaluator.
package query

// sameJSONType reports whether a and b are both one of the three
// comparable JSON scalar types (number, string, boolean) and share that
// type. Mixed or other (nil, array, object) types never compare ordered
// (spec.md §4.4: "mixed or other types compare as neither-less-nor-
// greater").
func sameJSONType(a, b interface{}) bool {
	switch a.(type) {
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	default:
		return false
	}
}

// LessThan implements spec.md §4.4's less_than: ordered comparison only
// when both operands share a comparable JSON type.
func LessThan(a, b interface{}) bool {
	if !sameJSONType(a, b) {
		return false
	}
	switch av := a.(type) {
	case float64:
		return av < b.(float64)
	case string:
		return av < b.(string)
	case bool:
		return !av && b.(bool)
	default:
		return false
	}
}

// GreaterThan implements spec.md §4.4's greater_than.
func GreaterThan(a, b interface{}) bool {
	if !sameJSONType(a, b) {
		return false
	}
	switch av := a.(type) {
	case float64:
		return av > b.(float64)
	case string:
		return av > b.(string)
	case bool:
		return av && !b.(bool)
	default:
		return false
	}
}

// jsonEqual is exact JSON equality (spec.md §4.4's Eq constraint). Scalars
// compare by value and type; this engine's Eq/Ne/In/NotIn constraints are
// only ever evaluated against indexed scalar values or residual scalar
// extractions, never arrays/objects, so a direct type-switch suffices
// without reaching for reflect.DeepEqual.
func jsonEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

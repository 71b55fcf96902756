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
	"github.com/erigontech/jsondb/objecttable"
)

// Residual is the portion of a query predicate evaluated against a full
// document rather than an index's scan bounds (spec.md §4.4's "residual-
// query predicate"; see also the GLOSSARY). The cache parameter is
// threaded through for symmetry with future residual terms that need
// join dereferencing, though BuildResidual's own terms never need it.
type Residual func(doc objecttable.Document, cache *objecttable.Cache) bool

// BuildResidual compiles every term (regardless of which, if any, index
// drove the scan) into a single AND-combined residual predicate. This
// engine always re-checks every term against the full document rather
// than only the terms an index didn't cover: index bounds are a scan
// optimization, not a substitute for correctness, so re-evaluating a
// term the index already narrowed on is harmless (idempotent) while
// guaranteeing any term the planner did NOT bind to an index (including
// a NotExists term, which per spec.md §9 can only ever be evaluated
// residually) is still enforced.
func BuildResidual(terms []PathTerm) (Residual, error) {
	type compiled struct {
		path string
		c    Constraint
	}
	built := make([]compiled, 0, len(terms))
	for _, t := range terms {
		c, err := constraintFor(t.Op, t.Value)
		if err != nil {
			return nil, err
		}
		built = append(built, compiled{path: t.Path, c: c})
	}
	return func(doc objecttable.Document, _ *objecttable.Cache) bool {
		for _, b := range built {
			v, _ := index.ExtractPath(doc, b.path)
			if !b.c.Matches(v) {
				return false
			}
		}
		return true
	}, nil
}

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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/jsondb/index"
)

func TestCompileRangeNarrowsMinMax(t *testing.T) {
	cq, err := Compile([]PathTerm{
		{Path: "age", Op: OpGe, Value: 18.0},
		{Path: "age", Op: OpLt, Value: 65.0},
	}, index.TypeNumber)
	require.NoError(t, err)
	require.Equal(t, 18.0, cq.Min)
	require.Equal(t, 65.0, cq.Max)
	require.Len(t, cq.Constraints, 2)
}

func TestCompileEqualitySetsExactBounds(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "age", Op: OpEq, Value: 30.0}}, index.TypeNumber)
	require.NoError(t, err)
	require.Equal(t, 30.0, cq.Min)
	require.Equal(t, 30.0, cq.Max)
}

func TestCompileSingleElementInCollapsesToEq(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "color", Op: OpIn, Value: []interface{}{"red"}}}, index.TypeString)
	require.NoError(t, err)
	require.Equal(t, "red", cq.Min)
	require.Equal(t, "red", cq.Max)
	require.IsType(t, Eq{}, cq.Constraints[0])
}

func TestCompileMultiElementInStaysUnbounded(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "color", Op: OpIn, Value: []interface{}{"red", "blue"}}}, index.TypeString)
	require.NoError(t, err)
	require.Nil(t, cq.Min)
	require.Nil(t, cq.Max)
	require.IsType(t, In{}, cq.Constraints[0])
}

func TestCompileWildcardNarrowsToLiteralPrefix(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "name", Op: OpRegex, Value: "/alp*/"}}, index.TypeString)
	require.NoError(t, err)
	require.Equal(t, "alp", cq.Min)
	require.Equal(t, "alp", cq.Max)
	re, ok := cq.Constraints[0].(Regex)
	require.True(t, ok)
	require.True(t, re.Re.MatchString("alpha"))
	require.True(t, re.Re.MatchString("alphabet"))
	require.False(t, re.Re.MatchString("beta"))
}

func TestCompileWildcardWithNoLiteralPrefixLeavesBoundsOpen(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "name", Op: OpRegex, Value: "/*/"}}, index.TypeString)
	require.NoError(t, err)
	require.Nil(t, cq.Min)
	require.Nil(t, cq.Max)
}

func TestCompileNotEqualIsSparseAndUnbounded(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "age", Op: OpNe, Value: 20.0}}, index.TypeNumber)
	require.NoError(t, err)
	require.Nil(t, cq.Min)
	require.Nil(t, cq.Max)
	require.True(t, cq.Constraints[0].SparseMatchPossible())
}

func TestCompilePassesUncoercibleBoundThrough(t *testing.T) {
	cq, err := Compile([]PathTerm{{Path: "age", Op: OpGe, Value: "not-a-number"}}, index.TypeNumber)
	require.NoError(t, err)
	require.Equal(t, "not-a-number", cq.Min)
	require.False(t, cq.Constraints[0].Matches(42.0))
}

func TestCompileRejectsMalformedRegexLiteral(t *testing.T) {
	_, err := Compile([]PathTerm{{Path: "name", Op: OpRegex, Value: "alp*"}}, index.TypeString)
	require.Error(t, err)
}

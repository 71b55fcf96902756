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
)

func TestParseSimpleComparisonTerm(t *testing.T) {
	q, err := Parse(`age >= 21`, nil)
	require.NoError(t, err)
	require.Len(t, q.Terms, 1)
	require.Equal(t, PathTerm{Path: "age", Op: OpGe, Value: 21.0}, q.Terms[0])
}

func TestParseStringEquality(t *testing.T) {
	q, err := Parse(`name = "alice"`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "name", Op: OpEq, Value: "alice"}}, q.Terms)
}

func TestParseExistsAndNotExists(t *testing.T) {
	q, err := Parse(`nickname exists`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "nickname", Op: OpExists}}, q.Terms)

	q, err = Parse(`nickname notExists`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "nickname", Op: OpNotExists}}, q.Terms)
}

func TestParseStartsWith(t *testing.T) {
	q, err := Parse(`name startsWith "al"`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "name", Op: OpStartsWith, Value: "al"}}, q.Terms)
}

func TestParseInAndNotInArrays(t *testing.T) {
	q, err := Parse(`color in ["red", "blue"]`, nil)
	require.NoError(t, err)
	require.Equal(t, OpIn, q.Terms[0].Op)
	require.Equal(t, []interface{}{"red", "blue"}, q.Terms[0].Value)

	q, err = Parse(`color notIn ["red"]`, nil)
	require.NoError(t, err)
	require.Equal(t, OpNotIn, q.Terms[0].Op)
	require.Equal(t, []interface{}{"red"}, q.Terms[0].Value)
}

func TestParseWildcardRegexLiteral(t *testing.T) {
	q, err := Parse(`name =~ /alp*/`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "name", Op: OpRegex, Value: "/alp*/"}}, q.Terms)
}

func TestParseBindingPlaceholder(t *testing.T) {
	q, err := Parse(`age > %minAge`, map[string]interface{}{"minAge": 18.0})
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "age", Op: OpGt, Value: 18.0}}, q.Terms)
}

func TestParseUnboundBindingFails(t *testing.T) {
	_, err := Parse(`age > %minAge`, nil)
	require.Error(t, err)
}

func TestParseTypeFilterShorthand(t *testing.T) {
	q, err := Parse(`[Contact] age > 18`, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Contact"}, q.TypeNames)
	require.Equal(t, []PathTerm{{Path: "age", Op: OpGt, Value: 18.0}}, q.Terms)
}

func TestParseProjectionWithJoinAndAlias(t *testing.T) {
	q, err := Parse(`_type = "p" [ref->label AS lbl]`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "_type", Op: OpEq, Value: "p"}}, q.Terms)
	require.Len(t, q.Projections, 1)
	require.Equal(t, "lbl", q.Projections[0].OutputKey)
	require.Equal(t, [][]string{{"ref"}, {"label"}}, q.Projections[0].Segments)
}

func TestParseProjectionWithoutAliasDefaultsOutputKey(t *testing.T) {
	q, err := Parse(`[ref->label]`, nil)
	require.NoError(t, err)
	require.Len(t, q.Projections, 1)
	require.Equal(t, "label", q.Projections[0].OutputKey)
}

func TestParseMultipleProjections(t *testing.T) {
	q, err := Parse(`[ref->label AS lbl, name AS n]`, nil)
	require.NoError(t, err)
	require.Len(t, q.Projections, 2)
	require.Equal(t, "lbl", q.Projections[0].OutputKey)
	require.Equal(t, "n", q.Projections[1].OutputKey)
	require.Equal(t, [][]string{{"name"}}, q.Projections[1].Segments)
}

func TestParseDottedPropertyPath(t *testing.T) {
	q, err := Parse(`address.city = "nyc"`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "address.city", Op: OpEq, Value: "nyc"}}, q.Terms)
}

func TestParseNegativeNumberLiteral(t *testing.T) {
	q, err := Parse(`balance < -5`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "balance", Op: OpLt, Value: -5.0}}, q.Terms)
}

func TestParseBooleanLiteral(t *testing.T) {
	q, err := Parse(`active = true`, nil)
	require.NoError(t, err)
	require.Equal(t, []PathTerm{{Path: "active", Op: OpEq, Value: true}}, q.Terms)
}

func TestParseRejectsMissingOperator(t *testing.T) {
	_, err := Parse(`age`, nil)
	require.Error(t, err)
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	_, err := Parse(`name = "alice`, nil)
	require.Error(t, err)
}

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
	"fmt"
	"regexp"
	"strings"

	"github.com/erigontech/jsondb/index"
)

// Op is a query term's comparison operator, one of the names spec.md
// §4.4's compilation table lists.
type Op string

const (
	OpGt         Op = ">"
	OpGe         Op = ">="
	OpLt         Op = "<"
	OpLe         Op = "<="
	OpEq         Op = "="
	OpNe         Op = "!="
	OpRegex      Op = "=~"
	OpNotRegex   Op = "!=~"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpExists     Op = "exists"
	OpNotExists  Op = "notExists"
	OpStartsWith Op = "startsWith"
)

// PathTerm is one compiled-query term: a dotted property path, an
// operator, and its literal operand (nil for exists/notExists).
type PathTerm struct {
	Path  string
	Op    Op
	Value interface{}
}

// CompiledQuery is the output of compiling the subset of a query's terms
// that apply to one chosen index: its constraints (to filter fieldValue
// at each cursor position) and the min/max scan bounds that narrow the
// cursor's starting position. Min/Max are nil when unbounded (spec.md's
// "undefined").
type CompiledQuery struct {
	Constraints []Constraint
	Min, Max    interface{}
}

func (cq *CompiledQuery) raiseMin(v interface{}) {
	if cq.Min == nil || GreaterThan(v, cq.Min) {
		cq.Min = v
	}
}

func (cq *CompiledQuery) lowerMax(v interface{}) {
	if cq.Max == nil || LessThan(v, cq.Max) {
		cq.Max = v
	}
}

// coerceBound truncates/coerces a literal to t, per spec.md §4.4 ("field
// values are truncated/coerced to the declared index value-type before
// bounds are set"). A value that cannot be coerced is passed through
// unchanged — it will simply never match any indexed entry, which is
// correct (the constraint becomes unsatisfiable rather than erroring).
func coerceBound(v interface{}, t index.ValueType) interface{} {
	out, ok := index.Coerce(v, t)
	if !ok {
		return v
	}
	return out
}

// Compile translates terms (all terms naming the one property path the
// chosen index covers) into a CompiledQuery, per the op-table in
// spec.md §4.4.
func Compile(terms []PathTerm, valueType index.ValueType) (CompiledQuery, error) {
	var cq CompiledQuery
	for _, term := range terms {
		switch term.Op {
		case OpGt:
			v := coerceBound(term.Value, valueType)
			cq.Constraints = append(cq.Constraints, Gt{Value: v})
			cq.raiseMin(v)
		case OpGe:
			v := coerceBound(term.Value, valueType)
			cq.Constraints = append(cq.Constraints, Ge{Value: v})
			cq.raiseMin(v)
		case OpLt:
			v := coerceBound(term.Value, valueType)
			cq.Constraints = append(cq.Constraints, Lt{Value: v})
			cq.lowerMax(v)
		case OpLe:
			v := coerceBound(term.Value, valueType)
			cq.Constraints = append(cq.Constraints, Le{Value: v})
			cq.lowerMax(v)
		case OpEq:
			v := coerceBound(term.Value, valueType)
			cq.Constraints = append(cq.Constraints, Eq{Value: v})
			cq.Min, cq.Max = v, v
		case OpNe:
			cq.Constraints = append(cq.Constraints, Ne{Value: term.Value})
		case OpRegex, OpNotRegex:
			re, prefix, err := compileRegexTerm(term.Value)
			if err != nil {
				return cq, err
			}
			cq.Constraints = append(cq.Constraints, Regex{Re: re, Negated: term.Op == OpNotRegex})
			if prefix != "" {
				cq.Min, cq.Max = prefix, prefix
			}
		case OpIn:
			values, ok := term.Value.([]interface{})
			if !ok {
				return cq, fmt.Errorf("query: in requires an array value")
			}
			if len(values) == 1 {
				v := coerceBound(values[0], valueType)
				cq.Constraints = append(cq.Constraints, Eq{Value: v})
				cq.Min, cq.Max = v, v
			} else {
				cq.Constraints = append(cq.Constraints, In{Values: values})
			}
		case OpNotIn:
			values, ok := term.Value.([]interface{})
			if !ok {
				return cq, fmt.Errorf("query: notIn requires an array value")
			}
			cq.Constraints = append(cq.Constraints, NotIn{Values: values})
		case OpExists:
			cq.Constraints = append(cq.Constraints, Exists{})
		case OpNotExists:
			cq.Constraints = append(cq.Constraints, NotExists{})
		case OpStartsWith:
			s, ok := term.Value.(string)
			if !ok {
				return cq, fmt.Errorf("query: startsWith requires a string value")
			}
			cq.Constraints = append(cq.Constraints, StartsWith{Prefix: s})
		default:
			return cq, fmt.Errorf("query: unknown operator %q", term.Op)
		}
	}
	return cq, nil
}

// compileRegexTerm compiles a "/pattern/"-delimited wildcard literal
// (the only regex literal form this engine's query language accepts;
// see query.Parse) into an anchored *regexp.Regexp plus the longest
// fixed prefix before the first wildcard metacharacter, per spec.md
// §4.4's "=~"/"!=~" narrowing rule.
func compileRegexTerm(value interface{}) (*regexp.Regexp, string, error) {
	s, ok := value.(string)
	if !ok {
		return nil, "", fmt.Errorf("query: regex value must be a string")
	}
	if len(s) < 2 || s[0] != '/' || s[len(s)-1] != '/' {
		return nil, "", fmt.Errorf("query: regex literal must be delimited by /.../, got %q", s)
	}
	return compileWildcard(s[1 : len(s)-1])
}

func compileWildcard(pattern string) (*regexp.Regexp, string, error) {
	var prefix, regex strings.Builder
	regex.WriteByte('^')
	sawWildcard := false
	for _, r := range pattern {
		switch r {
		case '*':
			sawWildcard = true
			regex.WriteString(".*")
		case '?':
			sawWildcard = true
			regex.WriteString(".")
		default:
			if !sawWildcard {
				prefix.WriteRune(r)
			}
			regex.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	regex.WriteByte('$')
	re, err := regexp.Compile(regex.String())
	if err != nil {
		return nil, "", fmt.Errorf("query: invalid wildcard pattern %q: %w", pattern, err)
	}
	return re, prefix.String(), nil
}

// constraintFor builds the same Constraint a compiled index term would
// carry, for use by BuildResidual against terms not bound to the chosen
// index (or evaluated a second time, harmlessly, for terms that are).
func constraintFor(op Op, value interface{}) (Constraint, error) {
	switch op {
	case OpGt:
		return Gt{Value: value}, nil
	case OpGe:
		return Ge{Value: value}, nil
	case OpLt:
		return Lt{Value: value}, nil
	case OpLe:
		return Le{Value: value}, nil
	case OpEq:
		return Eq{Value: value}, nil
	case OpNe:
		return Ne{Value: value}, nil
	case OpExists:
		return Exists{}, nil
	case OpNotExists:
		return NotExists{}, nil
	case OpStartsWith:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("query: startsWith requires a string value")
		}
		return StartsWith{Prefix: s}, nil
	case OpIn:
		values, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("query: in requires an array value")
		}
		return In{Values: values}, nil
	case OpNotIn:
		values, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("query: notIn requires an array value")
		}
		return NotIn{Values: values}, nil
	case OpRegex, OpNotRegex:
		re, _, err := compileRegexTerm(value)
		if err != nil {
			return nil, err
		}
		return Regex{Re: re, Negated: op == OpNotRegex}, nil
	default:
		return nil, fmt.Errorf("query: unknown operator %q", op)
	}
}

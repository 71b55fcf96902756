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
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType is one of the three scalar types a secondary index may be
// parameterized over (spec.md §3).
type ValueType int

const (
	TypeString ValueType = iota
	TypeNumber
	TypeBoolean
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Coerce narrows a decoded JSON value to t, returning ok=false when the
// value's dynamic type does not match and cannot be safely coerced
// (spec.md §4.3: "numbers accept integers and finite doubles; booleans
// accept booleans; strings accept strings; other types yield no entry").
func Coerce(v interface{}, t ValueType) (out interface{}, ok bool) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, false
			}
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		default:
			return nil, false
		}
	case TypeBoolean:
		b, ok := v.(bool)
		return b, ok
	default:
		return nil, false
	}
}

// EncodeValue produces the order-preserving encoding for a single coerced
// value, per spec.md §4.3:
//   - strings: raw UTF-8 bytes
//   - numbers: 8-byte big-endian IEEE-754 with sign bit flipped for
//     positives and all bits flipped for negatives (so the resulting
//     byte sequence sorts the same as the numeric value)
//   - booleans: a single 0x00/0x01 byte
func EncodeValue(v interface{}, t ValueType) ([]byte, error) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("index: EncodeValue: value is not a string")
		}
		return []byte(s), nil
	case TypeNumber:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("index: EncodeValue: value is not a number")
		}
		return encodeFloat64(f), nil
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("index: EncodeValue: value is not a boolean")
		}
		if b {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil
	default:
		return nil, fmt.Errorf("index: EncodeValue: unknown value type %v", t)
	}
}

// DecodeValue inverts EncodeValue, recovering the coerced scalar value
// from an index's forward-key prefix. Used when a query needs the actual
// indexed value back (e.g. to evaluate constraints against it, or to
// inject it as "_indexValue" in a result).
func DecodeValue(encoded []byte, t ValueType) (interface{}, error) {
	switch t {
	case TypeString:
		return string(encoded), nil
	case TypeNumber:
		if len(encoded) != 8 {
			return nil, fmt.Errorf("index: DecodeValue: number encoding must be 8 bytes, got %d", len(encoded))
		}
		return decodeFloat64(encoded), nil
	case TypeBoolean:
		if len(encoded) != 1 {
			return nil, fmt.Errorf("index: DecodeValue: boolean encoding must be 1 byte, got %d", len(encoded))
		}
		return encoded[0] == 0x01, nil
	default:
		return nil, fmt.Errorf("index: DecodeValue: unknown value type %v", t)
	}
}

func decodeFloat64(encoded []byte) float64 {
	bits := binary.BigEndian.Uint64(encoded)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func encodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, bits)
	return out
}

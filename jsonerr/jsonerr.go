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

// Package jsonerr carries the error kinds spec.md §7 surfaces to
// callers across the request/response boundary (transport.Framer wire
// format's "error" envelope field).
package jsonerr

import "fmt"

// Code identifies one of spec.md §7's error kinds.
type Code int

const (
	// DatabaseConnectionError indicates the transport was lost; the
	// in-flight request fails with this code and is not re-sent, while
	// watchers are re-armed on reconnect.
	DatabaseConnectionError Code = iota + 1
	// InvalidRequest indicates a malformed envelope or unknown action.
	InvalidRequest
	// QuotaExceeded is an engine-level, caller-recoverable write failure.
	QuotaExceeded
	// InvalidSchema is an engine-level, caller-recoverable write failure.
	InvalidSchema
	// Conflict is an engine-level, caller-recoverable write failure.
	Conflict
	// MissingObject is a read failure: the requested identity is absent.
	MissingObject
	// MissingType is a read failure: no index/type matches the request.
	MissingType
	// OperationFailure is the catch-all for an otherwise-unspecified
	// server error.
	OperationFailure
)

func (c Code) String() string {
	switch c {
	case DatabaseConnectionError:
		return "DatabaseConnectionError"
	case InvalidRequest:
		return "InvalidRequest"
	case QuotaExceeded:
		return "QuotaExceeded"
	case InvalidSchema:
		return "InvalidSchema"
	case Conflict:
		return "Conflict"
	case MissingObject:
		return "MissingObject"
	case MissingType:
		return "MissingType"
	case OperationFailure:
		return "OperationFailure"
	default:
		return "Unknown"
	}
}

// Error is the engine's error type, carried across the wire as the
// response envelope's "error" sub-object ({errorCode, errorMessage}).
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New constructs an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error that wraps cause; Unwrap exposes it so
// errors.Is/errors.As still work across the boundary.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("jsondb: %s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("jsondb: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrorCode and ErrorMessage are the wire envelope's field names
// (spec.md §6: "error: { errorCode: int, errorMessage: string }").
func (e *Error) ErrorCode() int        { return int(e.Code) }
func (e *Error) ErrorMessage() string  { return e.Message }

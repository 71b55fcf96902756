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

// Package client is the Go analogue of the original's QJsonDbConnection:
// a request queue of FIFO order, one request in flight at a time,
// transparent reconnect-and-replay, and watcher re-arming on
// reconnection. Grounded on
// original_source/src/client/qjsondbconnection.cpp, adapted from Qt's
// signal/slot + QWeakPointer idiom to channels, a mutex-guarded state
// machine, and explicit Unregister() handles (Go has no weak pointer
// equivalent to QWeakPointer<QJsonDbWatcher>).
package client

import (
	"encoding/json"
	"sync"

	"github.com/erigontech/jsondb/jsonerr"
	"github.com/erigontech/jsondb/transport"
)

// Status is a Request's position in the connection's lifecycle,
// spec.md §6's request states.
type Status int

const (
	Inactive Status = iota
	Queued
	Sent
	Receiving
	Finished
	Error
	Canceled
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Queued:
		return "Queued"
	case Sent:
		return "Sent"
	case Receiving:
		return "Receiving"
	case Finished:
		return "Finished"
	case Error:
		return "Error"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Request is one outstanding create/update/remove/find/changesSince
// call. A Request is created by one of the New*Request constructors
// (NewFindRequest, NewCreateRequest, ...) and submitted
// with Connection.Send; its outcome is retrieved by waiting on Done.
type Request struct {
	id int64

	action    string
	object    json.RawMessage
	objects   []json.RawMessage
	query     string
	bindings  map[string]interface{}
	limit     int
	offset    int
	partition string

	stateNumber uint64
	types       []string

	// internal marks a connection-managed request (watcher
	// registration/removal), which jumps the queue ahead of
	// user-submitted requests, mirroring pendingRequests.prepend() in
	// qjsondbconnection.cpp's send().
	internal bool

	mu       sync.Mutex
	status   Status
	result   *transport.Result
	err      *jsonerr.Error
	done     chan struct{}
	doneOnce sync.Once
}

func newRequest(action string) *Request {
	return &Request{action: action, status: Inactive, done: make(chan struct{})}
}

// NewFindRequest builds a "find" request over queryText with bindings
// substituted for the query grammar's %name placeholders.
func NewFindRequest(queryText string, bindings map[string]interface{}, limit, offset int) *Request {
	r := newRequest(transport.ActionFind)
	r.query = queryText
	r.bindings = bindings
	r.limit = limit
	r.offset = offset
	return r
}

// NewCreateRequest builds a "create" request for one or more objects.
func NewCreateRequest(objects ...json.RawMessage) *Request {
	r := newRequest(transport.ActionCreate)
	r.objects = objects
	return r
}

// NewUpdateRequest builds an "update" request for one or more objects.
func NewUpdateRequest(objects ...json.RawMessage) *Request {
	r := newRequest(transport.ActionUpdate)
	r.objects = objects
	return r
}

// NewRemoveRequest builds a "remove" request for one or more objects
// (each must carry at least _uuid).
func NewRemoveRequest(objects ...json.RawMessage) *Request {
	r := newRequest(transport.ActionRemove)
	r.objects = objects
	return r
}

// NewChangesSinceRequest builds a "changesSince" request for every
// committed change with a state number greater than floor, optionally
// restricted to types.
func NewChangesSinceRequest(floor uint64, types []string) *Request {
	r := newRequest(transport.ActionChangesSince)
	r.stateNumber = floor
	r.types = types
	return r
}

func (r *Request) toWire(id int64, partition string) transport.Request {
	return transport.Request{
		RequestID:   id,
		Action:      r.action,
		Object:      r.object,
		Objects:     r.objects,
		Query:       r.query,
		Bindings:    r.bindings,
		Limit:       r.limit,
		Offset:      r.offset,
		Partition:   partition,
		StateNumber: r.stateNumber,
		Types:       r.types,
	}
}

// Status reports the request's current state.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Request) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Done is closed once the request reaches a terminal status (Finished,
// Error, or Canceled).
func (r *Request) Done() <-chan struct{} { return r.done }

// Result returns the request's result, valid once Done is closed and
// Status() == Finished.
func (r *Request) Result() *transport.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Err returns the request's error, valid once Done is closed and
// Status() == Error.
func (r *Request) Err() *jsonerr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Request) finish(result *transport.Result) {
	r.mu.Lock()
	r.status = Finished
	r.result = result
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Request) fail(err *jsonerr.Error) {
	r.mu.Lock()
	r.status = Error
	r.err = err
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Request) cancel() {
	r.mu.Lock()
	r.status = Canceled
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

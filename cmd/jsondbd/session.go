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

package main

import (
	"encoding/json"
	"sync"

	"github.com/erigontech/jsondb/index"
	"github.com/erigontech/jsondb/internal/logutil"
	"github.com/erigontech/jsondb/jsonerr"
	"github.com/erigontech/jsondb/objecttable"
	"github.com/erigontech/jsondb/partition"
	"github.com/erigontech/jsondb/query"
	"github.com/erigontech/jsondb/transport"
)

// session serves one client connection: requests are handled
// sequentially (the client's own single-in-flight invariant means a
// second request never arrives before the first is answered), while
// watcher notifications are written to the same Framer from separate
// per-watcher goroutines, so all writes are serialized through writeMu.
type session struct {
	srv    *server
	framer *transport.Framer

	writeMu sync.Mutex

	mu       sync.Mutex
	watchers map[string]*partition.Watcher

	log *logutil.Logger
}

func newSession(srv *server, framer *transport.Framer) *session {
	return &session{
		srv:      srv,
		framer:   framer,
		watchers: make(map[string]*partition.Watcher),
		log:      logutil.New("session"),
	}
}

func (s *session) serve() {
	defer s.close()
	for {
		var req transport.Request
		if err := s.framer.ReadMessage(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := s.writeMessage(resp); err != nil {
			return
		}
	}
}

func (s *session) writeMessage(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.framer.WriteMessage(v)
}

func (s *session) close() {
	_ = s.framer.Close()
	s.mu.Lock()
	watchers := make([]*partition.Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = nil
	s.mu.Unlock()
	for _, w := range watchers {
		w.Close()
	}
}

func (s *session) dispatch(req transport.Request) transport.Response {
	p, err := s.srv.partitionFor(req.Partition)
	if err != nil {
		return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.DatabaseConnectionError, "partition unavailable", err))
	}

	switch req.Action {
	case transport.ActionCreate:
		return s.dispatchWrite(req, p, true)
	case transport.ActionUpdate:
		return s.dispatchWrite(req, p, false)
	case transport.ActionRemove:
		return s.dispatchRemove(req, p)
	case transport.ActionFind:
		return s.dispatchFind(req, p)
	case transport.ActionChangesSince:
		return s.dispatchChangesSince(req, p)
	default:
		return errorResponse(req.RequestID, jsonerr.New(jsonerr.InvalidRequest, "unknown action: "+req.Action))
	}
}

func objectsOf(req transport.Request) []json.RawMessage {
	if len(req.Objects) > 0 {
		return req.Objects
	}
	if len(req.Object) > 0 {
		return []json.RawMessage{req.Object}
	}
	return nil
}

func (s *session) dispatchWrite(req transport.Request, p *partition.Partition, isCreate bool) transport.Response {
	objs := objectsOf(req)
	if len(objs) == 0 {
		return errorResponse(req.RequestID, jsonerr.New(jsonerr.InvalidRequest, "no object given"))
	}

	var stateNumber uint64
	count := 0
	for _, raw := range objs {
		var doc objecttable.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "malformed object", err))
		}

		if doc.Type() == "notification" {
			res, err := s.registerWatcherDoc(p, doc)
			if err != nil {
				return errorResponse(req.RequestID, err)
			}
			stateNumber = res
			count++
			continue
		}

		if isCreate {
			res, err := p.Create(doc)
			if err != nil {
				return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "create failed", err))
			}
			stateNumber = res.StateNumber
		} else {
			key, err := objecttable.ParseObjectKey(doc.UUID())
			if err != nil {
				return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "missing or invalid _uuid", err))
			}
			res, err := p.Update(key, doc)
			if err != nil {
				return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "update failed", err))
			}
			stateNumber = res.StateNumber
		}
		count++
	}

	return transport.Response{RequestID: req.RequestID, Result: &transport.Result{Count: count, StateNumber: stateNumber}}
}

func (s *session) registerWatcherDoc(p *partition.Partition, doc objecttable.Document) (uint64, *jsonerr.Error) {
	uuidStr := doc.UUID()
	if uuidStr == "" {
		return 0, jsonerr.New(jsonerr.InvalidRequest, "notification object missing _uuid")
	}
	queryText, _ := doc["query"].(string)
	parsed, err := query.Parse(queryText, nil)
	if err != nil {
		return 0, jsonerr.Wrap(jsonerr.InvalidRequest, "invalid watcher query", err)
	}
	residual, err := query.BuildResidual(parsed.Terms)
	if err != nil {
		return 0, jsonerr.Wrap(jsonerr.InvalidRequest, "invalid watcher query", err)
	}
	typeSet := make(map[string]struct{}, len(parsed.TypeNames))
	for _, t := range parsed.TypeNames {
		typeSet[t] = struct{}{}
	}
	matches := func(d objecttable.Document) bool {
		if len(typeSet) > 0 {
			if _, ok := typeSet[d.Type()]; !ok {
				return false
			}
		}
		return residual(d, nil)
	}

	actions := actionMaskFromDoc(doc)
	w, werr := p.RegisterWatcher(uuidStr, queryText, actions, matches)
	if werr != nil {
		return 0, jsonerr.Wrap(jsonerr.OperationFailure, "register watcher failed", werr)
	}

	s.mu.Lock()
	s.watchers[uuidStr] = w
	s.mu.Unlock()
	go s.forwardNotifications(w)

	return p.Table().StateNumber(), nil
}

func actionMaskFromDoc(doc objecttable.Document) partition.Action {
	names, _ := doc["actions"].([]interface{})
	var mask partition.Action
	for _, n := range names {
		switch n {
		case transport.ActionCreate:
			mask |= partition.ActionCreated
		case transport.ActionUpdate:
			mask |= partition.ActionUpdated
		case transport.ActionRemove:
			mask |= partition.ActionRemoved
		}
	}
	if mask == 0 {
		mask = partition.ActionCreated | partition.ActionUpdated | partition.ActionRemoved
	}
	return mask
}

func (s *session) forwardNotifications(w *partition.Watcher) {
	for {
		select {
		case ev := <-w.Events():
			obj, err := json.Marshal(ev.Object)
			if err != nil {
				s.log.With("error", err).Warn("failed to marshal notification object")
				continue
			}
			notification := transport.Notification{
				UUID:   ev.WatcherUUID,
				Notify: transport.Notify{Action: ev.Action, Object: obj},
			}
			if err := s.writeMessage(notification); err != nil {
				return
			}
		case <-w.Done():
			return
		}
	}
}

func (s *session) dispatchRemove(req transport.Request, p *partition.Partition) transport.Response {
	objs := objectsOf(req)
	if len(objs) == 0 {
		return errorResponse(req.RequestID, jsonerr.New(jsonerr.InvalidRequest, "no object given"))
	}

	var stateNumber uint64
	count := 0
	for _, raw := range objs {
		var doc objecttable.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "malformed object", err))
		}
		uuidStr := doc.UUID()
		if uuidStr == "" {
			return errorResponse(req.RequestID, jsonerr.New(jsonerr.InvalidRequest, "missing _uuid"))
		}

		s.mu.Lock()
		w, isWatcher := s.watchers[uuidStr]
		s.mu.Unlock()
		if isWatcher {
			if err := p.UnregisterWatcher(uuidStr); err != nil {
				return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "unregister watcher failed", err))
			}
			w.Close()
			s.mu.Lock()
			delete(s.watchers, uuidStr)
			s.mu.Unlock()
			count++
			continue
		}

		key, err := objecttable.ParseObjectKey(uuidStr)
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "invalid _uuid", err))
		}
		res, err := p.Remove(key)
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "remove failed", err))
		}
		stateNumber = res.StateNumber
		count++
	}

	return transport.Response{RequestID: req.RequestID, Result: &transport.Result{Count: count, StateNumber: stateNumber}}
}

func (s *session) dispatchFind(req transport.Request, p *partition.Partition) transport.Response {
	parsed, err := query.Parse(req.Query, req.Bindings)
	if err != nil {
		return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "invalid query", err))
	}

	residual, err := query.BuildResidual(parsed.Terms)
	if err != nil {
		return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "invalid query", err))
	}

	var idx *index.Index
	var cq query.CompiledQuery
	var valueType index.ValueType
	if driverTerm, ok := pickDriverTerm(parsed.Terms); ok {
		valueType = valueTypeOf(driverTerm.Value)
		idx, err = p.EnsureIndex(driverTerm.Path, valueType)
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "build index failed", err))
		}
		// Compile only takes the terms over the driving index's own
		// property: CompiledQuery's Constraints/Min/Max describe one
		// index's scan, not a cross-property conjunction. Every other
		// term (on a different path) is still enforced by residual,
		// below, which re-checks the full document.
		cq, err = query.Compile(termsForPath(parsed.Terms, driverTerm.Path), valueType)
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.InvalidRequest, "invalid query", err))
		}
	}

	q, err := query.Open(p, p.Table(), idx, cq, true, parsed.TypeNames, residual, parsed.Projections)
	if err != nil {
		return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "query open failed", err))
	}
	defer q.Close()

	limit := req.Limit
	offset := req.Offset
	var results []json.RawMessage
	var stateNumber uint64
	skipped := 0
	for doc, ok, err := q.First(); ; doc, ok, err = q.Next() {
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "scan failed", err))
		}
		if !ok {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(results) >= limit {
			break
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "marshal result failed", err))
		}
		results = append(results, raw)
	}
	stateNumber = q.StateNumber()

	return transport.Response{
		RequestID: req.RequestID,
		Result:    &transport.Result{Data: results, Count: len(results), StateNumber: stateNumber},
	}
}

// pickDriverTerm chooses the first comparison term usable to drive an
// index scan. A richer cost-based planner (picking the most selective
// of several indexed terms) is out of scope; every candidate term still
// gets re-checked by the residual predicate, so this choice only ever
// affects scan efficiency, never correctness.
func pickDriverTerm(terms []query.PathTerm) (query.PathTerm, bool) {
	for _, t := range terms {
		switch t.Op {
		case query.OpExists, query.OpNotExists:
			continue
		default:
			return t, true
		}
	}
	return query.PathTerm{}, false
}

func termsForPath(terms []query.PathTerm, path string) []query.PathTerm {
	var out []query.PathTerm
	for _, t := range terms {
		if t.Path == path {
			out = append(out, t)
		}
	}
	return out
}

func valueTypeOf(v interface{}) index.ValueType {
	switch v.(type) {
	case bool:
		return index.TypeBoolean
	case float64, int, int64:
		return index.TypeNumber
	default:
		return index.TypeString
	}
}

func (s *session) dispatchChangesSince(req transport.Request, p *partition.Partition) transport.Response {
	docs, err := p.ChangesSince(req.StateNumber, req.Types)
	if err != nil {
		return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "changesSince failed", err))
	}
	results := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return errorResponse(req.RequestID, jsonerr.Wrap(jsonerr.OperationFailure, "marshal result failed", err))
		}
		results = append(results, raw)
	}
	return transport.Response{
		RequestID: req.RequestID,
		Result:    &transport.Result{Data: results, Count: len(results)},
	}
}

func errorResponse(requestID int64, err *jsonerr.Error) transport.Response {
	return transport.Response{
		RequestID: requestID,
		Error:     &transport.ErrorPayload{ErrorCode: err.ErrorCode(), ErrorMessage: err.ErrorMessage()},
	}
}

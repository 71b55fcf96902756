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

package partition

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/erigontech/jsondb/internal/logutil"
	"github.com/erigontech/jsondb/objecttable"
)

// Action is the bitmask of events (spec.md §4.5's "action-mask ⊆
// {Created, Updated, Removed}") a Watcher is armed for.
type Action int

const (
	ActionCreated Action = 1 << iota
	ActionUpdated
	ActionRemoved
)

func actionNames(a Action) []string {
	var names []string
	if a&ActionCreated != 0 {
		names = append(names, "create")
	}
	if a&ActionUpdated != 0 {
		names = append(names, "update")
	}
	if a&ActionRemoved != 0 {
		names = append(names, "remove")
	}
	return names
}

// NotifyEvent is one delivered notification, the server-side analogue of
// spec.md §6's notification envelope ({_uuid, notify: {action, object}}).
type NotifyEvent struct {
	WatcherUUID string
	Action      string
	Object      objecttable.Document
}

// Watcher is a server-side subscription: a committed "notification"
// document (spec.md §4.5) plus an in-memory event channel and a
// predicate deciding which documents its query matches. Matches is
// supplied by the caller (the transport/client layer compiles the
// watcher's stored query into a query.Residual closure) so this package
// does not need to depend on query's compiler.
type Watcher struct {
	UUID      string
	QueryText string
	Actions   Action

	matches func(objecttable.Document) bool
	events  chan NotifyEvent
	closed  chan struct{}
	once    sync.Once
}

// NewWatcher constructs an armed Watcher. matches may be nil, meaning
// every document of an accepted action is delivered unfiltered.
func NewWatcher(uuid, queryText string, actions Action, matches func(objecttable.Document) bool) *Watcher {
	return &Watcher{
		UUID:      uuid,
		QueryText: queryText,
		Actions:   actions,
		matches:   matches,
		events:    make(chan NotifyEvent, 16),
		closed:    make(chan struct{}),
	}
}

// Events is the channel a connection layer drains for this watcher's
// notifications.
func (w *Watcher) Events() <-chan NotifyEvent { return w.events }

// Done is closed once the watcher is disarmed. Events is never closed
// (see notify's send-on-closed-channel avoidance below), so a consumer
// ranging over Events must select on Done alongside it to know when to
// stop.
func (w *Watcher) Done() <-chan struct{} { return w.closed }

// Close disarms the watcher; safe to call more than once.
func (w *Watcher) Close() {
	w.once.Do(func() { close(w.closed) })
}

func (w *Watcher) acceptsAction(action string) bool {
	switch action {
	case "create":
		return w.Actions&ActionCreated != 0
	case "update":
		return w.Actions&ActionUpdated != 0
	case "remove":
		return w.Actions&ActionRemoved != 0
	default:
		return false
	}
}

// Hub fans committed create/update/remove events out to every registered
// Watcher, in per-watcher commit order (spec.md §5: "cross-watcher
// ordering is unspecified").
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
}

func newHub() *Hub {
	return &Hub{watchers: make(map[string]*Watcher)}
}

// Register arms w for delivery.
func (h *Hub) Register(w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[w.UUID] = w
}

// Unregister disarms and removes the watcher named uuid, if present.
func (h *Hub) Unregister(uuid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.watchers[uuid]; ok {
		w.Close()
		delete(h.watchers, uuid)
	}
}

// Len reports the number of currently-armed watchers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// notify pushes one committed event to every watcher whose action mask
// and query predicate accept it. Delivery to each watcher's buffered
// channel happens concurrently (golang.org/x/sync/errgroup), preserving
// per-watcher commit order since notify is only ever called by the
// single-threaded commit pipeline, one event at a time, and each
// watcher's channel is itself FIFO.
func (h *Hub) notify(log *logutil.Logger, action string, doc objecttable.Document) {
	h.mu.RLock()
	targets := make([]*Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		targets = append(targets, w)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	var g errgroup.Group
	for _, w := range targets {
		w := w
		g.Go(func() error {
			if !w.acceptsAction(action) {
				return nil
			}
			if w.matches != nil && !w.matches(doc) {
				return nil
			}
			select {
			case w.events <- NotifyEvent{WatcherUUID: w.UUID, Action: action, Object: doc}:
			case <-w.closed:
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && log != nil {
		log.With("error", err).Error("notification fan-out failed")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uuid, w := range h.watchers {
		w.Close()
		delete(h.watchers, uuid)
	}
}

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

package client

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/erigontech/jsondb/transport"
)

// Action is the bitmask of events a Watcher subscribes to, the client
// side of partition.Action (kept as an independent type so this package
// does not depend on the server-side partition package).
type Action int

const (
	ActionCreated Action = 1 << iota
	ActionUpdated
	ActionRemoved
)

// WatcherStatus tracks a Watcher's registration lifecycle, the client
// side of original_source's QJsonDbWatcher::Status (Inactive /
// Activating / Active).
type WatcherStatus int

const (
	WatcherInactive WatcherStatus = iota
	WatcherActivating
	WatcherActive
)

// Notification is one delivered create/update/remove event, the
// client-side twin of partition.NotifyEvent.
type Notification struct {
	Action string
	Object json.RawMessage
}

// Watcher is a client-held handle on a server-side notification
// subscription. Unlike original_source's QWeakPointer<QJsonDbWatcher>,
// which the connection could dereference-to-nil once the application
// dropped its last QSharedPointer, a Go Watcher is only ever removed by
// an explicit Unregister call — there is no weak-pointer equivalent, so
// forgetting to Unregister leaks the subscription on the server for the
// life of the Connection.
type Watcher struct {
	uuid      string
	queryText string
	actions   Action
	partition string

	conn   *Connection
	events chan Notification

	mu     sync.Mutex
	status WatcherStatus
}

func newWatcher(conn *Connection, queryText string, actions Action, partitionName string) *Watcher {
	return &Watcher{
		uuid:      uuid.NewString(),
		queryText: queryText,
		actions:   actions,
		partition: partitionName,
		conn:      conn,
		events:    make(chan Notification, 32),
		status:    WatcherInactive,
	}
}

// UUID identifies this watcher's notification document on the server.
func (w *Watcher) UUID() string { return w.uuid }

// Status reports the watcher's current registration state.
func (w *Watcher) Status() WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) setStatus(s WatcherStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Events is the channel the application drains for delivered
// notifications.
func (w *Watcher) Events() <-chan Notification { return w.events }

// Unregister tells the connection to stop delivering events for this
// watcher and removes its notification document on the server. Safe to
// call once; a second call is a no-op.
func (w *Watcher) Unregister() {
	w.conn.forgetWatcher(w)
}

func isKnownAction(action string) bool {
	switch action {
	case transport.ActionCreate, transport.ActionUpdate, transport.ActionRemove:
		return true
	default:
		return false
	}
}

func (w *Watcher) deliver(action string, object json.RawMessage) {
	if !isKnownAction(action) {
		// spec.md §4.5: a notification action is always one of
		// create/update/remove. Anything else is a protocol violation,
		// not a fourth kind of event for the application to handle, so
		// it is logged and dropped rather than forwarded.
		if w.conn != nil && w.conn.log != nil {
			w.conn.log.With("watcherUUID", w.uuid).With("action", action).
				Warn("dropping notification with unrecognized action")
		}
		return
	}
	select {
	case w.events <- Notification{Action: action, Object: object}:
	default:
		// Slow consumer: drop rather than block the single reader
		// goroutine that every other in-flight request depends on.
	}
}

func (w *Watcher) registrationObject() json.RawMessage {
	doc := map[string]interface{}{
		"_type":     "notification",
		"_uuid":     w.uuid,
		"query":     w.queryText,
		"actions":   actionNames(w.actions),
		"partition": w.partition,
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func actionNames(a Action) []string {
	var names []string
	if a&ActionCreated != 0 {
		names = append(names, transport.ActionCreate)
	}
	if a&ActionUpdated != 0 {
		names = append(names, transport.ActionUpdate)
	}
	if a&ActionRemoved != 0 {
		names = append(names, transport.ActionRemove)
	}
	return names
}

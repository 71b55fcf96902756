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
	"fmt"
	"sync"
	"time"

	"github.com/erigontech/jsondb/internal/logutil"
	"github.com/erigontech/jsondb/jsonerr"
	"github.com/erigontech/jsondb/transport"
)

// ConnStatus mirrors original_source's QJsonDbConnection::Status.
type ConnStatus int

const (
	Unconnected ConnStatus = iota
	Connecting
	Connected
)

func (s ConnStatus) String() string {
	switch s {
	case Unconnected:
		return "Unconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

const defaultReconnectDelay = 5 * time.Second

// Connection is a client session against one jsondbd server: a FIFO
// request queue, a single in-flight request, transparent reconnect
// with watcher re-arming, grounded on
// original_source/src/client/qjsondbconnection.cpp's
// QJsonDbConnectionPrivate. Safe for concurrent use.
type Connection struct {
	socketPath       string
	defaultPartition string
	autoReconnect    bool

	mu            sync.Mutex
	status        ConnStatus
	framer        *transport.Framer
	nextRequestID int64
	queue         []*Request
	current       *Request
	explicitClose bool
	watchers      map[string]*Watcher
	reconnectT    *time.Timer

	// reconnectDelay defaults to defaultReconnectDelay but is overridden in
	// tests to avoid a real 5-second wait.
	reconnectDelay time.Duration

	log *logutil.Logger
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithPartition sets the partition name attached to every request that
// does not specify its own.
func WithPartition(name string) Option {
	return func(c *Connection) { c.defaultPartition = name }
}

// WithAutoReconnect controls whether the connection redials
// automatically after an established connection drops. Enabled by
// default, matching QJsonDbConnection::autoReconnectEnabled.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Connection) { c.autoReconnect = enabled }
}

// New constructs a Connection for the unix-domain socket at socketPath.
// Dial must be called before any request is delivered.
func New(socketPath string, opts ...Option) *Connection {
	c := &Connection{
		socketPath:     socketPath,
		autoReconnect:  true,
		watchers:       make(map[string]*Watcher),
		reconnectDelay: defaultReconnectDelay,
		log:            logutil.New("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status reports the connection's current lifecycle state.
func (c *Connection) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Dial attempts to establish the connection. On success it starts the
// read-dispatch loop, re-arms any previously-registered watchers, and
// begins draining the request queue. On failure, if auto-reconnect is
// enabled a retry is scheduled and a nil error is returned (matching
// the original's asynchronous connectToServer(), which never fails
// synchronously); otherwise the dial error is returned directly.
func (c *Connection) Dial() error {
	c.mu.Lock()
	if c.status != Unconnected {
		c.mu.Unlock()
		return nil
	}
	c.status = Connecting
	c.explicitClose = false
	c.mu.Unlock()

	return c.attemptDial()
}

func (c *Connection) attemptDial() error {
	framer, err := transport.Dial(c.socketPath)
	if err != nil {
		c.mu.Lock()
		shouldRetry := c.autoReconnect && !c.explicitClose
		if shouldRetry {
			c.scheduleReconnectLocked()
		} else {
			c.status = Unconnected
		}
		c.mu.Unlock()
		if shouldRetry {
			return nil
		}
		return fmt.Errorf("client: dial %s: %w", c.socketPath, err)
	}

	c.mu.Lock()
	c.framer = framer
	c.status = Connected
	watchers := make([]*Watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.mu.Unlock()

	go c.readLoop(framer)

	for _, w := range watchers {
		c.reactivateWatcher(w)
	}
	c.handleQueue()
	return nil
}

func (c *Connection) scheduleReconnectLocked() {
	c.status = Connecting
	if c.reconnectT != nil {
		c.reconnectT.Stop()
	}
	c.reconnectT = time.AfterFunc(c.reconnectDelay, func() {
		_ = c.attemptDial()
	})
}

// Close disconnects explicitly and disables auto-reconnect for this
// connection instance.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.explicitClose = true
	if c.reconnectT != nil {
		c.reconnectT.Stop()
	}
	framer := c.framer
	c.framer = nil
	c.status = Unconnected
	c.mu.Unlock()

	if framer != nil {
		return framer.Close()
	}
	return nil
}

// Send enqueues req for delivery, in FIFO order relative to other
// non-internal requests, and attempts immediate dispatch if the
// connection is idle and connected.
func (c *Connection) Send(req *Request) {
	c.mu.Lock()
	req.setStatus(Queued)
	if req.internal {
		c.queue = append([]*Request{req}, c.queue...)
	} else {
		c.queue = append(c.queue, req)
	}
	c.mu.Unlock()
	c.handleQueue()
}

// Cancel removes req from the queue if it has not yet been sent.
// Returns false if req was already sent, finished, not queued here, or
// internal — engine-internal requests (watcher registration/removal)
// are not cancellable by a caller.
func (c *Connection) Cancel(req *Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.internal || req.Status() != Queued {
		return false
	}
	for i, q := range c.queue {
		if q == req {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			req.cancel()
			return true
		}
	}
	return false
}

// handleQueue dispatches the next queued request, if the connection is
// idle (no in-flight request) and connected — the single-in-flight
// invariant from qjsondbconnection.cpp's handleRequestQueue().
func (c *Connection) handleQueue() {
	c.mu.Lock()
	if c.current != nil || c.status != Connected || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	req := c.queue[0]
	c.queue = c.queue[1:]
	req.setStatus(Sent)
	c.current = req
	id := c.nextRequestID
	c.nextRequestID++
	partitionName := c.defaultPartition
	framer := c.framer
	c.mu.Unlock()

	req.id = id
	wire := req.toWire(id, partitionName)
	if err := framer.WriteMessage(wire); err != nil {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		req.fail(jsonerr.Wrap(jsonerr.DatabaseConnectionError, "write request", err))
		return
	}
	req.setStatus(Receiving)
}

// wireEnvelope unifies transport.Response and transport.Notification
// shapes so the read loop can tell them apart on one decode, the Go
// equivalent of _q_onReceivedObject's contains(notify) check.
type wireEnvelope struct {
	RequestID *int64                  `json:"requestId"`
	Result    *transport.Result       `json:"result"`
	Error     *transport.ErrorPayload `json:"error"`
	UUID      string                  `json:"_uuid"`
	Notify    *transport.Notify       `json:"notify"`
}

func (c *Connection) readLoop(framer *transport.Framer) {
	for {
		var env wireEnvelope
		if err := framer.ReadMessage(&env); err != nil {
			c.handleDisconnect(framer, err)
			return
		}

		if env.Notify != nil {
			c.dispatchNotification(env.UUID, *env.Notify)
			continue
		}
		if env.RequestID != nil {
			c.dispatchResponse(*env.RequestID, env.Result, env.Error)
		}
	}
}

func (c *Connection) dispatchNotification(watcherUUID string, notify transport.Notify) {
	c.mu.Lock()
	w, ok := c.watchers[watcherUUID]
	c.mu.Unlock()
	if !ok {
		c.log.With("watcherUUID", watcherUUID).Warn("notification for unknown watcher")
		return
	}
	w.deliver(notify.Action, notify.Object)
}

func (c *Connection) dispatchResponse(requestID int64, result *transport.Result, errPayload *transport.ErrorPayload) {
	c.mu.Lock()
	req := c.current
	if req == nil || req.id != requestID {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	if errPayload != nil {
		req.fail(jsonerr.New(jsonerr.Code(errPayload.ErrorCode), errPayload.ErrorMessage))
	} else {
		req.finish(result)
	}
	c.handleQueue()
}

// handleDisconnect mirrors _q_onDisconnected: fail the in-flight
// request, mark watchers for reactivation, and schedule a reconnect
// unless auto-reconnect is off or the disconnect was requested. The
// failed request is terminal: it is not re-queued or re-sent after
// reconnecting, so a caller that wants it retried submits a new Request.
func (c *Connection) handleDisconnect(framer *transport.Framer, cause error) {
	c.mu.Lock()
	if c.framer != framer {
		// Superseded by a newer connection already.
		c.mu.Unlock()
		return
	}
	c.framer = nil

	if c.current != nil {
		req := c.current
		c.current = nil
		c.mu.Unlock()
		req.fail(jsonerr.Wrap(jsonerr.DatabaseConnectionError, "connection lost", cause))
		c.mu.Lock()
	}

	for _, w := range c.watchers {
		w.setStatus(WatcherActivating)
	}

	if c.explicitClose {
		c.status = Unconnected
		c.mu.Unlock()
		return
	}
	if c.autoReconnect {
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.status = Unconnected
	c.mu.Unlock()
}

// AddWatcher registers a new watcher for queryText and returns its
// handle immediately; the handle's Status() transitions to WatcherActive
// once the server has acknowledged the registration.
func (c *Connection) AddWatcher(queryText string, actions Action) *Watcher {
	w := newWatcher(c, queryText, actions, c.defaultPartition)
	c.mu.Lock()
	c.watchers[w.uuid] = w
	c.mu.Unlock()
	c.reactivateWatcher(w)
	return w
}

func (c *Connection) reactivateWatcher(w *Watcher) {
	w.setStatus(WatcherActivating)
	req := NewCreateRequest(w.registrationObject())
	req.internal = true
	go func() {
		<-req.Done()
		if req.Status() == Finished {
			w.setStatus(WatcherActive)
		}
	}()
	c.Send(req)
}

// forgetWatcher removes the watcher from local dispatch and asks the
// server to tombstone its notification document. The server-side
// removal is fire-and-forget, mirroring
// QJsonDbConnectionPrivate::removeWatcher's "we don't care about the
// response" comment.
func (c *Connection) forgetWatcher(w *Watcher) {
	c.mu.Lock()
	if _, ok := c.watchers[w.uuid]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.watchers, w.uuid)
	c.mu.Unlock()
	w.setStatus(WatcherInactive)

	tomb, _ := json.Marshal(map[string]interface{}{"_uuid": w.uuid, "_deleted": true})
	req := NewRemoveRequest(tomb)
	req.internal = true
	c.Send(req)
}

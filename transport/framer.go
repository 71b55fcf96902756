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

// Package transport is the wire format spec.md §6 names but leaves
// unspecified: a length-framed JSON document stream over a
// unix-domain-socket net.Conn, the direct Go equivalent of the
// original's QLocalSocket. Kept deliberately thin — no reconnect or
// backoff logic lives here, that is client.Connection's job — so the
// tested logic lives in the request-queue/watcher state machine, not
// the framing.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameSize guards against a corrupt or hostile length prefix causing
// an unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// Framer reads and writes length-prefixed JSON documents over one
// net.Conn: a 4-byte big-endian length prefix followed by that many
// bytes of JSON body. Writes are serialized; reads are not (callers are
// expected to have at most one reader goroutine, matching
// client.Connection's single dispatcher).
type Framer struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// NewFramer wraps conn.
func NewFramer(conn net.Conn) *Framer {
	return &Framer{conn: conn}
}

// Dial connects to a unix-domain socket at path and returns a Framer
// over it.
func Dial(path string) (*Framer, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", path, err)
	}
	return NewFramer(conn), nil
}

// Listen opens a unix-domain socket listener at path. It does not remove
// a stale socket file left at path; cmd/jsondbd's listen does that before
// calling it.
func Listen(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", path, err)
	}
	return ln, nil
}

// WriteMessage encodes v as JSON and writes it as one frame. Safe for
// concurrent use.
func (f *Framer) WriteMessage(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal message: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("transport: outgoing message too large: %d bytes", len(body))
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := f.conn.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if _, err := f.conn.Write(body); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// ReadMessage blocks for the next frame and unmarshals its JSON body
// into v. Returns io.EOF (or a wrapped error) when the peer closes the
// connection.
func (f *Framer) ReadMessage(v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(f.conn, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return fmt.Errorf("transport: incoming frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(f.conn, body); err != nil {
		return fmt.Errorf("transport: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("transport: unmarshal message: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (f *Framer) Close() error { return f.conn.Close() }

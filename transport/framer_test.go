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

package transport

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenAndDial(t *testing.T) (net.Listener, *Framer, *Framer) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "jsondb.sock")
	ln, err := Listen(sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	clientFramer, err := Dial(sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientFramer.Close() })

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}
	serverFramer := NewFramer(serverConn)
	t.Cleanup(func() { _ = serverFramer.Close() })

	return ln, clientFramer, serverFramer
}

func TestFramerRoundTripsRequest(t *testing.T) {
	_, client, server := listenAndDial(t)

	req := Request{RequestID: 1, Action: ActionFind, Query: `_type = "t"`}
	require.NoError(t, client.WriteMessage(req))

	var got Request
	require.NoError(t, server.ReadMessage(&got))
	require.Equal(t, req, got)
}

func TestFramerRoundTripsResponse(t *testing.T) {
	_, client, server := listenAndDial(t)

	resp := Response{RequestID: 7, Result: &Result{Count: 2, StateNumber: 42}}
	require.NoError(t, server.WriteMessage(resp))

	var got Response
	require.NoError(t, client.ReadMessage(&got))
	require.Equal(t, resp, got)
}

func TestFramerRoundTripsMultipleMessagesInOrder(t *testing.T) {
	_, client, server := listenAndDial(t)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, client.WriteMessage(Request{RequestID: i, Action: ActionFind}))
	}
	for i := int64(1); i <= 3; i++ {
		var got Request
		require.NoError(t, server.ReadMessage(&got))
		require.Equal(t, i, got.RequestID)
	}
}

func TestFramerReadMessageReturnsErrorOnPeerClose(t *testing.T) {
	_, client, server := listenAndDial(t)
	require.NoError(t, client.Close())

	var got Request
	err := server.ReadMessage(&got)
	require.Error(t, err)
}

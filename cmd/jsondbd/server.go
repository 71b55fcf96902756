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
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/erigontech/jsondb/internal/logutil"
	"github.com/erigontech/jsondb/partition"
	"github.com/erigontech/jsondb/transport"
)

// server owns every partition opened so far (lazily, by name) and
// accepts connections, handing each to its own session.
type server struct {
	dataDir          string
	defaultPartition string

	mu         sync.Mutex
	partitions map[string]*partition.Partition

	log *logutil.Logger
}

func newServer(dataDir, defaultPartition string) (*server, error) {
	s := &server{
		dataDir:          dataDir,
		defaultPartition: defaultPartition,
		partitions:       make(map[string]*partition.Partition),
		log:              logutil.New("server"),
	}
	// Open the default partition eagerly so a misconfigured datadir
	// fails fast at startup rather than on the first request.
	if _, err := s.partitionFor(defaultPartition); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *server) partitionFor(name string) (*partition.Partition, error) {
	if name == "" {
		name = s.defaultPartition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p, err := partition.Open(s.dataDir, name)
	if err != nil {
		return nil, fmt.Errorf("jsondbd: open partition %s: %w", name, err)
	}
	s.partitions[name] = p
	return p, nil
}

func (s *server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.partitions {
		if err := p.Close(); err != nil {
			s.log.With("partition", name).With("error", err).Warn("error closing partition")
		}
	}
}

// Serve accepts connections on ln until it is closed, serving each on
// its own goroutine. Returns once Accept starts failing (typically
// because ln was closed for shutdown).
func (s *server) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.With("error", err).Warn("accept failed")
			}
			return
		}
		sess := newSession(s, transport.NewFramer(conn))
		go sess.serve()
	}
}

// listen opens the unix-domain socket at path, first removing a stale
// socket file left behind by an unclean shutdown (bind would otherwise
// fail with "address already in use").
func listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	return transport.Listen(path)
}

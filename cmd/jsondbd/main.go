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

// Command jsondbd is the server process: it listens on a unix-domain
// socket (transport.Listen) and serves create/update/remove/find/
// changesSince requests against one or more on-disk partitions,
// dispatching notifications to registered watchers. The CLI surface
// mirrors the teacher's cmd/ entrypoints: a single urfave/cli/v2 app
// with flat flags and one Action.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/erigontech/jsondb/internal/logutil"
)

func main() {
	app := &cli.App{
		Name:  "jsondbd",
		Usage: "schemaless document database server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "datadir",
				Usage:    "directory holding one subdirectory per partition",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "unix-domain socket path to listen on",
				Value: "jsondb.sock",
			},
			&cli.StringFlag{
				Name:  "partition",
				Usage: "default partition name for requests that omit one",
				Value: "default",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, or error",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := logutil.SetLevel(c.String("log-level")); err != nil {
		return fmt.Errorf("jsondbd: invalid log-level: %w", err)
	}
	log := logutil.New("jsondbd")

	srv, err := newServer(c.String("datadir"), c.String("partition"))
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := listen(c.String("socket"))
	if err != nil {
		return err
	}
	defer ln.Close()

	log.With("socket", c.String("socket")).With("datadir", c.String("datadir")).Info("jsondbd listening")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	srv.Serve(ln)
	return nil
}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package server provides support routines for running mcp sessions.
package server

import (
	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/channel"
)

// Local constructs a client-role *mcp.Session and a server-role *mcp.Session
// connected to one another via an in-memory pipe, using the given assigner
// and options. It is intended for tests and in-process integrations that
// need a working session pair without a real transport.
//
// When the client session is closed, the server session observes the pipe
// closing and exits; the caller may invoke wait to block for the server to
// finish.
func Local(assigner mcp.Assigner, opts *LocalOptions) (client *mcp.Session, wait func() error) {
	if opts == nil {
		opts = new(LocalOptions)
	}
	cch, sch := channel.Direct()

	so := new(mcp.SessionOptions)
	if opts.ServerOptions != nil {
		*so = *opts.ServerOptions
	}
	so.Assigner = assigner
	srv := mcp.NewSession(sch, mcp.RoleServer, so).Start()

	cli := mcp.NewSession(cch, mcp.RoleClient, opts.ClientOptions).Start()
	return cli, srv.Wait
}

// LocalOptions control the behavior of the server and client constructed by
// the Local function.
type LocalOptions struct {
	ClientOptions *mcp.SessionOptions
	ServerOptions *mcp.SessionOptions
}

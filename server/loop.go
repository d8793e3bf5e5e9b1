// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package server

import (
	"io"
	"log"
	"net"
	"sync"

	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/channel"
)

// Loop obtains connections from lst and starts a server-role session for
// each with the given assigner and options, running in a new goroutine. If
// Accept reports an error, the loop terminates and the error is reported
// once all the sessions currently active have exited.
func Loop(lst net.Listener, assigner mcp.Assigner, opts *LoopOptions) error {
	newChannel := opts.framing()
	so := opts.sessionOpts()
	so.Assigner = assigner
	var wg sync.WaitGroup
	for {
		conn, err := lst.Accept()
		if err != nil {
			log.Printf("Error accepting new connection: %v", err)
			wg.Wait()
			return err
		}
		ch := newChannel(conn, conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := mcp.NewSession(ch, mcp.RoleServer, so).Start()
			if err := srv.Wait(); err != nil && err != io.EOF {
				log.Printf("Session exit: %v", err)
			}
		}()
	}
}

// LoopOptions control the behavior of the Loop function. A nil *LoopOptions
// provides default values as described.
type LoopOptions struct {
	// If non-nil, this function is used to convert a stream connection to
	// an RPC channel. If this field is nil, channel.JSON is used.
	Framing channel.Framing

	// If non-nil, these options are used when constructing the session
	// that handles requests on an inbound connection, save that its
	// Assigner field is always overwritten with the one passed to Loop.
	SessionOptions *mcp.SessionOptions
}

func (o *LoopOptions) sessionOpts() *mcp.SessionOptions {
	so := new(mcp.SessionOptions)
	if o != nil && o.SessionOptions != nil {
		*so = *o.SessionOptions
	}
	return so
}

func (o *LoopOptions) framing() channel.Framing {
	if o == nil || o.Framing == nil {
		return channel.JSON
	}
	return o.Framing
}

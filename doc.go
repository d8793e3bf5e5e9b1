/*
Package mcp implements the core of a bidirectional Model Context Protocol
runtime: a transport-agnostic engine that lets a client peer and a server
peer exchange JSON-RPC 2.0 messages to negotiate capabilities, discover and
invoke tools, prompts, and resources, stream progress, carry logs, and cancel
work.

The engine is the same on both ends of a connection; only the role
(initiator or responder) and the registered handlers differ. A Session
wraps a channel.Channel and runs the read loop, the dispatcher, and the
pending request registry described in the package's design notes.

# Establishing a session

A Session is constructed over a channel.Channel and a Role:

	ch := channel.Line(os.Stdin, os.Stdout)
	sess := mcp.NewSession(ch, mcp.RoleClient, &mcp.SessionOptions{
		Capabilities: mcp.Capabilities{"roots": {}},
		ClientInfo:   mcp.Implementation{Name: "example", Version: "1.0"},
	})
	sess.Start()

	info, err := sess.Initialize(ctx)
	...

On the server side, an Assigner supplies the handlers for the MCP methods
(tools/list, tools/call, and so on):

	sess := mcp.NewSession(ch, mcp.RoleServer, &mcp.SessionOptions{
		Capabilities: mcp.Capabilities{"tools": {}},
		Assigner:     myAssigner,
	})
	sess.Start()
	sess.Wait()

# Calls, notifications, and batches

Once a session is active, it exposes the request engine described in the
package design: Call for a blocking round trip, Notify for a one-way
message, and Batch for a group of requests sent as a single JSON array.

	rsp, err := sess.Call(ctx, "tools/list", nil)

	err := sess.Notify(ctx, "notifications/progress", progress)

	rsps, err := sess.Batch(ctx, []mcp.Spec{
		{Method: "ping"},
		{Method: "tools/list"},
	})

See the mcp/streamable package for the streamable HTTP transport, mcp/channel
for the stdio and in-memory framings, and mcp/handler for adapting typed Go
functions into tool, prompt, and resource handlers.
*/
package mcp

// Version is the JSON-RPC wire version understood by this implementation.
const Version = "2.0"

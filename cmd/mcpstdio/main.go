// Program mcpstdio demonstrates a trivial MCP server that communicates over
// the process's stdin and stdout, exposing a single "echo" tool.
//
// Usage:
//
//	$ go run . -name myserver
//
// Queries to try (copy and paste, one per line):
//
//	{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"cli","version":"0"}}}
//	{"jsonrpc":"2.0","method":"notifications/initialized"}
//	{"jsonrpc":"2.0","id":2,"method":"tools/list"}
//	{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/channel"
	"github.com/creachadair/mcp/handler"
)

var serverName = flag.String("name", "mcpstdio", "server name reported during initialize")

func main() {
	flag.Parse()

	tools := handler.ToolSet{
		"echo": handler.Tool{
			Name:        "echo",
			Description: "Return the text argument unchanged.",
			Call: func(_ context.Context, args json.RawMessage) (any, error) {
				var p struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, mcp.Errorf(mcp.InvalidParams, "invalid arguments: %v", err)
				}
				return struct {
					Content []map[string]string `json:"content"`
				}{Content: []map[string]string{{"type": "text", "text": p.Text}}}, nil
			},
		},
	}

	stderr := log.New(os.Stderr, "[mcpstdio] ", log.LstdFlags)
	opts := &mcp.SessionOptions{
		Assigner:     tools,
		Capabilities: mcp.Capabilities{"tools": {}},
		ServerInfo:   mcp.Implementation{Name: *serverName, Version: "0.1.0"},
		Logger:       func(s string) { stderr.Print(s) },
	}

	s := mcp.NewSession(channel.Line(os.Stdin, os.Stdout), mcp.RoleServer, opts).Start()
	log.Print("server started")

	if err := s.Wait(); err != nil {
		log.Printf("session exited: %v", err)
	}
}

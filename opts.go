// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/creachadair/mcp/metrics"
)

// A Role identifies which end of a connection a Session plays. The engine
// is otherwise identical on both ends; the role selects whether ClientInfo
// or ServerInfo is advertised in the handshake and is reported in logs.
// Initialize sends the initialize request whichever the role.
type Role int

const (
	// RoleClient is the initiator of a session: it sends initialize and,
	// once the result arrives, is responsible for emitting
	// notifications/initialized.
	RoleClient Role = iota

	// RoleServer is the responder of a session: it answers initialize and
	// waits for the peer's notifications/initialized before leaving the
	// handshaking phase.
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// DefaultRequestTimeout is the default deadline applied to an outbound
// Call or Batch member when the caller does not specify one explicitly.
const DefaultRequestTimeout = 30 * time.Second

// SessionOptions control the behavior of a Session created by NewSession.
// A nil *SessionOptions provides sensible defaults.
type SessionOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// If not nil, the methods of this value are called to log each
	// request received and each response or error returned.
	RPCLog RPCLogger

	// Assigner supplies handlers for inbound requests and notifications.
	// Required for RoleServer; optional for RoleClient, which may still
	// need to answer server-initiated requests such as sampling or
	// roots/list.
	Assigner Assigner

	// Capabilities this end of the session advertises during handshake.
	Capabilities Capabilities

	// ClientInfo/ServerInfo identify this endpoint in the handshake,
	// whichever applies to Role.
	ClientInfo Implementation
	ServerInfo Implementation

	// DisableBuiltin turns off the engine's built-in handling of
	// initialize, ping, and the initialized, cancelled, progress, and
	// roots/list_changed notifications, passing those methods along to
	// Assigner instead.
	// Used by tests that want to exercise protocol-error paths directly.
	DisableBuiltin bool

	// Concurrency bounds the number of handler invocations that may run in
	// parallel. A value less than 1 uses runtime.NumCPU(). This does not
	// constrain order of issue.
	Concurrency int

	// DefaultTimeout overrides DefaultRequestTimeout for Call/Batch
	// members that do not specify their own timeout.
	DefaultTimeout time.Duration

	// If set, this function is called to create a new base context for
	// each inbound request. If unset, the session uses a background
	// context.
	NewContext func() context.Context

	// Metrics, if set, receives the counters maintained for this session.
	// If nil, a private collector is allocated.
	Metrics *metrics.Metrics
}

func (o *SessionOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *SessionOptions) rpcLog() RPCLogger {
	if o == nil || o.RPCLog == nil {
		return nullRPCLogger{}
	}
	return o.RPCLog
}

func (o *SessionOptions) assigner() Assigner {
	if o == nil || o.Assigner == nil {
		return nullAssigner{}
	}
	return o.Assigner
}

func (o *SessionOptions) capabilities() Capabilities {
	if o == nil || o.Capabilities == nil {
		return Capabilities{}
	}
	return o.Capabilities.Clone()
}

func (o *SessionOptions) clientInfo() Implementation {
	if o == nil {
		return Implementation{}
	}
	return o.ClientInfo
}

func (o *SessionOptions) serverInfo() Implementation {
	if o == nil {
		return Implementation{}
	}
	return o.ServerInfo
}

func (o *SessionOptions) allowBuiltin() bool { return o == nil || !o.DisableBuiltin }

func (o *SessionOptions) concurrency() int64 {
	if o == nil || o.Concurrency < 1 {
		return int64(runtime.NumCPU())
	}
	return int64(o.Concurrency)
}

func (o *SessionOptions) defaultTimeout() time.Duration {
	if o == nil || o.DefaultTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return o.DefaultTimeout
}

func (o *SessionOptions) newContext() func() context.Context {
	if o == nil || o.NewContext == nil {
		return context.Background
	}
	return o.NewContext
}

func (o *SessionOptions) metricsOrNew() *metrics.Metrics {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}

type nullAssigner struct{}

func (nullAssigner) Assign(context.Context, string) Handler { return nil }

// A Logger records text logs from a session. A nil logger discards log
// input.
type Logger func(text string)

// Printf writes a formatted message to the logger. If lg == nil, the
// message is discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the
// returned function sends logs to the default logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

// An RPCLogger receives callbacks from a session to record the receipt of
// requests and the delivery of responses. These callbacks are invoked
// synchronously with the processing of the request.
type RPCLogger interface {
	// LogRequest is called for each request received prior to invoking
	// its handler.
	LogRequest(ctx context.Context, req *Request)

	// LogResponse is called for each response produced by a handler,
	// immediately prior to sending it back to the peer. The inbound
	// request can be recovered from the context using
	// mcp.InboundRequest.
	LogResponse(ctx context.Context, rsp *Response)
}

type nullRPCLogger struct{}

func (nullRPCLogger) LogRequest(context.Context, *Request)   {}
func (nullRPCLogger) LogResponse(context.Context, *Response) {}

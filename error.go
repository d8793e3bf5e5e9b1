// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is the concrete type of errors returned from MCP calls. It also
// represents the JSON encoding of the JSON-RPC error object.
type Error struct {
	Code    Code            `json:"code"`              // the machine-readable error code
	Message string          `json:"message,omitempty"` // the human-readable error message
	Data    json.RawMessage `json:"data,omitempty"`    // optional ancillary error data
}

// Error returns a human-readable description of e.
func (e Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode trivially satisfies the ErrCoder interface for an *Error.
func (e Error) ErrCode() Code { return e.Code }

// WithData marshals v as JSON and constructs a copy of e whose Data field
// includes the result. If v == nil or if marshaling v fails, e is returned
// without modification.
func (e *Error) WithData(v any) *Error {
	if v == nil {
		return e
	} else if data, err := json.Marshal(v); err == nil {
		return &Error{Code: e.Code, Message: e.Message, Data: data}
	}
	return e
}

// WithReason returns a copy of e whose Data field is {"reason": reason},
// the shape used by the generic RequestFailed code.
func (e *Error) WithReason(reason string) *Error {
	return e.WithData(struct {
		Reason string `json:"reason"`
	}{Reason: reason})
}

// errSessionClosed is returned when an operation is attempted on a Session
// that has already been closed.
var errSessionClosed = errors.New("the session has been closed")

// errPeerStopped is the terminal error recorded when the session is shut
// down by an explicit call to its Close method. Wait and Close report it
// as nil.
var errPeerStopped = errors.New("the peer has been stopped")

// errEmptyMethod is the error reported for an empty request method name.
var errEmptyMethod = &Error{Code: InvalidRequest, Message: "empty method name"}

// errNoSuchMethod is the error reported for an unknown method name.
var errNoSuchMethod = &Error{Code: MethodNotFound, Message: MethodNotFound.String()}

// errDuplicateID is the error reported for a duplicated request ID.
var errDuplicateID = &Error{Code: InvalidRequest, Message: "duplicate request ID"}

// errInvalidRequest is the error reported for an invalid request object or batch.
var errInvalidRequest = &Error{Code: ParseError, Message: "invalid request value"}

// errEmptyBatch is the error reported for an empty request batch.
var errEmptyBatch = &Error{Code: InvalidRequest, Message: "empty request batch"}

// errInvalidParams is the error reported for invalid request parameters.
var errInvalidParams = &Error{Code: InvalidParams, Message: InvalidParams.String()}

// errBatchNotNegotiated is reported when a peer sends a JSON-RPC batch
// without having negotiated the "batch" feature during handshake.
var errBatchNotNegotiated = &Error{Code: InvalidRequest, Message: "batch framing was not negotiated"}

// errInitializeInBatch is reported when a batch includes "initialize",
// which must always be sent as a standalone request.
var errInitializeInBatch = &Error{Code: InvalidRequest, Message: "initialize may not appear in a batch"}

// errNotActive is reported when a request is dispatched before the session
// has completed its handshake, or after it has begun terminating.
var errNotActive = &Error{Code: InvalidRequest, Message: "session is not active"}

// errCapabilityMissing is reported when a method's governing capability
// was not advertised by the end that handles it: the peer for an outbound
// call, this session itself for an inbound request.
var errCapabilityMissing = &Error{Code: MethodNotFound, Message: "capability not negotiated"}

// ErrConnClosed is returned by a peer's send methods if they are called
// after the underlying channel is closed.
var ErrConnClosed = errors.New("peer connection is closed")

// errTaskNotExecuted is recorded for a task that reaches invocation with
// neither a handler nor an error already set.
var errTaskNotExecuted = &Error{Code: InternalError, Message: "request was never executed"}

// Errorf returns an error value of concrete type *Error having the
// specified code and formatted message string.
func Errorf(code Code, msg string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(msg, args...)}
}

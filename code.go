// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
	"errors"
	"fmt"
)

// A Code is an error code included in a JSON-RPC error object.
//
// Code values from and including -32768 to -32000 are reserved for
// predefined JSON-RPC and MCP errors. Any code within this range not
// defined explicitly below is reserved for future use. The remainder of
// the space is available for application-defined errors.
//
// See also: https://www.jsonrpc.org/specification#error_object
type Code int32

func (c Code) String() string {
	if s, ok := stdError[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// An ErrCoder is a value that can report an error code value.
type ErrCoder interface {
	ErrCode() Code
}

// A codeError wraps a Code to satisfy the standard error interface. This
// indirection prevents a Code from accidentally being used as an error
// value. It also satisfies the ErrCoder interface, allowing the code to be
// recovered.
type codeError Code

// Error satisfies the error interface using the built-in string for the
// code, if one is defined, or else a placeholder that describes the value.
func (c codeError) Error() string { return Code(c).String() }

// ErrCode trivially satisfies the ErrCoder interface.
func (c codeError) ErrCode() Code { return Code(c) }

// Is reports whether err is c or has a code equal to c.
func (c codeError) Is(err error) bool {
	v, ok := err.(ErrCoder) // including codeError
	return ok && v.ErrCode() == Code(c)
}

// Err converts c to an error value, which is nil for NoError and otherwise
// an error value whose code is c and whose text is based on the built-in
// string for c if one exists.
func (c Code) Err() error {
	if c == NoError {
		return nil
	}
	return codeError(c)
}

// Error codes defined by the JSON-RPC 2.0 specification and by the MCP
// error code table, plus a handful of implementation-specific extensions
// used to classify cancellation, deadline overruns, and generic
// host-environment failures.
const (
	ParseError       Code = -32700 // [std] invalid JSON was received
	InvalidRequest   Code = -32600 // [std] the JSON sent is not a valid request object
	MethodNotFound   Code = -32601 // [std] the method does not exist or is unavailable
	InvalidParams    Code = -32602 // [std] invalid method parameters
	InternalError    Code = -32603 // [std] internal error
	ResourceNotFound Code = -32002 // [mcp] the requested resource URI is unknown
	RequestFailed    Code = -32000 // [mcp] generic failure; Data carries {"reason": ...}

	NoError          Code = -32099 // denotes a nil error (used by ErrorCode)
	SystemError      Code = -32098 // errors from the operating environment
	Cancelled        Code = -32097 // request cancelled (context.Canceled)
	DeadlineExceeded Code = -32096 // request deadline exceeded (context.DeadlineExceeded)
)

var stdError = map[Code]string{
	ParseError:       "parse error",
	InvalidRequest:   "invalid request",
	MethodNotFound:   "method not found",
	InvalidParams:    "invalid parameters",
	InternalError:    "internal error",
	ResourceNotFound: "resource not found",
	RequestFailed:    "request failed",

	NoError:          "no error (success)",
	SystemError:      "system error",
	Cancelled:        "request cancelled",
	DeadlineExceeded: "deadline exceeded",
}

// ErrorCode returns a Code to categorize the specified error.
//
//   - If err == nil, it returns mcp.NoError.
//   - If err is (or wraps) an ErrCoder, it returns the reported code value.
//   - If err is context.Canceled, it returns mcp.Cancelled.
//   - If err is context.DeadlineExceeded, it returns mcp.DeadlineExceeded.
//   - Otherwise it returns mcp.SystemError.
func ErrorCode(err error) Code {
	if err == nil {
		return NoError
	}
	var c ErrCoder
	if errors.As(err, &c) {
		return c.ErrCode()
	} else if errors.Is(err, context.Canceled) {
		return Cancelled
	} else if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	return SystemError
}

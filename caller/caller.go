// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package caller constructs typed call wrappers for a *mcp.Session.
//
// New takes the name of a method and the request and result types, and
// returns a function with the natural signature for that method:
//
//	Add := caller.New[[]int, int]("Math.Add")
//	sum, err := Add(ctx, session, []int{1, 3, 5, 7})
//
// This avoids repeating the method name and the result type's zero value at
// every call site, the way building one by hand against Session.CallResult
// would require.
package caller

import (
	"context"

	"github.com/creachadair/mcp"
)

// New returns a function that invokes method on a session, marshaling req as
// its parameters and unmarshaling the result into a value of type Y.
func New[X, Y any](method string, opts ...mcp.CallOption) func(context.Context, *mcp.Session, X) (Y, error) {
	return func(ctx context.Context, s *mcp.Session, req X) (Y, error) {
		var result Y
		err := s.CallResult(ctx, method, req, &result, opts...)
		return result, err
	}
}

// NewNotify returns a function that sends method as a notification,
// marshaling req as its parameters.
func NewNotify[X any](method string) func(context.Context, *mcp.Session, X) error {
	return func(ctx context.Context, s *mcp.Session, req X) error {
		return s.Notify(ctx, method, req)
	}
}

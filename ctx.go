// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
)

// InboundRequest returns the inbound request associated with the context
// passed to a Handler, or nil if ctx does not have an inbound request.
// A *mcp.Session populates this value for handler contexts.
//
// This is mainly useful to wrapped handlers that do not have the request as
// an explicit parameter; for direct implementations of the Handler type the
// request value returned by InboundRequest will be the same value as was
// passed explicitly.
func InboundRequest(ctx context.Context) *Request {
	if v := ctx.Value(inboundRequestKey{}); v != nil {
		return v.(*Request)
	}
	return nil
}

type inboundRequestKey struct{}

// SessionFromContext returns the session associated with the context
// passed to a Handler by a *mcp.Session. It will panic for a non-handler
// context.
//
// It is safe to retain the session and invoke its methods beyond the
// lifetime of the context from which it was extracted; however, a handler
// must not block on the session's Wait method, as the session will
// deadlock waiting for the handler to return.
func SessionFromContext(ctx context.Context) *Session { return ctx.Value(sessionKey{}).(*Session) }

type sessionKey struct{}

// progressTokenKey carries a progress token through a context. The session
// attaches it to a handler's context when the inbound request names a
// token in params._meta.progressToken, so the handler can pass it to
// SendProgress.
type progressTokenKey struct{}

// WithProgressToken returns a copy of ctx carrying token as the active
// progress token for notifications sent during the associated call.
func WithProgressToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, progressTokenKey{}, token)
}

// ProgressTokenFromContext returns the progress token carried by ctx, and
// reports whether one was set.
func ProgressTokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(progressTokenKey{}).(string)
	return v, ok
}

// principalKey carries the transport-level authentication principal (for
// example the subject of a verified bearer token) through a request's
// context, so that handlers can make authorization decisions without the
// transport layer reaching into application state.
type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p as the authenticated
// principal for the current request.
func WithPrincipal(ctx context.Context, p string) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal carried by ctx,
// and reports whether one was set.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalKey{}).(string)
	return v, ok
}

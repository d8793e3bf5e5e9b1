// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
)

// Well-known method and notification names the engine recognizes without
// help from the configured Assigner.
const (
	methodInitialize       = "initialize"
	methodPing             = "ping"
	notifyInitialized      = "notifications/initialized"
	notifyCancelled        = "notifications/cancelled"
	notifyProgress         = "notifications/progress"
	notifyRootsListChanged = "notifications/roots/list_changed"
)

// exemptFromActiveCheck reports whether method may be dispatched before
// the session has finished its handshake. initialize and ping are always
// exempt; notifications/initialized is exempt because receiving it is
// what drives the responder side out of the handshaking phase.
func exemptFromActiveCheck(method string) bool {
	switch method {
	case methodInitialize, methodPing, notifyInitialized:
		return true
	}
	return false
}

// builtinHandler returns the engine's own handler for method, or nil if
// method is not one of the built-ins.
func (s *Session) builtinHandler(method string) Handler {
	switch method {
	case methodInitialize:
		return s.handleInitialize
	case methodPing:
		return handlePing
	case notifyInitialized:
		return s.handleInitialized
	case notifyCancelled:
		return s.handleCancelled
	case notifyProgress:
		return s.handleProgress
	case notifyRootsListChanged:
		return s.handleRootsListChanged
	}
	return nil
}

// InitializeParams is the payload of an initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the payload of a successful initialize response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// handlePing answers a ping request with an empty result, regardless of
// role; both ends of a session accept it at any phase.
func handlePing(context.Context, *Request) (any, error) { return struct{}{}, nil }

// handleInitialize is the responder-side builtin for the initialize
// request. It negotiates the protocol version, records the peer's
// identity and capabilities, and answers with this end's own. The
// session does not leave the handshaking phase until the initiator sends
// notifications/initialized.
func (s *Session) handleInitialize(ctx context.Context, req *Request) (any, error) {
	var p InitializeParams
	if err := req.UnmarshalParams(&p); err != nil {
		return nil, err
	}
	version, ok := negotiateProtocolVersion(p.ProtocolVersion)
	if !ok {
		return nil, Errorf(InvalidParams, "unsupported protocol version %q", p.ProtocolVersion)
	}

	s.mu.Lock()
	s.protocolVersion = version
	s.peerInfo = p.ClientInfo
	s.peerCapabilities = p.Capabilities.Clone()
	info := s.ownInfo
	caps := s.ownCapabilities.Clone()
	s.mu.Unlock()

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      info,
	}, nil
}

// handleInitialized answers notifications/initialized, the signal that
// the initiator has accepted this end's handshake response and is ready
// for normal traffic. This transitions the responder out of the
// handshaking phase.
func (s *Session) handleInitialized(context.Context, *Request) (any, error) {
	s.mu.Lock()
	if s.ph == phaseHandshaking {
		s.ph = phaseActive
	}
	s.mu.Unlock()
	return nil, nil
}

// cancelledParams is the payload of notifications/cancelled.
type cancelledParams struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// handleCancelled answers notifications/cancelled by unwinding the
// context of the named in-flight inbound request, if it is still
// outstanding. In-flight requests are keyed by their JSON-encoded ID, so
// the named ID is quoted before the lookup; only string request IDs are
// matched.
func (s *Session) handleCancelled(_ context.Context, req *Request) (any, error) {
	var p cancelledParams
	if err := req.UnmarshalParams(&p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cancelUsedLocked(quoteID(p.RequestID))
	s.mu.Unlock()
	return nil, nil
}

// handleProgress answers notifications/progress by invoking the callback
// registered for its token, if any request registered one.
func (s *Session) handleProgress(_ context.Context, req *Request) (any, error) {
	var p Progress
	if err := req.UnmarshalParams(&p); err != nil {
		return nil, err
	}
	s.progressMu.Lock()
	cb := s.progressCBs[p.Token]
	s.progressMu.Unlock()
	if cb != nil {
		p.isPresent = true
		cb(p)
	}
	return nil, nil
}

// rootsListChangedParams is the (empty) payload of
// notifications/roots/list_changed.
type rootsListChangedParams struct{}

// handleRootsListChanged answers notifications/roots/list_changed. The
// engine keeps no cache of the peer's roots, so this builtin only
// acknowledges the notification; while built-ins are enabled, the Assigner
// is not consulted for it.
func (s *Session) handleRootsListChanged(context.Context, *Request) (any, error) {
	return nil, nil
}

// Initialize performs the client-side (initiator) handshake: it sends an
// initialize request offering the newest protocol version this engine
// supports, records the negotiated result, and emits
// notifications/initialized once the peer has answered. It returns the
// peer's InitializeResult. Initialize must be called exactly once, after
// Start and before any other call or notification.
func (s *Session) Initialize(ctx context.Context) (*InitializeResult, error) {
	s.mu.Lock()
	info := s.ownInfo
	caps := s.ownCapabilities.Clone()
	s.mu.Unlock()

	params := InitializeParams{
		ProtocolVersion: ProtocolVersions[len(ProtocolVersions)-1],
		Capabilities:    caps,
		ClientInfo:      info,
	}
	rsp, err := s.call(ctx, methodInitialize, params, callOptions{})
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := rsp.UnmarshalResult(&result); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.protocolVersion = result.ProtocolVersion
	s.peerInfo = result.ServerInfo
	s.peerCapabilities = result.Capabilities.Clone()
	s.ph = phaseActive
	s.mu.Unlock()

	if err := s.Notify(ctx, notifyInitialized, nil); err != nil {
		return &result, err
	}
	return &result, nil
}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/creachadair/mcp/channel"
	"github.com/creachadair/mcp/metrics"
	"golang.org/x/sync/semaphore"
)

// phase tracks where a Session is in its handshake lifecycle. Until phase
// reaches active, only initialize and ping may be exchanged; once
// terminating, no further traffic is dispatched.
type phase int32

const (
	phaseHandshaking phase = iota
	phaseActive
	phaseTerminating
)

func (p phase) String() string {
	switch p {
	case phaseActive:
		return "active"
	case phaseTerminating:
		return "terminating"
	default:
		return "handshaking"
	}
}

// A Session is one negotiated bidirectional connection between two MCP
// peers. The same type implements both ends: a Session constructed with
// RoleClient initiates the handshake and calls into the peer's tools,
// prompts, and resources; one constructed with RoleServer answers the
// handshake and serves requests through its Assigner. Both roles share the
// identical request engine and dispatcher.
type Session struct {
	role Role

	wg     sync.WaitGroup       // maintenance goroutines + in-flight handler tasks
	log    func(string, ...any) // debug text log sink
	rpcLog RPCLogger
	newctx func() context.Context
	mux    Assigner
	sem    *semaphore.Weighted
	ids    idAllocator
	mtr    *metrics.Metrics

	builtin        bool
	defaultTimeout time.Duration

	mu   sync.Mutex // protects the fields below together with atomic phase transitions
	ch   channel.Channel
	err  error
	work chan struct{}
	inq  *queue
	nbar sync.WaitGroup // notification barrier, mirrors the dispatcher's ordering rule

	// used carries the cancel function for each inbound request currently
	// being handled, keyed by its ID, so that a cancellation notification
	// from the peer (or session teardown) can unwind the handler.
	used map[string]context.CancelFunc

	pending *pendingSet // outbound requests this end has issued

	progressMu  sync.Mutex
	progressCBs map[string]func(Progress)

	sessionID        string
	protocolVersion  string
	peerInfo         Implementation
	ownInfo          Implementation
	peerCapabilities Capabilities
	ownCapabilities  Capabilities
	ph               phase
	subscribed       map[string]bool
	roots            *rootSet
	logLevel         string
}

// NewSession constructs a Session bound to ch, playing the given role. The
// session does not start processing until Start is called.
func NewSession(ch channel.Channel, role Role, opts *SessionOptions) *Session {
	s := &Session{
		role:             role,
		log:              opts.logFunc(),
		rpcLog:           opts.rpcLog(),
		newctx:           opts.newContext(),
		mux:              opts.assigner(),
		sem:              semaphore.NewWeighted(opts.concurrency()),
		mtr:              opts.metricsOrNew(),
		builtin:          opts.allowBuiltin(),
		defaultTimeout:   opts.defaultTimeout(),
		ch:               ch,
		inq:              newQueue(),
		used:             make(map[string]context.CancelFunc),
		pending:          newPendingSet(),
		progressCBs:      make(map[string]func(Progress)),
		ownCapabilities:  opts.capabilities(),
		peerCapabilities: Capabilities{},
		ownInfo:          implementationForRole(role, opts),
		subscribed:       make(map[string]bool),
		roots:            newRootSet(),
	}
	return s
}

func implementationForRole(role Role, opts *SessionOptions) Implementation {
	if role == RoleServer {
		return opts.serverInfo()
	}
	return opts.clientInfo()
}

// Start begins processing frames from the session's channel. It does not
// block. Calling Start more than once panics.
func (s *Session) Start() *Session {
	s.mu.Lock()
	if s.ch == nil {
		s.mu.Unlock()
		panic("session has no channel")
	}
	if s.work != nil {
		s.mu.Unlock()
		panic("session already started")
	}
	s.work = make(chan struct{}, 1)
	s.mu.Unlock()

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.read() }()
	go func() { defer s.wg.Done(); s.serve() }()
	return s
}

// Wait blocks until the session's channel is closed or Close is called,
// and returns the terminal error, if any.
func (s *Session) Wait() error {
	s.wg.Wait()
	if s.err == io.EOF || channel.IsErrClosing(s.err) || s.err == errPeerStopped {
		return nil
	}
	return s.err
}

// Phase reports the session's current handshake phase.
func (s *Session) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ph.String()
}

// ProtocolVersion returns the negotiated protocol version, or "" before
// the handshake completes.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// PeerInfo returns the peer's self-reported implementation identity, or
// the zero value before the handshake completes.
func (s *Session) PeerInfo() Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerInfo
}

// PeerCapabilities returns a copy of the peer's negotiated capabilities.
func (s *Session) PeerCapabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerCapabilities.Clone()
}

// SessionID returns the server-assigned session identifier, which is ""
// for transports (such as stdio) that do not assign one explicitly.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID records the session identifier assigned by a transport
// (for example the streamable HTTP transport's Mcp-Session-Id header).
func (s *Session) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// Close tears the session down: it cancels all pending outbound requests
// and in-flight inbound handlers with reason "session_closing", closes the
// underlying channel, and transitions the phase to terminating. It is
// safe to call multiple times or from concurrent goroutines.
func (s *Session) Close() error {
	s.mu.Lock()
	s.ph = phaseTerminating
	s.stopLocked(errPeerStopped)
	s.mu.Unlock()

	s.pending.cancelAll("session_closing")
	s.wg.Wait()
	if s.err == io.EOF || channel.IsErrClosing(s.err) || s.err == errPeerStopped {
		return nil
	}
	return s.err
}

// stopLocked closes the channel and cancels all in-flight inbound
// handlers. The caller must hold s.mu.
func (s *Session) stopLocked(err error) {
	if s.ch == nil {
		return
	}
	s.ch.Close()
	for id, cancel := range s.used {
		cancel()
		delete(s.used, id)
	}
	if s.work != nil {
		select {
		case <-s.work:
		default:
		}
		close(s.work)
		s.work = nil
	}
	s.err = err
	s.ch = nil
}

func (s *Session) signal() {
	select {
	case s.work <- struct{}{}:
	default:
	}
}

// send marshals and transmits one or more wire messages as a single
// framed write, serializing all outbound traffic on the session's channel
// exactly as the ordering guarantees of §5 require.
func (s *Session) send(msgs jmessages) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return 0, ErrConnClosed
	}
	return encode(s.ch, msgs)
}

// Progress is the payload of a notifications/progress message delivered
// to a registered progress callback.
type Progress struct {
	Token     string  `json:"progressToken"`
	Progress  float64 `json:"progress"`
	Total     float64 `json:"total,omitempty"`
	Message   string  `json:"message,omitempty"`
	isPresent bool
}

// read is the session's inbound loop: it decodes frames from the channel
// and enqueues request/notification batches for dispatch, while routing
// response frames directly to the pending registry so that a slow
// dispatcher never blocks delivery of a reply.
func (s *Session) read() {
	for {
		s.mu.Lock()
		ch := s.ch
		s.mu.Unlock()
		if ch == nil {
			return
		}
		bits, rerr := ch.Recv()
		var in jmessages
		var perr error
		if rerr == nil || (rerr == io.EOF && len(bits) != 0) {
			rerr = nil
			perr = in.parseJSON(bits)
		}
		s.mu.Lock()
		if rerr != nil {
			s.stopLocked(rerr)
			s.mu.Unlock()
			return
		}
		if perr != nil {
			s.pushError(perr)
			s.mu.Unlock()
			continue
		}
		if len(in) == 0 {
			s.pushError(errEmptyBatch)
			s.mu.Unlock()
			continue
		}
		keep := s.filterResponsesLocked(in)
		if len(keep) != 0 {
			s.inq.push(keep)
			if s.inq.size() == 1 {
				s.signal()
			}
		}
		s.mu.Unlock()
	}
}

// filterResponsesLocked removes response/error frames from next, routing
// each to the pending registry (known ID) or dropping it with a log
// message (unknown ID). The remainder — requests and notifications — is
// returned for dispatch. The caller must hold s.mu.
func (s *Session) filterResponsesLocked(next jmessages) jmessages {
	keep := make(jmessages, 0, len(next))
	for _, msg := range next {
		if msg.isRequestOrNotification() {
			keep = append(keep, msg)
			continue
		}
		var id string
		if json.Unmarshal(msg.ID, &id) != nil {
			id = string(fixID(msg.ID))
		}
		if !s.pending.resolve(id, msg) {
			s.log("Discarding response for unknown or completed ID %q", id)
		}
	}
	return keep
}

// pushError reports a transport-level parse failure directly back to the
// peer, bypassing normal dispatch. The caller must hold s.mu.
func (s *Session) pushError(err error) {
	s.log("Invalid request: %v", err)
	var jerr *Error
	if e, ok := err.(*Error); ok {
		jerr = e
	} else {
		jerr = &Error{Code: ErrorCode(err), Message: err.Error()}
	}
	if s.ch == nil {
		return
	}
	encode(s.ch, jmessages{{ID: json.RawMessage("null"), E: jerr}})
}

// requireActive returns an error unless the session is past the handshake
// and not yet tearing down. The methods exempt from this check are those
// reported by exemptFromActiveCheck. The caller must hold s.mu.
func (s *Session) requireActive() error {
	if s.ph != phaseActive {
		return errNotActive
	}
	return nil
}

// checkCapability reports an error unless method is ungated, or its
// governing capability is present in caps.
func checkCapability(method string, caps Capabilities) error {
	feature, gated := featureOfMethod(method)
	if !gated {
		return nil
	}
	if !caps.Has(feature) {
		return errCapabilityMissing.WithData(fmt.Sprintf("method %q requires capability %q", method, feature))
	}
	return nil
}

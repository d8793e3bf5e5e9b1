// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package streamable implements the streamable HTTP transport: a single
// HTTP endpoint that accepts POSTed JSON-RPC requests and notifications,
// optionally upgrading the response to a server-sent-events stream, and a
// GET endpoint that opens a long-lived event stream a server can use to
// deliver requests and notifications it initiates itself. Sessions are
// named by an opaque Mcp-Session-Id header and may be resumed across
// reconnects using the standard SSE Last-Event-ID header.
package streamable

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/auth"
	"github.com/creachadair/mcp/channel"
)

const sessionHeader = "Mcp-Session-Id"

// wellKnownPath is the fixed location, per RFC 9728, at which a resource
// server publishes the metadata a client needs to find its authorization
// server.
const wellKnownPath = "/.well-known/oauth-protected-resource"

// NewSessionFunc constructs the *mcp.Session that will serve req's session.
// It is called for each POST of an initialize request that carries no
// session header. The Handler calls Start on the returned session, so the
// function must not start it itself. If the Handler was
// configured with WithAuth, req's context carries the verified caller's
// principal, retrievable with mcp.PrincipalFromContext.
type NewSessionFunc func(req *http.Request, t channel.Channel) *mcp.Session

// A Handler is an http.Handler that serves one or more streamable sessions,
// each backed by an independent *mcp.Session and identified by the
// Mcp-Session-Id header.
type Handler struct {
	newSession NewSessionFunc
	auth       *auth.Resource
	metadata   *auth.ProtectedResourceMetadata

	mu       sync.Mutex
	sessions map[string]*transport
}

// NewHandler constructs a Handler that creates sessions with newSession.
func NewHandler(newSession NewSessionFunc) *Handler {
	return &Handler{
		newSession: newSession,
		sessions:   make(map[string]*transport),
	}
}

// WithAuth configures h to require a verified bearer token scoped to
// resource before admitting any request, and to publish metadata at
// /.well-known/oauth-protected-resource so a client can discover which
// authorization server to obtain one from. It returns h for chaining.
func (h *Handler) WithAuth(resource *auth.Resource, metadata *auth.ProtectedResourceMetadata) *Handler {
	h.auth = resource
	h.metadata = metadata
	return h
}

// Close terminates every open session and releases the handler's state.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.sessions {
		t.terminate()
	}
	h.sessions = nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.metadata != nil && req.URL.Path == wellKnownPath {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.metadata)
		return
	}
	if h.auth != nil {
		claims, err := h.auth.Authenticate(req.Context(), req)
		if err != nil {
			h.writeUnauthorized(w)
			return
		}
		req = req.WithContext(mcp.WithPrincipal(req.Context(), claims.Subject))
	}

	accept := splitAccept(req.Header.Values("Accept"))
	if req.Method == http.MethodGet {
		if !accept["text/event-stream"] {
			writeRPCError(w, http.StatusNotAcceptable, mcp.InvalidRequest, "Accept must include text/event-stream for GET")
			return
		}
	} else if req.Method == http.MethodPost && (!accept["application/json"] || !accept["text/event-stream"]) {
		writeRPCError(w, http.StatusNotAcceptable, mcp.InvalidRequest, "Accept must include application/json and text/event-stream for POST")
		return
	}

	id := req.Header.Get(sessionHeader)
	var t *transport
	if id != "" {
		h.mu.Lock()
		t = h.sessions[id]
		h.mu.Unlock()
		if t == nil {
			writeRPCError(w, http.StatusNotFound, mcp.InvalidRequest, "unknown session")
			return
		}
	}

	switch req.Method {
	case http.MethodDelete:
		if t == nil {
			writeRPCError(w, http.StatusBadRequest, mcp.InvalidRequest, "DELETE requires "+sessionHeader)
			return
		}
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
		t.terminate()
		w.WriteHeader(http.StatusOK)
		return

	case http.MethodGet:
		if t == nil {
			writeRPCError(w, http.StatusBadRequest, mcp.InvalidRequest, "GET requires "+sessionHeader)
			return
		}
		t.serveGET(w, req)
		return

	case http.MethodPost:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeRPCError(w, http.StatusBadRequest, mcp.ParseError, "failed to read body")
			return
		}
		if t == nil {
			method, ok := requestMethod(body)
			if !ok || method != "initialize" {
				writeRPCError(w, http.StatusBadRequest, mcp.InvalidRequest, "a new session may only be created with initialize")
				return
			}
			sid := newSessionID()
			t = newTransport(sid)
			h.newSession(req, t).Start()
			h.mu.Lock()
			h.sessions[sid] = t
			h.mu.Unlock()
		}
		t.servePOST(w, req, body)
		return

	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, mcp.InvalidRequest, "unsupported method")
	}
}

// writeRPCError reports a transport-level failure as a JSON-RPC error
// object with no id, per the streamable transport's error convention, so a
// client that only inspects the body (rather than the HTTP status) can
// still recognize the failure as a JSON-RPC error.
func writeRPCError(w http.ResponseWriter, status int, code mcp.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		JSONRPC string     `json:"jsonrpc"`
		ID      any        `json:"id"`
		Error   *mcp.Error `json:"error"`
	}{
		JSONRPC: "2.0",
		Error:   &mcp.Error{Code: code, Message: message},
	})
}

// writeUnauthorized reports a missing or invalid bearer token, pointing the
// client at the well-known metadata document it needs to obtain one.
func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s"`, wellKnownPath))
	writeRPCError(w, http.StatusUnauthorized, mcp.InvalidRequest, "missing or invalid bearer token")
}

// requestMethod reports the method of body when it is a single (not
// batched) JSON-RPC request object.
func requestMethod(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '[' {
		return "", false
	}
	var probe struct {
		Method string `json:"method"`
	}
	if json.Unmarshal(trimmed, &probe) != nil || probe.Method == "" {
		return "", false
	}
	return probe.Method, true
}

func splitAccept(values []string) map[string]bool {
	out := make(map[string]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			out[strings.TrimSpace(part)] = true
		}
	}
	return out
}

func newSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}

// event is one record of the replayable per-session event log, numbered so
// a client can resume a broken stream with Last-Event-ID.
type event struct {
	seq  int64
	data []byte
}

func (e event) write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", e.seq, e.data)
	return err
}

// a waiter collects the responses to a specific set of request IDs posted
// in one HTTP request, so servePOST can return them inline instead of
// waiting for them to surface on the session-wide event log.
type waiter struct {
	want map[string]bool
	got  chan *event
}

// transport implements channel.Channel on behalf of one streamable session.
// The session engine calls Recv to receive POSTed messages and Send to
// deliver its responses, requests, and notifications; this type fans Send
// out to whichever HTTP response (a synchronous POST, or a long-lived GET
// stream) is waiting for it.
type transport struct {
	id string

	inq chan []byte // messages read from POST bodies, delivered to the session

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	log      []event
	nextSeq  int64
	waiters  map[*waiter]bool
	watchers map[chan event]bool // subscribers to new log entries (GET streams)
}

func newTransport(id string) *transport {
	return &transport{
		id:       id,
		inq:      make(chan []byte, 16),
		done:     make(chan struct{}),
		waiters:  make(map[*waiter]bool),
		watchers: make(map[chan event]bool),
	}
}

// Recv implements channel.Channel.
func (t *transport) Recv() ([]byte, error) {
	select {
	case msg, ok := <-t.inq:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// Send implements channel.Channel. It appends msg to the session's event
// log and wakes any GET stream watching the log, and if msg answers a
// request a POST handler is waiting on, delivers it there directly too.
func (t *transport) Send(msg []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("session is closed")
	}
	ev := event{seq: t.nextSeq, data: append([]byte(nil), msg...)}
	t.nextSeq++
	t.log = append(t.log, ev)

	items := []json.RawMessage{msg}
	if b := bytes.TrimSpace(msg); len(b) > 0 && b[0] == '[' {
		json.Unmarshal(b, &items)
	}
	for w := range t.waiters {
		matched := false
		for _, item := range items {
			if id, isResponse := responseID(item); isResponse && w.want[id] {
				delete(w.want, id)
				matched = true
			}
		}
		if matched {
			w.got <- &ev
			if len(w.want) == 0 {
				delete(t.waiters, w)
				close(w.got)
			}
		}
	}
	for c := range t.watchers {
		select {
		case c <- ev:
		default:
		}
	}
	t.mu.Unlock()
	return nil
}

// Close implements channel.Channel.
func (t *transport) Close() error {
	t.terminate()
	return nil
}

func (t *transport) terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.inq)
	close(t.done)
	for w := range t.waiters {
		close(w.got)
	}
	t.waiters = nil
}

// responseID reports the "id" field of msg and whether msg looks like a
// response (has a "result" or "error" member) rather than a request or
// notification.
func responseID(msg []byte) (string, bool) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if json.Unmarshal(msg, &probe) != nil || len(probe.ID) == 0 {
		return "", false
	}
	if probe.Result == nil && probe.Error == nil {
		return "", false
	}
	return string(bytes.TrimSpace(probe.ID)), true
}

// requestIDs returns the id of every request (as opposed to notification)
// addressed in body, which may be a single JSON-RPC object or a batch
// array of them.
func requestIDs(body []byte) []string {
	var raw []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if json.Unmarshal(trimmed, &raw) != nil {
			return nil
		}
	} else {
		raw = []json.RawMessage{trimmed}
	}
	var ids []string
	for _, m := range raw {
		var probe struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if json.Unmarshal(m, &probe) != nil || probe.Method == "" || len(probe.ID) == 0 {
			continue
		}
		ids = append(ids, string(bytes.TrimSpace(probe.ID)))
	}
	return ids
}

func (t *transport) servePOST(w http.ResponseWriter, req *http.Request, body []byte) {
	if req.Header.Get("Last-Event-ID") != "" {
		writeRPCError(w, http.StatusBadRequest, mcp.InvalidRequest, "Last-Event-ID is not valid on POST")
		return
	}
	if len(body) == 0 {
		writeRPCError(w, http.StatusBadRequest, mcp.InvalidRequest, "POST requires a non-empty body")
		return
	}

	ids := requestIDs(body)
	var wt *waiter
	if len(ids) > 0 {
		wt = &waiter{want: make(map[string]bool, len(ids)), got: make(chan *event, len(ids))}
		for _, id := range ids {
			wt.want[id] = true
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			writeRPCError(w, http.StatusGone, mcp.InvalidRequest, "session is closed")
			return
		}
		t.waiters[wt] = true
		t.mu.Unlock()
	}

	select {
	case t.inq <- body:
	case <-t.done:
		writeRPCError(w, http.StatusGone, mcp.InvalidRequest, "session is closed")
		return
	}

	if wt == nil {
		w.Header().Set(sessionHeader, t.id)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "{}")
		return
	}

	w.Header().Set(sessionHeader, t.id)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case ev, ok := <-wt.got:
			if !ok {
				return
			}
			if err := ev.write(w); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-t.done:
			return
		case <-req.Context().Done():
			t.mu.Lock()
			delete(t.waiters, wt)
			t.mu.Unlock()
			return
		}
	}
}

func (t *transport) serveGET(w http.ResponseWriter, req *http.Request) {
	from := int64(0)
	if eid := req.Header.Get("Last-Event-ID"); eid != "" {
		n, err := strconv.ParseInt(eid, 10, 64)
		if err != nil || n < 0 {
			writeRPCError(w, http.StatusBadRequest, mcp.InvalidRequest, fmt.Sprintf("malformed Last-Event-ID %q", eid))
			return
		}
		from = n + 1
	}

	watch := make(chan event, 16)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		writeRPCError(w, http.StatusGone, mcp.InvalidRequest, "session is closed")
		return
	}
	backlog := make([]event, 0, len(t.log))
	for _, ev := range t.log {
		if ev.seq >= from {
			backlog = append(backlog, ev)
		}
	}
	t.watchers[watch] = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.watchers, watch)
		t.mu.Unlock()
	}()

	w.Header().Set(sessionHeader, t.id)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for _, ev := range backlog {
		if err := ev.write(w); err != nil {
			return
		}
	}
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case ev := <-watch:
			if err := ev.write(w); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-t.done:
			return
		case <-req.Context().Done():
			return
		}
	}
}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// A Spec combines a method name and parameter value as part of a Batch. If
// Notify is true, the member is sent as a notification and is omitted from
// the returned responses.
type Spec struct {
	Method string
	Params any
	Notify bool
}

// callOptions controls the outbound request state machine for a single
// Call. The zero value applies the session's default timeout and no
// progress tracking.
type callOptions struct {
	timeout  time.Duration
	progress func(Progress)
	token    string
}

// CallOption adjusts the behavior of Call.
type CallOption func(*callOptions)

// WithTimeout overrides the session's default timeout for one Call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithProgress registers cb to receive notifications/progress updates
// correlated with the call by a freshly allocated progress token. The token
// is sent to the peer as params._meta.progressToken, so the call's
// parameters must be nil or encode as a JSON object.
func WithProgress(cb func(Progress)) CallOption {
	return func(o *callOptions) { o.progress = cb }
}

// Call issues method as a request and blocks for the peer's reply or until
// ctx ends. A *mcp.Error reply from the peer is returned as the error
// value with concrete type *mcp.Error.
func (s *Session) Call(ctx context.Context, method string, params any, opts ...CallOption) (*Response, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.call(ctx, method, params, o)
}

// CallResult invokes Call and decodes a successful result into result.
func (s *Session) CallResult(ctx context.Context, method string, params, result any, opts ...CallOption) error {
	rsp, err := s.Call(ctx, method, params, opts...)
	if err != nil {
		return err
	}
	return rsp.UnmarshalResult(result)
}

func (s *Session) call(ctx context.Context, method string, params any, o callOptions) (*Response, error) {
	bits, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	if err := checkCapability(method, s.PeerCapabilities()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.ids.nextRequestID()
	s.mu.Unlock()

	if o.progress != nil {
		o.token = s.ids.nextProgressToken()
		var obj map[string]json.RawMessage
		if len(bits) != 0 && json.Unmarshal(bits, &obj) != nil {
			return nil, Errorf(InvalidParams, "progress tracking requires object parameters")
		}
		if obj == nil {
			obj = make(map[string]json.RawMessage)
		}
		var meta map[string]json.RawMessage
		if json.Unmarshal(obj["_meta"], &meta) != nil || meta == nil {
			meta = make(map[string]json.RawMessage)
		}
		meta["progressToken"], _ = json.Marshal(o.token)
		obj["_meta"], _ = json.Marshal(meta)
		bits, _ = json.Marshal(obj)
		s.progressMu.Lock()
		s.progressCBs[o.token] = o.progress
		s.progressMu.Unlock()
		defer func() {
			s.progressMu.Lock()
			delete(s.progressCBs, o.token)
			s.progressMu.Unlock()
		}()
		ctx = WithProgressToken(ctx, o.token)
	}

	timeout := o.timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	var deadline time.Time
	cctx := ctx
	var cancelTimer context.CancelFunc
	if timeout > 0 {
		cctx, cancelTimer = context.WithTimeout(ctx, timeout)
		defer cancelTimer()
		deadline = time.Now().Add(timeout)
	}

	rsp := &Response{id: id, ch: make(chan *jmessage, 1)}
	pr, pctx := s.pending.add(cctx, id, method, "", o.token, deadline, rsp)
	rsp.cancel = pr.cancel

	msg := &jmessage{ID: json.RawMessage(quoteID(id)), M: method, P: bits}
	if _, err := s.send(jmessages{msg}); err != nil {
		s.pending.cancel(id, "send failed")
		return nil, err
	}

	go s.awaitPendingDeadline(pctx, id)

	rsp.wait()
	if e := rsp.Error(); e != nil {
		return nil, filterError(e)
	}
	return rsp, nil
}

// awaitPendingDeadline watches pctx, the context governing one pending
// request, and resolves the entry with a timeout once it ends, unless the
// peer's reply (or an explicit cancel) has already removed it. Either way,
// once it owns the resolution it notifies the peer with
// notifications/cancelled, exactly as Cancel does, so the peer can unwind
// the handler it is still running for this request.
func (s *Session) awaitPendingDeadline(pctx context.Context, id string) {
	<-pctx.Done()
	var reason string
	var ok bool
	if pctx.Err() == context.DeadlineExceeded {
		reason = "timeout"
		ok = s.pending.timeout(id)
	} else {
		reason = "context cancelled"
		ok = s.pending.cancel(id, reason)
	}
	if ok {
		s.Notify(context.Background(), notifyCancelled, cancelledParams{RequestID: id, Reason: reason})
	}
}

// Notify transmits a notification, which the peer never acknowledges with
// a reply. It blocks only until the notification has been written to the
// channel.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if err := checkCapability(method, s.PeerCapabilities()); err != nil {
		return err
	}
	bits, err := marshalParams(params)
	if err != nil {
		return err
	}
	msg := &jmessage{M: method, P: bits}
	_, err = s.send(jmessages{msg})
	return err
}

// Batch issues a set of requests and notifications concurrently as a
// single JSON-RPC batch, honoring the constraint that a batch may only be
// sent once the peer has negotiated the "batch" feature. It blocks until
// every call member has a reply, ctx ends, or the session's default timeout
// elapses; responses are returned in the same order as specs, omitting
// notifications.
func (s *Session) Batch(ctx context.Context, specs []Spec) ([]*Response, error) {
	if len(specs) == 0 {
		return nil, errEmptyBatch
	}
	if len(specs) > 1 && !supportsBatch(s.ProtocolVersion()) {
		return nil, errBatchNotNegotiated
	}
	for _, spec := range specs {
		if spec.Method == "initialize" {
			return nil, errInitializeInBatch
		}
	}

	var deadline time.Time
	if s.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.defaultTimeout)
		defer cancel()
		deadline = time.Now().Add(s.defaultTimeout)
	}

	batchID := s.ids.nextRequestID()
	msgs := make(jmessages, len(specs))
	var pends []*Response
	var pctxs []context.Context

	for i, spec := range specs {
		bits, err := marshalParams(spec.Params)
		if err != nil {
			return nil, err
		}
		if spec.Notify {
			msgs[i] = &jmessage{M: spec.Method, P: bits, batch: true}
			continue
		}
		s.mu.Lock()
		id := s.ids.nextRequestID()
		s.mu.Unlock()
		msgs[i] = &jmessage{ID: json.RawMessage(quoteID(id)), M: spec.Method, P: bits, batch: true}

		rsp := &Response{id: id, ch: make(chan *jmessage, 1)}
		pr, pctx := s.pending.add(ctx, id, spec.Method, batchID, "", deadline, rsp)
		rsp.cancel = pr.cancel
		pends = append(pends, rsp)
		pctxs = append(pctxs, pctx)
	}

	if _, err := s.send(msgs); err != nil {
		for _, rsp := range pends {
			s.pending.cancel(rsp.ID(), "send failed")
		}
		return nil, err
	}
	for i, pctx := range pctxs {
		go s.awaitPendingDeadline(pctx, pends[i].ID())
	}
	for _, rsp := range pends {
		rsp.wait()
	}
	return pends, nil
}

// Cancel requests cancellation of the outbound request identified by id,
// resolving it locally with a Cancelled error and notifying the peer with
// notifications/cancelled so it may unwind the corresponding handler. It
// reports whether id was still pending.
func (s *Session) Cancel(ctx context.Context, id, reason string) bool {
	ok := s.pending.cancel(id, reason)
	if ok {
		s.Notify(ctx, notifyCancelled, cancelledParams{RequestID: id, Reason: reason})
	}
	return ok
}

// CancelAll cancels every outbound request still pending, used during
// teardown.
func (s *Session) CancelAll(reason string) { s.pending.cancelAll(reason) }

// Pending returns a snapshot of the session's currently outstanding
// outbound requests.
func (s *Session) Pending() []PendingRequest { return s.pending.list() }

// SendProgress emits a notifications/progress update correlated with
// token, the value returned by ProgressTokenFromContext for the call
// currently being served.
func (s *Session) SendProgress(ctx context.Context, token string, progress, total float64, message string) error {
	return s.Notify(ctx, notifyProgress, Progress{
		Token:    token,
		Progress: progress,
		Total:    total,
		Message:  message,
	})
}

// marshalParams encodes params as JSON, returning nil for a nil value.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	bits, err := json.Marshal(params)
	if err != nil {
		return nil, Errorf(InvalidParams, "marshaling parameters: %v", err)
	}
	return bits, nil
}

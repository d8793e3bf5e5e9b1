// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// serve is the session's dispatch loop: it pulls decoded batches off the
// inbound queue and spawns a goroutine to run each one to completion. The
// request handlers of one batch never keep the next batch from being
// dequeued; its notification handlers do, through the barrier in dispatch.
func (s *Session) serve() {
	for {
		next, err := s.nextBatch()
		if err != nil {
			s.log("Session %s read loop ending: %v", s.role, err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			next()
		}()
	}
}

// nextBatch blocks until a decoded batch is available and returns a
// function that dispatches it. The result is an error only if the session
// is shutting down; per-message errors are reported to the peer directly
// and never returned here.
func (s *Session) nextBatch() (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.ch != nil && s.inq.isEmpty() {
		s.mu.Unlock()
		<-s.work
		s.mu.Lock()
	}
	if s.ch == nil && s.inq.isEmpty() {
		return nil, s.err
	}
	next := s.inq.pop()
	s.log("Dequeued batch of %d message(s) (qlen=%d)", len(next), s.inq.size())
	return s.dispatch(next), nil
}

// waitForBarrier blocks until all notification handlers issued so far have
// completed, then reserves n more slots in the barrier. The caller must
// hold s.mu; the lock is released during the wait to avoid deadlocking
// against a handler that calls back into the session.
func (s *Session) waitForBarrier(n int) {
	s.mu.Unlock()
	defer s.mu.Lock()
	s.nbar.Wait()
	s.nbar.Add(n)
}

// A task represents one member of a decoded batch working its way through
// assignment and invocation.
type task struct {
	m Handler

	ctx   context.Context
	hreq  *Request
	batch bool

	val json.RawMessage
	err error
}

type tasks []*task

// numToDo reports how many tasks still need to run, and how many of those
// are notifications (for the barrier).
func (ts tasks) numToDo() (todo, notes int) {
	for _, t := range ts {
		if t.err == nil {
			todo++
			if t.hreq.IsNotification() {
				notes++
			}
		}
	}
	return
}

// responses assembles the reply batch for ts, omitting members without an
// ID (notifications) unless they failed with a parse or invalid-request
// error, which is answered with a null ID.
func (ts tasks) responses(rpcLog RPCLogger) jmessages {
	var rsps jmessages
	for _, t := range ts {
		if t.hreq.id == nil {
			if c := ErrorCode(t.err); c != ParseError && c != InvalidRequest {
				continue
			}
		}
		rsp := &jmessage{ID: json.RawMessage(t.hreq.id), batch: t.batch}
		if rsp.ID == nil {
			rsp.ID = json.RawMessage("null")
		}
		if t.m == nil && t.err == nil {
			t.err = errTaskNotExecuted
		}
		if t.err == nil {
			rsp.R = t.val
		} else if e, ok := t.err.(*Error); ok {
			rsp.E = e
		} else if c := ErrorCode(t.err); c != NoError && c != SystemError {
			rsp.E = &Error{Code: c, Message: t.err.Error()}
		} else {
			rsp.E = &Error{Code: InternalError, Message: t.err.Error()}
		}
		rpcLog.LogResponse(t.ctx, &Response{id: string(rsp.ID), err: rsp.E, result: rsp.R})
		rsps = append(rsps, rsp)
	}
	return rsps
}

// dispatch constructs the function that runs one decoded batch to
// completion. The caller must hold s.mu; the returned function must run
// outside the lock.
//
// Per the ordering guarantee, dispatch blocks until every notification
// handler issued by a prior batch has returned before it checks and assigns
// any member of this one, so a request that follows
// notifications/initialized sees the phase that notification set. The
// members of this batch then run concurrently with each other.
func (s *Session) dispatch(next jmessages) func() error {
	start := time.Now()
	s.waitForBarrier(0)
	ts := s.checkAndAssign(next)

	todo, notes := ts.numToDo()
	s.nbar.Add(notes)

	return func() error {
		var wg sync.WaitGroup
		for _, t := range ts {
			if t.err != nil {
				continue
			}
			todo--
			if todo == 0 {
				s.runTask(t)
				break
			}
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runTask(t)
			}()
		}
		wg.Wait()
		return s.deliver(ts.responses(s.rpcLog), time.Since(start))
	}
}

func (s *Session) runTask(t *task) {
	t.val, t.err = s.invoke(t.ctx, t.m, t.hreq)
	if t.hreq.IsNotification() {
		s.nbar.Done()
	}
}

// deliver sends the accumulated responses for a batch back to the peer,
// releasing the cancellation function reserved for each request it
// answers, whether the answer is a result or an error.
func (s *Session) deliver(rsps jmessages, elapsed time.Duration) error {
	if len(rsps) == 0 {
		return nil
	}
	s.log("Completed %d response(s) [%v elapsed]", len(rsps), elapsed)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rsp := range rsps {
		if rsp.err == nil {
			s.cancelUsedLocked(string(rsp.ID))
		}
	}
	s.mtr.Count("rpc.responses_sent", int64(len(rsps)))
	if s.ch == nil {
		return ErrConnClosed
	}
	_, err := encode(s.ch, rsps)
	return err
}

// checkAndAssign resolves handlers for every member of next, or records a
// deferred error for members that fail validation, are duplicated within
// the batch, arrive as a batch when batching was never negotiated, or name
// a method gated by a capability this session never advertised to the
// peer. The caller must hold s.mu.
func (s *Session) checkAndAssign(next jmessages) tasks {
	var ts tasks
	var ids []string
	dup := make(map[string]*task)

	batchRejected := len(next) > 1 && !supportsBatch(s.protocolVersion)

	for _, msg := range next {
		fid := fixID(msg.ID)
		t := &task{hreq: &Request{id: fid, method: msg.M, params: msg.P}, batch: msg.batch}
		if msg.err != nil {
			t.err = msg.err
		} else if batchRejected {
			t.err = errBatchNotNegotiated
		}
		id := string(fid)
		if old := dup[id]; old != nil {
			old.err = errDuplicateID.WithData(id)
			t.err = old.err
		} else if id != "" && s.used[id] != nil {
			t.err = errDuplicateID.WithData(id)
		} else if id != "" {
			dup[id] = t
		}
		ts = append(ts, t)
		ids = append(ids, id)
	}

	for i, t := range ts {
		id := ids[i]
		if t.err != nil {
			// deferred error from validation above
		} else if t.hreq.method == "" {
			t.err = errEmptyMethod
		} else if err := s.requireActive(); err != nil && !exemptFromActiveCheck(t.hreq.method) {
			t.err = err
		} else {
			s.setContextLocked(t, id)
			t.m = s.assignLocked(t.ctx, t.hreq.method)
			if t.m == nil {
				t.err = errNoSuchMethod.WithData(t.hreq.method)
			} else if err := checkCapability(t.hreq.method, s.ownCapabilities); err != nil {
				t.err = err
			}
		}
		if t.err != nil {
			s.log("Request check error for %q: %v", t.hreq.method, t.err)
			s.mtr.Count("rpc.errors", 1)
		}
	}
	return ts
}

// setContextLocked attaches a request context to t, reserving a
// cancellation function for requests (not notifications) so a later
// cancellation notification can unwind the handler, and carrying the
// progress token named by the request's params._meta, if any. The caller
// must hold s.mu.
func (s *Session) setContextLocked(t *task, id string) {
	t.ctx = context.WithValue(s.newctx(), inboundRequestKey{}, t.hreq)
	var meta struct {
		Meta struct {
			ProgressToken string `json:"progressToken"`
		} `json:"_meta"`
	}
	if json.Unmarshal(t.hreq.params, &meta) == nil && meta.Meta.ProgressToken != "" {
		t.ctx = WithProgressToken(t.ctx, meta.Meta.ProgressToken)
	}
	if id != "" {
		ctx, cancel := context.WithCancel(t.ctx)
		s.used[id] = cancel
		t.ctx = ctx
	}
}

// invoke runs handler h for req, bounded by the session's concurrency
// semaphore, and marshals its result.
func (s *Session) invoke(base context.Context, h Handler, req *Request) (json.RawMessage, error) {
	ctx := context.WithValue(base, sessionKey{}, s)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	s.rpcLog.LogRequest(ctx, req)
	v, err := h(ctx, req)
	if err != nil {
		if req.IsNotification() {
			s.log("Discarding error from notification %q: %v", req.Method(), err)
			return nil, nil
		}
		return nil, err
	}
	if v == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}

// assignLocked resolves the handler for method, consulting the engine's
// built-in methods before falling back to the configured Assigner. The
// caller must hold s.mu.
func (s *Session) assignLocked(ctx context.Context, method string) Handler {
	if s.builtin {
		if h := s.builtinHandler(method); h != nil {
			return h
		}
	}
	return s.mux.Assign(ctx, method)
}

// cancelUsedLocked releases and removes the cancellation function
// reserved for id, if any is still outstanding, reporting whether one was
// found. The caller must hold s.mu.
func (s *Session) cancelUsedLocked(id string) bool {
	cancel, ok := s.used[id]
	if ok {
		cancel()
		delete(s.used, id)
	}
	return ok
}

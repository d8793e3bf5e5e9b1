// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"context"
	"sync"
	"time"
)

// A PendingRequest records the bookkeeping the engine keeps for one
// outbound request that has been written to the wire and is awaiting a
// reply. It is owned exclusively by the pendingSet that created it, and is
// destroyed the instant its continuation is resolved, cancelled, or timed
// out.
type PendingRequest struct {
	ID            string
	Method        string
	StartedAt     time.Time
	Deadline      time.Time // zero if no explicit deadline was set
	BatchID       string    // shared among all members of one Batch call, else ""
	ProgressToken string    // "" unless a progress callback was registered

	resp   *Response
	cancel context.CancelFunc
}

// pendingSet is the concurrent registry of in-flight outbound requests for
// one session, keyed by request ID. All of its operations are safe for
// concurrent use; resolve/timeout/cancel are each idempotent per ID so that
// a race between the timer, the peer's reply, and a caller-initiated
// cancel resolves the request exactly once.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]*PendingRequest
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[string]*PendingRequest)}
}

// add registers a new pending entry for id, arming ctx as the governing
// deadline/cancellation context for the caller's wait. The caller supplies
// the already-allocated *Response so the registry and the caller's waiter
// share the same completion channel.
func (p *pendingSet) add(ctx context.Context, id, method, batchID, progressToken string, deadline time.Time, resp *Response) (*PendingRequest, context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	pr := &PendingRequest{
		ID:            id,
		Method:        method,
		StartedAt:     time.Now(),
		Deadline:      deadline,
		BatchID:       batchID,
		ProgressToken: progressToken,
		resp:          resp,
		cancel:        cancel,
	}
	p.mu.Lock()
	p.entries[id] = pr
	p.mu.Unlock()
	return pr, pctx
}

// get returns the pending entry for id, or nil if none is registered.
func (p *pendingSet) get(id string) *PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[id]
}

// resolve removes the entry for id and delivers msg to its continuation.
// It is a no-op if id is not (or is no longer) pending, so a late delivery
// racing a timeout or cancel is silently dropped.
func (p *pendingSet) resolve(id string, msg *jmessage) bool {
	p.mu.Lock()
	pr, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	pr.resp.ch <- msg
	return true
}

// timeout removes the entry for id, if still present, and delivers a
// request_timeout error to its continuation. It reports whether an entry
// was present.
func (p *pendingSet) timeout(id string) bool {
	p.mu.Lock()
	pr, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	pr.resp.ch <- &jmessage{ID: []byte(quoteID(id)), E: Errorf(DeadlineExceeded, "request timed out")}
	return true
}

// cancel removes the entry for id, if still present, and delivers a
// request_cancelled error carrying reason to its continuation. It reports
// whether an entry was present.
func (p *pendingSet) cancel(id, reason string) bool {
	p.mu.Lock()
	pr, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	pr.resp.ch <- &jmessage{
		ID: []byte(quoteID(id)),
		E:  Errorf(Cancelled, "request cancelled: %s", reason),
	}
	return true
}

// cancelAll takes an atomic snapshot of the registry and cancels every
// entry with the given reason, used at session teardown.
func (p *pendingSet) cancelAll(reason string) {
	p.mu.Lock()
	snap := make([]*PendingRequest, 0, len(p.entries))
	for _, pr := range p.entries {
		snap = append(snap, pr)
	}
	p.entries = make(map[string]*PendingRequest)
	p.mu.Unlock()

	for _, pr := range snap {
		pr.resp.ch <- &jmessage{
			ID: []byte(quoteID(pr.ID)),
			E:  Errorf(Cancelled, "request cancelled: %s", reason),
		}
	}
}

// list returns a read-only snapshot of the currently pending requests.
func (p *pendingSet) list() []PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingRequest, 0, len(p.entries))
	for _, pr := range p.entries {
		out = append(out, *pr)
	}
	return out
}

// size reports the number of pending entries, mainly for teardown
// postcondition checks.
func (p *pendingSet) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func quoteID(id string) string { return `"` + id + `"` }

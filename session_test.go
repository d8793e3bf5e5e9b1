// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/handler"
	"github.com/creachadair/mcp/server"
	"github.com/fortytw2/leaktest"
)

func newPair(t *testing.T, assigner mcp.Assigner) (*mcp.Session, func()) {
	t.Helper()
	// "tools" is a capability the server advertises about itself; the
	// client never needs to declare it, since gating a tools/call request
	// checks whoever is going to handle it (the server), not the caller.
	cli, wait := server.Local(assigner, &server.LocalOptions{
		ServerOptions: &mcp.SessionOptions{Capabilities: mcp.Capabilities{"tools": {}}},
	})
	ctx := context.Background()
	if _, err := cli.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return cli, func() {
		cli.Close()
		if err := wait(); err != nil && err != mcp.ErrConnClosed {
			t.Logf("session exit: %v", err)
		}
	}
}

func TestHandshake(t *testing.T) {
	defer leaktest.Check(t)()

	cli, stop := newPair(t, handler.Map{})
	defer stop()

	if got := cli.ProtocolVersion(); got == "" {
		t.Error("ProtocolVersion is empty after handshake")
	}
}

func TestCallRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	assigner := handler.Map{
		"Add": handler.New(func(_ context.Context, vs []int) (int, error) {
			sum := 0
			for _, v := range vs {
				sum += v
			}
			return sum, nil
		}),
	}
	cli, stop := newPair(t, assigner)
	defer stop()

	var sum int
	if err := cli.CallResult(context.Background(), "Add", []int{1, 2, 3}, &sum); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if sum != 6 {
		t.Errorf("Add: got %d, want 6", sum)
	}
}

func TestCallError(t *testing.T) {
	defer leaktest.Check(t)()

	assigner := handler.Map{
		"Fail": handler.New(func(context.Context) error {
			return errors.New("boom")
		}),
	}
	cli, stop := newPair(t, assigner)
	defer stop()

	err := cli.CallResult(context.Background(), "Fail", nil, new(int))
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var jerr *mcp.Error
	if !errors.As(err, &jerr) {
		t.Fatalf("error is not *mcp.Error: %v", err)
	}
}

func TestNotify(t *testing.T) {
	defer leaktest.Check(t)()

	done := make(chan struct{})
	assigner := handler.Map{
		"Ping": handler.New(func(context.Context) error {
			close(done)
			return nil
		}),
	}
	cli, stop := newPair(t, assigner)
	defer stop()

	if err := cli.Notify(context.Background(), "Ping", nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler never ran")
	}
}

func TestBatch(t *testing.T) {
	defer leaktest.Check(t)()

	assigner := handler.Map{
		"Double": handler.New(func(_ context.Context, p struct {
			N int `json:"n"`
		}) (int, error) {
			return p.N * 2, nil
		}),
	}
	cli, stop := newPair(t, assigner)
	defer stop()

	rsps, err := cli.Batch(context.Background(), []mcp.Spec{
		{Method: "Double", Params: map[string]int{"n": 3}},
		{Method: "Double", Params: map[string]int{"n": 4}},
	})
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if len(rsps) != 2 {
		t.Fatalf("Batch: got %d responses, want 2", len(rsps))
	}
	var a, b int
	if err := rsps[0].UnmarshalResult(&a); err != nil {
		t.Fatalf("unmarshal[0]: %v", err)
	}
	if err := rsps[1].UnmarshalResult(&b); err != nil {
		t.Fatalf("unmarshal[1]: %v", err)
	}
	if a != 6 || b != 8 {
		t.Errorf("Batch results: got (%d, %d), want (6, 8)", a, b)
	}
}

func TestCallTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	block := make(chan struct{})
	assigner := handler.Map{
		"Block": handler.New(func(ctx context.Context) error {
			<-block
			return ctx.Err()
		}),
	}
	cli, stop := newPair(t, assigner)
	defer func() {
		close(block)
		stop()
	}()

	_, err := cli.Call(context.Background(), "Block", nil, mcp.WithTimeout(50*time.Millisecond))
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
}

func TestCapabilityGating(t *testing.T) {
	defer leaktest.Check(t)()

	// Neither end declares the "tools" capability, so tools/call must be
	// rejected without ever reaching the assigner.
	called := false
	assigner := handler.Map{
		"tools/call": handler.New(func(context.Context) error {
			called = true
			return nil
		}),
	}
	cli, wait := server.Local(assigner, nil)
	ctx := context.Background()
	if _, err := cli.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() {
		cli.Close()
		wait()
	}()

	_, err := cli.Call(ctx, "tools/call", nil)
	if err == nil {
		t.Fatal("expected a capability error, got nil")
	}
	if called {
		t.Error("handler ran despite missing capability")
	}
}

func TestBatchRejectedBeforeNegotiation(t *testing.T) {
	defer leaktest.Check(t)()

	// A session that has not completed (or skipped) the initialize
	// handshake has no negotiated protocol version, and batch framing is
	// gated on that negotiation having happened.
	assigner := handler.Map{
		"Noop": handler.New(func(context.Context) error { return nil }),
	}
	cli, wait := server.Local(assigner, nil)
	defer func() {
		cli.Close()
		wait()
	}()

	_, err := cli.Batch(context.Background(), []mcp.Spec{
		{Method: "Noop", Notify: true},
		{Method: "Noop", Notify: true},
	})
	if err == nil {
		t.Fatal("expected a batch-not-negotiated error, got nil")
	}
}

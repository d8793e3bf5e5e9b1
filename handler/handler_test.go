// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/handler"
	"github.com/google/go-cmp/cmp"
)

func y1(context.Context) (int, error) { return 0, nil }

func y2(_ context.Context, vs []int) (int, error) { return len(vs), nil }

func y3(context.Context) error { return errors.New("blah") }

type argStruct struct {
	A string `json:"alpha"`
	B int    `json:"bravo"`
}

func TestCheck(t *testing.T) {
	tests := []struct {
		v   any
		bad bool
	}{
		{v: nil, bad: true},
		{v: "not a function", bad: true},
		{v: y1},
		{v: y2},
		{v: y3},
		{v: func(context.Context, int, int) error { return nil }, bad: true}, // too many args
		{v: func(int) error { return nil }, bad: true},                      // missing context
		{v: func(context.Context, ...int) error { return nil }, bad: true},  // variadic
		{v: func(context.Context) (int, int) { return 0, 0 }, bad: true},    // wrong second result
		{v: func(context.Context) {}, bad: true},                           // no results
	}
	for _, test := range tests {
		_, err := handler.Check(test.v)
		if test.bad && err == nil {
			t.Errorf("Check(%T): got nil error, want non-nil", test.v)
		} else if !test.bad && err != nil {
			t.Errorf("Check(%T): unexpected error: %v", test.v, err)
		}
	}
}

func TestNew_params(t *testing.T) {
	h := handler.New(func(_ context.Context, arg argStruct) (string, error) {
		return arg.A, nil
	})
	req := requestWithParams(t, "m", `{"alpha":"hi","bravo":9}`)
	v, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if v != "hi" {
		t.Errorf("got %v, want %q", v, "hi")
	}
}

func TestNew_noParams(t *testing.T) {
	h := handler.New(y1)
	req := requestWithParams(t, "m", "")
	if _, err := h(context.Background(), req); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	reqWithArgs := requestWithParams(t, "m", `{"x":1}`)
	if _, err := h(context.Background(), reqWithArgs); err == nil {
		t.Error("expected error for unwanted parameters, got nil")
	}
}

func TestPositional(t *testing.T) {
	add := func(_ context.Context, x, y int) int { return x + y }
	h := handler.NewPos(add, "x", "y")

	array := requestWithParams(t, "add", `[3, 4]`)
	v, err := h(context.Background(), array)
	if err != nil {
		t.Fatalf("array form: %v", err)
	}
	if v != 7 {
		t.Errorf("array form: got %v, want 7", v)
	}

	object := requestWithParams(t, "add", `{"x":10,"y":5}`)
	v, err = h(context.Background(), object)
	if err != nil {
		t.Fatalf("object form: %v", err)
	}
	if v != 15 {
		t.Errorf("object form: got %v, want 15", v)
	}
}

func TestMap(t *testing.T) {
	m := handler.Map{
		"Add": handler.New(func(_ context.Context, vs []int) int {
			sum := 0
			for _, v := range vs {
				sum += v
			}
			return sum
		}),
	}
	if diff := cmp.Diff([]string{"Add"}, m.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
	if m.Assign(context.Background(), "Missing") != nil {
		t.Error("Assign(Missing): got non-nil handler")
	}
}

func TestToolSet(t *testing.T) {
	ts := handler.ToolSet{
		"echo": handler.Tool{
			Name: "echo",
			Call: func(_ context.Context, args json.RawMessage) (any, error) {
				return string(args), nil
			},
		},
	}
	list := ts.Assign(context.Background(), "tools/list")
	if list == nil {
		t.Fatal("tools/list: no handler")
	}
	call := ts.Assign(context.Background(), "tools/call")
	if call == nil {
		t.Fatal("tools/call: no handler")
	}
	req := requestWithParams(t, "tools/call", `{"name":"echo","arguments":{"k":1}}`)
	v, err := call(context.Background(), req)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if v != `{"k":1}` {
		t.Errorf("got %v, want %s", v, `{"k":1}`)
	}

	missing := requestWithParams(t, "tools/call", `{"name":"nope"}`)
	if _, err := call(context.Background(), missing); err == nil {
		t.Error("expected error for unknown tool, got nil")
	}
}

// requestWithParams constructs a *mcp.Request via the wire decoder, since
// mcp.Request has no exported fields to set directly.
func requestWithParams(t *testing.T, method, params string) *mcp.Request {
	t.Helper()
	msg := `{"jsonrpc":"2.0","id":1,"method":"` + method + `"`
	if params != "" {
		msg += `,"params":` + params
	}
	msg += `}`
	parsed, err := mcp.ParseRequests([]byte(msg))
	if err != nil {
		t.Fatalf("ParseRequests: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Error != nil {
		t.Fatalf("ParseRequests: unexpected result %+v", parsed)
	}
	return parsed[0].ToRequest()
}

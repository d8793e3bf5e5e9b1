// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package caller_test

import (
	"context"
	"testing"

	"github.com/creachadair/mcp"
	"github.com/creachadair/mcp/caller"
	"github.com/creachadair/mcp/handler"
	"github.com/creachadair/mcp/server"
)

func TestNew(t *testing.T) {
	assigner := handler.Map{
		"Sum": handler.New(func(_ context.Context, vs []int) (int, error) {
			total := 0
			for _, v := range vs {
				total += v
			}
			return total, nil
		}),
	}
	cli, wait := server.Local(assigner, &server.LocalOptions{
		ServerOptions: &mcp.SessionOptions{DisableBuiltin: false},
	})
	defer func() {
		cli.Close()
		wait()
	}()

	ctx := context.Background()
	if _, err := cli.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Sum := caller.New[[]int, int]("Sum")
	got, err := Sum(ctx, cli, []int{1, 3, 5, 7})
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if got != 16 {
		t.Errorf("Sum: got %d, want 16", got)
	}
}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/creachadair/mcp/auth"
)

func verifier(claims auth.Claims, err error) auth.VerifierFunc {
	return func(context.Context, string) (auth.Claims, error) { return claims, err }
}

func request(t *testing.T, bearer string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestAuthenticate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		bearer  string
		claims  auth.Claims
		verErr  error
		want    string
		wantErr error
	}{
		{
			name:    "missing token",
			wantErr: auth.ErrMissingToken,
		},
		{
			name:    "verifier rejects",
			bearer:  "bad",
			verErr:  auth.ErrInvalidToken,
			wantErr: auth.ErrInvalidToken,
		},
		{
			name:    "expired",
			bearer:  "tok",
			claims:  auth.Claims{Subject: "alice", Expiry: now.Add(-time.Minute)},
			wantErr: auth.ErrExpiredToken,
		},
		{
			name:    "wrong audience",
			bearer:  "tok",
			claims:  auth.Claims{Subject: "alice", Audience: []string{"other"}},
			wantErr: auth.ErrWrongAudience,
		},
		{
			name:    "missing scope",
			bearer:  "tok",
			claims:  auth.Claims{Subject: "alice", Audience: []string{"res"}},
			wantErr: auth.ErrMissingScope,
		},
		{
			name:   "ok",
			bearer: "tok",
			claims: auth.Claims{Subject: "alice", Audience: []string{"res"}, Scopes: []string{"mcp.tools"}},
			want:   "alice",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := &auth.Resource{
				Audience:     "res",
				Verifier:     verifier(test.claims, test.verErr),
				RequireScope: "mcp.tools",
				Now:          func() time.Time { return now },
			}
			claims, err := r.Authenticate(context.Background(), request(t, test.bearer))
			if test.wantErr != nil {
				if err != test.wantErr {
					t.Fatalf("Authenticate: got error %v, want %v", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate failed: %v", err)
			}
			if claims.Subject != test.want {
				t.Errorf("Authenticate: got subject %q, want %q", claims.Subject, test.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := request(t, "abc123")
	tok, ok := auth.BearerToken(req)
	if !ok || tok != "abc123" {
		t.Errorf("BearerToken: got (%q, %v), want (%q, true)", tok, ok, "abc123")
	}
	if _, ok := auth.BearerToken(request(t, "")); ok {
		t.Error("BearerToken: expected no token for a request without one")
	}
}

func TestHasScope(t *testing.T) {
	c := auth.Claims{Scopes: []string{"mcp.tools", "mcp.resources"}}
	if !c.HasScope("mcp.tools") {
		t.Error("HasScope(mcp.tools): got false, want true")
	}
	if c.HasScope("mcp.admin") {
		t.Error("HasScope(mcp.admin): got true, want false")
	}
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer test-key", "test-key", false},
		{"padded", "Bearer   spaced  ", "spaced", false},
		{"missing", "", "", true},
		{"basic", "Basic abc", "", true},
		{"blank", "Bearer   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeSessions}},
		{Token: "operator", Scopes: []string{" ops:ro ", ""}},
	}

	p, ok := Authenticate("reader", tokens)
	if !ok {
		t.Fatal("expected reader to authenticate")
	}
	if !HasAnyScope(p, ScopeSessions) || HasAnyScope(p, ScopeEvents) {
		t.Fatalf("reader scopes wrong: %v", p.Scopes)
	}

	p, ok = Authenticate("operator", tokens)
	if !ok {
		t.Fatal("expected operator to authenticate")
	}
	if !HasAnyScope(p, ScopeSessions) || !HasAnyScope(p, ScopeEvents) {
		t.Fatalf("ops:ro must imply read scopes: %v", p.Scopes)
	}

	if _, ok := Authenticate("nobody", tokens); ok {
		t.Fatal("unknown token authenticated")
	}
	if _, ok := Authenticate("", []TokenConfig{{Token: ""}}); ok {
		t.Fatal("empty token authenticated")
	}
}

func TestHasAnyScope(t *testing.T) {
	t.Parallel()

	admin := Principal{Scopes: map[string]struct{}{ScopeAll: {}}}
	if !HasAnyScope(admin, ScopeEvents) {
		t.Fatal("* must grant every scope")
	}
	if !HasAnyScope(Principal{}) {
		t.Fatal("no required scopes must pass")
	}
	if HasAnyScope(Principal{}, ScopeSessions) {
		t.Fatal("empty principal must not pass")
	}
}

func TestValidateScopes(t *testing.T) {
	t.Parallel()

	if err := ValidateScopes([]string{ScopeSessions, ScopeEvents, ScopeOps, ScopeAll}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateScopes([]string{"jobs:rw"}); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{Token: "x"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "x" {
		t.Fatalf("principal not round-tripped: %+v %v", p, ok)
	}
}

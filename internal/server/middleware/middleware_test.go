package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if respID := rr.Header().Get("X-Request-ID"); len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q", respID)
	}
}

func TestRequestIDClientValue(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		kept     bool
	}{
		{"short id kept", "my-custom-trace-id-123", true},
		{"oversized id replaced", strings.Repeat("x", maxClientRequestID+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Request-ID", tt.clientID)
			rr := httptest.NewRecorder()
			RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rr, req)

			if got := rr.Header().Get("X-Request-ID") == tt.clientID; got != tt.kept {
				t.Errorf("client id kept = %v, want %v", got, tt.kept)
			}
		})
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authenticate / Require tests
// ---------------------------------------------------------------------------

type fakeTokens map[string]service.Principal

func (f fakeTokens) ValidateToken(token string) (service.Principal, error) {
	p, ok := f[token]
	if !ok {
		return service.Principal{}, service.ErrInvalidToken
	}
	return p, nil
}

type fakeAuthorizer struct {
	err             error
	unauthenticated int
	seen            *service.Principal
}

func (f *fakeAuthorizer) Authorize(_ context.Context, p service.Principal, _ service.RequiredAuth) error {
	f.seen = &p
	return f.err
}

func (f *fakeAuthorizer) RecordUnauthenticated(service.RequiredAuth) { f.unauthenticated++ }

func decodeEnvelope(t *testing.T, body *bytes.Buffer) model.Envelope {
	t.Helper()
	var env model.Envelope
	if err := json.Unmarshal(body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	return env
}

func TestAuthenticate(t *testing.T) {
	tokens := fakeTokens{"good": {UserID: 7, RoleID: 3}}
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Authenticate(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p := GetPrincipal(r.Context())
				if p == nil || p.UserID != 7 || p.RoleID != 3 {
					t.Errorf("principal = %+v", p)
				}
			}))
			req := httptest.NewRequest("GET", "/api/user", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.status == http.StatusUnauthorized {
				if rr.Header().Get("WWW-Authenticate") != "Bearer" {
					t.Error("missing WWW-Authenticate header")
				}
				if env := decodeEnvelope(t, rr.Body); env.Code != model.CodeFailed {
					t.Errorf("envelope = %+v", env)
				}
			}
		})
	}
}

func TestRequire(t *testing.T) {
	req := service.RequiredAuth{Module: "User", Permissions: []string{"READ"}}
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"allowed", nil, http.StatusOK, ""},
		{"forbidden", fmt.Errorf("%w: User:READ", service.ErrForbidden), http.StatusForbidden, "Insufficient permissions"},
		{"misconfigured", fmt.Errorf("%w: module", service.ErrConfiguration), http.StatusInternalServerError, "Permission configuration error"},
		{"other error denies", errors.New("boom"), http.StatusForbidden, "Insufficient permissions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authz := &fakeAuthorizer{err: tt.err}
			called := false
			handler := Require(authz, req)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			r := httptest.NewRequest("GET", "/api/user/1", nil)
			r = r.WithContext(WithPrincipal(r.Context(), service.Principal{UserID: 1, RoleID: 2}))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, r)

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if called != (tt.err == nil) {
				t.Errorf("inner handler called = %v", called)
			}
			if authz.seen == nil || authz.seen.RoleID != 2 {
				t.Errorf("authorizer saw %+v", authz.seen)
			}
			if tt.msg != "" {
				if env := decodeEnvelope(t, rr.Body); env.Msg != tt.msg {
					t.Errorf("msg = %q, want %q", env.Msg, tt.msg)
				}
			}
		})
	}
}

func TestRequireWithoutPrincipal(t *testing.T) {
	authz := &fakeAuthorizer{}
	handler := Require(authz, service.RequiredAuth{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("inner handler should not be called for unauthenticated")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/user", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if authz.unauthenticated != 1 {
		t.Errorf("unauthenticated count = %d", authz.unauthenticated)
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	if GetPrincipal(context.Background()) != nil {
		t.Error("expected nil principal from bare context")
	}
}

// ---------------------------------------------------------------------------
// Logger / MaxBody tests
// ---------------------------------------------------------------------------

func TestLoggerIncludesPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	tokens := fakeTokens{"good": {UserID: 7, RoleID: 3}}

	chain := RequestID(Logger(logger)(Authenticate(tokens)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))))
	req := httptest.NewRequest("GET", "/api/user/9", nil)
	req.Header.Set("Authorization", "Bearer good")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if line["level"] != "WARN" || line["status"] != float64(404) || line["user_id"] != float64(7) {
		t.Errorf("log line = %v", line)
	}
	if line["request_id"] == "" {
		t.Error("request id not logged")
	}
}

func TestMaxBody(t *testing.T) {
	handler := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}
	}))
	for body, want := range map[string]int{"short": http.StatusOK, "far too long for the cap": http.StatusRequestEntityTooLarge} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("POST", "/", strings.NewReader(body)))
		if rr.Code != want {
			t.Errorf("body %q: status = %d, want %d", body, rr.Code, want)
		}
	}
}

func TestRateLimitByUser(t *testing.T) {
	limited := RateLimitByUser(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(userID int64) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		req = req.WithContext(WithPrincipal(req.Context(), service.Principal{UserID: userID}))
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := call(1); code != http.StatusOK {
		t.Fatalf("first request: status = %d", code)
	}
	if code := call(1); code != http.StatusTooManyRequests {
		t.Errorf("second request for user 1: status = %d, want 429", code)
	}
	// Same IP, different user: separate budget.
	if code := call(2); code != http.StatusOK {
		t.Errorf("user 2: status = %d, want 200", code)
	}
}

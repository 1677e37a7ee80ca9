package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
		wantErr    bool
	}{
		{"returns default for missing param", "/test", "limit", 25, 25, false},
		{"parses integer param", "/test?limit=100", "limit", 25, 100, false},
		{"rejects non-integer", "/test?limit=abc", "limit", 25, 0, true},
		{"parses zero", "/test?offset=0", "offset", 10, 0, false},
		{"parses negative", "/test?offset=-5", "offset", 0, -5, false},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got, err := queryInt(r, tt.key, tt.defaultVal)
			if (err != nil) != tt.wantErr {
				t.Fatalf("queryInt err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// pathID tests
// ---------------------------------------------------------------------------

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{"10004", 10004, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := pathID(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("pathID(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

// ---------------------------------------------------------------------------
// readJSON tests
// ---------------------------------------------------------------------------

func TestReadJSON(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader("  \n"))
		var v map[string]any
		if err := readJSON(r, &v); !errors.Is(err, errEmptyBody) {
			t.Errorf("err = %v, want errEmptyBody", err)
		}
	})

	t.Run("numbers keep precision", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"id": 9007199254740993}`))
		var v map[string]any
		if err := readJSON(r, &v); err != nil {
			t.Fatal(err)
		}
		if got := fmt.Sprint(v["id"]); got != "9007199254740993" {
			t.Errorf("id = %s", got)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"id":`))
		var v map[string]any
		if err := readJSON(r, &v); err == nil {
			t.Error("expected error")
		}
	})
}

// ---------------------------------------------------------------------------
// classifyError tests
// ---------------------------------------------------------------------------

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"validation", fmt.Errorf("%w: field %q is required", service.ErrValidation, "name"), http.StatusBadRequest, `field "name" is required`},
		{"invalid query", fmt.Errorf("%w: unknown column %q", database.ErrInvalidQuery, "x"), http.StatusBadRequest, `unknown column "x"`},
		{"invalid condition", fmt.Errorf("%w: bad operator", condition.ErrInvalidCondition), http.StatusBadRequest, "bad operator"},
		{"not found", database.ErrNotFound, http.StatusNotFound, "role: record does not exist"},
		{"bad credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, service.ErrInvalidCredentials.Error()},
		{"inactive", service.ErrInactiveUser, http.StatusForbidden, service.ErrInactiveUser.Error()},
		{"unique", fmt.Errorf("%w: UNIQUE constraint failed: sys_role.name", database.ErrQuery), http.StatusConflict, "role: a record with the same unique value already exists"},
		{"foreign key", fmt.Errorf("%w: FOREIGN KEY constraint failed", database.ErrQuery), http.StatusBadRequest, "role: a referenced record does not exist or is still in use"},
		{"driver failure", fmt.Errorf("%w: disk I/O error", database.ErrQuery), http.StatusInternalServerError, "role"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := classifyError(tt.err, "role")
			if status != tt.wantStatus || msg != tt.wantMsg {
				t.Errorf("classifyError = %d %q, want %d %q", status, msg, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeError / writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "Invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"code":500`) {
		t.Errorf("expected failure code in body: %s", body)
	}
	if !strings.Contains(body, `"msg":"Invalid input"`) {
		t.Errorf("expected message in body: %s", body)
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	writeSuccess(w, http.StatusCreated, "Created successfully", map[string]string{"hello": "world"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"code":200`, `"msg":"Created successfully"`, `"data":{"hello":"world"}`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s lacks %s", body, want)
		}
	}
}

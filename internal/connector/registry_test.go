package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// mockConnector implements Connector without a real database.
type mockConnector struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	pingErr      error
	cfg          ConnectionConfig
}

func (m *mockConnector) Connect(cfg ConnectionConfig) error {
	if cfg.DSN == "fail" {
		return fmt.Errorf("mock connect failure")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.cfg = cfg
	if strings.HasPrefix(cfg.DSN, "unreachable") {
		m.pingErr = errors.New("connection refused")
	}
	return nil
}

func (m *mockConnector) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.connected = false
	return nil
}

func (m *mockConnector) Ping(context.Context) error { return m.pingErr }
func (m *mockConnector) DB() *sqlx.DB               { return nil }

func (m *mockConnector) DriverName() string                 { return "mock" }
func (m *mockConnector) QuoteIdentifier(name string) string { return query.DoubleQuote(name) }
func (m *mockConnector) ParameterPlaceholder(int) string    { return "?" }
func (m *mockConnector) TableName(t string) string          { return query.DoubleQuote(t) }
func (m *mockConnector) Returning() query.Returning         { return query.ReturningNone }
func (m *mockConnector) LimitOffset(l, o int, _ bool) string {
	return query.LimitOffsetClause(l, o, "")
}
func (m *mockConnector) ColumnType(model.Column) string { return "TEXT" }
func (m *mockConnector) AutoIncrementKey() string       { return "INTEGER PRIMARY KEY" }
func (m *mockConnector) BoolLiteral(v bool) string      { return fmt.Sprint(v) }
func (m *mockConnector) CreateTableIfNotExists(t, body string) string {
	return query.CreateTableIfNotExists(t, body)
}
func (m *mockConnector) ExplicitIDStatements(string, string) ([]string, []string) { return nil, nil }

func mockRegistry() *Registry {
	r := NewRegistry()
	r.RegisterDriver("mock", func() Connector { return &mockConnector{} })
	return r
}

func TestConnectAndGet(t *testing.T) {
	r := mockRegistry()

	if err := r.Connect("default", ConnectionConfig{Driver: "mock", DSN: "test-dsn"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn, err := r.Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mc := conn.(*mockConnector)
	if !mc.connected {
		t.Error("connector should be connected")
	}
	if mc.cfg.DSN != "test-dsn" {
		t.Errorf("expected DSN test-dsn, got %s", mc.cfg.DSN)
	}
}

func TestConnectErrors(t *testing.T) {
	r := mockRegistry()

	if err := r.Connect("x", ConnectionConfig{Driver: "unknown"}); err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("unsupported driver err = %v", err)
	}
	if err := r.Connect("x", ConnectionConfig{Driver: "mock", DSN: "fail"}); err == nil {
		t.Error("expected error for connection failure")
	}
	if _, err := r.Get("x"); err == nil {
		t.Error("failed connection must not be registered")
	}
}

func TestConnectReplacesExisting(t *testing.T) {
	r := NewRegistry()
	var first *mockConnector
	r.RegisterDriver("mock", func() Connector {
		mc := &mockConnector{}
		if first == nil {
			first = mc
		}
		return mc
	})

	r.Connect("db", ConnectionConfig{Driver: "mock", DSN: "dsn1"})
	r.Connect("db", ConnectionConfig{Driver: "mock", DSN: "dsn2"})

	if !first.disconnected {
		t.Error("first connector should have been disconnected on replacement")
	}
	conn, _ := r.Get("db")
	if dsn := conn.(*mockConnector).cfg.DSN; dsn != "dsn2" {
		t.Errorf("expected DSN dsn2 after replacement, got %s", dsn)
	}
}

func TestConnectAll(t *testing.T) {
	r := mockRegistry()
	err := r.ConnectAll(context.Background(), []model.DatabaseConfig{
		{Name: "default", Driver: "mock", DSN: "a"},
		{Name: "reporting", Driver: "mock", DSN: "b"},
		{Name: "archive", Driver: "mock", DSN: "c"},
	})
	if err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	got := r.Names()
	want := []string{"archive", "default", "reporting"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	conn, _ := r.Get("reporting")
	if pool := conn.(*mockConnector).cfg.MaxOpenConns; pool != model.DefaultPoolConfig().MaxOpenConns {
		t.Errorf("MaxOpenConns = %d, want pool default", pool)
	}
}

func TestConnectAllRequiresDefault(t *testing.T) {
	r := mockRegistry()
	err := r.ConnectAll(context.Background(), []model.DatabaseConfig{{Name: "other", Driver: "mock", DSN: "a"}})
	if !errors.Is(err, ErrNoDefault) {
		t.Errorf("err = %v, want ErrNoDefault", err)
	}
}

func TestConnectAllReportsFailure(t *testing.T) {
	r := mockRegistry()
	err := r.ConnectAll(context.Background(), []model.DatabaseConfig{
		{Name: "default", Driver: "mock", DSN: "a"},
		{Name: "broken", Driver: "mock", DSN: "fail"},
	})
	if err == nil || !strings.Contains(err.Error(), `"broken"`) {
		t.Errorf("err = %v, want failure naming the broken database", err)
	}
	r.CloseAll()
	if len(r.Names()) != 0 {
		t.Error("expected no databases after CloseAll")
	}
}

func TestPingAll(t *testing.T) {
	r := mockRegistry()
	r.Connect("default", ConnectionConfig{Driver: "mock", DSN: "ok"})
	r.Connect("replica", ConnectionConfig{Driver: "mock", DSN: "unreachable"})

	failures := r.PingAll(context.Background())
	if len(failures) != 1 || failures["replica"] == nil {
		t.Errorf("failures = %v, want only replica", failures)
	}
}

func TestDisconnect(t *testing.T) {
	r := mockRegistry()
	r.Connect("db", ConnectionConfig{Driver: "mock", DSN: "dsn"})

	if err := r.Disconnect("db"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get("db"); err == nil {
		t.Error("expected error after disconnect")
	}
	if err := r.Disconnect("db"); err == nil {
		t.Error("expected error for disconnecting a missing database")
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		in     string
		want   string
	}{
		{
			"postgres password with specials",
			"postgres",
			"postgres://app:p@ss#word@db.local:5432/rbac?sslmode=disable",
			"postgres://app:p@ss%23word@db.local:5432/rbac?sslmode=disable",
		},
		{
			"mysql missing tcp wrapper",
			"mysql",
			"app:secret@db.local:3306/rbac",
			"app:secret@tcp(db.local:3306)/rbac",
		},
		{"sqlite untouched", "sqlite", "file:rbac.db?_pragma=foreign_keys(1)", "file:rbac.db?_pragma=foreign_keys(1)"},
		{"postgres without credentials", "postgres", "postgres://db.local/rbac", "postgres://db.local/rbac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The MySQL driver may append its own parameters when reformatting.
			if got := SanitizeDSN(tt.driver, tt.in); !strings.HasPrefix(got, tt.want) {
				t.Errorf("SanitizeDSN() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

func openMemory(t *testing.T) *SQLiteConnector {
	t.Helper()
	c := &SQLiteConnector{}
	if err := c.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		dsn    string
		memory bool
		want   string
	}{
		{":memory:", true, ":memory:?_pragma=foreign_keys(1)"},
		{"rbac.db", false, "rbac.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"rbac.db?_pragma=foreign_keys(1)", false, "rbac.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
	}
	for _, tt := range tests {
		if got := withPragmas(tt.dsn, tt.memory); got != tt.want {
			t.Errorf("withPragmas(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestMemoryDatabaseIsPinned(t *testing.T) {
	c := openMemory(t)
	if got := c.DB().Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()

	for _, tbl := range []*model.Table{model.RoleTable, model.ModuleTable, model.PermissionTable, model.UserTable} {
		if _, err := c.DB().ExecContext(ctx, query.BuildCreateTable(c, tbl)); err != nil {
			t.Fatalf("create %s: %v", tbl.Name, err)
		}
	}

	_, err := c.DB().ExecContext(ctx,
		`INSERT INTO "sys_user" ("username", "email", "password_hash", "role_id") VALUES (?, ?, ?, ?)`,
		"ghost", "ghost@example.com", "x", 42)
	if err == nil {
		t.Fatal("expected foreign key violation for a missing role")
	}
}

func TestCreateTableIsIdempotent(t *testing.T) {
	c := openMemory(t)
	ddl := query.BuildCreateTable(c, model.RoleTable)
	for i := 0; i < 2; i++ {
		if _, err := c.DB().Exec(ddl); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if !strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "sys_role"`) {
		t.Errorf("DDL = %q", ddl)
	}
}

func TestInsertReturning(t *testing.T) {
	c := openMemory(t)
	if _, err := c.DB().Exec(query.BuildCreateTable(c, model.RoleTable)); err != nil {
		t.Fatal(err)
	}

	stmt, err := query.BuildInsert(c, model.TableRole, []map[string]any{{"name": "auditor", "is_active": true}}, true)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := c.DB().Queryx(stmt.SQL, stmt.Args...)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatal("RETURNING produced no row")
	}
	row := map[string]any{}
	if err := rows.MapScan(row); err != nil {
		t.Fatal(err)
	}
	if row["id"] != int64(1) || row["name"] != "auditor" {
		t.Errorf("returned row = %v", row)
	}
}

func TestDialect(t *testing.T) {
	c := &SQLiteConnector{}
	if got := c.LimitOffset(0, 10, false); got != "LIMIT -1 OFFSET 10" {
		t.Errorf("LimitOffset = %q", got)
	}
	if got := c.ColumnType(model.Column{Kind: model.KindString, Size: 64}); got != "VARCHAR(64)" {
		t.Errorf("ColumnType = %q", got)
	}
	if got := c.ColumnType(model.Column{Kind: model.KindTime}); got != "DATETIME" {
		t.Errorf("ColumnType(time) = %q", got)
	}
	if !query.SupportsReturning(c) {
		t.Error("SQLite supports RETURNING")
	}
}

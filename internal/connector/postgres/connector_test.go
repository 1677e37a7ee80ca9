package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// newTestConnector returns a connector with a known schema and no database
// connection, suitable for exercising the dialect.
func newTestConnector() *PostgresConnector {
	return &PostgresConnector{schemaName: "public"}
}

func TestSelectUsesNumberedPlaceholders(t *testing.T) {
	c := newTestConnector()
	node := condition.AllOf(
		condition.Eq("role_id", int64(1)),
		&condition.Leaf{Field: "username", Operator: condition.OpLike, Value: "adm"},
	)
	where, err := condition.Compile(model.UserTable, node)
	if err != nil {
		t.Fatal(err)
	}

	stmt := query.BuildSelect(c, query.Select{
		Table:   model.TableUser,
		Columns: []string{"id", "username"},
		Where:   where,
		Limit:   10,
		Offset:  20,
	})

	want := `SELECT "id", "username" FROM "public"."sys_user" WHERE ("role_id" = $1 AND "username" LIKE $2) LIMIT 10 OFFSET 20`
	if stmt.SQL != want {
		t.Errorf("SQL = %q\nwant  %q", stmt.SQL, want)
	}
	if !reflect.DeepEqual(stmt.Args, []any{int64(1), "adm%"}) {
		t.Errorf("args = %v", stmt.Args)
	}
}

func TestUpdatePlaceholdersContinueIntoWhere(t *testing.T) {
	c := newTestConnector()
	where, _ := condition.Compile(model.RoleTable, condition.Eq("id", 3))
	stmt, err := query.BuildUpdate(c, model.TableRole, map[string]any{"name": "ops", "is_active": false}, where)
	if err != nil {
		t.Fatal(err)
	}
	want := `UPDATE "public"."sys_role" SET "is_active" = $1, "name" = $2 WHERE "id" = $3`
	if stmt.SQL != want {
		t.Errorf("SQL = %q\nwant  %q", stmt.SQL, want)
	}
}

func TestCreateTable(t *testing.T) {
	c := &PostgresConnector{schemaName: "rbac"}
	ddl := query.BuildCreateTable(c, model.UserTable)

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "rbac"."sys_user"`,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"username" VARCHAR(64) NOT NULL`,
		`"is_active" BOOLEAN NOT NULL DEFAULT TRUE`,
		`"locale" VARCHAR(16) NOT NULL DEFAULT 'zh-CN'`,
		`"last_login_time" TIMESTAMPTZ`,
		`REFERENCES "rbac"."sys_role" ("id")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestExplicitIDStatements(t *testing.T) {
	before, after := newTestConnector().ExplicitIDStatements(model.TableModule, "id")
	if len(before) != 0 {
		t.Errorf("before = %v, want none", before)
	}
	if len(after) != 1 || !strings.Contains(after[0], `pg_get_serial_sequence('"public"."sys_module"', 'id')`) {
		t.Errorf("after = %v", after)
	}
}

func TestLimitOffset(t *testing.T) {
	c := newTestConnector()
	if got := c.LimitOffset(0, 5, false); got != "OFFSET 5" {
		t.Errorf("LimitOffset(0, 5) = %q", got)
	}
}

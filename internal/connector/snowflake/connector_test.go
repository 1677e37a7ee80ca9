package snowflake

import (
	"strings"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

func TestSelectOffsetOnly(t *testing.T) {
	c := &SnowflakeConnector{schemaName: "RBAC"}
	stmt := query.BuildSelect(c, query.Select{Table: model.TableRole, Columns: []string{"id"}, Offset: 100})
	want := `SELECT "id" FROM "RBAC"."sys_role" LIMIT NULL OFFSET 100`
	if stmt.SQL != want {
		t.Errorf("SQL = %q\nwant  %q", stmt.SQL, want)
	}
}

func TestCreateTable(t *testing.T) {
	ddl := query.BuildCreateTable(&SnowflakeConnector{schemaName: "PUBLIC"}, model.PermissionTable)
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "PUBLIC"."sys_permission"`,
		`"id" NUMBER(19,0) AUTOINCREMENT PRIMARY KEY`,
		`"permission_bit" NUMBER(19,0) NOT NULL`,
		`UNIQUE ("permission_bit")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestNoReturning(t *testing.T) {
	if query.SupportsReturning(&SnowflakeConnector{}) {
		t.Error("Snowflake must not claim RETURNING support")
	}
}

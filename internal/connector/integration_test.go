package connector_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/connector/mssql"
	"github.com/gatekeepdb/gatekeep/internal/connector/mysql"
	"github.com/gatekeepdb/gatekeep/internal/connector/postgres"
	"github.com/gatekeepdb/gatekeep/internal/connector/snowflake"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

func TestMain(m *testing.M) {
	if os.Getenv("GATEKEEP_INTEGRATION") == "" {
		fmt.Println("skipping integration tests: set GATEKEEP_INTEGRATION=1 to run")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// probeTable is created and dropped by every run.
var probeTable = &model.Table{
	Name:       "gatekeep_probe",
	PrimaryKey: "id",
	Columns: []model.Column{
		{Name: "id", Kind: model.KindInt, PrimaryKey: true, AutoIncrement: true},
		{Name: "name", Kind: model.KindString, Size: 64},
		{Name: "active", Kind: model.KindBool, Default: true},
		{Name: "seen_at", Kind: model.KindTime, Nullable: true},
	},
	Uniques: [][]string{{"name"}},
}

// runConnectorSuite exercises DDL, insert, select and delete against a live
// database.
func runConnectorSuite(t *testing.T, conn connector.Connector, cfg connector.ConnectionConfig) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := conn.Connect(cfg); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	db := conn.DB()
	if _, err := db.ExecContext(ctx, query.BuildCreateTable(conn, probeTable)); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer db.ExecContext(context.Background(), "DROP TABLE "+conn.TableName(probeTable.Name))

	ins, err := query.BuildInsert(conn, probeTable.Name, []map[string]any{
		{"name": "alpha", "active": true, "seen_at": time.Now().UTC()},
		{"name": "beta", "active": false, "seen_at": nil},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, ins.SQL, ins.Args...); err != nil {
		t.Fatalf("insert: %v", err)
	}

	where, err := condition.Compile(probeTable, &condition.Leaf{Field: "name", Operator: condition.OpLike, Value: "al"})
	if err != nil {
		t.Fatal(err)
	}
	sel := query.BuildSelect(conn, query.Select{
		Table:   probeTable.Name,
		Columns: []string{"id", "name"},
		Where:   where,
		OrderBy: []query.OrderClause{{Column: "id"}},
		Limit:   10,
	})
	rows, err := db.QueryxContext(ctx, sel.SQL, sel.Args...)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	count := 0
	for rows.Next() {
		count++
	}
	rows.Close()
	if count != 1 {
		t.Errorf("select returned %d rows, want 1", count)
	}

	del, err := query.BuildDelete(conn, probeTable.Name, where)
	if err != nil {
		t.Fatal(err)
	}
	res, err := db.ExecContext(ctx, del.SQL, del.Args...)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
}

func requireDSN(t *testing.T, env string) string {
	t.Helper()
	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}
	return dsn
}

func TestPostgresIntegration(t *testing.T) {
	dsn := requireDSN(t, "GATEKEEP_POSTGRES_DSN")
	runConnectorSuite(t, postgres.New(), connector.ConnectionConfig{Driver: "postgres", DSN: connector.SanitizeDSN("postgres", dsn)})
}

func TestMySQLIntegration(t *testing.T) {
	dsn := requireDSN(t, "GATEKEEP_MYSQL_DSN")
	runConnectorSuite(t, mysql.New(), connector.ConnectionConfig{Driver: "mysql", DSN: connector.SanitizeDSN("mysql", dsn)})
}

func TestMSSQLIntegration(t *testing.T) {
	dsn := requireDSN(t, "GATEKEEP_MSSQL_DSN")
	runConnectorSuite(t, mssql.New(), connector.ConnectionConfig{Driver: "mssql", DSN: connector.SanitizeDSN("mssql", dsn)})
}

func TestSnowflakeIntegration(t *testing.T) {
	dsn := requireDSN(t, "GATEKEEP_SNOWFLAKE_DSN")
	runConnectorSuite(t, snowflake.New(), connector.ConnectionConfig{
		Driver:         "snowflake",
		DSN:            dsn,
		PrivateKeyPath: os.Getenv("GATEKEEP_SNOWFLAKE_KEY"),
	})
}

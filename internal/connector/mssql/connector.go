package mssql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MSSQLConnector with default settings.
func New() connector.Connector {
	return &MSSQLConnector{schemaName: "dbo"}
}

// Connect establishes a connection to the SQL Server database and applies
// pool settings.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in brackets.
func (c *MSSQLConnector) QuoteIdentifier(name string) string { return query.BracketQuote(name) }

// ParameterPlaceholder returns @p1, @p2, ...
func (c *MSSQLConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

func (c *MSSQLConnector) TableName(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// Returning uses OUTPUT INSERTED.* in place of RETURNING.
func (c *MSSQLConnector) Returning() query.Returning { return query.ReturningOutput }

// LimitOffset renders OFFSET/FETCH NEXT. SQL Server only pages ordered
// results, so an unordered statement gets ORDER BY (SELECT NULL).
func (c *MSSQLConnector) LimitOffset(limit, offset int, ordered bool) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	var b strings.Builder
	if !ordered {
		b.WriteString("ORDER BY (SELECT NULL) ")
	}
	b.WriteString("OFFSET " + strconv.Itoa(max(offset, 0)) + " ROWS")
	if limit > 0 {
		b.WriteString(" FETCH NEXT " + strconv.Itoa(limit) + " ROWS ONLY")
	}
	return b.String()
}

func (c *MSSQLConnector) ColumnType(col model.Column) string {
	switch col.Kind {
	case model.KindInt:
		return "BIGINT"
	case model.KindString:
		if col.Size > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", col.Size)
		}
		return "NVARCHAR(MAX)"
	case model.KindText:
		return "NVARCHAR(MAX)"
	case model.KindBool:
		return "BIT"
	case model.KindTime:
		return "DATETIME2"
	case model.KindFloat:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (c *MSSQLConnector) AutoIncrementKey() string { return "BIGINT IDENTITY(1,1) PRIMARY KEY" }

func (c *MSSQLConnector) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// CreateTableIfNotExists guards the CREATE with OBJECT_ID, since SQL Server
// has no IF NOT EXISTS for tables.
func (c *MSSQLConnector) CreateTableIfNotExists(table, body string) string {
	qualified := c.TableName(table)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n%s\n)",
		strings.ReplaceAll(qualified, "'", "''"), qualified, body)
}

// ExplicitIDStatements toggles IDENTITY_INSERT around inserts that carry
// their own keys. The setting is per session, so all three statements must
// run in one transaction.
func (c *MSSQLConnector) ExplicitIDStatements(table, _ string) (before, after []string) {
	qualified := c.TableName(table)
	return []string{"SET IDENTITY_INSERT " + qualified + " ON"},
		[]string{"SET IDENTITY_INSERT " + qualified + " OFF"}
}

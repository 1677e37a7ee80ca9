package postgres

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new PostgresConnector with default settings.
func New() connector.Connector {
	return &PostgresConnector{schemaName: "public"}
}

// Connect establishes a connection to the PostgreSQL database through the
// pgx stdlib driver, applies pool settings and records the schema that
// every table name is qualified with.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *PostgresConnector) QuoteIdentifier(name string) string { return query.DoubleQuote(name) }

// ParameterPlaceholder returns $1, $2, ...
func (c *PostgresConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// TableName qualifies the table with the configured schema.
func (c *PostgresConnector) TableName(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

func (c *PostgresConnector) Returning() query.Returning { return query.ReturningSuffix }

// LimitOffset: PostgreSQL accepts OFFSET without LIMIT.
func (c *PostgresConnector) LimitOffset(limit, offset int, _ bool) string {
	return query.LimitOffsetClause(limit, offset, "")
}

func (c *PostgresConnector) ColumnType(col model.Column) string {
	switch col.Kind {
	case model.KindInt:
		return "BIGINT"
	case model.KindString:
		if col.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Size)
		}
		return "TEXT"
	case model.KindBool:
		return "BOOLEAN"
	case model.KindTime:
		return "TIMESTAMPTZ"
	case model.KindFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func (c *PostgresConnector) AutoIncrementKey() string { return "BIGSERIAL PRIMARY KEY" }

func (c *PostgresConnector) BoolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (c *PostgresConnector) CreateTableIfNotExists(table, body string) string {
	return query.CreateTableIfNotExists(c.TableName(table), body)
}

// ExplicitIDStatements moves the serial sequence past the highest key after
// rows were inserted with explicit ids, so later inserts do not collide.
func (c *PostgresConnector) ExplicitIDStatements(table, pk string) (before, after []string) {
	qualified := c.TableName(table)
	setval := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE((SELECT MAX(%s) FROM %s), 1))",
		strings.ReplaceAll(qualified, "'", "''"), strings.ReplaceAll(pk, "'", "''"),
		c.QuoteIdentifier(pk), qualified)
	return nil, []string{setval}
}

package mysql

import (
	"context"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// unboundedLimit is the documented way to express "no limit" with OFFSET.
const unboundedLimit = "18446744073709551615"

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MySQLConnector with default settings.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect establishes a connection to the MySQL database. DATETIME columns
// are scanned into time.Time. Without an explicit schema name, the current
// database is used to qualify table names.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	dsn, err := withParseTime(cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql dsn: %w", err)
	}

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}
	if c.schemaName == "" {
		var dbName string
		if err := db.Get(&dbName, "SELECT DATABASE()"); err == nil && dbName != "" {
			c.schemaName = dbName
		}
	}

	c.db = db
	return nil
}

func withParseTime(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks.
func (c *MySQLConnector) QuoteIdentifier(name string) string { return query.BacktickQuote(name) }

// ParameterPlaceholder returns ?; MySQL ignores the index.
func (c *MySQLConnector) ParameterPlaceholder(_ int) string { return "?" }

func (c *MySQLConnector) TableName(table string) string {
	if c.schemaName == "" {
		return c.QuoteIdentifier(table)
	}
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// Returning: MySQL has no RETURNING; callers fall back to LastInsertId.
func (c *MySQLConnector) Returning() query.Returning { return query.ReturningNone }

func (c *MySQLConnector) LimitOffset(limit, offset int, _ bool) string {
	return query.LimitOffsetClause(limit, offset, unboundedLimit)
}

func (c *MySQLConnector) ColumnType(col model.Column) string {
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
		return "DATETIME(6)"
	case model.KindFloat:
		return "DOUBLE"
	default:
		return "TEXT"
	}
}

func (c *MySQLConnector) AutoIncrementKey() string { return "BIGINT AUTO_INCREMENT PRIMARY KEY" }

func (c *MySQLConnector) BoolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (c *MySQLConnector) CreateTableIfNotExists(table, body string) string {
	return query.CreateTableIfNotExists(c.TableName(table), body)
}

// ExplicitIDStatements returns nothing: AUTO_INCREMENT advances past
// explicitly inserted keys on its own.
func (c *MySQLConnector) ExplicitIDStatements(string, string) (before, after []string) {
	return nil, nil
}

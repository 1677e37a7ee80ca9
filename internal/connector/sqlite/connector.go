package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database named by the DSN, either a file path or
// ":memory:". Foreign keys are enforced on every connection. An in-memory
// database lives only as long as its connection, so the pool is pinned to
// a single connection that is never recycled.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	memory := isMemory(cfg.DSN)

	db, err := sqlx.Connect("sqlite", withPragmas(cfg.DSN, memory))
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		connector.ApplyPool(db, cfg)
	}

	c.db = db
	return nil
}

func isMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withPragmas appends the connection pragmas the modernc driver applies
// to each new connection.
func withPragmas(dsn string, memory bool) string {
	pragmas := []string{"_pragma=foreign_keys(1)"}
	if !memory {
		pragmas = append(pragmas, "_pragma=busy_timeout(5000)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		if strings.Contains(dsn, p) {
			continue
		}
		dsn += sep + p
		sep = "&"
	}
	return dsn
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

func (c *SQLiteConnector) QuoteIdentifier(name string) string { return query.DoubleQuote(name) }

// ParameterPlaceholder returns ?; SQLite ignores the index.
func (c *SQLiteConnector) ParameterPlaceholder(_ int) string { return "?" }

func (c *SQLiteConnector) TableName(table string) string { return query.DoubleQuote(table) }

// Returning reports RETURNING support (SQLite 3.35+).
func (c *SQLiteConnector) Returning() query.Returning { return query.ReturningSuffix }

// LimitOffset uses LIMIT -1 when only an offset is given.
func (c *SQLiteConnector) LimitOffset(limit, offset int, _ bool) string {
	return query.LimitOffsetClause(limit, offset, "-1")
}

func (c *SQLiteConnector) ColumnType(col model.Column) string {
	switch col.Kind {
	case model.KindInt:
		return "INTEGER"
	case model.KindString:
		if col.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Size)
		}
		return "TEXT"
	case model.KindBool:
		return "BOOLEAN"
	case model.KindTime:
		return "DATETIME"
	case model.KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (c *SQLiteConnector) AutoIncrementKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (c *SQLiteConnector) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (c *SQLiteConnector) CreateTableIfNotExists(table, body string) string {
	return query.CreateTableIfNotExists(c.TableName(table), body)
}

// ExplicitIDStatements returns nothing: SQLite accepts explicit rowids.
func (c *SQLiteConnector) ExplicitIDStatements(string, string) (before, after []string) {
	return nil, nil
}

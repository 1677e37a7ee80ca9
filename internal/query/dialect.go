package query

import (
	"strconv"
	"strings"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/model"
)

// Returning describes how a dialect hands back rows written by an INSERT.
type Returning int

const (
	// ReturningNone means the dialect cannot return inserted rows.
	ReturningNone Returning = iota
	// ReturningSuffix appends RETURNING * (PostgreSQL, SQLite 3.35+).
	ReturningSuffix
	// ReturningOutput places OUTPUT INSERTED.* before VALUES (SQL Server).
	ReturningOutput
)

// Dialect is the SQL syntax a connector speaks. Connectors implement it so
// that the statement builders in this package stay database-agnostic.
type Dialect interface {
	DriverName() string
	QuoteIdentifier(name string) string
	ParameterPlaceholder(index int) string
	// TableName returns the quoted, schema-qualified name of a table.
	TableName(table string) string
	Returning() Returning
	// LimitOffset renders the paging suffix. ordered reports whether the
	// statement already carries an ORDER BY.
	LimitOffset(limit, offset int, ordered bool) string
	ColumnType(col model.Column) string
	// AutoIncrementKey is the full definition suffix of an auto-increment
	// integer primary key, e.g. "BIGSERIAL PRIMARY KEY".
	AutoIncrementKey() string
	BoolLiteral(v bool) string
	CreateTableIfNotExists(table, body string) string
	// ExplicitIDStatements returns the statements to run before and after
	// inserting rows with explicit auto-increment keys.
	ExplicitIDStatements(table, pk string) (before, after []string)
}

// ConditionDialect adapts a Dialect for the condition compiler.
func ConditionDialect(d Dialect) condition.Dialect {
	return condition.Dialect{
		QuoteIdentifier: d.QuoteIdentifier,
		Placeholder:     d.ParameterPlaceholder,
	}
}

// SupportsReturning reports whether inserted rows can be read back from
// the INSERT statement itself.
func SupportsReturning(d Dialect) bool {
	return d.Returning() != ReturningNone
}

// DefaultLiteral renders a column default as a SQL literal. Only the value
// kinds that appear in table descriptors are supported.
func DefaultLiteral(d Dialect, v any) string {
	switch x := v.(type) {
	case bool:
		return d.BoolLiteral(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	}
	return "NULL"
}

// LimitOffsetClause renders the LIMIT/OFFSET form shared by PostgreSQL,
// SQLite, MySQL and Snowflake. unbounded is the limit literal used when only
// an offset is given, since some dialects cannot express OFFSET alone.
func LimitOffsetClause(limit, offset int, unbounded string) string {
	switch {
	case limit > 0 && offset > 0:
		return "LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)
	case limit > 0:
		return "LIMIT " + strconv.Itoa(limit)
	case offset > 0 && unbounded == "":
		return "OFFSET " + strconv.Itoa(offset)
	case offset > 0:
		return "LIMIT " + unbounded + " OFFSET " + strconv.Itoa(offset)
	}
	return ""
}

// CreateTableIfNotExists is the common CREATE TABLE IF NOT EXISTS form.
func CreateTableIfNotExists(qualified, body string) string {
	return "CREATE TABLE IF NOT EXISTS " + qualified + " (\n" + body + "\n)"
}

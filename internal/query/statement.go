package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/model"
)

// ErrUnboundedWrite is returned when an UPDATE or DELETE has no predicate.
var ErrUnboundedWrite = errors.New("refusing to modify every row: a where condition is required")

// Select describes a SELECT over one table. Column names must already be
// resolved against the table descriptor.
type Select struct {
	Table   string
	Columns []string
	Where   condition.Expr
	GroupBy []string
	OrderBy []OrderClause
	Limit   int
	Offset  int
}

// Statement is a rendered SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// BuildSelect renders s. When GroupBy is set, COUNT(*) AS count is appended
// to the projection.
func BuildSelect(d Dialect, s Select) Statement {
	w := condition.NewWriter(ConditionDialect(d))

	cols := make([]string, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		cols = append(cols, d.QuoteIdentifier(c))
	}
	if len(s.GroupBy) > 0 {
		cols = append(cols, "COUNT(*) AS "+d.QuoteIdentifier("count"))
	}
	if len(cols) == 0 {
		cols = append(cols, "*")
	}

	w.WriteString("SELECT " + strings.Join(cols, ", ") + " FROM " + d.TableName(s.Table))
	writeWhere(w, s.Where)
	if len(s.GroupBy) > 0 {
		w.WriteString(" GROUP BY " + quoteAll(d, s.GroupBy))
	}
	if len(s.OrderBy) > 0 {
		terms := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			terms[i] = d.QuoteIdentifier(o.Column)
			if o.Desc {
				terms[i] += " DESC"
			} else {
				terms[i] += " ASC"
			}
		}
		w.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if page := d.LimitOffset(s.Limit, s.Offset, len(s.OrderBy) > 0); page != "" {
		w.WriteString(" " + page)
	}
	return Statement{SQL: w.String(), Args: w.Args()}
}

// BuildCount counts matching rows, or matching groups when groupBy is set.
func BuildCount(d Dialect, table string, where condition.Expr, groupBy []string) Statement {
	w := condition.NewWriter(ConditionDialect(d))
	if len(groupBy) == 0 {
		w.WriteString("SELECT COUNT(*) FROM " + d.TableName(table))
		writeWhere(w, where)
		return Statement{SQL: w.String(), Args: w.Args()}
	}
	w.WriteString("SELECT COUNT(*) FROM (SELECT " + quoteAll(d, groupBy) + " FROM " + d.TableName(table))
	writeWhere(w, where)
	w.WriteString(" GROUP BY " + quoteAll(d, groupBy) + ") " + d.QuoteIdentifier("grouped"))
	return Statement{SQL: w.String(), Args: w.Args()}
}

// BuildInsert renders one multi-row INSERT. Every row must carry the same
// keys; columns are emitted in sorted order. When returning is set and the
// dialect supports it, the stored rows are selected back.
func BuildInsert(d Dialect, table string, rows []map[string]any, returning bool) (Statement, error) {
	if len(rows) == 0 {
		return Statement{}, fmt.Errorf("insert into %s: at least one row is required", table)
	}
	columns := sortedKeys(rows[0])
	if len(columns) == 0 {
		return Statement{}, fmt.Errorf("insert into %s: row has no columns", table)
	}

	w := condition.NewWriter(ConditionDialect(d))
	w.WriteString("INSERT INTO " + d.TableName(table) + " (" + quoteAll(d, columns) + ")")
	if returning && d.Returning() == ReturningOutput {
		w.WriteString(" OUTPUT INSERTED.*")
	}
	w.WriteString(" VALUES ")
	for i, row := range rows {
		if len(row) != len(columns) {
			return Statement{}, fmt.Errorf("insert into %s: row %d has %d columns, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			w.WriteString(", ")
		}
		ph := make([]string, len(columns))
		for j, c := range columns {
			v, ok := row[c]
			if !ok {
				return Statement{}, fmt.Errorf("insert into %s: row %d is missing column %q", table, i, c)
			}
			ph[j] = w.Arg(v)
		}
		w.WriteString("(" + strings.Join(ph, ", ") + ")")
	}
	if returning && d.Returning() == ReturningSuffix {
		w.WriteString(" RETURNING *")
	}
	return Statement{SQL: w.String(), Args: w.Args()}, nil
}

// BuildUpdate renders UPDATE ... SET ... WHERE. A nil where is refused.
func BuildUpdate(d Dialect, table string, set map[string]any, where condition.Expr) (Statement, error) {
	if len(set) == 0 {
		return Statement{}, fmt.Errorf("update %s: no fields to update", table)
	}
	if where == nil {
		return Statement{}, fmt.Errorf("update %s: %w", table, ErrUnboundedWrite)
	}
	w := condition.NewWriter(ConditionDialect(d))
	cols := sortedKeys(set)
	assignments := make([]string, len(cols))
	for i, c := range cols {
		assignments[i] = d.QuoteIdentifier(c) + " = " + w.Arg(set[c])
	}
	w.WriteString("UPDATE " + d.TableName(table) + " SET " + strings.Join(assignments, ", "))
	writeWhere(w, where)
	return Statement{SQL: w.String(), Args: w.Args()}, nil
}

// BuildDelete renders DELETE ... WHERE. A nil where is refused.
func BuildDelete(d Dialect, table string, where condition.Expr) (Statement, error) {
	if where == nil {
		return Statement{}, fmt.Errorf("delete from %s: %w", table, ErrUnboundedWrite)
	}
	w := condition.NewWriter(ConditionDialect(d))
	w.WriteString("DELETE FROM " + d.TableName(table))
	writeWhere(w, where)
	return Statement{SQL: w.String(), Args: w.Args()}, nil
}

// BuildCreateTable renders idempotent DDL for a table descriptor, with
// primary key, unique and foreign key constraints.
func BuildCreateTable(d Dialect, t *model.Table) string {
	var lines []string
	for _, c := range t.Columns {
		if c.PrimaryKey && c.AutoIncrement {
			lines = append(lines, "  "+d.QuoteIdentifier(c.Name)+" "+d.AutoIncrementKey())
			continue
		}
		def := "  " + d.QuoteIdentifier(c.Name) + " " + d.ColumnType(c)
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.Default != nil {
			def += " DEFAULT " + DefaultLiteral(d, c.Default)
		}
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		lines = append(lines, def)
	}
	for _, u := range t.Uniques {
		name := "uq_" + t.Name + "_" + strings.Join(u, "_")
		lines = append(lines, "  CONSTRAINT "+d.QuoteIdentifier(name)+" UNIQUE ("+quoteAll(d, u)+")")
	}
	for _, fk := range t.ForeignKeys {
		name := "fk_" + t.Name + "_" + fk.ColumnName
		line := "  CONSTRAINT " + d.QuoteIdentifier(name) + " FOREIGN KEY (" + d.QuoteIdentifier(fk.ColumnName) +
			") REFERENCES " + d.TableName(fk.ReferencedTable) + " (" + d.QuoteIdentifier(fk.ReferencedColumn) + ")"
		if fk.OnDelete != "" {
			line += " ON DELETE " + fk.OnDelete
		}
		lines = append(lines, line)
	}
	return d.CreateTableIfNotExists(t.Name, strings.Join(lines, ",\n"))
}

func writeWhere(w *condition.Writer, where condition.Expr) {
	if where == nil {
		return
	}
	w.WriteString(" WHERE ")
	where.Render(w)
}

func quoteAll(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

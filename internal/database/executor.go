// Package database runs parameterized statements built from table
// descriptors and condition trees against a connector.
package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/jmoiron/sqlx"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

var (
	// ErrQuery wraps every statement failure reported by the driver.
	ErrQuery = errors.New("query failed")
	// ErrInvalidQuery is returned for unknown tables or columns and for
	// malformed conditions, before anything is sent to the database.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNotFound is returned when a lookup by primary key matches no row.
	ErrNotFound = errors.New("not found")
)

const (
	DefaultScrollBatchSize = 100000
	DefaultChunkSize       = 2000
)

// Query describes a read over one table. Names are resolved against the
// table descriptor; OrderBy terms are "col" or "col DESC". Zero Limit and
// Offset mean unbounded and none.
type Query struct {
	Table   string
	Columns []string
	Where   condition.Node
	GroupBy []string
	OrderBy []string
	Limit   int
	Offset  int
}

// Executor runs statements for the tables it knows about.
type Executor struct {
	conn        connector.Connector
	tables      map[string]*model.Table
	ordered     []*model.Table
	logger      *slog.Logger
	scrollBatch int
	chunkSize   int
}

// Option configures an Executor.
type Option func(*Executor)

// WithTables replaces the table catalog. Tables are migrated in the order
// given.
func WithTables(tables ...*model.Table) Option {
	return func(e *Executor) {
		e.tables = make(map[string]*model.Table, len(tables))
		e.ordered = tables
		for _, t := range tables {
			e.tables[t.Name] = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithScrollBatchSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.scrollBatch = n
		}
	}
}

func WithChunkSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// New creates an Executor over conn. Without WithTables the catalog is the
// system schema.
func New(conn connector.Connector, opts ...Option) *Executor {
	e := &Executor{
		conn:        conn,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		scrollBatch: DefaultScrollBatchSize,
		chunkSize:   DefaultChunkSize,
	}
	WithTables(model.SystemTables()...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dialect returns the SQL dialect of the underlying connector.
func (e *Executor) Dialect() query.Dialect { return e.conn }

// Ping checks that the database is reachable.
func (e *Executor) Ping(ctx context.Context) error { return e.conn.Ping(ctx) }

// Table returns the descriptor of a known table.
func (e *Executor) Table(name string) (*model.Table, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", ErrInvalidQuery, name)
	}
	return t, nil
}

// Tables returns the catalog in migration order.
func (e *Executor) Tables() []*model.Table { return e.ordered }

func (e *Executor) runner() runner {
	return runner{e: e, ext: e.conn.DB()}
}

// RunQuery returns the matching rows as column name to value maps, with
// driver representations converted to the column's kind.
func (e *Executor) RunQuery(ctx context.Context, q Query) ([]map[string]any, error) {
	return e.runner().query(ctx, q)
}

// RunQueryRows returns the selected column names and the raw row tuples.
func (e *Executor) RunQueryRows(ctx context.Context, q Query) ([]string, [][]any, error) {
	t, stmt, err := e.buildSelect(q)
	if err != nil {
		return nil, nil, err
	}
	rows, err := e.conn.DB().QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, nil, e.failed(stmt, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, e.failed(stmt, err)
	}
	out := make([][]any, 0)
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, nil, e.failed(stmt, err)
		}
		for i, v := range vals {
			vals[i] = cleanValue(t, cols[i], v)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, e.failed(stmt, err)
	}
	return cols, out, nil
}

// Count returns the number of matching rows, or of groups when groupBy is
// set.
func (e *Executor) Count(ctx context.Context, table string, where condition.Node, groupBy []string) (int64, error) {
	return e.runner().count(ctx, table, where, groupBy)
}

// ScrollQuery reads every row matching q in sequential batches of
// batchSize (the configured default when <= 0). The row count is read
// first; q.Limit and q.Offset are ignored. When q has no ordering the
// primary key, or the group columns, keep batches from overlapping.
func (e *Executor) ScrollQuery(ctx context.Context, q Query, batchSize int) ([]map[string]any, error) {
	if batchSize <= 0 {
		batchSize = e.scrollBatch
	}
	t, err := e.Table(q.Table)
	if err != nil {
		return nil, err
	}

	total, err := e.Count(ctx, q.Table, q.Where, q.GroupBy)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, min(total, int64(batchSize)))
	if total == 0 {
		return out, nil
	}

	q.OrderBy = stableOrder(t, q.OrderBy, q.GroupBy)
	batches := int(math.Ceil(float64(total) / float64(batchSize)))
	for i := 0; i < batches; i++ {
		q.Limit = batchSize
		q.Offset = i * batchSize
		rows, err := e.RunQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		e.logger.Debug("scroll batch", "table", q.Table, "batch", i+1, "of", batches, "rows", len(rows))
	}
	return out, nil
}

// stableOrder makes an ordering total so that consecutive pages neither
// overlap nor skip rows.
func stableOrder(t *model.Table, order, groupBy []string) []string {
	keys := groupBy
	if len(keys) == 0 {
		keys = []string{t.PrimaryKey}
	}
	seen := make(map[string]bool, len(order))
	for _, term := range order {
		if oc, err := query.ParseOrderTerm(term); err == nil {
			seen[oc.Column] = true
		}
	}
	out := append([]string(nil), order...)
	for _, k := range keys {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// Get returns the row whose primary key equals id.
func (e *Executor) Get(ctx context.Context, table string, id any, columns ...string) (map[string]any, error) {
	return e.runner().get(ctx, table, id, columns)
}

// Insert writes rows in one statement and returns the stored rows when the
// dialect can hand them back, otherwise the rows as given.
func (e *Executor) Insert(ctx context.Context, table string, rows []map[string]any) ([]map[string]any, error) {
	return e.runner().insert(ctx, table, rows)
}

// Update sets fields on every row matching where and returns the number of
// affected rows. An empty where is refused.
func (e *Executor) Update(ctx context.Context, table string, set map[string]any, where condition.Node) (int64, error) {
	return e.runner().update(ctx, table, set, where)
}

// Delete removes every row matching where. An empty where is refused.
func (e *Executor) Delete(ctx context.Context, table string, where condition.Node) (int64, error) {
	return e.runner().delete(ctx, table, where)
}

func (e *Executor) failed(stmt query.Statement, err error) error {
	e.logger.Debug("statement failed", "sql", stmt.SQL, "error", err)
	return fmt.Errorf("%w: %w", ErrQuery, err)
}

// buildSelect resolves q against the catalog and renders it.
func (e *Executor) buildSelect(q Query) (*model.Table, query.Statement, error) {
	t, err := e.Table(q.Table)
	if err != nil {
		return nil, query.Statement{}, err
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, query.Statement{}, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidQuery)
	}

	grouped := make(map[string]bool, len(q.GroupBy))
	for _, g := range q.GroupBy {
		if !t.HasColumn(g) {
			return nil, query.Statement{}, unknownColumn(t, g)
		}
		grouped[g] = true
	}

	cols := q.Columns
	switch {
	case len(cols) == 0 && len(q.GroupBy) > 0:
		cols = q.GroupBy
	case len(cols) == 0:
		cols = t.VisibleColumns()
	}
	for _, c := range cols {
		if !t.HasColumn(c) {
			return nil, query.Statement{}, unknownColumn(t, c)
		}
		if len(grouped) > 0 && !grouped[c] {
			return nil, query.Statement{}, fmt.Errorf("%w: column %q must appear in group by", ErrInvalidQuery, c)
		}
	}

	order := make([]query.OrderClause, 0, len(q.OrderBy))
	for _, term := range q.OrderBy {
		oc, err := query.ParseOrderTerm(term)
		if err != nil {
			return nil, query.Statement{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		countAlias := oc.Column == "count" && len(grouped) > 0
		if !t.HasColumn(oc.Column) && !countAlias {
			return nil, query.Statement{}, unknownColumn(t, oc.Column)
		}
		order = append(order, oc)
	}

	where, err := compile(t, q.Where)
	if err != nil {
		return nil, query.Statement{}, err
	}

	return t, query.BuildSelect(e.conn, query.Select{
		Table:   t.Name,
		Columns: cols,
		Where:   where,
		GroupBy: q.GroupBy,
		OrderBy: order,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}), nil
}

func compile(t *model.Table, node condition.Node) (condition.Expr, error) {
	expr, err := condition.Compile(t, node)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return expr, nil
}

func unknownColumn(t *model.Table, name string) error {
	return fmt.Errorf("%w: unknown column %q on %s", ErrInvalidQuery, name, t.Name)
}

// runner executes statements on either the pool or a transaction.
type runner struct {
	e   *Executor
	ext sqlx.ExtContext
}

func (r runner) query(ctx context.Context, q Query) ([]map[string]any, error) {
	t, stmt, err := r.e.buildSelect(q)
	if err != nil {
		return nil, err
	}
	return r.queryMaps(ctx, t, stmt)
}

func (r runner) queryMaps(ctx context.Context, t *model.Table, stmt query.Statement) ([]map[string]any, error) {
	rows, err := r.ext.QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, r.e.failed(stmt, err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, r.e.failed(stmt, err)
		}
		cleanRow(t, row)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, r.e.failed(stmt, err)
	}
	return out, nil
}

func (r runner) count(ctx context.Context, table string, where condition.Node, groupBy []string) (int64, error) {
	t, err := r.e.Table(table)
	if err != nil {
		return 0, err
	}
	for _, g := range groupBy {
		if !t.HasColumn(g) {
			return 0, unknownColumn(t, g)
		}
	}
	expr, err := compile(t, where)
	if err != nil {
		return 0, err
	}
	stmt := query.BuildCount(r.e.conn, t.Name, expr, groupBy)
	var n int64
	if err := r.ext.QueryRowxContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, r.e.failed(stmt, err)
	}
	return n, nil
}

func (r runner) get(ctx context.Context, table string, id any, columns []string) (map[string]any, error) {
	t, err := r.e.Table(table)
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, Query{
		Table:   table,
		Columns: columns,
		Where:   condition.Eq(t.PrimaryKey, id),
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %v: %w", table, id, ErrNotFound)
	}
	return rows[0], nil
}

func (r runner) insert(ctx context.Context, table string, rows []map[string]any) ([]map[string]any, error) {
	t, err := r.e.Table(table)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k := range row {
			if !t.HasColumn(k) {
				return nil, unknownColumn(t, k)
			}
		}
	}

	returning := query.SupportsReturning(r.e.conn)
	stmt, err := query.BuildInsert(r.e.conn, t.Name, rows, returning)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if returning {
		return r.queryMaps(ctx, t, stmt)
	}

	res, err := r.ext.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, r.e.failed(stmt, err)
	}
	// A single row with a generated key can be read back; otherwise the
	// rows are returned as written.
	if len(rows) == 1 {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			if stored, err := r.get(ctx, table, id, t.ColumnNames()); err == nil {
				return []map[string]any{stored}, nil
			}
		}
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func (r runner) update(ctx context.Context, table string, set map[string]any, where condition.Node) (int64, error) {
	t, err := r.e.Table(table)
	if err != nil {
		return 0, err
	}
	for k := range set {
		if !t.HasColumn(k) {
			return 0, unknownColumn(t, k)
		}
	}
	expr, err := compile(t, where)
	if err != nil {
		return 0, err
	}
	stmt, err := query.BuildUpdate(r.e.conn, t.Name, set, expr)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return r.exec(ctx, stmt)
}

func (r runner) delete(ctx context.Context, table string, where condition.Node) (int64, error) {
	t, err := r.e.Table(table)
	if err != nil {
		return 0, err
	}
	expr, err := compile(t, where)
	if err != nil {
		return 0, err
	}
	stmt, err := query.BuildDelete(r.e.conn, t.Name, expr)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return r.exec(ctx, stmt)
}

func (r runner) exec(ctx context.Context, stmt query.Statement) (int64, error) {
	res, err := r.ext.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, r.e.failed(stmt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", ErrQuery, err)
	}
	return n, nil
}

func rawStatement(sql string, args []any) query.Statement {
	return query.Statement{SQL: sql, Args: args}
}

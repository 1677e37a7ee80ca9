package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gatekeepdb/gatekeep/internal/condition"
)

// OpKind is the kind of a bulk operation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one step of a BulkDML call. Inserts write Data; updates set
// Set on the rows matching Where; deletes remove the rows matching Where.
type Operation struct {
	Table string
	Kind  OpKind
	Data  []map[string]any
	Set   map[string]any
	Where condition.Node
}

// Stat reports the outcome of one operation. Name is "<table>_<index>" so
// that repeated tables stay distinct.
type Stat struct {
	Name         string        `json:"name"`
	SuccessCount int64         `json:"success_count"`
	TotalCount   int64         `json:"total_count"`
	Elapsed      time.Duration `json:"elapsed"`
}

// BulkResult collects the per-operation stats and errors of a bulk call.
// Inserted holds, per operation, the rows written by inserts.
type BulkResult struct {
	Success  bool               `json:"success"`
	Errors   []string           `json:"errors"`
	Stats    []Stat             `json:"stats"`
	Inserted [][]map[string]any `json:"-"`
}

func (r *BulkResult) fail(msg string) {
	r.Success = false
	r.Errors = append(r.Errors, msg)
}

// Tx is a transaction bound to an Executor's catalog and dialect.
type Tx struct {
	runner
	tx *sqlx.Tx
}

// Query runs q inside the transaction.
func (t *Tx) Query(ctx context.Context, q Query) ([]map[string]any, error) {
	return t.query(ctx, q)
}

func (t *Tx) Get(ctx context.Context, table string, id any, columns ...string) (map[string]any, error) {
	return t.get(ctx, table, id, columns)
}

func (t *Tx) Insert(ctx context.Context, table string, rows []map[string]any) ([]map[string]any, error) {
	return t.insert(ctx, table, rows)
}

func (t *Tx) Update(ctx context.Context, table string, set map[string]any, where condition.Node) (int64, error) {
	return t.update(ctx, table, set, where)
}

func (t *Tx) Delete(ctx context.Context, table string, where condition.Node) (int64, error) {
	return t.delete(ctx, table, where)
}

// Exec runs a raw statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return t.exec(ctx, rawStatement(sql, args))
}

// InTx runs fn in one transaction, committing when fn returns nil and
// rolling back otherwise. fn must not use the Executor itself: on
// single-connection databases that would wait for the transaction forever.
func (e *Executor) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := e.conn.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrQuery, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&Tx{runner: runner{e: e, ext: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrQuery, err)
	}
	return nil
}

// BulkDML runs ops in order. With openTransaction every operation shares one
// transaction: the first failure is recorded, everything is rolled back and
// the failure is returned. Without it each operation stands alone and
// failures are only collected in the result.
func (e *Executor) BulkDML(ctx context.Context, ops []Operation, openTransaction bool) (BulkResult, error) {
	res := BulkResult{Success: true, Errors: []string{}, Stats: []Stat{}}
	if len(ops) == 0 {
		return res, fmt.Errorf("%w: at least one operation is required", ErrInvalidQuery)
	}

	if !openTransaction {
		r := e.runner()
		for i, op := range ops {
			stat, inserted, err := r.apply(ctx, i, op)
			res.Inserted = append(res.Inserted, inserted)
			res.Stats = append(res.Stats, stat)
			if err != nil {
				res.fail(operationError(i, op, err))
				e.logger.Error("bulk operation failed", "index", i, "table", op.Table, "kind", op.Kind, "error", err)
			}
		}
		return res, nil
	}

	err := e.InTx(ctx, func(tx *Tx) error {
		for i, op := range ops {
			stat, inserted, err := tx.apply(ctx, i, op)
			if err != nil {
				res.fail(operationError(i, op, err))
				return err
			}
			res.Stats = append(res.Stats, stat)
			res.Inserted = append(res.Inserted, inserted)
		}
		return nil
	})
	if err != nil {
		if res.Success {
			res.fail("bulk operations failed: " + err.Error())
		}
		res.Inserted = nil
		e.logger.Error("bulk transaction rolled back", "operations", len(ops), "error", err)
		return res, err
	}
	return res, nil
}

func operationError(i int, op Operation, err error) string {
	return fmt.Sprintf("operation %d failed (%s on %s): %v", i+1, op.Kind, op.Table, err)
}

// apply runs one operation. The returned Stat is complete even when the
// operation fails, with a zero SuccessCount.
func (r runner) apply(ctx context.Context, i int, op Operation) (stat Stat, inserted []map[string]any, err error) {
	start := time.Now()
	stat = Stat{Name: fmt.Sprintf("%s_%d", op.Table, i), TotalCount: 1}
	defer func() { stat.Elapsed = time.Since(start) }()

	switch op.Kind {
	case OpInsert:
		rows, err := r.insert(ctx, op.Table, op.Data)
		if err != nil {
			return stat, nil, err
		}
		inserted = rows
		stat.SuccessCount = int64(len(op.Data))
		stat.TotalCount = int64(len(op.Data))
	case OpUpdate:
		n, err := r.update(ctx, op.Table, op.Set, op.Where)
		if err != nil {
			return stat, nil, err
		}
		stat.SuccessCount = n
	case OpDelete:
		n, err := r.delete(ctx, op.Table, op.Where)
		if err != nil {
			return stat, nil, err
		}
		stat.SuccessCount = n
	default:
		return stat, nil, fmt.Errorf("%w: unsupported operation %q", ErrInvalidQuery, op.Kind)
	}
	return stat, inserted, nil
}

// BulkInsert writes rows in chunks of the configured chunk size, committing
// each chunk on its own. A failed chunk is recorded and the next one is
// still attempted.
func (e *Executor) BulkInsert(ctx context.Context, table string, rows []map[string]any) (BulkResult, error) {
	res := BulkResult{Success: true, Errors: []string{}}
	stat := Stat{Name: table + "_insert", TotalCount: int64(len(rows))}
	if _, err := e.Table(table); err != nil {
		return res, err
	}
	start := time.Now()

	for i := 0; i < len(rows); i += e.chunkSize {
		chunk := rows[i:min(i+e.chunkSize, len(rows))]
		n := i/e.chunkSize + 1
		err := e.InTx(ctx, func(tx *Tx) error {
			_, err := tx.Insert(ctx, table, chunk)
			return err
		})
		if err != nil {
			res.fail(fmt.Sprintf("chunk %d: %v", n, err))
			e.logger.Error("bulk insert chunk failed", "table", table, "chunk", n, "error", err)
			continue
		}
		stat.SuccessCount += int64(len(chunk))
		e.logger.Debug("bulk insert chunk", "table", table, "chunk", n, "rows", len(chunk))
	}

	stat.Elapsed = time.Since(start)
	res.Stats = []Stat{stat}
	e.logger.Info("bulk insert completed", "table", table, "inserted", stat.SuccessCount, "total", stat.TotalCount, "elapsed", stat.Elapsed)
	return res, nil
}

// BulkUpdate updates each row by its key column, in chunks committed one at
// a time. Every row must carry key; the remaining fields are set.
func (e *Executor) BulkUpdate(ctx context.Context, table string, rows []map[string]any, key string) (BulkResult, error) {
	res := BulkResult{Success: true, Errors: []string{}}
	stat := Stat{Name: table + "_update", TotalCount: int64(len(rows))}
	t, err := e.Table(table)
	if err != nil {
		return res, err
	}
	if key == "" {
		key = t.PrimaryKey
	}
	if !t.HasColumn(key) {
		return res, unknownColumn(t, key)
	}
	start := time.Now()

	for i := 0; i < len(rows); i += e.chunkSize {
		chunk := rows[i:min(i+e.chunkSize, len(rows))]
		n := i/e.chunkSize + 1
		var affected int64
		var skipped []string
		err := e.InTx(ctx, func(tx *Tx) error {
			affected, skipped = 0, nil
			for j, row := range chunk {
				id, ok := row[key]
				if !ok {
					skipped = append(skipped, fmt.Sprintf("row %d: missing key %q", i+j, key))
					continue
				}
				set := make(map[string]any, len(row)-1)
				for k, v := range row {
					if k != key {
						set[k] = v
					}
				}
				c, err := tx.Update(ctx, table, set, condition.Eq(key, id))
				if err != nil {
					return err
				}
				affected += c
			}
			return nil
		})
		if err != nil {
			res.fail(fmt.Sprintf("chunk %d: %v", n, err))
			e.logger.Error("bulk update chunk failed", "table", table, "chunk", n, "error", err)
			continue
		}
		for _, s := range skipped {
			res.fail(s)
		}
		stat.SuccessCount += affected
		e.logger.Debug("bulk update chunk", "table", table, "chunk", n, "affected", affected, "rows", len(chunk))
	}

	stat.Elapsed = time.Since(start)
	res.Stats = []Stat{stat}
	e.logger.Info("bulk update completed", "table", table, "affected", stat.SuccessCount, "total", stat.TotalCount, "elapsed", stat.Elapsed)
	return res, nil
}

// ExecSQL runs raw statements. It serves migrations and seeding only; no
// caller-supplied SQL reaches it.
func (e *Executor) ExecSQL(ctx context.Context, statements []string, openTransaction bool) (BulkResult, error) {
	res := BulkResult{Success: true, Errors: []string{}, Stats: []Stat{}}
	if len(statements) == 0 {
		return res, fmt.Errorf("%w: at least one statement is required", ErrInvalidQuery)
	}

	run := func(r runner) error {
		for i, s := range statements {
			start := time.Now()
			n, err := r.exec(ctx, rawStatement(s, nil))
			if err != nil {
				res.fail(fmt.Sprintf("statement %d failed: %v", i+1, err))
				if openTransaction {
					return err
				}
				continue
			}
			res.Stats = append(res.Stats, Stat{
				Name:         fmt.Sprintf("sql_%d", i),
				SuccessCount: n,
				TotalCount:   1,
				Elapsed:      time.Since(start),
			})
		}
		return nil
	}

	if !openTransaction {
		return res, run(e.runner())
	}
	if err := e.InTx(ctx, func(tx *Tx) error { return run(tx.runner) }); err != nil {
		return res, err
	}
	return res, nil
}

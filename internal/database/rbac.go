package database

import (
	"context"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// RoleModuleMask returns the permission mask an active role holds on a
// module. A missing row, or an inactive role, yields 0.
func (e *Executor) RoleModuleMask(ctx context.Context, roleID, moduleID int64) (model.Bitmask, error) {
	d := e.conn
	w := condition.NewWriter(query.ConditionDialect(d))
	rmp, role := d.QuoteIdentifier("rmp"), d.QuoteIdentifier("r")
	col := func(alias, name string) string { return alias + "." + d.QuoteIdentifier(name) }

	w.WriteString("SELECT " + col(rmp, "permissions") +
		" FROM " + d.TableName(model.TableRoleModulePermission) + " " + rmp +
		" JOIN " + d.TableName(model.TableRole) + " " + role + " ON " + col(role, "id") + " = " + col(rmp, "role_id") +
		" WHERE " + col(rmp, "role_id") + " = ")
	w.WriteString(w.Arg(roleID))
	w.WriteString(" AND " + col(rmp, "module_id") + " = ")
	w.WriteString(w.Arg(moduleID))
	w.WriteString(" AND " + col(role, "is_active") + " = ")
	w.WriteString(w.Arg(true))
	stmt := query.Statement{SQL: w.String(), Args: w.Args()}

	rows, err := e.conn.DB().QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, e.failed(stmt, err)
	}
	defer rows.Close()
	var mask int64
	if rows.Next() {
		if err := rows.Scan(&mask); err != nil {
			return 0, e.failed(stmt, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, e.failed(stmt, err)
	}
	return model.Bitmask(mask), nil
}

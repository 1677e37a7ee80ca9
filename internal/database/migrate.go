package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
)

// Migrate creates every catalog table that does not exist yet, in catalog
// order.
func (e *Executor) Migrate(ctx context.Context) error {
	stmts := make([]string, len(e.ordered))
	for i, t := range e.ordered {
		stmts[i] = query.BuildCreateTable(e.conn, t)
	}
	if _, err := e.ExecSQL(ctx, stmts, true); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	e.logger.Info("schema migrated", "tables", len(stmts), "driver", e.conn.DriverName())
	return nil
}

// Seed ids. Modules and the admin role are referenced by fixed ids.
const (
	AdminRoleID          = 1
	SystemModuleID       = 10000
	SeedAdminUsername    = "admin"
	SeedAdminEmail       = "admin@example.com"
	systemModuleName     = "System Management"
	systemModulePathRoot = "/system"
)

// SeedPermissions are created in this order; their bits follow it.
var SeedPermissions = []string{"READ", "WRITE", "DELETE", "UPDATE"}

// SeedModules are the children of the system module, with ids counting up
// from SystemModuleID+1.
var SeedModules = []string{"User", "Role", "Permission", "Module"}

// Seed writes the initial permissions, modules, admin role and admin user
// in one transaction. It does nothing and returns false when permissions
// already exist, unless force is set, in which case every system table is
// emptied first.
func (e *Executor) Seed(ctx context.Context, adminPasswordHash string, force bool) (bool, error) {
	n, err := e.Count(ctx, model.TablePermission, nil, nil)
	if err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	if n > 0 && !force {
		e.logger.Info("seed skipped: permissions already present", "count", n)
		return false, nil
	}
	if n > 0 {
		if err := e.clearSystemTables(ctx); err != nil {
			return false, fmt.Errorf("seed: %w", err)
		}
	}

	err = e.InTx(ctx, func(tx *Tx) error {
		return seed(ctx, tx, adminPasswordHash)
	})
	if err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	e.logger.Info("seed data written", "permissions", len(SeedPermissions), "modules", len(SeedModules)+1)
	return true, nil
}

func (e *Executor) clearSystemTables(ctx context.Context) error {
	tables := model.SystemTables()
	stmts := make([]string, 0, len(tables))
	for i := len(tables) - 1; i >= 0; i-- {
		stmts = append(stmts, "DELETE FROM "+e.conn.TableName(tables[i].Name))
	}
	_, err := e.ExecSQL(ctx, stmts, true)
	return err
}

func seed(ctx context.Context, tx *Tx, adminPasswordHash string) error {
	now := time.Now().UTC()
	stamp := func(row map[string]any) map[string]any {
		row["created_at"] = now
		row["updated_at"] = now
		return row
	}

	perms := make([]map[string]any, len(SeedPermissions))
	var full model.Bitmask
	for i, name := range SeedPermissions {
		bit := model.Bitmask(1) << i
		full = full.Add(bit)
		perms[i] = stamp(map[string]any{"name": name, "permission_bit": int64(bit)})
	}
	if _, err := tx.Insert(ctx, model.TablePermission, perms); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	stored, err := tx.Query(ctx, Query{Table: model.TablePermission, Columns: []string{"id"}, OrderBy: []string{"permission_bit"}})
	if err != nil {
		return err
	}

	if err := tx.insertExplicit(ctx, model.TableRole, []map[string]any{
		stamp(map[string]any{"id": int64(AdminRoleID), "name": model.AdminRoleName, "is_active": true, "description": "Administrator"}),
	}); err != nil {
		return fmt.Errorf("admin role: %w", err)
	}

	if err := tx.insertExplicit(ctx, model.TableModule, []map[string]any{
		stamp(map[string]any{
			"id": int64(SystemModuleID), "name": systemModuleName, "url": systemModulePathRoot,
			"icon": "system", "parent_id": nil, "path": systemModulePathRoot,
		}),
	}); err != nil {
		return fmt.Errorf("system module: %w", err)
	}
	children := make([]map[string]any, len(SeedModules))
	for i, name := range SeedModules {
		slug := strings.ToLower(name)
		children[i] = stamp(map[string]any{
			"id": int64(SystemModuleID + 1 + i), "name": name, "url": systemModulePathRoot + "/" + slug,
			"icon": slug, "parent_id": int64(SystemModuleID), "path": systemModulePathRoot + "/" + slug,
		})
	}
	if err := tx.insertExplicit(ctx, model.TableModule, children); err != nil {
		return fmt.Errorf("modules: %w", err)
	}

	var templates, grants []map[string]any
	for i := range SeedModules {
		moduleID := int64(SystemModuleID + 1 + i)
		for _, p := range stored {
			templates = append(templates, stamp(map[string]any{"module_id": moduleID, "permission_id": p["id"]}))
		}
		grants = append(grants, stamp(map[string]any{
			"role_id": int64(AdminRoleID), "module_id": moduleID, "permissions": int64(full),
		}))
	}
	if _, err := tx.Insert(ctx, model.TableModulePermission, templates); err != nil {
		return fmt.Errorf("module permissions: %w", err)
	}
	if _, err := tx.Insert(ctx, model.TableRoleModulePermission, grants); err != nil {
		return fmt.Errorf("role permissions: %w", err)
	}

	if _, err := tx.Insert(ctx, model.TableUser, []map[string]any{stamp(map[string]any{
		"username": SeedAdminUsername, "email": SeedAdminEmail, "password_hash": adminPasswordHash,
		"is_active": true, "locale": "zh-CN", "role_id": int64(AdminRoleID),
	})}); err != nil {
		return fmt.Errorf("admin user: %w", err)
	}
	return nil
}

// insertExplicit inserts rows that carry their own primary keys, wrapped
// in whatever the dialect needs to accept them and keep its sequence in
// step.
func (t *Tx) insertExplicit(ctx context.Context, table string, rows []map[string]any) error {
	desc, err := t.e.Table(table)
	if err != nil {
		return err
	}
	before, after := t.e.conn.ExplicitIDStatements(table, desc.PrimaryKey)
	for _, s := range before {
		if _, err := t.Exec(ctx, s); err != nil {
			return err
		}
	}
	if _, err := t.Insert(ctx, table, rows); err != nil {
		return err
	}
	for _, s := range after {
		if _, err := t.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

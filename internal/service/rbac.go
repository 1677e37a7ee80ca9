package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/permission"
)

// RBACStore is the storage the role-permission service uses.
// *database.Executor satisfies it.
type RBACStore interface {
	RunQuery(ctx context.Context, q database.Query) ([]map[string]any, error)
	BulkDML(ctx context.Context, ops []database.Operation, openTransaction bool) (database.BulkResult, error)
}

// ModulePermissions names the permissions granted on one module.
type ModulePermissions struct {
	Module      string   `json:"module"`
	Permissions []string `json:"permissions"`
}

// RolePermissions is the full permission set of one role.
type RolePermissions struct {
	RoleID            int64               `json:"role_id"`
	ModulePermissions []ModulePermissions `json:"module_permissions"`
}

// SetRolePermissionsRequest replaces the permission sets of several roles.
type SetRolePermissionsRequest struct {
	Roles []RolePermissions `json:"roles"`
}

// SubModulePermissions is a leaf module in a role's permission tree.
type SubModulePermissions struct {
	Module      string   `json:"module"`
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
}

// ParentModulePermissions groups the leaf modules under one parent.
type ParentModulePermissions struct {
	Module      string                 `json:"module"`
	Description *string                `json:"description"`
	SubModules  []SubModulePermissions `json:"sub_modules"`
}

// RoleModulePermissions is a role's permissions as a two-level tree.
type RoleModulePermissions struct {
	RoleID            int64                     `json:"role_id"`
	ModulePermissions []ParentModulePermissions `json:"module_permissions"`
}

// MenuItem is one node of the navigation tree.
type MenuItem struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         *string    `json:"url"`
	Icon        *string    `json:"icon"`
	Path        *string    `json:"path"`
	Permissions []string   `json:"permissions,omitempty"`
	Children    []MenuItem `json:"children,omitempty"`
}

// RBACService manages role permission rows.
type RBACService struct {
	store  RBACStore
	cache  *permission.Cache
	logger *slog.Logger
}

// NewRBACService returns a role-permission service. logger may be nil.
func NewRBACService(store RBACStore, cache *permission.Cache, logger *slog.Logger) *RBACService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RBACService{store: store, cache: cache, logger: logger}
}

// SetRolePermissions replaces the permission rows of every role in req.
// The whole request is validated before anything is written; the rows are
// then deleted and re-inserted in one transaction.
func (s *RBACService) SetRolePermissions(ctx context.Context, req SetRolePermissionsRequest) (database.BulkResult, error) {
	if len(req.Roles) == 0 {
		return database.BulkResult{}, fmt.Errorf("%w: no roles given", ErrValidation)
	}

	roleIDs := make([]int64, 0, len(req.Roles))
	seen := make(map[int64]bool, len(req.Roles))
	for _, r := range req.Roles {
		if seen[r.RoleID] {
			return database.BulkResult{}, fmt.Errorf("%w: role %d listed more than once", ErrValidation, r.RoleID)
		}
		seen[r.RoleID] = true
		roleIDs = append(roleIDs, r.RoleID)
	}
	if err := s.checkRoles(ctx, roleIDs); err != nil {
		return database.BulkResult{}, err
	}

	templates, err := s.templates(ctx)
	if err != nil {
		return database.BulkResult{}, err
	}

	var rows []map[string]any
	for _, r := range req.Roles {
		masks := make(map[int64]model.Bitmask)
		var order []int64
		for _, mp := range r.ModulePermissions {
			moduleID := s.cache.ModuleID(mp.Module)
			if moduleID == 0 {
				return database.BulkResult{}, fmt.Errorf("%w: module %q does not exist", ErrValidation, mp.Module)
			}
			mask, missing := s.cache.PermissionMask(mp.Permissions)
			if len(missing) > 0 {
				return database.BulkResult{}, fmt.Errorf("%w: permission %q does not exist", ErrValidation, strings.Join(missing, ", "))
			}
			if allowed, ok := templates[moduleID]; ok && !allowed.Has(mask) {
				extra := s.cache.PermissionNames(mask.Remove(allowed))
				return database.BulkResult{}, fmt.Errorf("%w: permission %q does not apply to module %q", ErrValidation, strings.Join(extra, ", "), mp.Module)
			}
			if _, dup := masks[moduleID]; !dup {
				order = append(order, moduleID)
			}
			masks[moduleID] = masks[moduleID].Add(mask)
		}
		for _, moduleID := range order {
			if masks[moduleID] == 0 {
				continue
			}
			rows = append(rows, map[string]any{
				"role_id":     r.RoleID,
				"module_id":   moduleID,
				"permissions": int64(masks[moduleID]),
			})
		}
	}

	ops := []database.Operation{{
		Table: model.TableRoleModulePermission,
		Kind:  database.OpDelete,
		Where: &condition.Leaf{Field: "role_id", Operator: condition.OpIn, Value: roleIDs},
	}}
	if len(rows) > 0 {
		ops = append(ops, database.Operation{
			Table: model.TableRoleModulePermission,
			Kind:  database.OpInsert,
			Data:  rows,
		})
	}
	res, err := s.store.BulkDML(ctx, ops, true)
	if err != nil {
		return res, fmt.Errorf("replace role permissions: %w", err)
	}
	s.logger.Info("role permissions replaced", "roles", roleIDs, "rows", len(rows))
	return res, nil
}

// checkRoles fails when any id is missing or names the admin role.
func (s *RBACService) checkRoles(ctx context.Context, ids []int64) error {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TableRole,
		Columns: []string{"id", "name"},
		Where:   &condition.Leaf{Field: "id", Operator: condition.OpIn, Value: ids},
	})
	if err != nil {
		return fmt.Errorf("look up roles: %w", err)
	}
	found := make(map[int64]bool, len(rows))
	for _, r := range rows {
		if name, _ := r["name"].(string); strings.EqualFold(name, model.AdminRoleName) {
			return fmt.Errorf("%w: permissions of the %s role cannot be modified", ErrValidation, model.AdminRoleName)
		}
		found[asInt64(r["id"])] = true
	}
	for _, id := range ids {
		if !found[id] {
			return fmt.Errorf("%w: role %d does not exist", ErrValidation, id)
		}
	}
	return nil
}

// templates returns, per module, the union of bits its module_permission
// rows allow. Modules without rows are absent and accept any permission.
func (s *RBACService) templates(ctx context.Context) (map[int64]model.Bitmask, error) {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TableModulePermission,
		Columns: []string{"module_id", "permission_id"},
	})
	if err != nil {
		return nil, fmt.Errorf("load module permissions: %w", err)
	}
	bitByID := make(map[int64]int64)
	for _, p := range s.cache.Permissions() {
		bitByID[p.ID] = p.PermissionBit
	}
	out := make(map[int64]model.Bitmask)
	for _, r := range rows {
		moduleID := asInt64(r["module_id"])
		out[moduleID] = out[moduleID].Add(model.Bitmask(bitByID[asInt64(r["permission_id"])]))
	}
	return out, nil
}

// RoleMasks returns the stored mask of every module the role has a row for.
func (s *RBACService) RoleMasks(ctx context.Context, roleID int64) (map[int64]model.Bitmask, error) {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TableRoleModulePermission,
		Columns: []string{"module_id", "permissions"},
		Where:   condition.Eq("role_id", roleID),
	})
	if err != nil {
		return nil, fmt.Errorf("load role permissions: %w", err)
	}
	out := make(map[int64]model.Bitmask, len(rows))
	for _, r := range rows {
		out[asInt64(r["module_id"])] = model.Bitmask(asInt64(r["permissions"]))
	}
	return out, nil
}

// GetRolePermissions returns the role's permissions grouped by parent
// module. A leaf module without a parent is listed as its own parent.
func (s *RBACService) GetRolePermissions(ctx context.Context, roleID int64) (RoleModulePermissions, error) {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TableRole,
		Columns: []string{"id"},
		Where:   condition.Eq("id", roleID),
		Limit:   1,
	})
	if err != nil {
		return RoleModulePermissions{}, fmt.Errorf("look up role: %w", err)
	}
	if len(rows) == 0 {
		return RoleModulePermissions{}, fmt.Errorf("role %d: %w", roleID, database.ErrNotFound)
	}
	masks, err := s.RoleMasks(ctx, roleID)
	if err != nil {
		return RoleModulePermissions{}, err
	}

	out := RoleModulePermissions{RoleID: roleID, ModulePermissions: []ParentModulePermissions{}}
	byParent := make(map[int64]int)
	for _, m := range s.cache.Modules() {
		mask, ok := masks[m.ID]
		if !ok || mask == 0 {
			continue
		}
		parentID := m.ID
		if m.ParentID != nil {
			parentID = *m.ParentID
		}
		idx, ok := byParent[parentID]
		if !ok {
			parent := ParentModulePermissions{Module: m.Name, Description: m.Description}
			if parentID != m.ID {
				if pm, found := s.module(parentID); found {
					parent.Module, parent.Description = pm.Name, pm.Description
				}
			}
			out.ModulePermissions = append(out.ModulePermissions, parent)
			idx = len(out.ModulePermissions) - 1
			byParent[parentID] = idx
		}
		out.ModulePermissions[idx].SubModules = append(out.ModulePermissions[idx].SubModules, SubModulePermissions{
			Module:      m.Name,
			Description: m.Description,
			Permissions: s.cache.PermissionNames(mask),
		})
	}
	return out, nil
}

func (s *RBACService) module(id int64) (model.Module, bool) {
	for _, m := range s.cache.Modules() {
		if m.ID == id {
			return m, true
		}
	}
	return model.Module{}, false
}

// Menu returns the module tree the role can reach: every module the role
// holds a non-zero mask on, under its parent.
func (s *RBACService) Menu(ctx context.Context, roleID int64) ([]MenuItem, error) {
	masks, err := s.RoleMasks(ctx, roleID)
	if err != nil {
		return nil, err
	}
	menu := []MenuItem{}
	index := make(map[int64]int)
	for _, m := range s.cache.Modules() {
		mask := masks[m.ID]
		if mask == 0 {
			continue
		}
		item := MenuItem{ID: m.ID, Name: m.Name, URL: m.URL, Icon: m.Icon, Path: m.Path, Permissions: s.cache.PermissionNames(mask)}
		if m.ParentID == nil {
			if i, ok := index[m.ID]; ok {
				menu[i].Permissions = item.Permissions
				continue
			}
			menu = append(menu, item)
			index[m.ID] = len(menu) - 1
			continue
		}
		i, ok := index[*m.ParentID]
		if !ok {
			parent, found := s.module(*m.ParentID)
			if !found {
				continue
			}
			menu = append(menu, MenuItem{ID: parent.ID, Name: parent.Name, URL: parent.URL, Icon: parent.Icon, Path: parent.Path})
			i = len(menu) - 1
			index[parent.ID] = i
		}
		menu[i].Children = append(menu[i].Children, item)
	}
	sort.SliceStable(menu, func(i, j int) bool { return menu[i].ID < menu[j].ID })
	return menu, nil
}

// NextPermissionBit returns the lowest bit not used by any stored
// permission. It reads storage rather than the cache so that two creates
// in a row never reuse a bit.
func (s *RBACService) NextPermissionBit(ctx context.Context) (int64, error) {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TablePermission,
		Columns: []string{"permission_bit"},
	})
	if err != nil {
		return 0, fmt.Errorf("load permission bits: %w", err)
	}
	var used model.Bitmask
	for _, r := range rows {
		used = used.Add(model.Bitmask(asInt64(r["permission_bit"])))
	}
	next := used.LowestUnset()
	if next == 0 {
		return 0, fmt.Errorf("%w: every permission bit is in use", ErrValidation)
	}
	return int64(next), nil
}

// RevokePermission clears the bit of permission id from every stored role
// mask, inside tx. It runs before the permission row is deleted so that a
// later permission reusing the bit starts out granted to no one.
func (s *RBACService) RevokePermission(ctx context.Context, tx *database.Tx, id int64) error {
	row, err := tx.Get(ctx, model.TablePermission, id, "permission_bit")
	if err != nil {
		return fmt.Errorf("look up permission: %w", err)
	}
	bit := model.Bitmask(asInt64(row["permission_bit"]))
	if bit == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, database.Query{
		Table:   model.TableRoleModulePermission,
		Columns: []string{"id", "permissions"},
	})
	if err != nil {
		return fmt.Errorf("load role permissions: %w", err)
	}
	revoked := 0
	for _, r := range rows {
		mask := model.Bitmask(asInt64(r["permissions"]))
		if !mask.HasAny(bit) {
			continue
		}
		if _, err := tx.Update(ctx, model.TableRoleModulePermission,
			map[string]any{"permissions": int64(mask.Remove(bit))},
			condition.Eq("id", asInt64(r["id"]))); err != nil {
			return fmt.Errorf("revoke permission bit: %w", err)
		}
		revoked++
	}
	if revoked > 0 {
		s.logger.Info("permission revoked from roles", "permission_id", id, "bit", int64(bit), "rows", revoked)
	}
	return nil
}

// GuardRole fails with ErrValidation when id is the admin role, whose name,
// state and permission rows are fixed.
func (s *RBACService) GuardRole(ctx context.Context, id int64) error {
	rows, err := s.store.RunQuery(ctx, database.Query{
		Table:   model.TableRole,
		Columns: []string{"name"},
		Where:   condition.Eq("id", id),
		Limit:   1,
	})
	if err != nil {
		return fmt.Errorf("look up role: %w", err)
	}
	if len(rows) > 0 {
		if name, _ := rows[0]["name"].(string); strings.EqualFold(name, model.AdminRoleName) {
			return fmt.Errorf("%w: the %s role cannot be modified", ErrValidation, model.AdminRoleName)
		}
	}
	return nil
}

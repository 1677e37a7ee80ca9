package handler

import (
	"context"
	"fmt"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// Permission names used by the system resources.
const (
	PermRead   = "READ"
	PermWrite  = "WRITE"
	PermUpdate = "UPDATE"
	PermDelete = "DELETE"
)

func crud() (create, readOne, readFilter, update, del *OperationConfig) {
	return &OperationConfig{Permissions: []string{PermWrite}},
		&OperationConfig{Permissions: []string{PermRead}},
		&OperationConfig{Permissions: []string{PermRead}},
		&OperationConfig{Permissions: []string{PermUpdate}},
		&OperationConfig{Permissions: []string{PermDelete}}
}

// SystemResources declares the CRUD endpoints of the system tables.
func SystemResources(auth *service.AuthService, rbac *service.RBACService) []Resource {
	user := Resource{Name: "user", Table: model.UserTable, Module: "User", ExtraFields: []string{"password"}}
	user.Create, user.ReadOne, user.ReadFilter, user.Update, user.Delete = crud()
	user.BeforeCreate = func(_ context.Context, row map[string]any) error {
		pw, _ := row["password"].(string)
		if pw == "" {
			return fmt.Errorf("%w: field %q is required", service.ErrValidation, "password")
		}
		return hashInto(auth, row, pw)
	}
	user.BeforeUpdate = func(_ context.Context, _ int64, row map[string]any) error {
		pw, ok := row["password"]
		if !ok {
			return nil
		}
		s, _ := pw.(string)
		if s == "" {
			return fmt.Errorf("%w: password must be a non-empty string", service.ErrValidation)
		}
		return hashInto(auth, row, s)
	}

	role := Resource{Name: "role", Table: model.RoleTable, Module: "Role"}
	role.Create, role.ReadOne, role.ReadFilter, role.Update, role.Delete = crud()
	role.BeforeUpdate = func(ctx context.Context, id int64, _ map[string]any) error { return rbac.GuardRole(ctx, id) }
	role.BeforeDelete = rbac.GuardRole

	module := Resource{Name: "module", Table: model.ModuleTable, Module: "Module", RefreshCache: true}
	module.Create, module.ReadOne, module.ReadFilter, module.Update, module.Delete = crud()

	perm := Resource{
		Name:           "permission",
		Table:          model.PermissionTable,
		Module:         "Permission",
		RefreshCache:   true,
		ReadOnlyFields: []string{"permission_bit"},
	}
	perm.Create, perm.ReadOne, perm.ReadFilter, perm.Update, perm.Delete = crud()
	perm.BeforeCreate = func(ctx context.Context, row map[string]any) error {
		bit, err := rbac.NextPermissionBit(ctx)
		if err != nil {
			return err
		}
		row["permission_bit"] = bit
		return nil
	}
	perm.OnDelete = rbac.RevokePermission

	opLog := Resource{
		Name:       "operation_log",
		Table:      model.OperationLogTable,
		Module:     "User",
		ReadOne:    &OperationConfig{Permissions: []string{PermRead}},
		ReadFilter: &OperationConfig{Permissions: []string{PermRead}},
	}

	return []Resource{user, role, module, perm, opLog}
}

func hashInto(auth *service.AuthService, row map[string]any, password string) error {
	if _, err := coerce(model.Column{Name: "password", Kind: model.KindString, Size: 72}, password); err != nil {
		return err
	}
	h, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	row["password_hash"] = h
	delete(row, "password")
	return nil
}

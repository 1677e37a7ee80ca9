package database

import (
	"context"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/model"
)

func TestMigrateIsIdempotent(t *testing.T) {
	e := newTestExecutor(t)
	if err := e.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSeedBitsFollowInsertionOrder(t *testing.T) {
	orders := [][]string{
		{"UPDATE", "READ", "DELETE", "WRITE"},
		{"DELETE", "WRITE", "UPDATE", "READ"},
	}
	for _, order := range orders {
		t.Run(order[0], func(t *testing.T) {
			saved := SeedPermissions
			SeedPermissions = order
			t.Cleanup(func() { SeedPermissions = saved })

			e := newSeededExecutor(t)
			rows, err := e.RunQuery(context.Background(), Query{
				Table:   model.TablePermission,
				Columns: []string{"name", "permission_bit"},
			})
			if err != nil {
				t.Fatal(err)
			}
			bits := make(map[string]int64, len(rows))
			for _, r := range rows {
				bits[r["name"].(string)] = r["permission_bit"].(int64)
			}
			for i, name := range order {
				if bits[name] != int64(1)<<i {
					t.Errorf("%s bit = %d, want %d", name, bits[name], int64(1)<<i)
				}
			}
		})
	}
}

func TestSeed(t *testing.T) {
	e := newSeededExecutor(t)
	ctx := context.Background()

	perms, err := e.RunQuery(ctx, Query{Table: model.TablePermission, OrderBy: []string{"id"}})
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range perms {
		if p["name"] != SeedPermissions[i] || p["permission_bit"] != int64(1)<<i {
			t.Errorf("permission %d = %v", i, p)
		}
	}

	mod, err := e.Get(ctx, model.TableModule, int64(SystemModuleID+1))
	if err != nil {
		t.Fatal(err)
	}
	if mod["name"] != "User" || mod["parent_id"] != int64(SystemModuleID) || mod["url"] != "/system/user" {
		t.Errorf("user module = %v", mod)
	}

	admin, err := e.RunQuery(ctx, Query{
		Table:   model.TableUser,
		Columns: []string{"username", "password_hash", "role_id"},
		Where:   condition.Eq("username", SeedAdminUsername),
	})
	if err != nil || len(admin) != 1 {
		t.Fatalf("admin user: %v %v", admin, err)
	}
	if admin[0]["password_hash"] != "hash" || admin[0]["role_id"] != int64(AdminRoleID) {
		t.Errorf("admin = %v", admin[0])
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	e := newSeededExecutor(t)
	ctx := context.Background()

	seeded, err := e.Seed(ctx, "other", false)
	if err != nil || seeded {
		t.Errorf("second Seed = %v, %v; want skipped", seeded, err)
	}

	seeded, err = e.Seed(ctx, "forced", true)
	if err != nil || !seeded {
		t.Fatalf("forced Seed = %v, %v", seeded, err)
	}
	n, err := e.Count(ctx, model.TableUser, nil, nil)
	if err != nil || n != 1 {
		t.Errorf("users after forced seed = %d, %v", n, err)
	}
}

func TestRoleModuleMask(t *testing.T) {
	e := newSeededExecutor(t)
	ctx := context.Background()

	mask, err := e.RoleModuleMask(ctx, AdminRoleID, SystemModuleID+1)
	if err != nil {
		t.Fatal(err)
	}
	if mask != 15 {
		t.Errorf("admin mask = %d, want 15", mask)
	}

	roles, err := e.Insert(ctx, model.TableRole, []map[string]any{{"name": "viewer"}})
	if err != nil {
		t.Fatal(err)
	}
	viewer := roles[0]["id"].(int64)
	if mask, err := e.RoleModuleMask(ctx, viewer, SystemModuleID+1); err != nil || mask != 0 {
		t.Errorf("viewer mask = %d, %v; want 0", mask, err)
	}

	if _, err := e.Update(ctx, model.TableRole, map[string]any{"is_active": false}, condition.Eq("id", int64(AdminRoleID))); err != nil {
		t.Fatal(err)
	}
	if mask, err := e.RoleModuleMask(ctx, AdminRoleID, SystemModuleID+1); err != nil || mask != 0 {
		t.Errorf("inactive admin mask = %d, %v; want 0", mask, err)
	}
}

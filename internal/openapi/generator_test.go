package openapi

import (
	"context"
	"slices"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/model"
)

func testResources() []Resource {
	all := []Operation{
		{Kind: OpCreate, Permissions: []string{"WRITE"}},
		{Kind: OpReadOne, Permissions: []string{"READ"}},
		{Kind: OpReadFilter, Permissions: []string{"READ"}},
		{Kind: OpUpdate, Permissions: []string{"UPDATE"}},
		{Kind: OpDelete, Permissions: []string{"DELETE"}},
	}
	return []Resource{
		{Name: "user", Table: model.UserTable, Module: "User", Operations: all, ExtraFields: []string{"password"}},
		{Name: "permission", Table: model.PermissionTable, Module: "Permission", Operations: all, ReadOnlyFields: []string{"permission_bit"}},
		{Name: "operation_log", Table: model.OperationLogTable, Module: "User", Operations: []Operation{
			{Kind: OpReadOne, Permissions: []string{"READ"}},
			{Kind: OpReadFilter, Permissions: []string{"READ"}},
		}},
	}
}

func TestMapKind(t *testing.T) {
	tests := []struct {
		kind       model.ColumnKind
		wantType   string
		wantFormat string
	}{
		{model.KindInt, "integer", "int64"},
		{model.KindFloat, "number", "double"},
		{model.KindBool, "boolean", ""},
		{model.KindString, "string", ""},
		{model.KindText, "string", ""},
		{model.KindTime, "string", "date-time"},
		{"geometry", "string", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := MapKind(tt.kind)
			if got.Type != tt.wantType || got.Format != tt.wantFormat {
				t.Errorf("MapKind(%q) = %+v, want {%s %s}", tt.kind, got, tt.wantType, tt.wantFormat)
			}
		})
	}
}

func TestGenerateValidates(t *testing.T) {
	doc := Generate(testResources(), "http://localhost:8000", "1.2.3")
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("generated document is invalid: %v", err)
	}
	if doc.Info.Version != "1.2.3" {
		t.Errorf("Info.Version = %q", doc.Info.Version)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8000" {
		t.Errorf("Servers = %v", doc.Servers)
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Error("bearerAuth security scheme missing")
	}
}

func TestGenerateResourcePaths(t *testing.T) {
	doc := Generate(testResources(), "", "dev")

	user := doc.Paths.Value("/api/user")
	if user == nil || user.Get == nil || user.Post == nil {
		t.Fatalf("/api/user = %+v", user)
	}
	if user.Post.Description != "Requires WRITE on module User." {
		t.Errorf("create description = %q", user.Post.Description)
	}
	item := doc.Paths.Value("/api/user/{id}")
	if item == nil || item.Get == nil || item.Put == nil || item.Delete == nil {
		t.Fatalf("/api/user/{id} = %+v", item)
	}
	if doc.Paths.Value("/api/user/filter") == nil {
		t.Error("filter path missing")
	}

	// Read-only resources get no write operations.
	if p := doc.Paths.Value("/api/operation_log"); p == nil || p.Post != nil || p.Get == nil {
		t.Errorf("/api/operation_log = %+v", p)
	}
	if p := doc.Paths.Value("/api/operation_log/{id}"); p == nil || p.Put != nil || p.Delete != nil {
		t.Errorf("/api/operation_log/{id} = %+v", p)
	}

	for _, p := range []string{"/api/sys/auth/login", "/api/sys/auth/me", "/api/sys/auth/menu", "/api/role/permissions", "/api/role/{id}/permissions", "/health"} {
		if doc.Paths.Value(p) == nil {
			t.Errorf("system path %s missing", p)
		}
	}
}

func TestGenerateSchemasHideSecrets(t *testing.T) {
	doc := Generate(testResources(), "", "dev")

	record := doc.Components.Schemas["User"].Value
	if _, ok := record.Properties["password_hash"]; ok {
		t.Error("record schema exposes password_hash")
	}
	if p := record.Properties["id"]; p == nil || !p.Value.ReadOnly {
		t.Error("id should be read-only")
	}

	create := doc.Components.Schemas["UserCreate"].Value
	for _, f := range []string{"id", "created_at", "password_hash"} {
		if _, ok := create.Properties[f]; ok {
			t.Errorf("create schema accepts %s", f)
		}
	}
	if _, ok := create.Properties["password"]; !ok {
		t.Error("create schema lacks password")
	}
	for _, f := range []string{"username", "email", "role_id", "password"} {
		if !slices.Contains(create.Required, f) {
			t.Errorf("%s not required on create: %v", f, create.Required)
		}
	}
	if slices.Contains(create.Required, "is_active") {
		t.Error("is_active has a default and must not be required")
	}
	if n := create.Properties["username"].Value.MaxLength; n == nil || *n != 64 {
		t.Errorf("username max length = %v", n)
	}

	update := doc.Components.Schemas["UserUpdate"].Value
	if len(update.Required) != 0 {
		t.Errorf("update schema requires %v", update.Required)
	}

	perm := doc.Components.Schemas["PermissionCreate"].Value
	if _, ok := perm.Properties["permission_bit"]; ok {
		t.Error("permission_bit is assigned by the server")
	}
}

func TestSchemaName(t *testing.T) {
	tests := map[string]string{
		"user":          "User",
		"operation_log": "OperationLog",
		"a-b_c":         "ABC",
		"":              "",
	}
	for in, want := range tests {
		if got := schemaName(in); got != want {
			t.Errorf("schemaName(%q) = %q, want %q", in, got, want)
		}
	}
}

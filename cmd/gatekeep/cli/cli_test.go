package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/config"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

func TestParseGrants(t *testing.T) {
	got, err := parseGrants([]string{"User=read, write", "Role=", " Module = DELETE"})
	if err != nil {
		t.Fatal(err)
	}
	want := []service.ModulePermissions{
		{Module: "User", Permissions: []string{"READ", "WRITE"}},
		{Module: "Role", Permissions: nil},
		{Module: "Module", Permissions: []string{"DELETE"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseGrants = %+v", got)
	}

	for _, bad := range []string{"User", "=READ"} {
		if _, err := parseGrants([]string{bad}); err == nil {
			t.Errorf("parseGrants(%q) accepted", bad)
		}
	}
}

func TestParseRoleID(t *testing.T) {
	if id, err := parseRoleID("7"); err != nil || id != 7 {
		t.Errorf("parseRoleID(7) = %d, %v", id, err)
	}
	for _, bad := range []string{"0", "-1", "x"} {
		if _, err := parseRoleID(bad); err == nil {
			t.Errorf("parseRoleID(%q) accepted", bad)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf).Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("log output = %q", out)
	}
}

// useConfig points --config at a fresh file for the test.
func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeep.yaml")
	if err := config.Write(path, cfg); err != nil {
		t.Fatal(err)
	}
	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })
}

func TestLoadConfigAppliesEnvironment(t *testing.T) {
	useConfig(t, config.Default())
	t.Setenv("GATEKEEP_SERVER_PORT", "9100")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
}

func TestStackMigrateAndSeed(t *testing.T) {
	cfg := config.Default()
	cfg.Databases[0].DSN = filepath.Join(t.TempDir(), "gatekeep.db")
	cfg.Auth.BcryptCost = 4
	cfg.Auth.AdminPassword = "s3cret-admin"
	cfg.Auth.JWTSecret = "test-secret-0123456789abcdef0123456789"
	useConfig(t, cfg)

	err := withStack(context.Background(), func(ctx context.Context, st *stack) error {
		seeded, err := st.migrateAndSeed(ctx, false)
		if err != nil || !seeded {
			t.Fatalf("first seed = %v, %v", seeded, err)
		}
		if again, err := st.migrateAndSeed(ctx, false); err != nil || again {
			t.Errorf("second seed = %v, %v", again, err)
		}
		if err := st.cache.Load(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := st.auth.Login(ctx, database.SeedAdminUsername, "s3cret-admin"); err != nil {
			t.Errorf("login with configured admin password: %v", err)
		}
		n, err := st.exec.Count(ctx, model.TableRole, nil, nil)
		if err != nil || n != 1 {
			t.Errorf("roles = %d, %v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Databases[0].DSN); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestVersionListsDrivers(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd("1.2.0", "abc123", "2026-01-01")
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"gatekeep 1.2.0 (abc123", "mssql, mysql, postgres, snowflake, sqlite", "system tables: 7"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/gatekeepdb/gatekeep/internal/config"
	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/connector/mssql"
	"github.com/gatekeepdb/gatekeep/internal/connector/mysql"
	"github.com/gatekeepdb/gatekeep/internal/connector/postgres"
	"github.com/gatekeepdb/gatekeep/internal/connector/snowflake"
	"github.com/gatekeepdb/gatekeep/internal/connector/sqlite"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/permission"
	"github.com/gatekeepdb/gatekeep/internal/service"
	"github.com/gatekeepdb/gatekeep/internal/telemetry"
)

const defaultConfigFile = "gatekeep.yaml"

// defaultAdminPassword seeds the admin user when auth.admin_password is
// unset.
const defaultAdminPassword = "admin"

// loadConfig reads --config (or ./gatekeep.yaml when present, else the
// defaults) and applies GATEKEEP_* environment overrides.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.Overlay(cfg, config.NewViper())
	return cfg, nil
}

// newLogger builds the process logger from the logging section. --dev
// forces debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if devMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newRegistry creates a connector registry with all supported database drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", postgres.New)
	registry.RegisterDriver("mysql", mysql.New)
	registry.RegisterDriver("mssql", mssql.New)
	registry.RegisterDriver("snowflake", snowflake.New)
	registry.RegisterDriver("sqlite", sqlite.New)
	return registry
}

// stack is everything a command needs to work on the RBAC tables.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *connector.Registry
	exec     *database.Executor
	cache    *permission.Cache
	auth     *service.AuthService
	rbac     *service.RBACService
}

// openStack connects every configured database and builds the executor
// over the default one. The permission cache is not loaded; callers that
// authorize must call cache.Load after migrating.
func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*stack, error) {
	registry := newRegistry()
	if err := registry.ConnectAll(ctx, cfg.Databases); err != nil {
		registry.CloseAll()
		return nil, fmt.Errorf("connect databases: %w", err)
	}
	conn, err := registry.Default()
	if err != nil {
		registry.CloseAll()
		return nil, err
	}
	logger.Info("databases connected", "names", registry.Names())

	exec := database.New(conn,
		database.WithLogger(logger),
		database.WithScrollBatchSize(cfg.Query.ScrollBatchSize),
		database.WithChunkSize(cfg.Query.ChunkSize),
	)
	cache := permission.New(exec, logger)
	auth := service.NewAuthService(exec, cache, service.AuthConfig{
		Secret:     cfg.Auth.JWTSecret,
		Expiry:     cfg.Auth.JWTExpiry,
		Issuer:     cfg.Auth.Issuer,
		BcryptCost: cfg.Auth.BcryptCost,
	}, metrics, logger)

	return &stack{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		exec:     exec,
		cache:    cache,
		auth:     auth,
		rbac:     service.NewRBACService(exec, cache, logger),
	}, nil
}

func (s *stack) Close() { s.registry.CloseAll() }

// migrateAndSeed creates the schema and seeds it unless it already holds
// data (or force is set).
func (s *stack) migrateAndSeed(ctx context.Context, force bool) (bool, error) {
	if err := s.exec.Migrate(ctx); err != nil {
		return false, fmt.Errorf("migrate: %w", err)
	}
	password := s.cfg.Auth.AdminPassword
	if password == "" {
		password = defaultAdminPassword
	}
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	seeded, err := s.exec.Seed(ctx, hash, force)
	if err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	if seeded && s.cfg.Auth.AdminPassword == "" {
		s.logger.Warn("admin user seeded with the default password; change it or set auth.admin_password")
	}
	return seeded, nil
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readSecret prompts for a value on the terminal without echo. With
// confirm, the value must be typed twice.
func readSecret(prompt string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt on; pass the value with a flag or environment variable")
	}
	fmt.Fprint(os.Stderr, prompt+": ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(prompt), err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm "+strings.ToLower(prompt)+": ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read confirmation: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("values do not match")
		}
	}
	return string(first), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/config"
	"github.com/gatekeepdb/gatekeep/internal/server"
	"github.com/gatekeepdb/gatekeep/internal/telemetry"
)

// devJWTSecret signs tokens in --dev mode when no secret is configured.
const devJWTSecret = "gatekeep-dev-secret-change-me"

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gatekeep API server",
		Long: `Start the HTTP server. The schema is migrated and, on an empty database,
seeded with the admin role, the admin user and the system modules.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8000, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	if devMode && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devJWTSecret
		logger.Warn("using the development JWT secret; set auth.jwt_secret before deploying")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	maxBody, err := config.ParseByteSize(cfg.Server.MaxBodySize)
	if err != nil {
		return err
	}

	metrics := telemetry.New(appVersion, appCommit)
	st, err := openStack(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	// ListenAndServe closes the registry on a clean shutdown.

	if _, err := st.migrateAndSeed(ctx, false); err != nil {
		st.Close()
		return err
	}
	if err := st.cache.Load(ctx); err != nil {
		st.Close()
		return fmt.Errorf("load permission cache: %w", err)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	srvCfg.CORSOrigins = cfg.Server.CORS.Origins
	srvCfg.CORSMethods = cfg.Server.CORS.Methods
	srvCfg.MaxBodySize = maxBody
	srvCfg.RateLimit = cfg.Server.RateLimit

	srv := server.New(srvCfg, server.Deps{
		Registry: st.registry,
		Executor: st.exec,
		Auth:     st.auth,
		RBAC:     st.rbac,
		Cache:    st.cache,
		Metrics:  metrics,
		Version:  versionString(),
		Logger:   logger,
	})

	fmt.Printf("→ gatekeep %s\n", versionString())
	fmt.Printf("→ Listening on http://%s\n", cfg.Addr())
	fmt.Printf("→ OpenAPI:    http://%s/openapi.json\n", cfg.Addr())
	fmt.Printf("→ Metrics:    http://%s/metrics\n", cfg.Addr())
	fmt.Printf("→ Connected databases: %d\n", len(st.registry.Names()))
	fmt.Println()

	if err := srv.ListenAndServe(); err != nil {
		st.Close()
		return err
	}
	return nil
}

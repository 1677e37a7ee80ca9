package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/handler"
	gmcp "github.com/gatekeepdb/gatekeep/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that gives AI agents read access
to the RBAC tables and the permission model. Supports stdio (default) and
HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients. Logs go to stderr.

In HTTP mode, the server listens on --addr (default mcp.addr).`,
		Example: `  gatekeep mcp                                # stdio mode
  gatekeep mcp --transport http --addr :3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.MCP.Transport = transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.MCP.Addr = addr
			}
			if cfg.MCP.Transport != "stdio" && cfg.MCP.Transport != "http" {
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", cfg.MCP.Transport)
			}

			// stdout carries the protocol in stdio mode.
			logger := newLogger(cfg.Logging, os.Stderr)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := openStack(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.cache.Load(ctx); err != nil {
				return fmt.Errorf("load permission cache: %w", err)
			}

			srv := gmcp.NewMCPServer(gmcp.Deps{
				Executor:  st.exec,
				Auth:      st.auth,
				RBAC:      st.rbac,
				Cache:     st.cache,
				Resources: handler.Describe(handler.SystemResources(st.auth, st.rbac)),
				Version:   versionString(),
				Logger:    logger,
			})

			if cfg.MCP.Transport == "http" {
				logger.Info("starting MCP HTTP server", "addr", cfg.MCP.Addr)
				return srv.ServeHTTP(cfg.MCP.Addr)
			}
			return srv.ServeStdio()
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "HTTP listen address (only used with --transport http)")

	return cmd
}

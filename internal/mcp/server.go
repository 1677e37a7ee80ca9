package mcp

import (
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/openapi"
	"github.com/gatekeepdb/gatekeep/internal/permission"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// MCPServer exposes the resources and the permission model to MCP clients.
// Every tool is read-only; writes go through the HTTP API where they are
// authorized per role.
type MCPServer struct {
	exec      *database.Executor
	auth      *service.AuthService
	rbac      *service.RBACService
	cache     *permission.Cache
	resources map[string]openapi.Resource
	order     []string
	logger    *slog.Logger
	server    *server.MCPServer
}

// Deps groups what the tools read from.
type Deps struct {
	Executor  *database.Executor
	Auth      *service.AuthService
	RBAC      *service.RBACService
	Cache     *permission.Cache
	Resources []openapi.Resource
	Version   string
	Logger    *slog.Logger
}

// NewMCPServer creates an MCPServer with every tool and resource
// registered. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(d Deps) *MCPServer {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &MCPServer{
		exec:      d.Executor,
		auth:      d.Auth,
		rbac:      d.RBAC,
		cache:     d.Cache,
		resources: make(map[string]openapi.Resource, len(d.Resources)),
		logger:    logger,
	}
	for _, r := range d.Resources {
		s.resources[r.Name] = r
		s.order = append(s.order, r.Name)
	}

	mcpServer := server.NewMCPServer(
		"gatekeep",
		d.Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin and stdout.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}

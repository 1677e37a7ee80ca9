package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const modulesURI = "gatekeep://modules"

// registerResources adds the read-only documents clients can load into
// their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			modulesURI,
			"Modules and permissions",
			mcp.WithResourceDescription(
				"Every module with its parent, and every permission with its bit, "+
					"as currently loaded by the permission cache.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleModulesResource,
	)
}

func (s *MCPServer) handleModulesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(map[string]any{
		"modules":     s.cache.Modules(),
		"permissions": s.cache.Permissions(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal modules: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      modulesURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/openapi"
	"github.com/gatekeepdb/gatekeep/internal/query"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// Query bounds for query_resource.
const (
	defaultQueryLimit = 25
	maxQueryLimit     = 1000
)

func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("list_resources",
			mcp.WithDescription(
				"List every resource exposed by the API with its table, guarding module "+
					"and the operations it supports. Use this first to discover what exists.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListResources,
	)

	srv.AddTool(
		mcp.NewTool("describe_resource",
			mcp.WithDescription(
				"Describe one resource: its readable columns with types and nullability, "+
					"and the permissions each operation requires.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("resource",
				mcp.Required(),
				mcp.Description("Resource name, e.g. \"user\""),
			),
		),
		s.handleDescribeResource,
	)

	srv.AddTool(
		mcp.NewTool("query_resource",
			mcp.WithDescription(
				"Read records of a resource with optional filtering, field selection, "+
					"ordering and pagination.\n\n"+
					"Filter syntax:\n"+
					"  - Comparison: id > 3, name = 'admin'\n"+
					"  - Logical: is_active = true AND role_id = 2\n"+
					"  - IN: id IN (1, 2, 3)\n"+
					"  - LIKE: username LIKE 'a%'\n"+
					"  - NULL: phone_number IS NULL\n"+
					"  - BETWEEN: id BETWEEN 1 AND 10\n"+
					"  - CONTAINS / STARTS WITH / ENDS WITH: email ENDS WITH '@example.com'\n\n"+
					"Order syntax: 'column ASC, other_column DESC'",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("resource",
				mcp.Required(),
				mcp.Description("Resource name"),
			),
			mcp.WithString("filter",
				mcp.Description("Filter expression"),
			),
			mcp.WithArray("fields",
				mcp.Description("Columns to return. Omit for every readable column."),
				mcp.WithStringItems(),
			),
			mcp.WithString("order",
				mcp.Description("Order clause"),
			),
			mcp.WithNumber("limit",
				mcp.Description(fmt.Sprintf("Maximum number of records (default %d, max %d)", defaultQueryLimit, maxQueryLimit)),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of records to skip"),
			),
		),
		s.handleQueryResource,
	)

	srv.AddTool(
		mcp.NewTool("role_permissions",
			mcp.WithDescription(
				"Show the permissions of a role grouped by parent module.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("role_id",
				mcp.Required(),
				mcp.Description("Role id"),
			),
		),
		s.handleRolePermissions,
	)

	srv.AddTool(
		mcp.NewTool("check_permission",
			mcp.WithDescription(
				"Decide whether a role holds every listed permission on a module, "+
					"exactly as the API would before running a request.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("role_id",
				mcp.Required(),
				mcp.Description("Role id"),
			),
			mcp.WithString("module",
				mcp.Required(),
				mcp.Description("Module name, e.g. \"User\""),
			),
			mcp.WithArray("permissions",
				mcp.Required(),
				mcp.Description("Permission names, e.g. [\"READ\", \"UPDATE\"]"),
				mcp.WithStringItems(),
			),
		),
		s.handleCheckPermission,
	)
}

type operationInfo struct {
	Operation   string   `json:"operation"`
	Permissions []string `json:"permissions"`
}

type resourceInfo struct {
	Name       string          `json:"name"`
	Table      string          `json:"table"`
	Module     string          `json:"module"`
	Operations []operationInfo `json:"operations"`
}

func describe(r openapi.Resource) resourceInfo {
	info := resourceInfo{Name: r.Name, Table: r.Table.Name, Module: r.Module}
	for _, op := range r.Operations {
		info.Operations = append(info.Operations, operationInfo{Operation: op.Kind, Permissions: op.Permissions})
	}
	return info
}

func (s *MCPServer) handleListResources(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := make([]resourceInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, describe(s.resources[name]))
	}
	return successJSON(out)
}

func (s *MCPServer) resource(request mcp.CallToolRequest) (openapi.Resource, error) {
	name, err := requireString(request, "resource")
	if err != nil {
		return openapi.Resource{}, err
	}
	r, ok := s.resources[name]
	if !ok {
		return openapi.Resource{}, fmt.Errorf("resource %q not found (available: %s)", name, strings.Join(s.order, ", "))
	}
	return r, nil
}

func (s *MCPServer) handleDescribeResource(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := s.resource(request)
	if err != nil {
		return toolError("%v", err)
	}

	type columnInfo struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Nullable bool   `json:"nullable"`
		ReadOnly bool   `json:"read_only,omitempty"`
	}
	cols := make([]columnInfo, 0, len(r.Table.Columns))
	for _, c := range r.Table.Columns {
		if c.Hidden {
			continue
		}
		cols = append(cols, columnInfo{Name: c.Name, Type: string(c.Kind), Nullable: c.Nullable, ReadOnly: !c.Writable()})
	}
	return successJSON(map[string]any{
		"resource": describe(r),
		"columns":  cols,
	})
}

func (s *MCPServer) handleQueryResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := s.resource(request)
	if err != nil {
		return toolError("%v", err)
	}
	if _, ok := r.Supports(openapi.OpReadFilter); !ok {
		return toolError("resource %q cannot be listed", r.Name)
	}

	q := database.Query{
		Table:   r.Table.Name,
		Columns: optionalStringSlice(request, "fields"),
		Limit:   clamp(optionalInt(request, "limit", defaultQueryLimit), 1, maxQueryLimit),
		Offset:  max(optionalInt(request, "offset", 0), 0),
	}
	if len(q.Columns) == 0 {
		q.Columns = r.Table.VisibleColumns()
	}
	if f := optionalString(request, "filter"); f != "" {
		if q.Where, err = query.ParseFilter(f); err != nil {
			return toolError("invalid filter: %v", err)
		}
	}
	if o := optionalString(request, "order"); o != "" {
		if q.OrderBy, err = query.ParseOrderClause(o); err != nil {
			return toolError("invalid order: %v", err)
		}
	}

	for _, names := range [][]string{q.Columns, q.OrderBy, condition.Fields(q.Where)} {
		for _, n := range names {
			if term, err := query.ParseOrderTerm(n); err == nil {
				n = term.Column
			}
			if c, ok := r.Table.Column(n); ok && c.Hidden {
				return toolError("column %q is not readable", n)
			}
		}
	}

	rows, err := s.exec.RunQuery(ctx, q)
	if err != nil {
		if errors.Is(err, database.ErrInvalidQuery) || errors.Is(err, condition.ErrInvalidCondition) {
			return toolError("%v", err)
		}
		s.logger.Error("mcp query failed", "resource", r.Name, "error", err)
		return toolError("query failed")
	}
	return successJSON(map[string]any{
		"records": rows,
		"count":   len(rows),
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func (s *MCPServer) handleRolePermissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roleID, err := requireInt(request, "role_id")
	if err != nil {
		return toolError("%v", err)
	}
	perms, err := s.rbac.GetRolePermissions(ctx, roleID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return toolError("role %d does not exist", roleID)
		}
		return toolError("failed to load role permissions: %v", err)
	}
	return successJSON(perms)
}

func (s *MCPServer) handleCheckPermission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roleID, err := requireInt(request, "role_id")
	if err != nil {
		return toolError("%v", err)
	}
	module, err := requireString(request, "module")
	if err != nil {
		return toolError("%v", err)
	}
	perms := optionalStringSlice(request, "permissions")
	if len(perms) == 0 {
		return toolError("missing required parameter %q", "permissions")
	}

	req := service.RequiredAuth{Module: module, Permissions: perms}
	moduleID, mask, err := s.auth.Resolve(req)
	if err != nil {
		return toolError("%v", err)
	}
	return successJSON(map[string]any{
		"role_id":   roleID,
		"module":    module,
		"module_id": moduleID,
		"mask":      int64(mask),
		"allowed":   s.auth.CheckPermission(ctx, roleID, moduleID, mask),
	})
}

package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage RBAC roles",
		Long:  "Create and list roles, and grant them permissions on modules.",
	}

	cmd.AddCommand(newRoleListCmd())
	cmd.AddCommand(newRoleCreateCmd())
	cmd.AddCommand(newRolePermissionsCmd())

	return cmd
}

// ---------- role list ----------

func newRoleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				roles, err := st.exec.RunQuery(ctx, database.Query{
					Table:   model.TableRole,
					Columns: []string{"id", "name", "description", "is_active"},
					OrderBy: []string{"id"},
				})
				if err != nil {
					return fmt.Errorf("list roles: %w", err)
				}
				if jsonOutput {
					return printJSON(roles)
				}

				fmt.Printf("%-8s %-20s %-40s %-8s\n", "ID", "NAME", "DESCRIPTION", "ACTIVE")
				fmt.Printf("%-8s %-20s %-40s %-8s\n", "--", "----", "-----------", "------")
				for _, r := range roles {
					desc, _ := r["description"].(string)
					if len(desc) > 38 {
						desc = desc[:35] + "..."
					}
					fmt.Printf("%-8v %-20v %-40s %-8s\n", r["id"], r["name"], desc, yesNo(r["is_active"]))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func yesNo(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "yes"
		}
	case int64:
		if x != 0 {
			return "yes"
		}
	}
	return "no"
}

// ---------- role create ----------

func newRoleCreateCmd() *cobra.Command {
	var (
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new role",
		Example: `  gatekeep role create --name auditor --description "Reads users and roles"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				now := time.Now().UTC()
				row := map[string]any{"name": name, "is_active": true, "created_at": now, "updated_at": now}
				if description != "" {
					row["description"] = description
				}
				rows, err := st.exec.Insert(ctx, model.TableRole, []map[string]any{row})
				if err != nil {
					return fmt.Errorf("create role: %w", err)
				}
				fmt.Printf("Created role %q (id=%v)\n", name, rows[0]["id"])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Role name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Role description")
	cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- role permissions ----------

func newRolePermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permissions",
		Aliases: []string{"perms"},
		Short:   "Show or replace the permissions of a role",
	}
	cmd.AddCommand(newRolePermissionsShowCmd())
	cmd.AddCommand(newRolePermissionsSetCmd())
	return cmd
}

func newRolePermissionsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <role-id>",
		Short: "Show the permissions a role holds per module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleID, err := parseRoleID(args[0])
			if err != nil {
				return err
			}
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				if err := st.cache.Load(ctx); err != nil {
					return err
				}
				perms, err := st.rbac.GetRolePermissions(ctx, roleID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(perms)
				}
				if len(perms.ModulePermissions) == 0 {
					fmt.Printf("Role %d holds no permissions.\n", roleID)
					return nil
				}
				for _, parent := range perms.ModulePermissions {
					fmt.Println(parent.Module)
					for _, sub := range parent.SubModules {
						fmt.Printf("  %-20s %s\n", sub.Module, strings.Join(sub.Permissions, ", "))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newRolePermissionsSetCmd() *cobra.Command {
	var grants []string

	cmd := &cobra.Command{
		Use:   "set <role-id>",
		Short: "Replace every permission of a role",
		Long: `Replace the permissions of a role with the given grants. A role given no
grants loses every permission. The admin role cannot be changed.`,
		Example: `  gatekeep role permissions set 2 --grant User=READ,UPDATE --grant Role=READ`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleID, err := parseRoleID(args[0])
			if err != nil {
				return err
			}
			mps, err := parseGrants(grants)
			if err != nil {
				return err
			}
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				if err := st.cache.Load(ctx); err != nil {
					return err
				}
				res, err := st.rbac.SetRolePermissions(ctx, service.SetRolePermissionsRequest{
					Roles: []service.RolePermissions{{RoleID: roleID, ModulePermissions: mps}},
				})
				if err != nil {
					return err
				}
				fmt.Printf("Updated role %d (%d statements)\n", roleID, len(res.Stats))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&grants, "grant", nil, "Module=PERM[,PERM...] (repeatable)")

	return cmd
}

func parseRoleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid role id %q", s)
	}
	return id, nil
}

// parseGrants turns "User=READ,WRITE" flags into module permissions.
func parseGrants(grants []string) ([]service.ModulePermissions, error) {
	out := make([]service.ModulePermissions, 0, len(grants))
	for _, g := range grants {
		module, perms, ok := strings.Cut(g, "=")
		module = strings.TrimSpace(module)
		if !ok || module == "" {
			return nil, fmt.Errorf("invalid grant %q; want Module=PERM[,PERM...]", g)
		}
		var names []string
		for _, p := range strings.Split(perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				names = append(names, strings.ToUpper(p))
			}
		}
		out = append(out, service.ModulePermissions{Module: module, Permissions: names})
	}
	return out, nil
}

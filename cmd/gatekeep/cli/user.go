package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Create and list the users who log in to the API.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
		roleID   int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  gatekeep user create --username alice --email alice@example.com --role-id 2 --password secret
  gatekeep user create --username alice --email alice@example.com --role-id 2  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd.Context(), username, email, password, roleID)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().Int64Var(&roleID, "role-id", 0, "Role id (required)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("role-id")

	return cmd
}

func runUserCreate(ctx context.Context, username, email, password string, roleID int64) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	if password == "" {
		pw, err := readSecret("Password", true)
		if err != nil {
			return err
		}
		password = pw
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	return withStack(ctx, func(ctx context.Context, st *stack) error {
		if _, err := st.exec.Get(ctx, model.TableRole, roleID, "id"); err != nil {
			return fmt.Errorf("role %d: %w", roleID, err)
		}
		hash, err := st.auth.HashPassword(password)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		rows, err := st.exec.Insert(ctx, model.TableUser, []map[string]any{{
			"username":      username,
			"email":         email,
			"password_hash": hash,
			"role_id":       roleID,
			"is_active":     true,
			"created_at":    now,
			"updated_at":    now,
		}})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Printf("Created user %q (id=%v, role=%d)\n", username, rows[0]["id"], roleID)
		return nil
	})
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				users, err := st.exec.RunQuery(ctx, database.Query{
					Table:   model.TableUser,
					Columns: []string{"id", "username", "email", "role_id", "is_active", "last_login_time"},
					OrderBy: []string{"id"},
				})
				if err != nil {
					return fmt.Errorf("list users: %w", err)
				}
				if jsonOutput {
					return printJSON(users)
				}

				if len(users) == 0 {
					fmt.Println("No users. Run 'gatekeep db seed' or 'gatekeep user create'.")
					return nil
				}
				fmt.Printf("%-8s %-20s %-30s %-8s %-8s\n", "ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE")
				fmt.Printf("%-8s %-20s %-30s %-8s %-8s\n", "--", "--------", "-----", "----", "------")
				for _, u := range users {
					fmt.Printf("%-8v %-20v %-30v %-8v %-8s\n", u["id"], u["username"], u["email"], u["role_id"], yesNo(u["is_active"]))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

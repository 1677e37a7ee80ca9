package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Aliases: []string{"database"},
		Short:   "Manage the RBAC database",
		Long:    "Create and seed the system tables, and inspect the configured databases.",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBSeedCmd())
	cmd.AddCommand(newDBListCmd())
	cmd.AddCommand(newDBPingCmd())

	return cmd
}

// ---------- db init ----------

func newDBInitCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the system tables in the default database",
		Example: `  gatekeep db init
  gatekeep db init --seed   # also insert the admin role, user and modules`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				if seed {
					seeded, err := st.migrateAndSeed(ctx, false)
					if err != nil {
						return err
					}
					reportSeed(seeded)
					return nil
				}
				if err := st.exec.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Println("System tables are up to date.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "Seed the initial data after migrating")

	return cmd
}

// ---------- db seed ----------

func newDBSeedCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the initial permissions, modules, admin role and admin user",
		Long: `Seed the system tables. Seeding is skipped when permissions already exist.
With --force every system table is cleared first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, st *stack) error {
				seeded, err := st.migrateAndSeed(ctx, force)
				if err != nil {
					return err
				}
				reportSeed(seeded)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear the system tables and seed again")

	return cmd
}

func reportSeed(seeded bool) {
	if seeded {
		fmt.Println("Seeded the system tables.")
		return
	}
	fmt.Println("System tables already hold data; nothing seeded (use --force to reseed).")
}

// ---------- db list ----------

func newDBListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List the configured databases",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			type dbRow struct {
				Name   string `json:"name"`
				Driver string `json:"driver"`
				Schema string `json:"schema,omitempty"`
			}
			rows := make([]dbRow, len(cfg.Databases))
			for i, db := range cfg.Databases {
				rows[i] = dbRow{Name: db.Name, Driver: db.Driver, Schema: db.Schema}
			}
			if jsonOutput {
				return printJSON(rows)
			}

			fmt.Printf("%-20s %-12s %-12s\n", "NAME", "DRIVER", "SCHEMA")
			fmt.Printf("%-20s %-12s %-12s\n", "----", "------", "------")
			for _, r := range rows {
				fmt.Printf("%-20s %-12s %-12s\n", r.Name, r.Driver, r.Schema)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- db ping ----------

func newDBPingCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     "ping",
		Aliases: []string{"test"},
		Short:   "Connect to every configured database and ping it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return withStack(ctx, func(ctx context.Context, st *stack) error {
				results := st.registry.PingAll(ctx)
				names := make([]string, 0, len(results))
				for name := range results {
					names = append(names, name)
				}
				sort.Strings(names)

				failed := 0
				for _, name := range names {
					if err := results[name]; err != nil {
						failed++
						fmt.Printf("  ✗ %-20s %v\n", name, err)
						continue
					}
					fmt.Printf("  ✓ %-20s ok\n", name)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d databases unreachable", failed, len(names))
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall timeout")

	return cmd
}

// withStack loads the configuration, connects the databases and runs fn.
func withStack(ctx context.Context, fn func(ctx context.Context, st *stack) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStack(ctx, cfg, newLogger(cfg.Logging, os.Stderr), nil)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	devMode    bool
	appVersion string // set in Execute, used by serve and openapi
	appCommit  string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	appCommit = commit
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "Role-based access control backend over SQL databases",
		Long: `gatekeep serves users, roles, modules and permissions over a REST API.

Every endpoint is guarded by a bitmask permission check against the caller's
role. Tables are exposed through generated CRUD routes with a JSON condition
tree for filtering, and an MCP server gives AI agents read access to the same
data under the same rules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gatekeep.yaml when present)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode (debug logging)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newRoleCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newSecretCmd())

	return cmd
}

package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/model"
)

type buildInfo struct {
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	Built     string   `json:"built"`
	Go        string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Drivers   []string `json:"drivers"`
	SysTables int      `json:"system_tables"`
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information and supported database drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildInfo{
				Version:   version,
				Commit:    commit,
				Built:     date,
				Go:        runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
				Drivers:   newRegistry().Drivers(),
				SysTables: len(model.SystemTables()),
			}
			if jsonOutput {
				return printJSON(info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gatekeep %s (%s, built %s)\n", info.Version, info.Commit, info.Built)
			fmt.Fprintf(out, "  %s on %s\n", info.Go, info.Platform)
			fmt.Fprintf(out, "  drivers: %s\n", strings.Join(info.Drivers, ", "))
			fmt.Fprintf(out, "  system tables: %d\n", info.SysTables)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/handler"
	"github.com/gatekeepdb/gatekeep/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3 document of the API: login, the caller's profile and
menu, role permissions and the generated CRUD routes of every system table.
No database connection is needed.`,
		Example: `  gatekeep openapi                 # print to stdout
  gatekeep openapi -o openapi.json # write to file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := openapi.Generate(handler.Describe(handler.SystemResources(nil, nil)), baseURL, versionString())
			if err := doc.Validate(cmd.Context()); err != nil {
				return fmt.Errorf("generated document is invalid: %w", err)
			}

			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			if outputFile == "" {
				fmt.Println(string(out))
				return nil
			}
			if err := os.WriteFile(outputFile, out, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise (default: relative)")

	return cmd
}

package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(version, commit, date string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				info := map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": date,
					"go_version": runtime.Version(),
					"platform":   runtime.GOOS + "/" + runtime.GOARCH,
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "iotgate %s (commit %s, built %s, %s)\n",
				version, commit, date, runtime.Version())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version as JSON")

	return cmd
}

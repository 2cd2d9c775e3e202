package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotmesh/iotgate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI specification",
		Long:  "Print the gateway's OpenAPI 3.0 document as JSON to stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(openapi.Spec(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal spec: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	return cmd
}

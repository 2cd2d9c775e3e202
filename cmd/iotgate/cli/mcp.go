package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	var (
		orgID     string
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the standalone MCP server",
		Long: `Start a Model Context Protocol server scoped to one organization so AI
agents can query device status, fetch readings, and trigger automation
endpoints. The stdio transport is for local agent hosts; the http
transport exposes a streamable HTTP endpoint.`,
		Example: `  iotgate mcp --org <org-id>
  iotgate mcp --org <org-id> --transport http --port 8765`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			registry := backend.NewDefault(st, logger)
			srv := mcpserver.New(st, registry, orgID, logger)

			switch transport {
			case "stdio":
				return srv.ServeStdio()
			case "http":
				return srv.ServeHTTP(fmt.Sprintf(":%d", port))
			default:
				return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
			}
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID the server is scoped to (required)")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio or http")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for the http transport")
	cmd.MarkFlagRequired("org")

	return cmd
}

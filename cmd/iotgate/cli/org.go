package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotmesh/iotgate/internal/model"
)

func newOrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
		Long:  "Create and inspect tenant organizations and their rate-limit plans.",
	}

	cmd.AddCommand(newOrgCreateCmd())
	cmd.AddCommand(newOrgShowCmd())

	return cmd
}

func newOrgCreateCmd() *cobra.Command {
	var (
		name    string
		hourly  int64
		daily   int64
		monthly int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new organization",
		Example: `  iotgate org create --name acme --hourly 1000 --daily 10000
  iotgate org create --name unlimited-corp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrgCreate(name, hourly, daily, monthly)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Organization name (required)")
	cmd.Flags().Int64Var(&hourly, "hourly", 0, "Requests per hour (0 = unlimited)")
	cmd.Flags().Int64Var(&daily, "daily", 0, "Requests per day (0 = unlimited)")
	cmd.Flags().Int64Var(&monthly, "monthly", 0, "Requests per month (0 = unlimited)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runOrgCreate(name string, hourly, daily, monthly int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	org := &model.Organization{Name: name, IsActive: true}
	if hourly > 0 {
		org.RequestsPerHour = &hourly
	}
	if daily > 0 {
		org.RequestsPerDay = &daily
	}
	if monthly > 0 {
		org.RequestsPerMonth = &monthly
	}
	if err := st.CreateOrganization(context.Background(), org); err != nil {
		return err
	}

	fmt.Printf("Created organization %q\n", name)
	fmt.Printf("  id: %s\n", org.ID)
	return nil
}

func newOrgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <org-id>",
		Short: "Show an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			org, err := st.GetOrganization(context.Background(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(org)
		},
	}
	return cmd
}

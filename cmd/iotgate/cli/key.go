package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
		Long:  "Create, list, refresh, and revoke per-organization API keys.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRefreshCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

func newKeyCreateCmd() *cobra.Command {
	var (
		orgID     string
		name      string
		scopes    []string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create an API key for an organization. The raw key is printed exactly
once; only its SHA-256 hash is stored.`,
		Example: `  iotgate key create --org <org-id> --name "prod sensor fleet"
  iotgate key create --org <org-id> --name ci --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			svc := newAuthService(st, newLogger(false))

			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().UTC().Add(expiresIn)
				expiresAt = &t
			}

			key, raw, err := svc.CreateKey(context.Background(), orgID, name, scopes, expiresAt)
			if err != nil {
				return err
			}

			fmt.Printf("Created API key %q\n", name)
			fmt.Printf("  id:     %s\n", key.ID)
			fmt.Printf("  prefix: %s\n", key.KeyPrefix)
			if expiresAt != nil {
				fmt.Printf("  expires: %s\n", expiresAt.Format(time.RFC3339))
			}
			fmt.Println()
			fmt.Println("Store this key now. It will not be shown again:")
			fmt.Printf("  %s\n", raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Key name (required)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant (repeatable)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime, e.g. 720h (0 = never expires)")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newKeyListCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			keys, err := st.ListAPIKeys(context.Background(), orgID)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Println("No API keys found.")
				return nil
			}

			fmt.Printf("%-36s  %-15s  %-8s  %s\n", "ID", "PREFIX", "ACTIVE", "NAME")
			fmt.Println(strings.Repeat("-", 80))
			for _, k := range keys {
				fmt.Printf("%-36s  %-15s  %-8t  %s\n", k.ID, k.KeyPrefix, k.IsActive, k.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func newKeyRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh <key-id>",
		Short: "Rotate an API key",
		Long:  "Generate a new raw key for an existing key ID. The old key stops working immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			svc := newAuthService(st, newLogger(false))
			key, raw, err := svc.RefreshKey(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Rotated API key %q (prefix %s)\n", key.Name, key.KeyPrefix)
			fmt.Println()
			fmt.Println("Store this key now. It will not be shown again:")
			fmt.Printf("  %s\n", raw)
			return nil
		},
	}
	return cmd
}

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			svc := newAuthService(st, newLogger(false))
			if err := svc.RevokeKey(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Revoked API key %s\n", args[0])
			return nil
		},
	}
	return cmd
}

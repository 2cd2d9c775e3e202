package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard users",
		Long:  "Create dashboard users and bind them to an organization with a role.",
	}

	cmd.AddCommand(newUserCreateCmd())

	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		orgID    string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new dashboard user",
		Example: `  iotgate user create --email ops@acme.io --org <org-id> --role admin
  iotgate user create --email ops@acme.io --org <org-id>  # prompts for password, role member`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, orgID, role)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&role, "role", model.RoleMember, "Role: viewer, member, admin, or owner")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runUserCreate(email, password, name, orgID, role string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	if !model.RoleAtLeast(role, model.RoleViewer) {
		return fmt.Errorf("unknown role %q", role)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.GetOrganization(ctx, orgID); err != nil {
		return fmt.Errorf("resolve organization: %w", err)
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	u := &model.User{Email: email, PasswordHash: hash, Name: name, IsActive: true}
	if err := st.CreateUser(ctx, u); err != nil {
		return err
	}
	if err := st.AddMember(ctx, &model.Member{OrganizationID: orgID, UserID: u.ID, Role: role}); err != nil {
		return err
	}

	fmt.Printf("Created user %q with role %q\n", email, role)
	fmt.Printf("  id: %s\n", u.ID)
	return nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/internal/cli/prompt"
	"github.com/ferryfs/ferry/pkg/auth"
	"github.com/ferryfs/ferry/pkg/config"
	"github.com/ferryfs/ferry/pkg/metadata/store"
	"github.com/ferryfs/ferry/pkg/session"
)

var (
	adminUsername string
	adminPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long: `Create an administrator account directly in the metadata store.

Admins can promote any user's file to the public tier and delete public
files. Run this once after initializing the server.

Examples:
  ferryd user create-admin
  ferryd user create-admin --username admin`,
	RunE: runCreateAdmin,
}

func init() {
	createAdminCmd.Flags().StringVarP(&adminUsername, "username", "u", "", "Admin username")
	createAdminCmd.Flags().StringVarP(&adminPassword, "password", "p", "", "Admin password (prompted when omitted)")
	userCmd.AddCommand(createAdminCmd)
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	username := adminUsername
	if username == "" {
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return handleAbort(err)
		}
	}

	password := adminPassword
	if password == "" {
		password, err = prompt.NewPassword()
		if err != nil {
			return handleAbort(err)
		}
	}

	metadataStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer metadataStore.Close()

	authHandler := auth.NewHandler(metadataStore, session.NewStore(), nil)
	if err := authHandler.RegisterAdmin(context.Background(), username, password); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	fmt.Printf("Admin account %q created.\n", username)
	return nil
}

func handleAbort(err error) error {
	if prompt.IsAborted(err) {
		return fmt.Errorf("aborted")
	}
	return err
}

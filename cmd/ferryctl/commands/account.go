package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/internal/cli/prompt"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	Long: `Create a new account on the server. Registration does not log in;
run any authenticated command afterwards with the same credentials.

Examples:
  ferryctl register -s localhost:5000 -u alice`,
	RunE: runRegister,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check server connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Ping(); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		fmt.Println("PONG")
		return nil
	},
}

func runRegister(cmd *cobra.Command, args []string) error {
	username := flagUsername
	var err error
	if username == "" {
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return handleAbort(err)
		}
	}
	password := flagPassword
	if password == "" {
		password, err = prompt.NewPassword()
		if err != nil {
			return handleAbort(err)
		}
	}

	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Register(username, password); err != nil {
		return err
	}
	fmt.Printf("Account %q created.\n", username)
	return nil
}

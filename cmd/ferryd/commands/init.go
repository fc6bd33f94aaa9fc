package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ferry configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/ferry/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  ferryd init

  # Initialize with custom path
  ferryd init --config /etc/ferry/config.yaml

  # Force overwrite existing config
  ferryd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Generate a TLS certificate: ferryd cert generate")
	fmt.Println("  3. Create an admin account: ferryd user create-admin")
	fmt.Println("  4. Start the server with: ferryd start")

	return nil
}

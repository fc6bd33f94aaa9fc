// Package commands implements the ferryctl client CLI.
package commands

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/internal/cli/prompt"
	"github.com/ferryfs/ferry/pkg/client"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global connection flags.
	flagServer    string
	flagUsername  string
	flagPassword  string
	flagSeparator string
	flagCAFile    string
	flagInsecure  bool
	flagTimeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ferryctl",
	Short: "ferryctl - ferry client",
	Long: `ferryctl talks to a ferry server: register and log in, upload and
download files, list the private, shared, and public tiers, and manage
file visibility.

Examples:
  ferryctl register -s localhost:5000 -u alice
  ferryctl upload report.pdf --tier private -s localhost:5000 -u alice
  ferryctl list --tier public -s localhost:5000 -u alice
  ferryctl download report.pdf --tier private --dest ./downloads -s localhost:5000 -u alice`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("Error: %v\n", err)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagServer, "server", "s", "localhost:5000", "Server address (host:port)")
	pf.StringVarP(&flagUsername, "username", "u", "", "Username")
	pf.StringVarP(&flagPassword, "password", "p", "", "Password (prompted when omitted)")
	pf.StringVar(&flagSeparator, "separator", "", "Protocol separator override (must match the server)")
	pf.StringVar(&flagCAFile, "ca-file", "", "CA certificate for server verification")
	pf.BoolVarP(&flagInsecure, "insecure", "k", false, "Skip server certificate verification")
	pf.DurationVar(&flagTimeout, "timeout", 30*time.Second, "Socket operation timeout")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(makePublicCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(deleteCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// connect dials the server with the configured TLS settings.
func connect() (*client.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if flagInsecure {
		tlsCfg.InsecureSkipVerify = true
	}
	if flagCAFile != "" {
		pemData, err := os.ReadFile(flagCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", flagCAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return client.Dial(client.Config{
		Address:   flagServer,
		Separator: flagSeparator,
		TLS:       tlsCfg,
		Timeout:   flagTimeout,
	})
}

// connectAndLogin dials and authenticates with the global credential
// flags, prompting for anything missing.
func connectAndLogin() (*client.Client, error) {
	username := flagUsername
	var err error
	if username == "" {
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return nil, handleAbort(err)
		}
	}
	password := flagPassword
	if password == "" {
		password, err = prompt.Password("Password")
		if err != nil {
			return nil, handleAbort(err)
		}
	}

	c, err := connect()
	if err != nil {
		return nil, err
	}
	if _, err := c.Login(username, password); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func handleAbort(err error) error {
	if prompt.IsAborted(err) {
		return fmt.Errorf("aborted")
	}
	return err
}

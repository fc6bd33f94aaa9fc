package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/internal/cli/output"
	"github.com/ferryfs/ferry/internal/cli/prompt"
	"github.com/ferryfs/ferry/pkg/protocol"
)

var (
	flagTier      string
	flagRecipient string
	flagDest      string
	flagAdmin     bool
	flagYes       bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file",
	Long: `Upload a local file to the server.

The tier decides visibility: private (only you), public (all users), or
shared (one recipient, set with --to).

Examples:
  ferryctl upload report.pdf --tier private
  ferryctl upload notes.txt --tier shared --to bob
  ferryctl upload release.tar.gz --tier public`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var downloadCmd = &cobra.Command{
	Use:   "download <identifier>",
	Short: "Download a file",
	Long: `Download a file by id or name into --dest.

For the public and shared tiers an owner/filename composite identifier is
also accepted.

Examples:
  ferryctl download report.pdf --tier private
  ferryctl download alice/notes.txt --tier shared --dest ./downloads`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List files in a tier",
	RunE:  runList,
}

var makePublicCmd = &cobra.Command{
	Use:   "make-public <identifier>",
	Short: "Move a file into the public tier",
	Long: `Move one of your files into the public tier. With --admin, an
administrator may promote any user's file (identifier may be a file id or
an owner/filename composite).`,
	Args: cobra.ExactArgs(1),
	RunE: runMakePublic,
}

var shareCmd = &cobra.Command{
	Use:   "share <identifier>",
	Short: "Share a file with another user",
	Args:  cobra.ExactArgs(1),
	RunE:  runShare,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <identifier>",
	Short: "Delete a file",
	Long: `Delete one of your files. With --admin, an administrator may delete
a public file.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	uploadCmd.Flags().StringVar(&flagTier, "tier", "private", "Storage tier: private, shared, public")
	uploadCmd.Flags().StringVar(&flagRecipient, "to", "", "Recipient username (shared tier)")

	downloadCmd.Flags().StringVar(&flagTier, "tier", "private", "Storage tier: private, shared, public")
	downloadCmd.Flags().StringVar(&flagDest, "dest", ".", "Destination directory")

	listCmd.Flags().StringVar(&flagTier, "tier", "private", "Storage tier: private, shared, public")

	makePublicCmd.Flags().BoolVar(&flagAdmin, "admin", false, "Use the admin variant")
	deleteCmd.Flags().BoolVar(&flagAdmin, "admin", false, "Use the admin variant")
	deleteCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Skip the confirmation prompt")

	shareCmd.Flags().StringVar(&flagRecipient, "to", "", "Recipient username (required)")
	_ = shareCmd.MarkFlagRequired("to")
}

func parseTier() (protocol.Tier, error) {
	tier := protocol.Tier(flagTier)
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid tier %q (expected private, shared, or public)", flagTier)
	}
	return tier, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	tier, err := parseTier()
	if err != nil {
		return err
	}
	if tier == protocol.TierShared && flagRecipient == "" {
		return fmt.Errorf("shared uploads require --to <recipient>")
	}

	c, err := connectAndLogin()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Upload(tier, args[0], flagRecipient); err != nil {
		return err
	}
	fmt.Printf("Uploaded %s to the %s tier.\n", args[0], tier)
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	tier, err := parseTier()
	if err != nil {
		return err
	}

	c, err := connectAndLogin()
	if err != nil {
		return err
	}
	defer c.Close()

	path, err := c.Download(tier, args[0], flagDest)
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded to %s\n", path)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	tier, err := parseTier()
	if err != nil {
		return err
	}

	c, err := connectAndLogin()
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.List(tier)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No files in the %s tier.\n", tier)
		return nil
	}

	table := output.NewTableData("ID", "NAME")
	for _, e := range entries {
		table.AddRow(e.ID, e.Name)
	}
	return output.PrintTable(os.Stdout, table)
}

func runMakePublic(cmd *cobra.Command, args []string) error {
	c, err := connectAndLogin()
	if err != nil {
		return err
	}
	defer c.Close()

	if flagAdmin {
		err = c.AdminMakePublic(args[0])
	} else {
		err = c.MakePublic(args[0])
	}
	if err != nil {
		return err
	}
	fmt.Printf("File %s is now public.\n", args[0])
	return nil
}

func runShare(cmd *cobra.Command, args []string) error {
	c, err := connectAndLogin()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.MakeShared(args[0], flagRecipient); err != nil {
		return err
	}
	fmt.Printf("File %s shared with %s.\n", args[0], flagRecipient)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete %s", args[0]), flagYes)
	if err != nil {
		return handleAbort(err)
	}
	if !ok {
		return nil
	}

	c, err := connectAndLogin()
	if err != nil {
		return err
	}
	defer c.Close()

	if flagAdmin {
		err = c.AdminDelete(args[0])
	} else {
		err = c.Delete(args[0])
	}
	if err != nil {
		return err
	}
	fmt.Printf("File %s deleted.\n", args[0])
	return nil
}

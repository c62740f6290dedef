package cli

import (
	"fmt"

	"github.com/extmarket-labs/extmarket/internal/installer"
	"github.com/spf13/cobra"
)

var (
	updateProfile    string
	updatePreRelease bool
	updateVersion    string
)

var updateCmd = &cobra.Command{
	Use:   "update <publisher.name>",
	Short: "Move an installed extension to its newest compatible version",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateProfile, "profile", "", "Target profile (default: the default profile)")
	updateCmd.Flags().BoolVar(&updatePreRelease, "pre-release", false, "Move to the pre-release channel")
	updateCmd.Flags().StringVar(&updateVersion, "version", "", "Move to this exact version (required for pinned installs)")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	id, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}

	res, err := a.installer.Update(cmd.Context(), id, installer.Options{
		Profile:    updateProfile,
		PreRelease: updatePreRelease,
		Version:    updateVersion,
		Progress:   downloadProgress(cmd),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s to %s\n", res.Local.Identifier.ID, res.Local.Version())
	return nil
}

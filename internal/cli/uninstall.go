package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uninstallProfile string

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <publisher.name>",
	Short: "Remove an extension from a profile",
	Long: `Uninstall detaches the extension from the profile. The folder on disk is
only scheduled for removal; it is deleted on the next run once no other
profile references it.`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().StringVar(&uninstallProfile, "profile", "", "Source profile (default: the default profile)")
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	id, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}

	if err := a.installer.Uninstall(cmd.Context(), id, uninstallProfile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", id.ID)
	return nil
}

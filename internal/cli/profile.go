package cli

import (
	"fmt"
	"path/filepath"

	"github.com/extmarket-labs/extmarket/internal/platform"
	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage extension profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		names, err := a.profiles.Profiles()
		if err != nil {
			return err
		}
		active, _ := activeProfile(a.profiles)
		for _, name := range names {
			marker := " "
			if name == active {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.profiles.Create(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created profile %s\n", args[0])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.profiles.Create(args[0]); err != nil {
			return err
		}
		link := filepath.Join(a.profiles.Root(), "active")
		_ = platform.RemoveSymlink(link)
		if err := platform.CreateSymlink(args[0], link); err != nil {
			return fmt.Errorf("activating profile: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Now using profile %s\n", args[0])
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd, profileCreateCmd, profileUseCmd)
	rootCmd.AddCommand(profileCmd)
}

// activeProfile resolves the "active" symlink, defaulting to the
// default profile when none is set.
func activeProfile(store *profile.Store) (string, error) {
	target, err := platform.ReadSymlinkTarget(filepath.Join(store.Root(), "active"))
	if err != nil {
		return profile.DefaultProfile, nil
	}
	return filepath.Base(target), nil
}

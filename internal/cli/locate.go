package cli

import (
	"fmt"
	"path/filepath"

	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/spf13/cobra"
)

var locateProfile string

var locateCmd = &cobra.Command{
	Use:   "locate <publisher.name>",
	Short: "Print the on-disk folder of an installed extension",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocate,
}

func init() {
	locateCmd.Flags().StringVar(&locateProfile, "profile", "", "Profile to look in (default: the default profile)")
	rootCmd.AddCommand(locateCmd)
}

func runLocate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	id, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}

	name := locateProfile
	if name == "" {
		name = profile.DefaultProfile
	}
	members, err := a.profiles.Extensions(name)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Identifier.Same(id) {
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(a.scanner.Root(), m.Location))
			return nil
		}
	}
	return fmt.Errorf("%s is not installed in profile %s", id.ID, name)
}

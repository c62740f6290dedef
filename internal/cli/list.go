package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/spf13/cobra"
)

var listProfile string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed extensions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listProfile, "profile", "", "Profile to list (default: the default profile)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.cleanup(); err != nil {
		return err
	}

	name := listProfile
	if name == "" {
		name = profile.DefaultProfile
	}
	members, err := a.profiles.Extensions(name)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No extensions installed in profile %s.\n", name)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXTENSION\tVERSION\tCHANNEL\tPINNED")
	for _, m := range members {
		channel := "release"
		if m.Metadata.PreRelease {
			channel = "pre-release"
		}
		pinned := ""
		if m.Metadata.Pinned {
			pinned = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Identifier.ID, m.Version, channel, pinned)
	}
	return w.Flush()
}

package cli

import (
	"fmt"
	"strings"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"github.com/extmarket-labs/extmarket/internal/gallery"
	"github.com/extmarket-labs/extmarket/internal/installer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	installVersion    string
	installPreRelease bool
	installPinned     bool
	installProfile    string
)

var installCmd = &cobra.Command{
	Use:   "install <publisher.name | path/to/file.vsix>",
	Short: "Install an extension from the gallery or a local VSIX",
	Long: `Install resolves the newest compatible version of an extension, downloads
and verifies it, extracts it under the extensions root, and attaches it
to a profile. A path ending in .vsix installs the local archive instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installVersion, "version", "", "Install this exact version (implies --pinned)")
	installCmd.Flags().BoolVar(&installPreRelease, "pre-release", false, "Prefer the pre-release channel")
	installCmd.Flags().BoolVar(&installPinned, "pinned", false, "Exclude this install from automatic updates")
	installCmd.Flags().StringVar(&installProfile, "profile", "", "Target profile (default: the default profile)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	opts := installer.Options{
		Profile:    installProfile,
		Version:    installVersion,
		PreRelease: installPreRelease,
		Pinned:     installPinned,
		Progress:   downloadProgress(cmd),
	}

	var res *installer.Result
	if strings.HasSuffix(strings.ToLower(args[0]), ".vsix") {
		res, err = a.installer.InstallFromVSIX(cmd.Context(), args[0], opts)
	} else {
		id, parseErr := parseIdentifier(args[0])
		if parseErr != nil {
			return parseErr
		}
		res, err = a.installer.Install(cmd.Context(), id, opts)
	}
	if err != nil {
		return err
	}

	verb := "Installed"
	if res.Operation == installer.OperationUpdate {
		verb = "Updated"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", verb, res.Local.Identifier.ID, res.Local.Version())
	return nil
}

// downloadProgress renders a byte progress bar on stderr.
func downloadProgress(cmd *cobra.Command) gallery.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(downloaded, total int64) {
		if bar == nil {
			bar = progressbar.DefaultBytes(total, "downloading")
		}
		_ = bar.Set64(downloaded)
	}
}

func parseIdentifier(arg string) (extension.Identifier, error) {
	if _, _, err := extension.ParseID(arg); err != nil {
		return extension.Identifier{}, fmt.Errorf("%q is not a publisher.name identifier", arg)
	}
	return extension.Identifier{ID: arg}, nil
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/extmarket-labs/extmarket/internal/watcher"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile the extensions folder until interrupted",
	Long: `Watch observes the extensions root. Extension folders that appear
without going through the installer are adopted into the default
profile; membership removals are reported as they happen.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.cleanup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(a.scanner, a.profiles)
	if err := w.Start(ctx); err != nil {
		return err
	}
	// Extractions this process performs are pre-acknowledged so the
	// watcher never adopts them.
	a.coordinator.OnPromoted(w.MarkKnown)
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (ctrl-c to stop)\n", a.scanner.Root())

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events():
			if !ok {
				return nil
			}
			switch e.Kind {
			case watcher.Added:
				fmt.Fprintf(cmd.OutOrStdout(), "adopted %s %s into profile %s\n",
					e.Local.Identifier.ID, e.Local.Version(), e.Profile)
			case watcher.Removed:
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s %s from profile %s\n",
					e.Membership.Identifier.ID, e.Membership.Version, e.Profile)
			}
		}
	}
}

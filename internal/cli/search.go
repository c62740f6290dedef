package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/extmarket-labs/extmarket/internal/config"
	"github.com/extmarket-labs/extmarket/internal/gallery"
	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchSort  string
	searchURLs  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search the marketplace",
	Long: `Search runs a free-text marketplace query. "category:<name>" and
"featured" tokens inside the text become filters instead of search
terms.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", gallery.DefaultPageSize, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchSort, "sort", "", "Sort order: relevance, installs, rating, published, name")
	searchCmd.Flags().BoolVar(&searchURLs, "urls", false, "Show the marketplace page of each result")
	rootCmd.AddCommand(searchCmd)
}

var sortNames = map[string]string{
	"":          gallery.SortByRelevance,
	"relevance": gallery.SortByRelevance,
	"installs":  gallery.SortByInstallCount,
	"rating":    gallery.SortByRating,
	"published": gallery.SortByPublishedDate,
	"name":      gallery.SortByTitle,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	sortBy, ok := sortNames[strings.ToLower(searchSort)]
	if !ok {
		return fmt.Errorf("unknown sort order %q", searchSort)
	}

	res, err := a.gallery.Search(cmd.Context(), strings.Join(args, " "), gallery.SearchOptions{
		PageSize: searchLimit,
		SortBy:   sortBy,
	})
	if err != nil {
		return err
	}
	if len(res.Extensions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No extensions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if searchURLs {
		itemBase := config.Get(config.KeyGalleryItemURL)
		fmt.Fprintln(w, "EXTENSION\tVERSION\tURL")
		for _, ext := range res.Extensions {
			fmt.Fprintf(w, "%s\t%s\t%s?itemName=%s\n",
				ext.Identifier.ID, ext.Version, itemBase, ext.Identifier.ID)
		}
	} else {
		fmt.Fprintln(w, "EXTENSION\tVERSION\tINSTALLS\tDESCRIPTION")
		for _, ext := range res.Extensions {
			fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\n",
				ext.Identifier.ID, ext.Version, ext.InstallCount, truncate(ext.Description, 60))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d results\n", len(res.Extensions), res.Total)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

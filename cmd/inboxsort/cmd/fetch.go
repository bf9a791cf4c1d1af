package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/search"
)

var (
	fetchMax    int
	fetchQuery  string
	fetchLabels []string
	fetchAfter  string
	fetchBefore string
	fetchJSON   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "List emails that have not been classified yet",
	Long: `Fetch up to --max inbox emails the user has not classified. Already
classified messages are skipped and paging continues until enough unclassified
ones are found or the mailbox is exhausted.

Examples:
  inboxsort fetch -u 1234567890 --max 20
  inboxsort fetch -u 1234567890 --query "from:alice" --after 7d --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}

		opts := inbox.FetchOptions{
			MaxResults: fetchMax,
			Query:      fetchQuery,
			LabelIDs:   fetchLabels,
		}
		if fetchAfter != "" {
			if opts.After = search.ParseDate(fetchAfter); opts.After == nil {
				return fmt.Errorf("invalid --after date %q", fetchAfter)
			}
		}
		if fetchBefore != "" {
			if opts.Before = search.ParseDate(fetchBefore); opts.Before == nil {
				return fmt.Errorf("invalid --before date %q", fetchBefore)
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.inbox.FetchEmails(cmdContext(cmd), user, opts)
		if err != nil {
			return explainAuth(err)
		}

		out := cmd.OutOrStdout()
		if fetchJSON {
			return printJSON(out, result)
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT")
		for _, m := range result.Emails {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, truncate(valueOr(m.Date, "-"), 31), truncate(m.From, 30), truncate(m.Subject, 60))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d of %d requested\n", result.Delivered, result.Requested)
		return nil
	},
}

func init() {
	fetchCmd.Flags().IntVarP(&fetchMax, "max", "n", 0, "number of emails (default from config)")
	fetchCmd.Flags().StringVarP(&fetchQuery, "query", "q", "", "Gmail search query")
	fetchCmd.Flags().StringSliceVarP(&fetchLabels, "label", "l", nil, "required Gmail label IDs (repeatable or comma-separated)")
	fetchCmd.Flags().StringVar(&fetchAfter, "after", "", "only messages after this date (YYYY-MM-DD or 7d, 2w, 1m, 1y)")
	fetchCmd.Flags().StringVar(&fetchBefore, "before", "", "only messages before this date")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print JSON")
	rootCmd.AddCommand(fetchCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/store"
)

var (
	classificationsLabel string
	classificationsJSON  bool
)

var classificationsCmd = &cobra.Command{
	Use:   "classifications",
	Short: "List recorded verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.store.Classifications(cmdContext(cmd), store.Filter{User: user, Label: classificationsLabel})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if classificationsJSON {
			return printJSON(out, items)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tCLASSIFIED\tFROM\tSUBJECT")
		for _, c := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Label, c.UpdatedAt.Local().Format("2006-01-02 15:04"), truncate(c.From, 30), truncate(c.Subject, 60))
		}
		return tw.Flush()
	},
}

func init() {
	classificationsCmd.Flags().StringVarP(&classificationsLabel, "label", "l", "", "only this label (good or bad)")
	classificationsCmd.Flags().BoolVar(&classificationsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(classificationsCmd)
}

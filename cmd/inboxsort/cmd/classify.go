package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/store"
)

var classifyNoFetch bool

var classifyCmd = &cobra.Command{
	Use:   "classify <message-id> <good|bad>",
	Short: "Record a verdict for a message",
	Long: `Record a good or bad verdict for a message. The message is fetched first so
the verdict keeps its subject, sender, date and body; --no-fetch stores the id
and label only. Classified messages are skipped by later fetches.`,
	Args: cobra.ExactArgs(2),
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

		ctx := cmdContext(cmd)
		c := store.Classification{ID: args[0], User: user, Label: args[1]}
		if !classifyNoFetch {
			msg, err := a.inbox.Message(ctx, user, args[0])
			if err != nil {
				return explainAuth(err)
			}
			c.Subject = msg.Subject
			c.From = msg.From
			c.Snippet = msg.Snippet
			c.Date = msg.Date
			c.Body = msg.Body
			c.LabelIDs = msg.LabelIDs
		}

		item, err := a.store.UpsertClassification(ctx, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s marked %s: %s\n", item.ID, item.Label, item.Subject)
		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyNoFetch, "no-fetch", false, "do not fetch the message from Gmail")
	rootCmd.AddCommand(classifyCmd)
}

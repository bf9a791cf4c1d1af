package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var threadJSON bool

var threadCmd = &cobra.Command{
	Use:   "thread <thread-id>",
	Short: "Show a thread in chronological order",
	Args:  cobra.ExactArgs(1),
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

		messages, err := a.inbox.Thread(cmdContext(cmd), user, args[0])
		if err != nil {
			return explainAuth(err)
		}

		out := cmd.OutOrStdout()
		if threadJSON {
			return printJSON(out, messages)
		}
		for i, m := range messages {
			if i > 0 {
				fmt.Fprintln(out, strings.Repeat("-", 72))
			}
			fmt.Fprintf(out, "From:    %s\n", m.From)
			if m.To != "" {
				fmt.Fprintf(out, "To:      %s\n", m.To)
			}
			if m.Cc != "" {
				fmt.Fprintf(out, "Cc:      %s\n", m.Cc)
			}
			fmt.Fprintf(out, "Date:    %s\n", valueOr(m.Date, "unknown"))
			fmt.Fprintf(out, "Subject: %s\n\n", m.Subject)
			fmt.Fprintln(out, strings.TrimSpace(m.Body))
		}
		return nil
	},
}

func init() {
	threadCmd.Flags().BoolVar(&threadJSON, "json", false, "print JSON")
	rootCmd.AddCommand(threadCmd)
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve inbox triage tools over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout acting for --user. Tools: fetch_emails,
get_thread, list_classifications and classify_email.

Example client configuration:
  {"command": "inboxsort", "args": ["mcp", "--user", "1234567890"]}`,
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

		return mcp.Serve(cmdContext(cmd), a.inbox, a.store, user, Version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

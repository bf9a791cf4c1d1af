package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/store"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored account and its Gmail mailbox",
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
		u, err := a.store.GetUser(ctx, user)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no account %q has signed in yet", user)
		}
		if err != nil {
			return err
		}

		client, err := a.provider.ClientFor(ctx, user)
		if err != nil {
			return explainAuth(err)
		}
		profile, err := client.GetProfile(ctx)
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Account:  %s (%s)\n", u.Name, u.ID)
		fmt.Fprintf(out, "Email:    %s\n", profile.EmailAddress)
		fmt.Fprintf(out, "Messages: %d\n", profile.MessagesTotal)
		fmt.Fprintf(out, "Threads:  %d\n", profile.ThreadsTotal)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

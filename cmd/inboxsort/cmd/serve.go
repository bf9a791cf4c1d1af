package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/api"
	"github.com/wesm/inboxsort/internal/auth"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP backend for the triage client",
	Long: `Run the HTTP backend: Google sign-in at /auth, the signed-in user at /me,
unclassified emails at /emails, threads at /threads/{id} and verdicts at
/classifications. The client origin configured as CLIENT_ORIGIN may call it
with credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		srv := api.New(api.Options{
			Store:        a.store,
			Inbox:        a.inbox,
			Auth:         a.provider,
			Sessions:     auth.NewSessions(cfg.Server.SessionSecret, cfg.Production()),
			ClientOrigin: cfg.Server.ClientOrigin,
			Logger:       logger,
		})

		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting server",
			"port", cfg.Server.Port,
			"client_origin", cfg.Server.ClientOrigin,
			"store", cfg.Store.Backend,
			"production", cfg.Production(),
		)
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config, 5001)")
	rootCmd.AddCommand(serveCmd)
}

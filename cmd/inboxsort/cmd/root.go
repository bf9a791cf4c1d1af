// Package cmd implements the inboxsort command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsort/internal/auth"
	"github.com/wesm/inboxsort/internal/config"
	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/store"
)

// Version is set at build time.
var Version = "dev"

var (
	homeDir    string
	configPath string
	verbose    bool
	userID     string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inboxsort",
	Short: "Triage a Gmail inbox into good and bad",
	Long: `inboxsort fetches the Gmail messages you have not judged yet and records
good/bad verdicts for them.

Run "inboxsort serve" for the browser backend, or use the fetch, thread and
classify commands directly once an account has signed in.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		c, err := config.Load(configPath, homeDir)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "data directory (default $INBOXSORT_HOME or ~/.inboxsort)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "Google account id to act for")
}

// app holds the wired dependencies shared by commands.
type app struct {
	store    *store.Store
	provider *auth.Provider
	inbox    *inbox.Service
}

// openApp opens the ledger and OAuth provider described by cfg. The caller
// must Close the returned app.
func openApp() (*app, error) {
	if cfg.Store.Backend != store.BackendPostgres {
		if err := cfg.EnsureHomeDir(); err != nil {
			return nil, fmt.Errorf("create home directory: %w", err)
		}
	}

	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	oauthCfg, err := auth.LoadConfigSource(cfg.OAuth.CredentialsJSON, cfg.OAuth.CredentialsPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	provider := auth.NewProvider(oauthCfg, st,
		auth.WithLogger(logger),
		auth.WithQPS(cfg.Gmail.QPS),
	)
	return &app{
		store:    st,
		provider: provider,
		inbox:    inbox.NewService(provider, st, cfg.Gmail.MaxEmails, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// requireUser returns the --user flag value.
func requireUser() (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", errors.New("--user is required (the Google account id printed after signing in)")
	}
	return id, nil
}

// explainAuth adds a hint to authorization failures.
func explainAuth(err error) error {
	if errors.Is(err, inbox.ErrAuthorizationMissing) {
		return fmt.Errorf("%w\n\nSign in through \"inboxsort serve\" at /auth first", err)
	}
	return err
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

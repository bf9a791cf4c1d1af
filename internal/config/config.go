// Package config resolves inboxsort settings from config.toml, an optional
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/wesm/inboxsort/internal/fileutil"
	"github.com/wesm/inboxsort/internal/gmail"
	"github.com/wesm/inboxsort/internal/store"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultPort          = 5001
	DefaultClientOrigin  = "http://localhost:5173"
	DefaultSessionSecret = "dev-only-secret-change-me"
	DefaultMaxEmails     = 50
)

// Config is the resolved application configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	OAuth  OAuthConfig  `toml:"oauth"`
	Gmail  GmailConfig  `toml:"gmail"`
	Store  StoreConfig  `toml:"store"`

	// HomeDir is where relative paths resolve and config.toml lives.
	HomeDir string `toml:"-" ignored:"true"`
}

// ServerConfig holds HTTP and session settings.
type ServerConfig struct {
	Port          int    `toml:"port" envconfig:"PORT"`
	ClientOrigin  string `toml:"client_origin" envconfig:"CLIENT_ORIGIN"`
	SessionSecret string `toml:"session_secret" envconfig:"SESSION_SECRET"`
	Environment   string `toml:"environment" envconfig:"ENVIRONMENT"`
}

// OAuthConfig locates the Google OAuth client credentials. Inline JSON wins
// over the file.
type OAuthConfig struct {
	CredentialsPath string `toml:"credentials_path" envconfig:"CREDENTIALS_PATH"`
	CredentialsJSON string `toml:"-" envconfig:"GOOGLE_CREDENTIALS"`
}

// GmailConfig tunes fetching.
type GmailConfig struct {
	MaxEmails int     `toml:"max_emails" envconfig:"MAX_EMAILS"`
	QPS       float64 `toml:"qps" envconfig:"GMAIL_QPS"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Backend             string `toml:"backend" envconfig:"STORE_BACKEND"`
	ClassificationsPath string `toml:"classifications_path" envconfig:"CLASSIFICATION_STORE"`
	UsersPath           string `toml:"users_path" envconfig:"USER_STORE"`
	SQLitePath          string `toml:"sqlite_path" envconfig:"SQLITE_PATH"`
	DatabaseURL         string `toml:"database_url" envconfig:"DATABASE_URL"`
}

// NewDefaultConfig returns the built-in defaults rooted at homeDir.
func NewDefaultConfig(homeDir string) *Config {
	return &Config{
		Server: ServerConfig{
			Port:          DefaultPort,
			ClientOrigin:  DefaultClientOrigin,
			SessionSecret: DefaultSessionSecret,
			Environment:   "development",
		},
		OAuth: OAuthConfig{
			CredentialsPath: "credentials.json",
		},
		Gmail: GmailConfig{
			MaxEmails: DefaultMaxEmails,
			QPS:       gmail.DefaultQPS,
		},
		Store: StoreConfig{
			Backend:             store.BackendJSON,
			ClassificationsPath: filepath.Join("data", "classifications.json"),
			UsersPath:           filepath.Join("data", "users.json"),
			SQLitePath:          "inboxsort.db",
		},
		HomeDir: homeDir,
	}
}

// Load resolves the configuration. An empty homeDir falls back to
// $INBOXSORT_HOME and then ~/.inboxsort. An empty configPath means
// <home>/config.toml, which may be absent; an explicit path must exist.
func Load(configPath, homeDir string) (*Config, error) {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	home, err := resolveHome(homeDir)
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultConfig(home)

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(home, "config.toml")
	} else {
		configPath = expandPath(configPath)
	}

	if _, err := os.Stat(configPath); err == nil {
		md, err := toml.DecodeFile(configPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("parse config %s: unknown keys %s", configPath, strings.Join(keys, ", "))
		}
	} else if !errors.Is(err, os.ErrNotExist) || explicit {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := envconfig.Process("inboxsort", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills non-positive numbers with defaults and anchors relative
// paths at the home directory.
func (c *Config) normalize() {
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	if c.Gmail.MaxEmails <= 0 {
		c.Gmail.MaxEmails = DefaultMaxEmails
	}
	if c.Gmail.QPS <= 0 {
		c.Gmail.QPS = gmail.DefaultQPS
	}
	c.Server.ClientOrigin = strings.TrimRight(strings.TrimSpace(c.Server.ClientOrigin), "/")
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = store.BackendJSON
	}

	c.OAuth.CredentialsPath = c.resolve(c.OAuth.CredentialsPath)
	c.Store.ClassificationsPath = c.resolve(c.Store.ClassificationsPath)
	c.Store.UsersPath = c.resolve(c.Store.UsersPath)
	c.Store.SQLitePath = c.resolve(c.Store.SQLitePath)
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendJSON, store.BackendSQLite:
	case store.BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("invalid config: store backend postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid config: unknown store backend %q", c.Store.Backend)
	}
	if c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: port %d out of range", c.Server.Port)
	}
	if c.Production() && c.Server.SessionSecret == DefaultSessionSecret {
		return errors.New("invalid config: SESSION_SECRET must be set in production")
	}
	return nil
}

// Production reports whether cookies must be Secure with SameSite=None.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// StoreOptions maps the store section onto store.Open's config.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Backend:             c.Store.Backend,
		ClassificationsPath: c.Store.ClassificationsPath,
		UsersPath:           c.Store.UsersPath,
		SQLitePath:          c.Store.SQLitePath,
		DatabaseURL:         c.Store.DatabaseURL,
	}
}

// EnsureHomeDir creates the home directory with owner-only permissions.
func (c *Config) EnsureHomeDir() error {
	return fileutil.SecureMkdirAll(c.HomeDir, 0700)
}

func (c *Config) resolve(p string) string {
	if p == "" {
		return ""
	}
	p = expandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}

func resolveHome(homeDir string) (string, error) {
	if homeDir == "" {
		homeDir = os.Getenv("INBOXSORT_HOME")
	}
	if homeDir == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate home directory: %w", err)
		}
		homeDir = filepath.Join(userHome, ".inboxsort")
	}
	homeDir = expandPath(homeDir)
	abs, err := filepath.Abs(homeDir)
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return abs, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

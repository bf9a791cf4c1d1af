package store

import (
	"fmt"
)

// Backend kinds accepted by Open.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and locates a backend.
type Config struct {
	Backend             string
	ClassificationsPath string // json
	UsersPath           string // json
	SQLitePath          string // sqlite
	DatabaseURL         string // postgres
}

// Open creates the store described by cfg, initializing SQL schemas.
func Open(cfg Config) (*Store, error) {
	switch cfg.Backend {
	case BackendJSON, "":
		return New(NewJSONBackend(cfg.ClassificationsPath, cfg.UsersPath)), nil
	case BackendSQLite:
		return openSQL(OpenSQLite(cfg.SQLitePath))
	case BackendPostgres:
		return openSQL(OpenPostgres(cfg.DatabaseURL))
	default:
		return nil, fmt.Errorf("unknown store backend %q (want json, sqlite or postgres)", cfg.Backend)
	}
}

func openSQL(b *SQLBackend, err error) (*Store, error) {
	if err != nil {
		return nil, err
	}
	if err := b.InitSchema(); err != nil {
		b.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return New(b), nil
}

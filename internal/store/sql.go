package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

//go:embed schema.sql
var schemaSQL string

// SQLBackend stores records in SQLite or PostgreSQL. Timestamps are kept as
// RFC 3339 text so both dialects share one schema.
type SQLBackend struct {
	db       *sql.DB
	postgres bool
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*SQLBackend, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	return &SQLBackend{db: db}, nil
}

// OpenPostgres connects to PostgreSQL with a lib/pq connection string.
func OpenPostgres(dsn string) (*SQLBackend, error) {
	if dsn == "" {
		return nil, errors.New("postgres backend requires a database URL")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &SQLBackend{db: db, postgres: true}, nil
}

// DB returns the underlying connection pool.
func (b *SQLBackend) DB() *sql.DB { return b.db }

// InitSchema creates the tables if they do not exist.
func (b *SQLBackend) InitSchema() error {
	_, err := b.db.Exec(schemaSQL)
	return err
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (b *SQLBackend) rebind(query string) string {
	if !b.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

const upsertClassificationSQL = `
INSERT INTO classifications
    (user_id, message_id, label, subject, sender, snippet, message_date, body, label_ids, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, message_id) DO UPDATE SET
    label = excluded.label,
    subject = excluded.subject,
    sender = excluded.sender,
    snippet = excluded.snippet,
    message_date = excluded.message_date,
    body = excluded.body,
    label_ids = excluded.label_ids,
    updated_at = excluded.updated_at
RETURNING created_at`

// PutClassification implements Backend.
func (b *SQLBackend) PutClassification(ctx context.Context, c *Classification) (*Classification, error) {
	labelIDs, err := json.Marshal(c.LabelIDs)
	if err != nil {
		return nil, err
	}

	var createdAt string
	err = b.db.QueryRowContext(ctx, b.rebind(upsertClassificationSQL),
		c.User, c.ID, c.Label, c.Subject, c.From, c.Snippet, nullString(c.Date), c.Body,
		string(labelIDs), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("upsert classification: %w", err)
	}

	stored := *c
	if stored.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &stored, nil
}

// QueryClassifications implements Backend.
func (b *SQLBackend) QueryClassifications(ctx context.Context, f Filter) ([]Classification, error) {
	query := `SELECT user_id, message_id, label, subject, sender, snippet, message_date, body, label_ids, created_at, updated_at
FROM classifications WHERE 1 = 1`
	var args []any
	if f.User != "" {
		query += " AND user_id = ?"
		args = append(args, f.User)
	}
	if f.Label != "" {
		query += " AND label = ?"
		args = append(args, f.Label)
	}
	query += " ORDER BY created_at, message_id"

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var out []Classification
	for rows.Next() {
		var (
			c                    Classification
			date                 sql.NullString
			labelIDs             string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.User, &c.ID, &c.Label, &c.Subject, &c.From, &c.Snippet,
			&date, &c.Body, &labelIDs, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		if date.Valid {
			c.Date = &date.String
		}
		if err := json.Unmarshal([]byte(labelIDs), &c.LabelIDs); err != nil {
			return nil, fmt.Errorf("decode label ids of %s: %w", c.ID, err)
		}
		if c.LabelIDs == nil {
			c.LabelIDs = []string{}
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const upsertUserSQL = `
INSERT INTO users (id, email, name, picture, tokens, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    email = excluded.email,
    name = excluded.name,
    picture = excluded.picture,
    tokens = excluded.tokens,
    updated_at = excluded.updated_at`

// PutUser implements Backend.
func (b *SQLBackend) PutUser(ctx context.Context, u *User) error {
	var tokens sql.NullString
	if u.Tokens != nil {
		data, err := json.Marshal(u.Tokens)
		if err != nil {
			return err
		}
		tokens = sql.NullString{String: string(data), Valid: true}
	}

	_, err := b.db.ExecContext(ctx, b.rebind(upsertUserSQL),
		u.ID, u.Email, u.Name, u.Picture, tokens, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser implements Backend.
func (b *SQLBackend) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		u                    User
		tokens               sql.NullString
		createdAt, updatedAt string
	)
	err := b.db.QueryRowContext(ctx, b.rebind(
		`SELECT id, email, name, picture, tokens, created_at, updated_at FROM users WHERE id = ?`), id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &tokens, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if tokens.Valid {
		u.Tokens = &Tokens{}
		if err := json.Unmarshal([]byte(tokens.String), u.Tokens); err != nil {
			return nil, fmt.Errorf("decode tokens of %s: %w", id, err)
		}
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Close implements Backend.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// formatTime uses a fixed-width layout so text ordering matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

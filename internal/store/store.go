// Package store records per-user email classifications and OAuth users.
// Validation and token merging live in Store; persistence is delegated to a
// Backend (JSON files, SQLite or PostgreSQL).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks input rejected by validation.
	ErrInvalid = errors.New("invalid")
)

// Classification labels.
const (
	LabelGood = "good"
	LabelBad  = "bad"
)

// Defaults applied to classifications recorded without these fields.
const (
	DefaultSubject = "(no subject)"
	DefaultFrom    = "Unknown sender"
)

// Classification is one user's verdict on one message, with enough of the
// message to display it without refetching.
type Classification struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Label     string    `json:"label"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	Snippet   string    `json:"snippet"`
	Date      *string   `json:"date"`
	Body      string    `json:"body"`
	LabelIDs  []string  `json:"labelIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Filter selects classifications. Empty fields match anything.
type Filter struct {
	User  string
	Label string
}

// Tokens are the stored OAuth credentials of a user. ExpiryDate is Unix
// milliseconds.
type Tokens struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"`
}

// Merge returns t with every non-empty field of next applied over it.
func (t Tokens) Merge(next Tokens) Tokens {
	if next.AccessToken != "" {
		t.AccessToken = next.AccessToken
	}
	if next.RefreshToken != "" {
		t.RefreshToken = next.RefreshToken
	}
	if next.TokenType != "" {
		t.TokenType = next.TokenType
	}
	if next.Scope != "" {
		t.Scope = next.Scope
	}
	if next.IDToken != "" {
		t.IDToken = next.IDToken
	}
	if next.ExpiryDate != 0 {
		t.ExpiryDate = next.ExpiryDate
	}
	return t
}

// User is an account that completed the OAuth flow.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	Tokens    *Tokens   `json:"tokens,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Backend persists records that Store has already validated.
type Backend interface {
	// PutClassification inserts c or replaces the record with the same user
	// and id, keeping the stored CreatedAt. It returns the stored record.
	PutClassification(ctx context.Context, c *Classification) (*Classification, error)
	// QueryClassifications returns matching records in insertion order.
	QueryClassifications(ctx context.Context, f Filter) ([]Classification, error)
	// PutUser inserts or replaces u.
	PutUser(ctx context.Context, u *User) error
	// GetUser returns ErrNotFound when the user does not exist.
	GetUser(ctx context.Context, id string) (*User, error)
	Close() error
}

// Store is the ledger of classifications and users.
type Store struct {
	backend Backend
	// mu serializes read-modify-write cycles on users.
	mu  sync.Mutex
	now func() time.Time
}

// New wraps a backend.
func New(b Backend) *Store {
	return &Store{backend: b, now: time.Now}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// UpsertClassification validates c, applies defaults and stores it keyed by
// user and message id.
func (s *Store) UpsertClassification(ctx context.Context, c Classification) (*Classification, error) {
	c.User = strings.TrimSpace(c.User)
	c.Label = strings.ToLower(c.Label)

	if c.User == "" {
		return nil, fmt.Errorf("%w: classification requires a user identifier", ErrInvalid)
	}
	if c.Label != LabelGood && c.Label != LabelBad {
		return nil, fmt.Errorf("%w: classification label must be either %q or %q", ErrInvalid, LabelGood, LabelBad)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: classification requires a message id", ErrInvalid)
	}

	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.From == "" {
		c.From = DefaultFrom
	}
	if c.Date != nil && *c.Date == "" {
		c.Date = nil
	}
	if c.LabelIDs == nil {
		c.LabelIDs = []string{}
	}
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	stored, err := s.backend.PutClassification(ctx, &c)
	if err != nil {
		return nil, fmt.Errorf("save classification: %w", err)
	}
	return stored, nil
}

// Classifications lists records matching f. The label filter is
// case-insensitive.
func (s *Store) Classifications(ctx context.Context, f Filter) ([]Classification, error) {
	f.User = strings.TrimSpace(f.User)
	f.Label = strings.ToLower(strings.TrimSpace(f.Label))

	items, err := s.backend.QueryClassifications(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	if items == nil {
		items = []Classification{}
	}
	return items, nil
}

// ClassifiedIDs returns the ids of every message the user has classified.
func (s *Store) ClassifiedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	items, err := s.Classifications(ctx, Filter{User: userID})
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ID != "" {
			ids[item.ID] = struct{}{}
		}
	}
	return ids, nil
}

// UpsertUser creates or updates a user. Tokens are merged over the stored
// ones so a refresh without a new refresh token keeps the old one.
func (s *Store) UpsertUser(ctx context.Context, u User) (*User, error) {
	if u.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.backend.GetUser(ctx, u.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.now().UTC()
	u.CreatedAt = now
	var tokens Tokens
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
		if existing.Tokens != nil {
			tokens = *existing.Tokens
		}
	}
	if u.Tokens != nil {
		tokens = tokens.Merge(*u.Tokens)
	}
	u.Tokens = &tokens
	u.UpdatedAt = now

	if err := s.backend.PutUser(ctx, &u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return &u, nil
}

// SaveUserTokens merges tokens into an existing user's credentials.
func (s *Store) SaveUserTokens(ctx context.Context, userID string, tokens Tokens) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.backend.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("save tokens for unknown user %q: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var merged Tokens
	if u.Tokens != nil {
		merged = *u.Tokens
	}
	merged = merged.Merge(tokens)
	u.Tokens = &merged
	u.UpdatedAt = s.now().UTC()

	if err := s.backend.PutUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return u, nil
}

// GetUser returns ErrNotFound for unknown or empty ids.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.backend.GetUser(ctx, id)
}

// UserTokens returns the stored tokens, or nil when the user is unknown or
// has none.
func (s *Store) UserTokens(ctx context.Context, id string) (*Tokens, error) {
	u, err := s.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Tokens == nil || *u.Tokens == (Tokens{}) {
		return nil, nil
	}
	return u.Tokens, nil
}

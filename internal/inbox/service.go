package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wesm/inboxsort/internal/gmail"
	"github.com/wesm/inboxsort/internal/store"
)

// ClientFactory builds an authorized Gmail API for a user. It returns
// ErrAuthorizationMissing when the user has no stored credentials.
type ClientFactory interface {
	ClientFor(ctx context.Context, userID string) (gmail.API, error)
}

// Ledger is the read side of the classification store the service needs.
type Ledger interface {
	ClassifiedIDs(ctx context.Context, userID string) (map[string]struct{}, error)
}

// FetchOptions are the caller-facing filters of FetchEmails.
type FetchOptions struct {
	// MaxResults is both the number of emails wanted and the list page size.
	MaxResults int
	Query      string
	LabelIDs   []string
	After      *time.Time
	Before     *time.Time
}

// FetchResult is the outcome of FetchEmails.
type FetchResult struct {
	Emails    []Message `json:"emails"`
	Requested int       `json:"requested"`
	Delivered int       `json:"delivered"`
}

// Service fetches unclassified emails and threads on behalf of a user.
type Service struct {
	clients      ClientFactory
	ledger       Ledger
	defaultCount int
	logger       *slog.Logger
}

// NewService creates a service. A defaultCount <= 0 means DefaultCount.
func NewService(clients ClientFactory, ledger Ledger, defaultCount int, logger *slog.Logger) *Service {
	if defaultCount <= 0 {
		defaultCount = DefaultCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clients:      clients,
		ledger:       ledger,
		defaultCount: defaultCount,
		logger:       logger,
	}
}

// FetchEmails returns up to MaxResults (or the default count) emails the user
// has not classified yet. Classifications recorded while the fetch runs are
// not taken into account.
func (s *Service) FetchEmails(ctx context.Context, userID string, opts FetchOptions) (*FetchResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identifier", ErrInvalidArgument)
	}

	exclude, err := s.ledger.ClassifiedIDs(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return nil, fmt.Errorf("load classified ids: %w", err)
	}

	api, err := s.clients.ClientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(api, s.defaultCount)
	req := FetchRequest{
		Target:     opts.MaxResults,
		PageSize:   opts.MaxResults,
		Query:      opts.Query,
		LabelIDs:   opts.LabelIDs,
		After:      opts.After,
		Before:     opts.Before,
		ExcludeIDs: exclude,
	}
	emails, err := engine.FetchUnique(ctx, req)
	if err != nil {
		return nil, err
	}

	requested := engine.Target(req)
	s.logger.Debug("fetched emails", "user", userID, "requested", requested, "delivered", len(emails), "excluded", len(exclude))
	return &FetchResult{
		Emails:    emails,
		Requested: requested,
		Delivered: len(emails),
	}, nil
}

// Thread returns the messages of one thread in chronological order.
func (s *Service) Thread(ctx context.Context, userID, threadID string) ([]ThreadMessage, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", ErrInvalidArgument)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identifier", ErrInvalidArgument)
	}

	api, err := s.clients.ClientFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewEngine(api, s.defaultCount).FetchThread(ctx, threadID)
}

// Message returns a single message of the user's mailbox.
func (s *Service) Message(ctx context.Context, userID, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identifier", ErrInvalidArgument)
	}

	api, err := s.clients.ClientFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewEngine(api, s.defaultCount).FetchMessage(ctx, messageID)
}

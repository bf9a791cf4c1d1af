package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/wesm/inboxsort/internal/gmail"
	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/store"
)

// TokenStore loads a user's stored credentials and persists refreshed ones.
// store.Store satisfies it.
type TokenStore interface {
	UserTokens(ctx context.Context, userID string) (*store.Tokens, error)
	SaveUserTokens(ctx context.Context, userID string, tokens store.Tokens) (*store.User, error)
}

// Profile is the Google account behind an authorization code.
type Profile struct {
	ID      string
	Email   string
	Name    string
	Picture string
}

// Provider runs the OAuth code flow and builds authorized Gmail clients.
type Provider struct {
	config *oauth2.Config
	tokens TokenStore
	logger *slog.Logger
	qps    float64

	gmailOpts    []gmail.ClientOption
	userinfoOpts []option.ClientOption

	mu    sync.Mutex
	gates map[string]*userGate
}

// userGate is the quota and failure state shared by all of a user's clients.
type userGate struct {
	limiter *gmail.RateLimiter
	breaker *gobreaker.CircuitBreaker
}

var _ inbox.ClientFactory = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

// WithQPS sets the per-user Gmail request rate.
func WithQPS(qps float64) ProviderOption {
	return func(p *Provider) { p.qps = qps }
}

// WithGmailOptions adds options to every Gmail client.
func WithGmailOptions(opts ...gmail.ClientOption) ProviderOption {
	return func(p *Provider) { p.gmailOpts = append(p.gmailOpts, opts...) }
}

// WithUserinfoOptions adds options to the userinfo service used by Exchange.
func WithUserinfoOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.userinfoOpts = append(p.userinfoOpts, opts...) }
}

// NewProvider creates a provider for cfg that reads and refreshes tokens
// through tokens.
func NewProvider(cfg *oauth2.Config, tokens TokenStore, opts ...ProviderOption) *Provider {
	p := &Provider{
		config: cfg,
		tokens: tokens,
		qps:    gmail.DefaultQPS,
		gates:  make(map[string]*userGate),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AuthURL returns the consent page URL. Offline access with a forced consent
// prompt guarantees a refresh token.
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for tokens and the account profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*store.Tokens, *Profile, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(p.config.TokenSource(ctx, tok))}, p.userinfoOpts...)
	svc, err := oauth2v2.NewService(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("get user info: %w", err)
	}
	if info.Id == "" {
		return nil, nil, errors.New("unable to retrieve Google user information")
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}
	tokens := TokensFromOAuth(tok)
	return &tokens, &Profile{
		ID:      info.Id,
		Email:   info.Email,
		Name:    name,
		Picture: info.Picture,
	}, nil
}

// ClientFor returns a Gmail client acting as userID. Refreshed tokens are
// saved back through the TokenStore; save failures are only logged.
func (p *Provider) ClientFor(ctx context.Context, userID string) (gmail.API, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identifier", inbox.ErrInvalidArgument)
	}

	stored, err := p.tokens.UserTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if stored == nil {
		return nil, inbox.ErrAuthorizationMissing
	}

	ts := &savingTokenSource{
		base:    p.config.TokenSource(context.WithoutCancel(ctx), OAuthToken(*stored)),
		saver:   p.tokens,
		userID:  userID,
		current: stored.AccessToken,
		logger:  p.logger,
	}
	gate := p.gateFor(userID)
	opts := append([]gmail.ClientOption{
		gmail.WithLogger(p.logger),
		gmail.WithRateLimiter(gate.limiter),
		gmail.WithCircuitBreaker(gate.breaker),
	}, p.gmailOpts...)
	return gmail.NewClient(ctx, ts, opts...)
}

// gateFor shares one rate limiter and one circuit breaker between all
// clients of a user.
func (p *Provider) gateFor(userID string) *userGate {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[userID]
	if !ok {
		g = &userGate{
			limiter: gmail.NewRateLimiter(p.qps),
			breaker: gmail.NewCircuitBreaker("gmail-api:"+userID, p.logger),
		}
		p.gates[userID] = g
	}
	return g
}

// savingTokenSource persists every new access token minted by base.
type savingTokenSource struct {
	base   oauth2.TokenSource
	saver  TokenStore
	userID string
	logger *slog.Logger

	mu      sync.Mutex
	current string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.current
	s.current = tok.AccessToken
	s.mu.Unlock()

	if changed {
		if _, err := s.saver.SaveUserTokens(context.Background(), s.userID, TokensFromOAuth(tok)); err != nil {
			s.logger.Warn("failed to persist refreshed tokens", "user", s.userID, "error", err)
		}
	}
	return tok, nil
}

// TokensFromOAuth converts an oauth2 token for storage.
func TokensFromOAuth(t *oauth2.Token) store.Tokens {
	out := store.Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if !t.Expiry.IsZero() {
		out.ExpiryDate = t.Expiry.UnixMilli()
	}
	if v, ok := t.Extra("scope").(string); ok {
		out.Scope = v
	}
	if v, ok := t.Extra("id_token").(string); ok {
		out.IDToken = v
	}
	return out
}

// OAuthToken converts stored tokens back to an oauth2 token. A zero expiry
// stays zero, which oauth2 treats as never expiring.
func OAuthToken(t store.Tokens) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiryDate != 0 {
		tok.Expiry = time.UnixMilli(t.ExpiryDate)
	}
	return tok
}

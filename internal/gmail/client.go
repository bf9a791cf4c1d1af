package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wesm/inboxsort/internal/mime"
)

const (
	user = "me"

	// rateLimitBackoff is how long calls pause after Gmail reports a quota error.
	rateLimitBackoff = 10 * time.Second
)

var _ API = (*Client)(nil)

// Client implements API on top of the Gmail REST API.
type Client struct {
	svc     *gmailv1.Service
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	qps         float64
	serviceOpts []option.ClientOption
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the request rate. Clients for the same user should share
// a limiter instead; see WithRateLimiter.
func WithRateLimit(qps float64) ClientOption {
	return func(c *Client) {
		c.qps = qps
	}
}

// WithRateLimiter makes the client draw from an existing limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.limiter = rl
	}
}

// WithCircuitBreaker makes the client report to an existing breaker. All
// clients acting for one account should share a breaker so consecutive
// failures are counted across requests.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithServiceOptions passes extra options to the underlying Gmail service,
// e.g. an endpoint override in tests.
func WithServiceOptions(opts ...option.ClientOption) ClientOption {
	return func(c *Client) {
		c.serviceOpts = append(c.serviceOpts, opts...)
	}
}

// NewClient creates a Gmail client authorized by ts. A nil ts is allowed only
// together with service options that provide their own authentication.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ...ClientOption) (*Client, error) {
	c := &Client{qps: DefaultQPS}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(c.qps)
	}

	svcOpts := c.serviceOpts
	if ts != nil {
		svcOpts = append([]option.ClientOption{option.WithTokenSource(ts)}, svcOpts...)
	}
	svc, err := gmailv1.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	c.svc = svc

	if c.breaker == nil {
		c.breaker = NewCircuitBreaker("gmail-api", c.logger)
	}

	return c, nil
}

// NewCircuitBreaker creates the breaker guarding Gmail calls. It opens after
// more than five consecutive server-side failures and probes again after 30s.
func NewCircuitBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// tripsBreaker reports whether err counts as a Gmail outage. Client errors
// (4xx) say nothing about Gmail's health, except rate limiting.
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return apiErr.Code == http.StatusTooManyRequests || isRateLimitError([]byte(apiErr.Body))
	}
	return true
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	resp, err := callAPI(ctx, c, OpProfile, func() (*gmailv1.Profile, error) {
		return c.svc.Users.GetProfile(user).Context(ctx).Do()
	})
	if err != nil {
		return nil, c.wrap(err, "profile", user)
	}
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     resp.HistoryId,
	}, nil
}

// ListMessages returns one page of message references.
func (c *Client) ListMessages(ctx context.Context, req ListRequest) (*MessageListResponse, error) {
	list := c.svc.Users.Messages.List(user)
	if req.PageSize > 0 {
		list = list.MaxResults(req.PageSize)
	}
	if req.Query != "" {
		list = list.Q(req.Query)
	}
	if len(req.LabelIDs) > 0 {
		list = list.LabelIds(req.LabelIDs...)
	}
	if req.PageToken != "" {
		list = list.PageToken(req.PageToken)
	}

	resp, err := callAPI(ctx, c, OpMessagesList, func() (*gmailv1.ListMessagesResponse, error) {
		return list.Context(ctx).Do()
	})
	if err != nil {
		return nil, c.wrap(err, "messages", "")
	}

	out := &MessageListResponse{
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
		Messages:           make([]MessageRef, 0, len(resp.Messages)),
	}
	for _, m := range resp.Messages {
		out.Messages = append(out.Messages, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return out, nil
}

// GetMessage fetches one message in full format.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	resp, err := callAPI(ctx, c, OpMessagesGet, func() (*gmailv1.Message, error) {
		return c.svc.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, c.wrap(err, "message", messageID)
	}
	return convertMessage(resp), nil
}

// GetThread fetches one thread with all its messages in full format.
func (c *Client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	resp, err := callAPI(ctx, c, OpThreadsGet, func() (*gmailv1.Thread, error) {
		return c.svc.Users.Threads.Get(user, threadID).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, c.wrap(err, "thread", threadID)
	}

	t := &Thread{ID: resp.Id, Messages: make([]*Message, 0, len(resp.Messages))}
	for _, m := range resp.Messages {
		t.Messages = append(t.Messages, convertMessage(m))
	}
	return t, nil
}

// callAPI runs fn under the rate limiter and circuit breaker.
func callAPI[T any](ctx context.Context, c *Client, op Operation, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Acquire(ctx, op); err != nil {
		return zero, err
	}
	v, err := c.breaker.Execute(func() (interface{}, error) {
		res, err := fn()
		if err != nil {
			return nil, c.classify(err)
		}
		return res, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// classify maps 404s to NotFoundError and backs off on quota errors. Other
// errors pass through.
func (c *Client) classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusNotFound:
		return &NotFoundError{Err: err}
	case apiErr.Code == http.StatusTooManyRequests,
		apiErr.Code == http.StatusForbidden && isRateLimitError([]byte(apiErr.Body)):
		c.logger.Warn("gmail rate limited, backing off", "code", apiErr.Code, "backoff", rateLimitBackoff)
		c.limiter.Throttle(rateLimitBackoff)
	}
	return err
}

// wrap names the missing resource on a 404. Everything else is returned as
// Gmail reported it.
func (c *Client) wrap(err error, resource, id string) error {
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return &NotFoundError{Resource: resource, ID: id, Err: notFound.Err}
	}
	return err
}

// isRateLimitError reports whether a 403 body is a quota error rather than a
// permission error.
func isRateLimitError(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "ratelimitexceeded") ||
		strings.Contains(s, "rate_limit_exceeded") ||
		strings.Contains(s, "quota exceeded")
}

func convertMessage(m *gmailv1.Message) *Message {
	msg := &Message{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		LabelIDs:     m.LabelIds,
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
	}
	if m.Payload != nil {
		msg.Payload = convertPart(m.Payload)
		msg.Headers = msg.Payload.Headers
	}
	return msg
}

func convertPart(p *gmailv1.MessagePart) *mime.Node {
	n := &mime.Node{MimeType: p.MimeType}
	for _, h := range p.Headers {
		n.Headers = append(n.Headers, mime.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		n.Body = &mime.Body{Data: p.Body.Data, Size: p.Body.Size}
	}
	for _, child := range p.Parts {
		n.Parts = append(n.Parts, convertPart(child))
	}
	return n
}

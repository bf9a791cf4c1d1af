package gmail

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wesm/inboxsort/internal/mime"
)

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: []byte(`{
				"error": {
					"code": 403,
					"message": "Quota exceeded for quota metric 'Queries'",
					"errors": [{"reason": "rateLimitExceeded"}]
				}
			}`),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: []byte(`{
				"error": {
					"code": 403,
					"details": [{"reason": "RATE_LIMIT_EXCEEDED"}]
				}
			}`),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: []byte(`{
				"error": {
					"code": 403,
					"message": "Quota exceeded for quota metric 'Queries'"
				}
			}`),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: []byte(`{
				"error": {
					"code": 403,
					"errors": [{"reason": "userRateLimitExceeded"}]
				}
			}`),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: []byte(`{
				"error": {
					"code": 403,
					"message": "The caller does not have permission",
					"errors": [{"reason": "forbidden"}]
				}
			}`),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
		{
			name: "InvalidJSON",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append(opts, WithServiceOptions(
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	))
	c, err := NewClient(context.Background(), nil, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClient_ListMessages(t *testing.T) {
	var gotQuery url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"messages": [{"id": "m1", "threadId": "t1"}, {"id": "m2", "threadId": "t1"}],
			"nextPageToken": "p2",
			"resultSizeEstimate": 2
		}`)
	})
	c := newTestClient(t, mux)

	resp, err := c.ListMessages(context.Background(), ListRequest{
		PageSize:  25,
		Query:     "from:alice",
		LabelIDs:  []string{"INBOX"},
		PageToken: "p1",
	})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	want := &MessageListResponse{
		Messages:           []MessageRef{{ID: "m1", ThreadID: "t1"}, {ID: "m2", ThreadID: "t1"}},
		NextPageToken:      "p2",
		ResultSizeEstimate: 2,
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("ListMessages mismatch (-want +got):\n%s", diff)
	}
	for key, want := range map[string]string{
		"maxResults": "25",
		"q":          "from:alice",
		"labelIds":   "INBOX",
		"pageToken":  "p1",
	} {
		if got := gotQuery.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestClient_GetMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "full" {
			t.Errorf("format = %q, want full", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "m1",
			"threadId": "t1",
			"labelIds": ["INBOX", "UNREAD"],
			"snippet": "Hi",
			"internalDate": "1546300800000",
			"payload": {
				"mimeType": "multipart/alternative",
				"headers": [{"name": "Subject", "value": "Greetings"}],
				"parts": [
					{"mimeType": "text/plain", "body": {"data": "SGk", "size": 2}}
				]
			}
		}`)
	})
	c := newTestClient(t, mux)

	msg, err := c.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}

	payload := &mime.Node{
		MimeType: "multipart/alternative",
		Headers:  []mime.Header{{Name: "Subject", Value: "Greetings"}},
		Parts: []*mime.Node{
			{MimeType: "text/plain", Body: &mime.Body{Data: "SGk", Size: 2}},
		},
	}
	want := &Message{
		ID:           "m1",
		ThreadID:     "t1",
		LabelIDs:     []string{"INBOX", "UNREAD"},
		Snippet:      "Hi",
		InternalDate: 1546300800000,
		Headers:      payload.Headers,
		Payload:      payload,
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("GetMessage mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetThread(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/threads/t1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "t1",
			"messages": [{"id": "m1", "threadId": "t1"}, {"id": "m2", "threadId": "t1"}]
		}`)
	})
	c := newTestClient(t, mux)

	thread, err := c.GetThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.ID != "t1" || len(thread.Messages) != 2 {
		t.Fatalf("GetThread = %+v, want thread t1 with 2 messages", thread)
	}
	if thread.Messages[1].ID != "m2" {
		t.Errorf("second message = %q, want m2", thread.Messages[1].ID)
	}
}

func TestClient_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/threads/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error": {"code": 404, "message": "Requested entity was not found."}}`)
	})
	c := newTestClient(t, mux)

	_, err := c.GetThread(context.Background(), "missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("GetThread error = %v, want *NotFoundError", err)
	}
	if notFound.Resource != "thread" || notFound.ID != "missing" {
		t.Errorf("NotFoundError = %+v, want thread/missing", notFound)
	}
}

func TestClient_UpstreamErrors(t *testing.T) {
	const (
		quotaBody      = `{"error": {"code": 403, "message": "Quota exceeded", "errors": [{"reason": "rateLimitExceeded"}]}}`
		permissionBody = `{"error": {"code": 403, "message": "The caller does not have permission"}}`
	)
	tests := []struct {
		name      string
		status    int
		body      string
		throttled bool
		trips     bool
	}{
		{"too many requests", http.StatusTooManyRequests, `{"error": {"code": 429, "message": "Too many requests"}}`, true, true},
		{"quota 403", http.StatusForbidden, quotaBody, true, true},
		{"permission 403", http.StatusForbidden, permissionBody, false, false},
		{"bad request", http.StatusBadRequest, `{"error": {"code": 400, "message": "Invalid query"}}`, false, false},
		{"server error", http.StatusInternalServerError, `{"error": {"code": 500, "message": "Backend Error"}}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			rl := NewRateLimiter(DefaultQPS)
			c := newTestClient(t, mux, WithRateLimiter(rl))

			_, err := c.ListMessages(context.Background(), ListRequest{})
			var apiErr *googleapi.Error
			if !errors.As(err, &apiErr) || apiErr.Code != tt.status {
				t.Fatalf("ListMessages error = %v, want googleapi.Error %d", err, tt.status)
			}
			if err.Error() != apiErr.Error() {
				t.Errorf("error text = %q, want Gmail's %q unchanged", err.Error(), apiErr.Error())
			}

			_, until := limiterState(rl)
			if got := time.Now().Before(until); got != tt.throttled {
				t.Errorf("throttled = %v, want %v", got, tt.throttled)
			}
			if got := tripsBreaker(err); got != tt.trips {
				t.Errorf("tripsBreaker = %v, want %v", got, tt.trips)
			}
		})
	}
}

func TestTripsBreaker_Ignores(t *testing.T) {
	for _, err := range []error{
		nil,
		context.Canceled,
		context.DeadlineExceeded,
		&NotFoundError{Resource: "message", ID: "m1"},
	} {
		if tripsBreaker(err) {
			t.Errorf("tripsBreaker(%v) = true, want false", err)
		}
	}
}

func TestClient_SharedBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": {"code": 503, "message": "Backend Error"}}`)
	})
	cb := NewCircuitBreaker("test", nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	// A fresh client per call, as each request builds its own.
	var open int
	for i := 0; i < 8; i++ {
		c, err := NewClient(context.Background(), nil,
			WithCircuitBreaker(cb),
			WithServiceOptions(option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication()))
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if _, err := c.GetProfile(context.Background()); errors.Is(err, gobreaker.ErrOpenState) {
			open++
		}
	}
	if open != 2 {
		t.Errorf("open-state rejections = %d, want 2", open)
	}
	if got := calls.Load(); got != 6 {
		t.Errorf("upstream calls = %d, want 6", got)
	}
	if cb.State() != gobreaker.StateOpen {
		t.Errorf("breaker state = %v, want open", cb.State())
	}
}

func TestClient_NotFoundKeepsGmailMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error": {"code": 404, "message": "Requested entity was not found."}}`)
	})
	c := newTestClient(t, mux)

	_, err := c.GetMessage(context.Background(), "gone")
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetMessage error = %v, want it to wrap googleapi.Error", err)
	}
	if err.Error() != apiErr.Error() {
		t.Errorf("error text = %q, want %q", err.Error(), apiErr.Error())
	}
	if !strings.Contains(err.Error(), "Requested entity was not found.") {
		t.Errorf("error text = %q, want Gmail's message", err.Error())
	}
}

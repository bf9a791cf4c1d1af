// Package gmail provides a read-only Gmail API client with rate limiting,
// plus an in-memory mock for tests.
package gmail

import (
	"context"

	"github.com/wesm/inboxsort/internal/mime"
)

// MaxPageSize is the largest page Gmail accepts for messages.list.
const MaxPageSize = 500

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListMessages returns one page of message references matching req.
	// NextPageToken is empty on the last page.
	ListMessages(ctx context.Context, req ListRequest) (*MessageListResponse, error)

	// GetMessage fetches a single message with its full payload tree.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// GetThread fetches every message of a thread with full payloads.
	GetThread(ctx context.Context, threadID string) (*Thread, error)
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// ListRequest selects one page of messages.
type ListRequest struct {
	PageSize  int64
	Query     string   // Gmail search syntax; empty means no filter
	LabelIDs  []string // all must match; empty means no filter
	PageToken string
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageRef
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageRef represents a message reference from list operations.
type MessageRef struct {
	ID       string
	ThreadID string
}

// Message is a message fetched in "full" format.
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64 // Unix milliseconds, 0 when Gmail did not report it
	Headers      []mime.Header
	Payload      *mime.Node
}

// Thread is a conversation and its messages in Gmail's order.
type Thread struct {
	ID       string
	Messages []*Message
}

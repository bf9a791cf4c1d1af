// Package inbox fetches unclassified emails and reconstructs threads on top
// of the Gmail API.
package inbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/inboxsort/internal/gmail"
	"github.com/wesm/inboxsort/internal/mime"
	"github.com/wesm/inboxsort/internal/search"
	"github.com/wesm/inboxsort/internal/store"
)

// DefaultCount is the number of emails fetched when the caller gives none.
const DefaultCount = 50

const isoMillis = "2006-01-02T15:04:05.000Z"

// FetchRequest describes one FetchUnique call.
type FetchRequest struct {
	// Target is the number of unique messages wanted. Zero falls back to
	// PageSize, then to the engine default.
	Target int
	// PageSize is the requested list page size, clamped to [1, 500].
	PageSize int
	Query    string
	LabelIDs []string
	After    *time.Time
	Before   *time.Time
	// ExcludeIDs are skipped. The map is only read.
	ExcludeIDs map[string]struct{}
}

// Engine pages through a mailbox collecting unique, non-excluded messages.
// It never retries and adds no timeouts; the API transport owns both.
type Engine struct {
	api          gmail.API
	defaultCount int
}

// NewEngine creates an engine over api. A defaultCount <= 0 means DefaultCount.
func NewEngine(api gmail.API, defaultCount int) *Engine {
	if defaultCount <= 0 {
		defaultCount = DefaultCount
	}
	return &Engine{api: api, defaultCount: defaultCount}
}

// Target returns the number of messages FetchUnique will try to collect.
func (e *Engine) Target(req FetchRequest) int {
	switch {
	case req.Target > 0:
		return req.Target
	case req.PageSize > 0:
		return req.PageSize
	default:
		return e.defaultCount
	}
}

func (e *Engine) pageSize(req FetchRequest) int64 {
	size := req.PageSize
	if size <= 0 {
		size = e.defaultCount
	}
	return int64(min(max(size, 1), gmail.MaxPageSize))
}

// FetchUnique lists pages until Target unique, non-excluded ids are collected
// or the mailbox is exhausted, then fetches every candidate concurrently.
// Results keep the order in which ids were collected. Any failed fetch fails
// the whole call.
func (e *Engine) FetchUnique(ctx context.Context, req FetchRequest) ([]Message, error) {
	target := e.Target(req)
	list := gmail.ListRequest{
		PageSize: e.pageSize(req),
		Query:    search.BuildQuery(req.Query, req.After, req.Before),
		LabelIDs: req.LabelIDs,
	}

	seen := make(map[string]struct{})
	var candidates []string

	for len(candidates) < target {
		page, err := e.api.ListMessages(ctx, list)
		if err != nil {
			return nil, &UpstreamError{Op: "list messages", Err: err}
		}
		if len(page.Messages) == 0 {
			break
		}

		for _, ref := range page.Messages {
			if _, ok := seen[ref.ID]; ok {
				continue
			}
			seen[ref.ID] = struct{}{}
			if _, ok := req.ExcludeIDs[ref.ID]; ok {
				continue
			}
			candidates = append(candidates, ref.ID)
			if len(candidates) >= target {
				break
			}
		}

		if page.NextPageToken == "" {
			break
		}
		list.PageToken = page.NextPageToken
	}

	if len(candidates) == 0 {
		return []Message{}, nil
	}

	results := make([]Message, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range candidates {
		g.Go(func() error {
			raw, err := e.api.GetMessage(gctx, id)
			if err != nil {
				return &UpstreamError{Op: "get message", Err: err}
			}
			msg, err := shapeMessage(id, raw)
			if err != nil {
				return err
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchMessage returns one message shaped like a FetchUnique result.
func (e *Engine) FetchMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	}
	raw, err := e.api.GetMessage(ctx, id)
	if err != nil {
		return nil, &UpstreamError{Op: "get message", Err: err}
	}
	msg, err := shapeMessage(id, raw)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchThread returns the messages of a thread sorted by timestamp.
func (e *Engine) FetchThread(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", ErrInvalidArgument)
	}

	thread, err := e.api.GetThread(ctx, threadID)
	if err != nil {
		return nil, &UpstreamError{Op: "get thread", Err: err}
	}

	out := make([]ThreadMessage, 0, len(thread.Messages))
	for _, raw := range thread.Messages {
		msg, err := shapeThreadMessage(threadID, thread.ID, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}

	// Messages without a timestamp sort as epoch zero.
	sort.SliceStable(out, func(i, j int) bool {
		return timestampOrZero(out[i].Timestamp) < timestampOrZero(out[j].Timestamp)
	})
	return out, nil
}

func shapeMessage(id string, raw *gmail.Message) (Message, error) {
	body, err := mime.ExtractBody(raw.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("extract body of message %s: %w", id, err)
	}
	return Message{
		ID:       id,
		ThreadID: raw.ThreadID,
		LabelIDs: nonNil(raw.LabelIDs),
		Subject:  headerOr(raw.Headers, "Subject", store.DefaultSubject),
		From:     headerOr(raw.Headers, "From", store.DefaultFrom),
		Date:     optionalHeader(raw.Headers, "Date"),
		Snippet:  raw.Snippet,
		Body:     body,
	}, nil
}

func shapeThreadMessage(requestedID, threadID string, raw *gmail.Message) (ThreadMessage, error) {
	body, err := mime.ExtractBody(raw.Payload)
	if err != nil {
		return ThreadMessage{}, fmt.Errorf("extract body of message %s: %w", raw.ID, err)
	}

	headerDate := optionalHeader(raw.Headers, "Date")
	timestamp := messageTimestamp(headerDate, raw.InternalDate)

	var date *string
	if timestamp != nil {
		s := time.UnixMilli(*timestamp).UTC().Format(isoMillis)
		date = &s
	}

	return ThreadMessage{
		ID:         raw.ID,
		ThreadID:   firstNonEmpty(raw.ThreadID, threadID, requestedID),
		Subject:    headerOr(raw.Headers, "Subject", store.DefaultSubject),
		From:       headerOr(raw.Headers, "From", store.DefaultFrom),
		To:         mime.HeaderValue(raw.Headers, "To"),
		Cc:         mime.HeaderValue(raw.Headers, "Cc"),
		Snippet:    raw.Snippet,
		Body:       body,
		LabelIDs:   nonNil(raw.LabelIDs),
		Date:       date,
		HeaderDate: headerDate,
		Timestamp:  timestamp,
	}, nil
}

// messageTimestamp prefers the Date header and falls back to Gmail's internal
// date. It returns nil when neither is usable.
func messageTimestamp(headerDate *string, internalDate int64) *int64 {
	if headerDate != nil {
		if t, ok := mime.ParseDate(*headerDate); ok {
			ms := t.UnixMilli()
			return &ms
		}
	}
	if internalDate != 0 {
		return &internalDate
	}
	return nil
}

func timestampOrZero(ts *int64) int64 {
	if ts == nil {
		return 0
	}
	return *ts
}

func headerOr(headers []mime.Header, name, fallback string) string {
	if v := mime.HeaderValue(headers, name); v != "" {
		return v
	}
	return fallback
}

func optionalHeader(headers []mime.Header, name string) *string {
	v := mime.HeaderValue(headers, name)
	if v == "" {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

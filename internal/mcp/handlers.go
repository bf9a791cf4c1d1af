package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/search"
	"github.com/wesm/inboxsort/internal/store"
)

// maxResults caps fetch_emails; Gmail pages hold at most 500 ids.
const maxResults = 500

type handlers struct {
	inbox  *inbox.Service
	store  *store.Store
	userID string
}

func (h *handlers) fetchEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	opts := inbox.FetchOptions{
		MaxResults: intArg(args, "max_results", 0),
		LabelIDs:   stringsArg(args, "label_ids"),
	}
	if v, ok := args["query"].(string); ok {
		opts.Query = v
	}
	if v, ok := args["after"].(string); ok && v != "" {
		opts.After = search.ParseDate(v)
		if opts.After == nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid after date %q", v)), nil
		}
	}
	if v, ok := args["before"].(string); ok && v != "" {
		opts.Before = search.ParseDate(v)
		if opts.Before == nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid before date %q", v)), nil
		}
	}

	result, err := h.inbox.FetchEmails(ctx, h.userID, opts)
	if err != nil {
		return toolError("fetch failed", err), nil
	}
	return jsonResult(result)
}

func (h *handlers) getThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	threadID, _ := args["thread_id"].(string)
	if threadID == "" {
		return mcp.NewToolResultError("thread_id parameter is required"), nil
	}

	messages, err := h.inbox.Thread(ctx, h.userID, threadID)
	if err != nil {
		return toolError("thread failed", err), nil
	}
	return jsonResult(messages)
}

func (h *handlers) listClassifications(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	label, _ := args["label"].(string)
	items, err := h.store.Classifications(ctx, store.Filter{User: h.userID, Label: label})
	if err != nil {
		return toolError("list failed", err), nil
	}
	return jsonResult(items)
}

func (h *handlers) classifyEmail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	c := store.Classification{
		User:     h.userID,
		LabelIDs: stringsArg(args, "label_ids"),
	}
	c.ID, _ = args["id"].(string)
	c.Label, _ = args["label"].(string)
	c.Subject, _ = args["subject"].(string)
	c.From, _ = args["from"].(string)
	c.Snippet, _ = args["snippet"].(string)
	c.Body, _ = args["body"].(string)
	if v, ok := args["date"].(string); ok && v != "" {
		c.Date = &v
	}

	item, err := h.store.UpsertClassification(ctx, c)
	if err != nil {
		return toolError("classify failed", err), nil
	}
	return jsonResult(item)
}

// toolError reports err to the client; invalid input is shown without the
// prefix since it is actionable as is.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if errors.Is(err, store.ErrInvalid) || errors.Is(err, inbox.ErrInvalidArgument) {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// intArg extracts a non-negative integer from a map, with a default value.
// JSON numbers arrive as float64. Negative values are clamped to 0,
// and values above maxResults are clamped to maxResults.
func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		n := int(v)
		if n < 0 {
			return 0
		}
		if n > maxResults {
			return maxResults
		}
		return n
	}
	return def
}

// stringsArg accepts a JSON array of strings or a comma-separated string.
func stringsArg(args map[string]any, key string) []string {
	var raw []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	case string:
		raw = strings.Split(v, ",")
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

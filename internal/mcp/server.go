// Package mcp exposes inbox triage to MCP clients over stdio.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/store"
)

// Serve creates an MCP server acting for userID and serves over stdio.
// It blocks until stdin is closed or the context is cancelled.
func Serve(ctx context.Context, svc *inbox.Service, st *store.Store, userID, version string) error {
	s := NewServer(svc, st, userID, version)
	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// NewServer builds the MCP server with every inbox tool registered.
func NewServer(svc *inbox.Service, st *store.Store, userID, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"inboxsort",
		version,
		server.WithToolCapabilities(false),
	)

	h := &handlers{inbox: svc, store: st, userID: userID}

	s.AddTool(fetchEmailsTool(), h.fetchEmails)
	s.AddTool(getThreadTool(), h.getThread)
	s.AddTool(listClassificationsTool(), h.listClassifications)
	s.AddTool(classifyEmailTool(), h.classifyEmail)
	return s
}

func fetchEmailsTool() mcp.Tool {
	return mcp.NewTool("fetch_emails",
		mcp.WithDescription("Fetch inbox emails that have not been classified yet, newest first. Returns decoded bodies."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("max_results",
			mcp.Description("Number of unclassified emails to return (default from config)"),
		),
		mcp.WithString("query",
			mcp.Description("Gmail search query (e.g. 'from:alice has:attachment')"),
		),
		mcp.WithArray("label_ids",
			mcp.Description("Only messages carrying all of these Gmail label IDs (e.g. INBOX, UNREAD)"),
			mcp.WithStringItems(),
		),
		mcp.WithString("after",
			mcp.Description("Only messages after this date (YYYY-MM-DD, RFC 3339, or relative like 7d)"),
		),
		mcp.WithString("before",
			mcp.Description("Only messages before this date (YYYY-MM-DD, RFC 3339, or relative like 7d)"),
		),
	)
}

func getThreadTool() mcp.Tool {
	return mcp.NewTool("get_thread",
		mcp.WithDescription("Get every message of a Gmail thread in chronological order."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("thread_id",
			mcp.Required(),
			mcp.Description("Gmail thread ID"),
		),
	)
}

func listClassificationsTool() mcp.Tool {
	return mcp.NewTool("list_classifications",
		mcp.WithDescription("List recorded good/bad classifications, oldest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("label",
			mcp.Description("Only this label"),
			mcp.Enum(store.LabelGood, store.LabelBad),
		),
	)
}

func classifyEmailTool() mcp.Tool {
	return mcp.NewTool("classify_email",
		mcp.WithDescription("Record a good or bad verdict for an email. Re-classifying replaces the earlier verdict."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Gmail message ID"),
		),
		mcp.WithString("label",
			mcp.Required(),
			mcp.Description("Verdict"),
			mcp.Enum(store.LabelGood, store.LabelBad),
		),
		mcp.WithString("subject", mcp.Description("Message subject")),
		mcp.WithString("from", mcp.Description("Message sender")),
		mcp.WithString("snippet", mcp.Description("Message snippet")),
		mcp.WithString("date", mcp.Description("Message Date header")),
		mcp.WithString("body", mcp.Description("Message body")),
		mcp.WithArray("label_ids",
			mcp.Description("Gmail label IDs of the message"),
			mcp.WithStringItems(),
		),
	)
}

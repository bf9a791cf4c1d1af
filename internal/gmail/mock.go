package gmail

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

var _ API = (*MockAPI)(nil)

// MockAPI is an in-memory API for tests. Pages come from MessagePages when
// set, otherwise from every added message in ID order, chunked by page size.
type MockAPI struct {
	mu sync.Mutex

	Profile  *Profile
	Messages map[string]*Message
	// Threads overrides the thread assembled from added messages.
	Threads map[string]*Thread
	// MessagePages lists message IDs per page. Page tokens are page indexes.
	MessagePages [][]string

	ProfileError    error
	ListError       error
	GetMessageError map[string]error
	ThreadError     map[string]error
	// BeforeGetMessage runs before each GetMessage, outside the lock.
	BeforeGetMessage func(ctx context.Context, id string)

	ProfileCalls      int
	ListMessagesCalls int
	ListRequests      []ListRequest
	GetMessageCalls   []string
	ThreadCalls       []string
	LastQuery         string

	order []string
}

// NewMockAPI creates an empty mock.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Profile:         &Profile{EmailAddress: "test@example.com"},
		Messages:        make(map[string]*Message),
		Threads:         make(map[string]*Thread),
		GetMessageError: make(map[string]error),
		ThreadError:     make(map[string]error),
	}
}

// AddMessage registers msg for GetMessage and its thread.
func (m *MockAPI) AddMessage(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Messages[msg.ID]; !ok {
		m.order = append(m.order, msg.ID)
	}
	m.Messages[msg.ID] = msg
}

// Reset clears the call counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls = 0
	m.ListMessagesCalls = 0
	m.ListRequests = nil
	m.GetMessageCalls = nil
	m.ThreadCalls = nil
	m.LastQuery = ""
}

// GetMessageCallCount returns how many GetMessage calls were made.
func (m *MockAPI) GetMessageCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.GetMessageCalls)
}

// GetProfile implements API.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++
	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	p := *m.Profile
	return &p, nil
}

// ListMessages implements API.
func (m *MockAPI) ListMessages(ctx context.Context, req ListRequest) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.ListRequests = append(m.ListRequests, req)
	m.LastQuery = req.Query
	if m.ListError != nil {
		return nil, m.ListError
	}

	pages := m.MessagePages
	if pages == nil {
		pages = m.defaultPages(req.PageSize)
	}

	idx := 0
	if req.PageToken != "" {
		n, err := strconv.Atoi(req.PageToken)
		if err != nil {
			return nil, &NotFoundError{Resource: "page", ID: req.PageToken}
		}
		idx = n
	}

	resp := &MessageListResponse{}
	if idx >= len(pages) {
		return resp, nil
	}
	for _, id := range pages[idx] {
		threadID := id
		if msg, ok := m.Messages[id]; ok && msg.ThreadID != "" {
			threadID = msg.ThreadID
		}
		resp.Messages = append(resp.Messages, MessageRef{ID: id, ThreadID: threadID})
	}
	resp.ResultSizeEstimate = int64(len(resp.Messages))
	if idx+1 < len(pages) {
		resp.NextPageToken = strconv.Itoa(idx + 1)
	}
	return resp, nil
}

func (m *MockAPI) defaultPages(pageSize int64) [][]string {
	ids := make([]string, 0, len(m.Messages))
	for id := range m.Messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if pageSize <= 0 {
		pageSize = 100
	}

	var pages [][]string
	for start := 0; start < len(ids); start += int(pageSize) {
		end := start + int(pageSize)
		if end > len(ids) {
			end = len(ids)
		}
		pages = append(pages, ids[start:end])
	}
	return pages
}

// GetMessage implements API.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m.mu.Lock()
	hook := m.BeforeGetMessage
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, messageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)
	if err, ok := m.GetMessageError[messageID]; ok {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Resource: "message", ID: messageID}
	}
	return msg, nil
}

// GetThread implements API.
func (m *MockAPI) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ThreadCalls = append(m.ThreadCalls, threadID)
	if err, ok := m.ThreadError[threadID]; ok {
		return nil, err
	}
	if t, ok := m.Threads[threadID]; ok {
		return t, nil
	}

	t := &Thread{ID: threadID}
	for _, id := range m.order {
		if msg := m.Messages[id]; msg.ThreadID == threadID {
			t.Messages = append(t.Messages, msg)
		}
	}
	if len(t.Messages) == 0 {
		return nil, &NotFoundError{Resource: "thread", ID: threadID}
	}
	return t, nil
}

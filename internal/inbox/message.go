package inbox

// Message is a fetched email shaped for display. Date is the raw Date header.
type Message struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
	Subject  string   `json:"subject"`
	From     string   `json:"from"`
	Date     *string  `json:"date"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body"`
}

// ThreadMessage is one message of a reconstructed thread. Date is the ISO
// 8601 rendering of Timestamp; HeaderDate is the raw Date header.
type ThreadMessage struct {
	ID         string   `json:"id"`
	ThreadID   string   `json:"threadId"`
	Subject    string   `json:"subject"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Cc         string   `json:"cc"`
	Snippet    string   `json:"snippet"`
	Body       string   `json:"body"`
	LabelIDs   []string `json:"labelIds"`
	Date       *string  `json:"date"`
	HeaderDate *string  `json:"headerDate"`
	Timestamp  *int64   `json:"timestamp"` // Unix milliseconds
}

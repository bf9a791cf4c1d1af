// Package mime extracts readable content from the MIME part trees returned by
// the Gmail API.
package mime

import (
	"mime"
	"strings"
)

// Node is one part of a message payload. Leaf parts carry base64url encoded
// content in Body; multipart containers carry ordered child Parts.
type Node struct {
	MimeType string
	Headers  []Header
	Body     *Body
	Parts    []*Node
}

// Body holds the encoded content of a part.
type Body struct {
	Data string // base64url, as sent by Gmail
	Size int64
}

// Header is a single RFC 5322 header field.
type Header struct {
	Name  string
	Value string
}

// HeaderValue returns the value of the first header whose name matches
// exactly. Names are compared case-sensitively. An empty value is reported
// the same as a missing header.
func HeaderValue(headers []Header, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func (n *Node) data() string {
	if n == nil || n.Body == nil {
		return ""
	}
	return n.Body.Data
}

// charset returns the charset parameter of the part's Content-Type header,
// lowercased, or "" when none is declared.
func (n *Node) charset() string {
	for _, h := range n.Headers {
		if !strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		_, params, err := mime.ParseMediaType(h.Value)
		if err != nil {
			return ""
		}
		return strings.ToLower(params["charset"])
	}
	return ""
}

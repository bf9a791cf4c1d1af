package mime

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var (
	trailingComment = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	multiSpace      = regexp.MustCompile(`\s+`)
)

// ParseDate parses a Date header value. RFC 5322 dates are tried first, then
// a set of layouts seen in real mail and ISO-8601. Values without a zone are
// taken as UTC. The result is in UTC; ok is false when nothing matches.
func ParseDate(value string) (t time.Time, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if t, err := mail.ParseDate(value); err == nil {
		return t.UTC(), true
	}

	cleaned := trailingComment.ReplaceAllString(value, "")
	cleaned = multiSpace.ReplaceAllString(cleaned, " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

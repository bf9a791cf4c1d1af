// Package search builds Gmail search queries from free text and date bounds.
package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BuildQuery joins the trimmed free text with after:/before: bounds expressed
// in Unix seconds. An empty result means no filtering.
func BuildQuery(text string, after, before *time.Time) string {
	var parts []string
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, t)
	}
	if after != nil {
		parts = append(parts, "after:"+strconv.FormatInt(after.Unix(), 10))
	}
	if before != nil {
		parts = append(parts, "before:"+strconv.FormatInt(before.Unix(), 10))
	}
	return strings.Join(parts, " ")
}

var dateFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate parses a date bound such as 2024-01-31, an RFC 3339 timestamp or a
// relative age like 7d, 2w, 1m or 1y. It returns nil for blank or
// unrecognized input.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return parseRelativeDate(value, time.Now())
}

var relativeDateRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

// parseRelativeDate parses relative dates like 7d, 2w, 1m, 1y counted back
// from now.
func parseRelativeDate(value string, now time.Time) *time.Time {
	match := relativeDateRe.FindStringSubmatch(strings.ToLower(value))
	if match == nil {
		return nil
	}

	amount, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	now = now.UTC()

	var result time.Time
	switch match[2] {
	case "d":
		result = now.AddDate(0, 0, -amount)
	case "w":
		result = now.AddDate(0, 0, -amount*7)
	case "m":
		result = now.AddDate(0, -amount, 0)
	case "y":
		result = now.AddDate(-amount, 0, 0)
	}
	return &result
}

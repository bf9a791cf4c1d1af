package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// cellWidth measures table cells. Ambiguous-width runes count as one column
// regardless of the terminal locale.
var cellWidth = func() *runewidth.Condition {
	c := runewidth.NewCondition()
	c.EastAsianWidth = false
	return c
}()

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// truncate shortens s to max display columns, collapsing whitespace.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	return cellWidth.Truncate(s, max, "...")
}

func valueOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

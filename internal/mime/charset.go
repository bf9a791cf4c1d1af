package mime

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// minDetectConfidence is the lowest chardet confidence accepted for an
// undeclared charset.
const minDetectConfidence = 30

// chardetAliases maps chardet result names that the WHATWG index does not
// recognise.
var chardetAliases = map[string]string{
	"gb-18030": "gb18030",
}

// toUTF8 returns raw as UTF-8 text. Valid UTF-8 passes through untouched.
// Otherwise the declared charset is tried, then a detected one; whatever
// still cannot be decoded is replaced with U+FFFD.
func toUTF8(raw []byte, declared string) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	if declared != "" && declared != "utf-8" && declared != "us-ascii" {
		if s, ok := decodeCharset(raw, declared); ok {
			return s
		}
	}

	if res, err := chardet.NewTextDetector().DetectBest(raw); err == nil && res.Confidence >= minDetectConfidence {
		if s, ok := decodeCharset(raw, res.Charset); ok {
			return s
		}
	}

	return strings.ToValidUTF8(string(raw), "�")
}

func decodeCharset(raw []byte, name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := chardetAliases[name]; ok {
		name = alias
	}
	if name == "utf-8" {
		return "", false
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

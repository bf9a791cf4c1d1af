package mime

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeError reports body data that is not valid base64url.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s body: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ExtractBody walks the part tree depth-first and returns the best single body
// for display. The first text/html part wins; when there is none, the first
// text/plain part is used. If the walk finds neither but the root carries
// inline data, that data is used according to the root's own type.
//
// The result is trimmed of surrounding whitespace.
func ExtractBody(root *Node) (string, error) {
	if root == nil {
		return "", nil
	}

	var b bodySlots
	if err := b.collect(root); err != nil {
		return "", err
	}

	if b.html == "" && b.text == "" && root.data() != "" {
		inline, err := decodePart(root)
		if err != nil {
			return "", err
		}
		inline = strings.TrimSpace(inline)
		if root.MimeType == "text/html" {
			b.html = inline
		} else {
			b.text = inline
		}
	}

	if b.html != "" {
		return strings.TrimSpace(b.html), nil
	}
	return strings.TrimSpace(b.text), nil
}

type bodySlots struct {
	html string
	text string
}

func (b *bodySlots) collect(n *Node) error {
	if n == nil {
		return nil
	}

	mt := strings.ToLower(n.MimeType)
	switch {
	case mt == "text/html" && b.html == "":
		s, err := decodePart(n)
		if err != nil {
			return err
		}
		if s != "" {
			b.html = strings.TrimSpace(s)
		}
	case mt == "text/plain" && b.text == "":
		s, err := decodePart(n)
		if err != nil {
			return err
		}
		if s != "" {
			b.text = strings.TrimSpace(s)
		}
	case strings.HasPrefix(mt, "multipart/"), mt == "":
		// Both slots are still checked across siblings even once one is
		// filled, so every child is visited.
		for _, p := range n.Parts {
			if err := b.collect(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodePart decodes the part's body data to UTF-8 text. Parts without data
// decode to "".
func decodePart(n *Node) (string, error) {
	data := n.data()
	if data == "" {
		return "", nil
	}
	raw, err := DecodeBase64URL(data)
	if err != nil {
		return "", &DecodeError{MimeType: n.MimeType, Err: err}
	}
	return toUTF8(raw, n.charset()), nil
}

// DecodeBase64URL decodes Gmail body data. Gmail uses the URL-safe alphabet,
// usually without padding; standard-alphabet input and padding are accepted
// as well.
func DecodeBase64URL(data string) ([]byte, error) {
	s := strings.NewReplacer("+", "-", "/", "_").Replace(data)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

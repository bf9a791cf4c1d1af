package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/wesm/inboxsort/internal/fileutil"
)

const (
	emptyClassificationFile = `{"items": []}`
	emptyUserFile           = `{"users": []}`
)

type classificationFile struct {
	Items []Classification `json:"items"`
}

type userFile struct {
	Users []User `json:"users"`
}

// JSONBackend keeps classifications and users in two JSON documents that are
// re-read on every operation and rewritten atomically on every change.
type JSONBackend struct {
	classificationsPath string
	usersPath           string

	mu sync.Mutex
}

// NewJSONBackend returns a backend over the two files. They are created on
// first access.
func NewJSONBackend(classificationsPath, usersPath string) *JSONBackend {
	return &JSONBackend{classificationsPath: classificationsPath, usersPath: usersPath}
}

// PutClassification implements Backend.
func (b *JSONBackend) PutClassification(ctx context.Context, c *Classification) (*Classification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc classificationFile
	if err := loadJSON(b.classificationsPath, emptyClassificationFile, &doc); err != nil {
		return nil, err
	}

	stored := *c
	replaced := false
	for i := range doc.Items {
		if doc.Items[i].ID == c.ID && doc.Items[i].User == c.User {
			stored.CreatedAt = doc.Items[i].CreatedAt
			doc.Items[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Items = append(doc.Items, stored)
	}

	if err := saveJSON(b.classificationsPath, doc); err != nil {
		return nil, err
	}
	return &stored, nil
}

// QueryClassifications implements Backend.
func (b *JSONBackend) QueryClassifications(ctx context.Context, f Filter) ([]Classification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc classificationFile
	if err := loadJSON(b.classificationsPath, emptyClassificationFile, &doc); err != nil {
		return nil, err
	}

	out := make([]Classification, 0, len(doc.Items))
	for _, item := range doc.Items {
		if f.User != "" && item.User != f.User {
			continue
		}
		if f.Label != "" && item.Label != f.Label {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// PutUser implements Backend.
func (b *JSONBackend) PutUser(ctx context.Context, u *User) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc userFile
	if err := loadJSON(b.usersPath, emptyUserFile, &doc); err != nil {
		return err
	}

	replaced := false
	for i := range doc.Users {
		if doc.Users[i].ID == u.ID {
			doc.Users[i] = *u
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Users = append(doc.Users, *u)
	}
	return saveJSON(b.usersPath, doc)
}

// GetUser implements Backend.
func (b *JSONBackend) GetUser(ctx context.Context, id string) (*User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc userFile
	if err := loadJSON(b.usersPath, emptyUserFile, &doc); err != nil {
		return nil, err
	}
	for i := range doc.Users {
		if doc.Users[i].ID == id {
			u := doc.Users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// Close implements Backend.
func (b *JSONBackend) Close() error { return nil }

// loadJSON decodes path into v, first creating the file with the empty
// document when it does not exist.
func loadJSON(path, empty string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeFile(path, []byte(empty)); err != nil {
			return err
		}
		data = []byte(empty)
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := fileutil.SecureMkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	if err := fileutil.SecureWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

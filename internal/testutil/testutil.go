// Package testutil provides test helpers shared across packages.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wesm/inboxsort/internal/store"
)

// NewTestStore creates a SQLite-backed store in a temp dir, closed when the
// test ends.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{
		Backend:    store.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewJSONTestStore creates a JSON-file store in a temp dir.
func NewJSONTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Config{
		Backend:             store.BackendJSON,
		ClassificationsPath: filepath.Join(dir, "data", "classifications.json"),
		UsersPath:           filepath.Join(dir, "data", "users.json"),
	})
	if err != nil {
		t.Fatalf("open json test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TempDir creates a temporary directory removed when the test ends.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile writes content under dir, creating parent directories. name must
// be relative and stay inside dir.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	if err := validateRelativePath(dir, name); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("create parent dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

// MustExist fails the test if path does not exist.
func MustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

// MustNotExist fails the test if path exists.
func MustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s not to exist", path)
	} else if !os.IsNotExist(err) {
		t.Fatalf("stat %s: %v", path, err)
	}
}

// AssertFileContent fails the test unless path holds exactly want.
func AssertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(got) != want {
		t.Errorf("%s content = %q, want %q", path, got, want)
	}
}

func validateRelativePath(dir, name string) error {
	if filepath.IsAbs(name) || strings.HasPrefix(name, string(filepath.Separator)) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("path %q must be relative", name)
	}
	full := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes %s", name, dir)
	}
	return nil
}

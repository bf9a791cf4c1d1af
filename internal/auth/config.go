// Package auth handles the Google OAuth flow, per-user authorized Gmail
// clients and browser sessions.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	oauth2v2 "google.golang.org/api/oauth2/v2"
)

// Scopes requested during sign-in. Mail access is read-only.
var Scopes = []string{
	gmailv1.GmailReadonlyScope,
	oauth2v2.UserinfoEmailScope,
	oauth2v2.UserinfoProfileScope,
	oauth2v2.OpenIDScope,
}

type clientSecrets struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// LoadConfig parses a Google OAuth client document with an "installed" or
// "web" section. The first redirect URI becomes the callback.
func LoadConfig(credentialsJSON []byte) (*oauth2.Config, error) {
	var doc struct {
		Installed *clientSecrets `json:"installed"`
		Web       *clientSecrets `json:"web"`
	}
	if err := json.Unmarshal(credentialsJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse OAuth credentials: %w", err)
	}

	secrets := doc.Installed
	if secrets == nil {
		secrets = doc.Web
	}
	if secrets == nil {
		return nil, errors.New("invalid OAuth2 credentials: expected an \"installed\" or \"web\" section")
	}

	var missing []string
	if secrets.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if secrets.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(secrets.RedirectURIs) == 0 {
		missing = append(missing, "redirect_uris")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("invalid OAuth2 credentials: missing %s", strings.Join(missing, ", "))
	}

	cfg, err := google.ConfigFromJSON(credentialsJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse OAuth credentials: %w", err)
	}
	return cfg, nil
}

// LoadConfigSource prefers inline JSON (e.g. from GOOGLE_CREDENTIALS) and
// falls back to the credentials file.
func LoadConfigSource(inlineJSON, path string) (*oauth2.Config, error) {
	if strings.TrimSpace(inlineJSON) != "" {
		return LoadConfig([]byte(inlineJSON))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read OAuth credentials: %w", err)
	}
	return LoadConfig(data)
}

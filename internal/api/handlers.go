package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/search"
	"github.com/wesm/inboxsort/internal/store"
)

// maxBodyBytes caps classification request bodies; they carry a full email
// body.
const maxBodyBytes = 10 << 20

// publicUser is the user as shown to the browser.
type publicUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	state := s.sessions.NewState(w)
	http.Redirect(w, r, s.auth.AuthURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.sessions.ConsumeState(w, r, q.Get("state")) {
		http.Error(w, "Invalid OAuth state.", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code.", http.StatusBadRequest)
		return
	}

	tokens, profile, err := s.auth.Exchange(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.UpsertUser(r.Context(), store.User{
		ID:      profile.ID,
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
		Tokens:  tokens,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sessions.SetSession(w, profile.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("user signed in", "user", profile.ID, "email", profile.Email)
	http.Redirect(w, r, s.origin, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.sessions.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := s.authenticatedUser(r)
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": publicUser{
		ID:      user.ID,
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Picture,
	}})
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	q := r.URL.Query()

	// A missing or unparsable maxResults falls back to the configured count.
	maxResults, _ := strconv.Atoi(strings.TrimSpace(q.Get("maxResults")))

	result, err := s.inbox.FetchEmails(r.Context(), user.ID, inbox.FetchOptions{
		MaxResults: maxResults,
		Query:      q.Get("search"),
		LabelIDs:   parseLabelIDs(q["labelIds"]),
		After:      search.ParseDate(q.Get("since")),
		Before:     search.ParseDate(q.Get("until")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListClassifications(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	items, err := s.store.Classifications(r.Context(), store.Filter{
		User:  user.ID,
		Label: r.URL.Query().Get("label"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var c store.Classification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body."})
		return
	}
	c.User = user.ID

	item, err := s.store.UpsertClassification(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	threadID := chi.URLParam(r, "threadId")
	if strings.TrimSpace(threadID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Thread id is required."})
		return
	}

	messages, err := s.inbox.Thread(r.Context(), user.ID, threadID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// writeError maps err onto a status: invalid input is 400, missing
// credentials 401, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, inbox.ErrInvalidArgument), errors.Is(err, store.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, inbox.ErrAuthorizationMissing):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseLabelIDs splits repeated and comma-separated labelIds values,
// dropping blanks.
func parseLabelIDs(values []string) []string {
	var out []string
	for _, v := range values {
		for _, label := range strings.Split(v, ",") {
			if label = strings.TrimSpace(label); label != "" {
				out = append(out, label)
			}
		}
	}
	return out
}

// Package api serves the inbox triage HTTP interface: Google sign-in,
// cookie sessions, email and thread listing, and classification recording.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/wesm/inboxsort/internal/auth"
	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/store"
)

// Authenticator runs the OAuth code flow. auth.Provider satisfies it.
type Authenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*store.Tokens, *auth.Profile, error)
}

// Options wires a Server.
type Options struct {
	Store        *store.Store
	Inbox        *inbox.Service
	Auth         Authenticator
	Sessions     *auth.Sessions
	ClientOrigin string
	Logger       *slog.Logger
}

// Server handles HTTP requests.
type Server struct {
	store    *store.Store
	inbox    *inbox.Service
	auth     Authenticator
	sessions *auth.Sessions
	origin   string
	logger   *slog.Logger
}

// New creates a server from opts.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    opts.Store,
		inbox:    opts.Inbox,
		auth:     opts.Auth,
		sessions: opts.Sessions,
		origin:   strings.TrimRight(opts.ClientOrigin, "/"),
		logger:   logger,
	}
}

// Handler returns the routed handler with logging, panic recovery and CORS
// for the client origin.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/auth", s.handleAuth)
	r.Get("/auth/callback", s.handleCallback)
	r.Post("/logout", s.handleLogout)
	r.Get("/me", s.handleMe)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/emails", s.handleEmails)
		r.Get("/classifications", s.handleListClassifications)
		r.Post("/classifications", s.handleClassify)
		r.Get("/threads/{threadId}", s.handleThread)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{s.origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type userKey struct{}

// requireUser admits requests whose session names a known user with stored
// tokens.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := s.authenticatedUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey{}).(*store.User)
	return u
}

// authenticatedUser returns nil for a missing or invalid session, an unknown
// user, or a user without tokens.
func (s *Server) authenticatedUser(r *http.Request) *store.User {
	userID, err := s.sessions.UserID(r)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("session user lookup failed", "user", userID, "error", err)
		}
		return nil
	}
	if user.Tokens == nil || *user.Tokens == (store.Tokens{}) {
		return nil
	}
	return user
}

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Cookie names and lifetimes.
const (
	SessionCookie = "triage_session"
	StateCookie   = "oauth_state"
	SessionTTL    = 30 * 24 * time.Hour
	StateTTL      = 10 * time.Minute
)

// ErrInvalidSession is returned for missing, expired or forged sessions.
var ErrInvalidSession = errors.New("invalid session")

type sessionClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies signed session cookies and OAuth state nonces.
type Sessions struct {
	secret     []byte
	production bool
	now        func() time.Time
}

// NewSessions creates a cookie manager. In production, cookies are Secure and
// SameSite=None so a separately hosted client can send them.
func NewSessions(secret string, production bool) *Sessions {
	return &Sessions{secret: []byte(secret), production: production, now: time.Now}
}

// Issue signs an HS256 session token for userID.
func (s *Sessions) Issue(userID string) (string, error) {
	now := s.now()
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the user id carried by a session token.
func (s *Sessions) Verify(token string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: no user id", ErrInvalidSession)
	}
	return claims.UserID, nil
}

// SetSession writes the session cookie for userID.
func (s *Sessions) SetSession(w http.ResponseWriter, userID string) error {
	token, err := s.Issue(userID)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, s.cookie(SessionCookie, token, SessionTTL))
	return nil
}

// ClearSession expires the session cookie.
func (s *Sessions) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie(SessionCookie, "", -1))
}

// UserID returns the user of the request's session cookie.
func (s *Sessions) UserID(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", ErrInvalidSession
	}
	return s.Verify(c.Value)
}

// NewState creates an OAuth state nonce and stores it in a short-lived cookie.
func (s *Sessions) NewState(w http.ResponseWriter) string {
	state := uuid.NewString()
	http.SetCookie(w, s.cookie(StateCookie, state, StateTTL))
	return state
}

// ConsumeState clears the state cookie and reports whether it matches state.
func (s *Sessions) ConsumeState(w http.ResponseWriter, r *http.Request, state string) bool {
	http.SetCookie(w, s.cookie(StateCookie, "", -1))
	c, err := r.Cookie(StateCookie)
	if err != nil || c.Value == "" || state == "" {
		return false
	}
	return c.Value == state
}

// cookie builds a cookie; a negative ttl deletes it.
func (s *Sessions) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	}
	if s.production {
		c.SameSite = http.SameSiteNoneMode
	}
	if ttl < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(1, 0)
	} else {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = s.now().Add(ttl)
	}
	return c
}

package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/inboxsort/internal/auth"
	"github.com/wesm/inboxsort/internal/gmail"
	"github.com/wesm/inboxsort/internal/inbox"
	"github.com/wesm/inboxsort/internal/mime"
	"github.com/wesm/inboxsort/internal/store"
	"github.com/wesm/inboxsort/internal/testutil"
)

const testOrigin = "http://localhost:5173"

type fakeAuth struct {
	tokens  *store.Tokens
	profile *auth.Profile
	err     error
	codes   []string
}

func (f *fakeAuth) AuthURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeAuth) Exchange(_ context.Context, code string) (*store.Tokens, *auth.Profile, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.tokens, f.profile, nil
}

// storeClients hands out the mock for users with stored tokens.
type storeClients struct {
	st  *store.Store
	api gmail.API
}

func (c *storeClients) ClientFor(ctx context.Context, userID string) (gmail.API, error) {
	tokens, err := c.st.UserTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, inbox.ErrAuthorizationMissing
	}
	return c.api, nil
}

type testEnv struct {
	handler  http.Handler
	store    *store.Store
	mock     *gmail.MockAPI
	auth     *fakeAuth
	sessions *auth.Sessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := testutil.NewJSONTestStore(t)
	mock := gmail.NewMockAPI()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fa := &fakeAuth{
		tokens:  &store.Tokens{AccessToken: "access", RefreshToken: "refresh"},
		profile: &auth.Profile{ID: "g-1", Email: "alice@example.com", Name: "Alice", Picture: "https://example.com/a.png"},
	}
	sessions := auth.NewSessions("test-secret", false)

	srv := New(Options{
		Store:        st,
		Inbox:        inbox.NewService(&storeClients{st: st, api: mock}, st, 50, logger),
		Auth:         fa,
		Sessions:     sessions,
		ClientOrigin: testOrigin + "/",
		Logger:       logger,
	})
	return &testEnv{handler: srv.Handler(), store: st, mock: mock, auth: fa, sessions: sessions}
}

// signIn stores a user with tokens and returns its session cookie.
func (e *testEnv) signIn(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	if _, err := e.store.UpsertUser(context.Background(), store.User{
		ID:     userID,
		Email:  userID + "@example.com",
		Name:   userID,
		Tokens: &store.Tokens{AccessToken: "access", RefreshToken: "refresh"},
	}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	token, err := e.sessions.Issue(userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return &http.Cookie{Name: auth.SessionCookie, Value: token}
}

func (e *testEnv) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func plainMessage(id, threadID, subject string, internalDate int64) *gmail.Message {
	headers := []mime.Header{
		{Name: "Subject", Value: subject},
		{Name: "From", Value: "Bob <bob@example.com>"},
	}
	return &gmail.Message{
		ID:           id,
		ThreadID:     threadID,
		LabelIDs:     []string{"INBOX"},
		Snippet:      "snippet " + id,
		InternalDate: internalDate,
		Headers:      headers,
		Payload: &mime.Node{
			MimeType: "text/plain",
			Headers:  headers,
			Body:     &mime.Body{Data: base64.RawURLEncoding.EncodeToString([]byte("body " + id))},
		},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	assertStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
}

func TestAuth_RedirectsWithState(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/auth", "")
	assertStatus(t, rec, http.StatusFound)

	state := responseCookie(rec, auth.StateCookie)
	if state == nil || state.Value == "" {
		t.Fatal("state cookie not set")
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if got := loc.Query().Get("state"); got != state.Value {
		t.Errorf("redirect state = %q, cookie state = %q", got, state.Value)
	}
}

func TestCallback(t *testing.T) {
	env := newTestEnv(t)
	stateCookie := &http.Cookie{Name: auth.StateCookie, Value: "nonce-1"}

	t.Run("invalid state", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback?state=other&code=c", "", stateCookie)
		assertStatus(t, rec, http.StatusBadRequest)
		if !strings.Contains(rec.Body.String(), "Invalid OAuth state.") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("missing state cookie", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback?state=nonce-1&code=c", "")
		assertStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("missing code", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback?state=nonce-1", "", stateCookie)
		assertStatus(t, rec, http.StatusBadRequest)
		if !strings.Contains(rec.Body.String(), "Missing authorization code.") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("success", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback?state=nonce-1&code=the-code", "", stateCookie)
		assertStatus(t, rec, http.StatusFound)
		if loc := rec.Header().Get("Location"); loc != testOrigin {
			t.Errorf("Location = %q, want %q", loc, testOrigin)
		}
		if diff := cmp.Diff([]string{"the-code"}, env.auth.codes); diff != "" {
			t.Errorf("exchanged codes mismatch (-want +got):\n%s", diff)
		}

		session := responseCookie(rec, auth.SessionCookie)
		if session == nil {
			t.Fatal("session cookie not set")
		}
		userID, err := env.sessions.Verify(session.Value)
		if err != nil || userID != "g-1" {
			t.Errorf("session user = %q, %v; want g-1", userID, err)
		}
		if c := responseCookie(rec, auth.StateCookie); c == nil || c.MaxAge >= 0 {
			t.Error("state cookie should be cleared")
		}

		user, err := env.store.GetUser(context.Background(), "g-1")
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if user.Email != "alice@example.com" || user.Tokens == nil || user.Tokens.RefreshToken != "refresh" {
			t.Errorf("stored user = %+v", user)
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		env.auth.err = errors.New("invalid_grant")
		defer func() { env.auth.err = nil }()
		rec := env.do(t, http.MethodGet, "/auth/callback?state=nonce-1&code=bad", "", stateCookie)
		assertStatus(t, rec, http.StatusInternalServerError)
		if got := decode[map[string]string](t, rec); !strings.Contains(got["error"], "invalid_grant") {
			t.Errorf("error = %q", got["error"])
		}
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/logout", "", env.signIn(t, "u1"))
	assertStatus(t, rec, http.StatusNoContent)
	if c := responseCookie(rec, auth.SessionCookie); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie should be cleared")
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/me", "")
	assertStatus(t, rec, http.StatusUnauthorized)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"user":null}` {
		t.Errorf("body = %s", got)
	}

	rec = env.do(t, http.MethodGet, "/me", "", env.signIn(t, "u1"))
	assertStatus(t, rec, http.StatusOK)
	got := decode[struct {
		User publicUser `json:"user"`
	}](t, rec)
	want := publicUser{ID: "u1", Email: "u1@example.com", Name: "u1"}
	if diff := cmp.Diff(want, got.User); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}
}

func TestRequireUser(t *testing.T) {
	env := newTestEnv(t)

	noTokens := func() *http.Cookie {
		if _, err := env.store.UpsertUser(context.Background(), store.User{ID: "bare"}); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		token, _ := env.sessions.Issue("bare")
		return &http.Cookie{Name: auth.SessionCookie, Value: token}
	}
	unknown := func() *http.Cookie {
		token, _ := env.sessions.Issue("ghost")
		return &http.Cookie{Name: auth.SessionCookie, Value: token}
	}

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"garbage cookie", &http.Cookie{Name: auth.SessionCookie, Value: "garbage"}},
		{"unknown user", unknown()},
		{"user without tokens", noTokens()},
	}
	for _, tt := range tests {
		for _, path := range []string{"/emails", "/classifications", "/threads/t1"} {
			t.Run(tt.name+" "+path, func(t *testing.T) {
				var cookies []*http.Cookie
				if tt.cookie != nil {
					cookies = append(cookies, tt.cookie)
				}
				rec := env.do(t, http.MethodGet, path, "", cookies...)
				assertStatus(t, rec, http.StatusUnauthorized)
				if got := decode[map[string]string](t, rec); got["error"] != "Unauthorized" {
					t.Errorf("error = %q", got["error"])
				}
			})
		}
	}
}

func TestEmails_ExcludesClassified(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "u1")
	for _, id := range []string{"m1", "m2", "m3"} {
		env.mock.AddMessage(plainMessage(id, "t-"+id, "subject "+id, 0))
	}
	if _, err := env.store.UpsertClassification(context.Background(), store.Classification{
		ID: "m2", User: "u1", Label: store.LabelBad,
	}); err != nil {
		t.Fatalf("UpsertClassification: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/emails?maxResults=5", "", cookie)
	assertStatus(t, rec, http.StatusOK)
	got := decode[inbox.FetchResult](t, rec)

	var ids []string
	for _, m := range got.Emails {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m1", "m3"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got.Requested != 5 || got.Delivered != 2 {
		t.Errorf("requested/delivered = %d/%d, want 5/2", got.Requested, got.Delivered)
	}
	if got.Emails[0].Body != "body m1" || got.Emails[0].Subject != "subject m1" {
		t.Errorf("first email = %+v", got.Emails[0])
	}
}

func TestEmails_QueryParameters(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "u1")

	rec := env.do(t, http.MethodGet,
		"/emails?search=from:bob&labelIds=INBOX,%20UNREAD&labelIds=STARRED&since=2024-01-01&until=bogus&maxResults=abc",
		"", cookie)
	assertStatus(t, rec, http.StatusOK)

	if len(env.mock.ListRequests) != 1 {
		t.Fatalf("list calls = %d, want 1", len(env.mock.ListRequests))
	}
	req := env.mock.ListRequests[0]
	if req.Query != "from:bob after:1704067200" {
		t.Errorf("query = %q", req.Query)
	}
	if diff := cmp.Diff([]string{"INBOX", "UNREAD", "STARRED"}, req.LabelIDs); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if req.PageSize != 50 {
		t.Errorf("page size = %d, want the default 50", req.PageSize)
	}

	got := decode[inbox.FetchResult](t, rec)
	if got.Requested != 50 || got.Delivered != 0 || got.Emails == nil {
		t.Errorf("result = %+v, want 50 requested and an empty list", got)
	}
	if !strings.Contains(rec.Body.String(), `"emails":[]`) {
		t.Errorf("emails should encode as [], body %s", rec.Body.String())
	}
}

func TestEmails_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "u1")
	env.mock.ListError = errors.New("backend unavailable")

	rec := env.do(t, http.MethodGet, "/emails", "", cookie)
	assertStatus(t, rec, http.StatusInternalServerError)
	if got := decode[map[string]string](t, rec); got["error"] != "backend unavailable" {
		t.Errorf("error = %q, want the upstream message unchanged", got["error"])
	}
}

func TestClassifications(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "u1")

	rec := env.do(t, http.MethodPost, "/classifications",
		`{"id":"m1","label":"GOOD","subject":"Hi","user":"someone-else","labelIds":["INBOX"]}`, cookie)
	assertStatus(t, rec, http.StatusCreated)
	created := decode[struct {
		Item store.Classification `json:"item"`
	}](t, rec).Item
	if created.User != "u1" || created.Label != store.LabelGood || created.From != store.DefaultFrom {
		t.Errorf("created = %+v", created)
	}

	rec = env.do(t, http.MethodPost, "/classifications", `{"id":"m2","label":"bad"}`, cookie)
	assertStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodGet, "/classifications?label=bad", "", cookie)
	assertStatus(t, rec, http.StatusOK)
	items := decode[struct {
		Items []store.Classification `json:"items"`
	}](t, rec).Items
	if len(items) != 1 || items[0].ID != "m2" {
		t.Errorf("bad items = %+v", items)
	}

	rec = env.do(t, http.MethodGet, "/classifications", "", cookie)
	assertStatus(t, rec, http.StatusOK)
	items = decode[struct {
		Items []store.Classification `json:"items"`
	}](t, rec).Items
	if len(items) != 2 {
		t.Errorf("all items = %d, want 2", len(items))
	}
}

func TestClassifications_Invalid(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "u1")

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed json", `{"id":`, "Invalid JSON body."},
		{"bad label", `{"id":"m1","label":"meh"}`, "label must be either"},
		{"missing id", `{"label":"good"}`, "requires a message id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/classifications", tt.body, cookie)
			assertStatus(t, rec, http.StatusBadRequest)
			if got := decode[map[string]string](t, rec); !strings.Contains(got["error"], tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", got["error"], tt.wantErr)
			}
		})
	}
}

func TestThread(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "u1")
	env.mock.AddMessage(plainMessage("late", "t1", "Re: plan", 2000))
	env.mock.AddMessage(plainMessage("early", "t1", "plan", 1000))

	rec := env.do(t, http.MethodGet, "/threads/t1", "", cookie)
	assertStatus(t, rec, http.StatusOK)
	got := decode[struct {
		Messages []inbox.ThreadMessage `json:"messages"`
	}](t, rec).Messages
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		t.Errorf("thread order = %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/threads/missing", "", cookie)
	assertStatus(t, rec, http.StatusInternalServerError)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/emails", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Allow-Origin = %q, want %q", got, testOrigin)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/emails", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestParseLabelIDs(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{""}, nil},
		{[]string{"INBOX"}, []string{"INBOX"}},
		{[]string{"INBOX, UNREAD,,"}, []string{"INBOX", "UNREAD"}},
		{[]string{"A,B", " C "}, []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseLabelIDs(tt.in)); diff != "" {
			t.Errorf("parseLabelIDs(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leemwood/lemwood-mirror/internal/auth"
	"github.com/leemwood/lemwood-mirror/internal/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	return session.New(filepath.Join(t.TempDir(), "token"))
}

func TestAttachesRawBearerToken(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	sess := newTestStore(t)
	if err := sess.Set("T1"); err != nil {
		t.Fatal(err)
	}
	c := NewClient(ts.URL, sess, nil)

	if err := c.GetJSON(context.Background(), "/admin/config", nil, nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	// Raw token, no scheme prefix
	if gotAuth != "T1" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "T1")
	}
}

func TestNoAuthorizationHeaderWithoutToken(t *testing.T) {
	var hadAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, newTestStore(t), nil)
	if err := c.GetJSON(context.Background(), "/auth/info", nil, nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if hadAuth {
		t.Error("request without a session should carry no Authorization header")
	}
}

func TestContentTypeDefaults(t *testing.T) {
	var gotType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, newTestStore(t), nil)
	ctx := context.Background()

	// Body present, no explicit type: JSON default
	if err := c.PostJSON(ctx, "/login", nil, map[string]string{}, nil); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if gotType != "application/json" {
		t.Errorf("default Content-Type = %q, want application/json", gotType)
	}

	// Explicit type wins (multipart uploads rely on this)
	resp, err := c.Do(ctx, http.MethodPost, "/admin/files", &RequestOptions{
		Body:        strings.NewReader("body"),
		ContentType: "multipart/form-data; boundary=xyz",
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	if gotType != "multipart/form-data; boundary=xyz" {
		t.Errorf("explicit Content-Type = %q was not preserved", gotType)
	}

	// No body: no content type at all
	resp, err = c.Do(ctx, http.MethodGet, "/admin/config", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	if gotType != "" {
		t.Errorf("Content-Type on bodyless request = %q, want none", gotType)
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	sess := newTestStore(t)
	if err := sess.Set("stale"); err != nil {
		t.Fatal(err)
	}
	c := NewClient(ts.URL, sess, nil)
	if c.State() != StateAuthenticated {
		t.Fatal("persisted token should start the client authenticated")
	}

	err := c.GetJSON(context.Background(), "/admin/config", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if sess.Authenticated() {
		t.Error("session should be cleared after a 401")
	}
	if c.State() != StateUnauthenticated {
		t.Errorf("state = %v, want unauthenticated", c.State())
	}
}

func TestNonSuccessReturnsAPIErrorVerbatim(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid ip address", http.StatusBadRequest)
	}))
	defer ts.Close()

	sess := newTestStore(t)
	sess.Set("T1")
	c := NewClient(ts.URL, sess, nil)

	err := c.PostJSON(context.Background(), "/admin/blacklist", nil, map[string]string{"ip": "bogus"}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
	if apiErr.Body != "invalid ip address" {
		t.Errorf("body = %q, want the server's raw message", apiErr.Body)
	}
	// Component-local failures never touch the session
	if !sess.Authenticated() {
		t.Error("a 400 must not clear the session")
	}
}

func TestLoginFlow(t *testing.T) {
	const salt = "xyz"
	wantDigest := auth.Digest("pw", salt)

	var gotReq map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/info":
			json.NewEncoder(w).Encode(AuthInfo{Username: "admin", Salt: salt})
		case "/api/login":
			json.NewDecoder(r.Body).Decode(&gotReq)
			if gotReq["password"] != wantDigest {
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "T1"})
		default:
			// Scenario check: authenticated follow-up carries the token
			if r.Header.Get("Authorization") != "T1" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			w.Write([]byte("{}"))
		}
	}))
	defer ts.Close()

	sess := newTestStore(t)
	c := NewClient(ts.URL, sess, nil)
	ctx := context.Background()

	if c.State() != StateUnauthenticated {
		t.Fatal("client should start unauthenticated")
	}

	// Blank username falls back to the fetched default
	if err := c.Login(ctx, "", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if gotReq["username"] != "admin" {
		t.Errorf("login username = %q, want default %q", gotReq["username"], "admin")
	}
	if sess.Token() != "T1" {
		t.Errorf("stored token = %q, want %q", sess.Token(), "T1")
	}
	if c.State() != StateAuthenticated {
		t.Errorf("state after login = %v, want authenticated", c.State())
	}

	if err := c.GetJSON(ctx, "/admin/config", nil, nil); err != nil {
		t.Fatalf("authenticated follow-up failed: %v", err)
	}
}

func TestLoginFailureStoresNothing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/info" {
			json.NewEncoder(w).Encode(AuthInfo{Username: "admin", Salt: "s"})
			return
		}
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
	}))
	defer ts.Close()

	sess := newTestStore(t)
	c := NewClient(ts.URL, sess, nil)

	err := c.Login(context.Background(), "admin", "wrong")
	if err == nil {
		t.Fatal("Login() with bad credentials should fail")
	}
	if sess.Authenticated() {
		t.Error("no token may be stored after a failed login")
	}
	if c.State() != StateUnauthenticated {
		t.Errorf("state = %v, want unauthenticated", c.State())
	}
}

func TestLogout(t *testing.T) {
	sess := newTestStore(t)
	sess.Set("T1")
	c := NewClient("http://localhost", sess, nil)

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if sess.Authenticated() || c.State() != StateUnauthenticated {
		t.Error("logout should clear the session and the state")
	}
}

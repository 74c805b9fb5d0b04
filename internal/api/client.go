// Package api wraps every call the admin console makes against the
// mirror service. It owns the bearer-token plumbing and the login
// state machine; resource packages build on Do and the JSON helpers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/leemwood/lemwood-mirror/internal/auth"
	"github.com/leemwood/lemwood-mirror/internal/session"
)

// ErrUnauthorized signals that the server rejected the session. The
// client has already cleared the stored token when this is returned;
// the caller's only job is to fall back to the login view.
var ErrUnauthorized = errors.New("unauthorized: session expired or invalid")

// APIError carries a non-success response body verbatim so the user
// sees the server's own message. Nothing is retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// State is the login state of the console.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// AuthInfo is fetched once at startup and read-only afterwards. It is
// hashing and login input only, never persisted.
type AuthInfo struct {
	Username string `json:"username"`
	Salt     string `json:"salt"`
}

// Client performs authenticated requests against the /api surface.
type Client struct {
	base    string
	http    *http.Client
	session *session.Store
	state   State
	info    *AuthInfo
}

// NewClient builds a client for the service at baseURL. A previously
// persisted token in sess puts the client directly in the
// authenticated state; the token is trusted until a request comes back
// 401. Pass nil for httpClient to use http.DefaultClient.
func NewClient(baseURL string, sess *session.Store, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		session: sess,
		state:   StateUnauthenticated,
	}
	if sess.Authenticated() {
		c.state = StateAuthenticated
	}
	return c
}

// State returns the current login state.
func (c *Client) State() State {
	return c.state
}

// RequestOptions carries the optional parts of a request.
type RequestOptions struct {
	Query url.Values
	Body  io.Reader
	// ContentType overrides the JSON default applied when a body is
	// present. Multipart uploads must set this to the writer's
	// boundary-carrying type.
	ContentType string
}

// Do issues one request under the /api prefix. The bearer token is
// attached as a raw Authorization header when present. A 401 clears
// the session and returns ErrUnauthorized; any other non-2xx response
// is returned as an *APIError holding the body text; 2xx responses are
// returned to the caller, who must close the body.
func (c *Client) Do(ctx context.Context, method, path string, opts *RequestOptions) (*http.Response, error) {
	u := c.base + "/api" + path
	var body io.Reader
	var contentType string
	if opts != nil {
		if len(opts.Query) > 0 {
			u += "?" + opts.Query.Encode()
		}
		body = opts.Body
		contentType = opts.ContentType
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		// The session is void regardless of which call discovered it
		_ = c.session.Clear()
		c.state = StateUnauthenticated
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// GetJSON fetches path and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, path, &RequestOptions{Query: query})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON sends in as a JSON body. When out is non-nil the response
// body is decoded into it, otherwise it is drained and discarded.
func (c *Client) PostJSON(ctx context.Context, path string, query url.Values, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodPost, path, &RequestOptions{Query: query, Body: bytes.NewReader(payload)})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Delete issues a DELETE and discards the response body.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	resp, err := c.Do(ctx, http.MethodDelete, path, &RequestOptions{Query: query})
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// AuthInfo returns the installation's username and salt, fetching it
// on first use and caching for the rest of the session.
func (c *Client) AuthInfo(ctx context.Context) (AuthInfo, error) {
	if c.info != nil {
		return *c.info, nil
	}
	var info AuthInfo
	if err := c.GetJSON(ctx, "/auth/info", nil, &info); err != nil {
		return AuthInfo{}, fmt.Errorf("fetch auth info: %w", err)
	}
	c.info = &info
	return info, nil
}

// Login authenticates with the service. A blank username defaults to
// the installation's admin username. The raw password never leaves
// this function: it is digested with the installation salt before
// transmission. On success the returned token is persisted.
func (c *Client) Login(ctx context.Context, username, password string) error {
	info, err := c.AuthInfo(ctx)
	if err != nil {
		return err
	}
	if username == "" {
		username = info.Username
	}

	c.state = StateAuthenticating
	req := map[string]string{
		"username": username,
		"password": auth.Digest(password, info.Salt),
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.PostJSON(ctx, "/login", nil, req, &resp); err != nil {
		c.state = StateUnauthenticated
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("login failed: invalid credentials")
		}
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.session.Set(resp.Token); err != nil {
		c.state = StateUnauthenticated
		return fmt.Errorf("persist session token: %w", err)
	}
	c.state = StateAuthenticated
	return nil
}

// Logout discards the session locally. The token is opaque and the
// service keeps no logout endpoint; forgetting it is sufficient.
func (c *Client) Logout() error {
	c.state = StateUnauthenticated
	return c.session.Clear()
}

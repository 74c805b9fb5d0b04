package mirrortest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/leemwood/lemwood-mirror/internal/auth"
)

func newServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Options{
		Username:  "admin",
		Password:  "pw",
		Salt:      "xyz",
		FilesRoot: t.TempDir(),
		DBPath:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": auth.Digest("pw", "xyz"),
	})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Token
}

func TestConfigRoundTrip(t *testing.T) {
	srv, ts := newServer(t)
	token := login(t, ts)

	rec := srv.Record()
	rec.ServerPort = 9090
	rec.Launchers = append(rec.Launchers, Launcher{Name: "FCL", SourceURL: "https://github.com/FCL-Team/FoldCraftLauncher", RepoSelector: "releases"})
	body, _ := json.Marshal(rec)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/config", bytes.NewReader(body))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post config status = %d", resp.StatusCode)
	}

	got := srv.Record()
	if got.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", got.ServerPort)
	}
	if len(got.Launchers) != 1 || got.Launchers[0].Name != "FCL" {
		t.Errorf("Launchers = %v", got.Launchers)
	}
	// A payload without secret keys must leave the credential alone
	if !srv.CheckPassword("pw") {
		t.Error("config save without secrets changed the stored password")
	}
}

func TestConfigGetNeverReturnsSecrets(t *testing.T) {
	_, ts := newServer(t)
	token := login(t, ts)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/config", nil)
	req.Header.Set("Authorization", token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["admin_password"]; ok {
		t.Error("config response leaks admin_password")
	}
	if _, ok := raw["github_token"]; ok {
		t.Error("config response leaks github_token")
	}
}

func TestRequireTokenCookieFallback(t *testing.T) {
	_, ts := newServer(t)
	token := login(t, ts)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/config", nil)
	req.AddCookie(&http.Cookie{Name: "admin_token", Value: token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cookie auth status = %d, want 200", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/admin/config", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no-token status = %d, want 401", resp.StatusCode)
	}
}

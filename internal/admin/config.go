// Package admin holds the two mutable server-side resources the
// console edits: the singleton runtime configuration and the IP
// blacklist.
package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/leemwood/lemwood-mirror/internal/api"
	"github.com/leemwood/lemwood-mirror/internal/auth"
)

// Launcher is one configured upstream release source.
type Launcher struct {
	Name         string `json:"name"`
	SourceURL    string `json:"source_url"`
	RepoSelector string `json:"repo_selector"`
}

// Record is the singleton runtime configuration as the server returns
// it. The two write-only secrets (admin password, access token) are
// never part of a read; see Form for how they are written.
type Record struct {
	ServerAddress          string     `json:"server_address,omitempty"`
	ServerPort             int        `json:"server_port"`
	CheckCron              string     `json:"check_cron"`
	StoragePath            string     `json:"storage_path"`
	DownloadURLBase        string     `json:"download_url_base,omitempty"`
	AdminUser              string     `json:"admin_user"`
	ProxyURL               string     `json:"proxy_url"`
	AssetProxyURL          string     `json:"asset_proxy_url"`
	ConcurrentDownloads    int        `json:"concurrent_downloads"`
	DownloadTimeoutMinutes int        `json:"download_timeout_minutes"`
	XgetEnabled            bool       `json:"xget_enabled"`
	XgetDomain             string     `json:"xget_domain"`
	Launchers              []Launcher `json:"launchers"`
}

// Form is an editable copy of the Record. The secrets are pointers so
// "never typed" (nil) is distinct from any typed value; only a typed
// non-empty value is transmitted, which the server reads as "change",
// while an absent key means "leave unchanged" - never "clear".
type Form struct {
	Record
	AdminPassword *string
	GithubToken   *string
}

// SetAdminPassword marks the admin password as edited.
func (f *Form) SetAdminPassword(password string) {
	f.AdminPassword = &password
}

// SetGithubToken marks the access token as edited.
func (f *Form) SetGithubToken(token string) {
	f.GithubToken = &token
}

// AddLauncher appends a launcher row. Rows mutate only the form until
// Save.
func (f *Form) AddLauncher(l Launcher) {
	f.Launchers = append(f.Launchers, l)
}

// RemoveLauncher deletes the row at index i.
func (f *Form) RemoveLauncher(i int) error {
	if i < 0 || i >= len(f.Launchers) {
		return fmt.Errorf("no launcher at index %d", i)
	}
	f.Launchers = append(f.Launchers[:i], f.Launchers[i+1:]...)
	return nil
}

// Set assigns a scalar field by its wire name, coercing numeric fields
// to integers and toggles to booleans.
func (f *Form) Set(field, value string) error {
	switch field {
	case "server_address":
		f.ServerAddress = value
	case "server_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", field, value)
		}
		f.ServerPort = n
	case "check_cron":
		f.CheckCron = value
	case "storage_path":
		f.StoragePath = value
	case "download_url_base":
		f.DownloadURLBase = value
	case "admin_user":
		f.AdminUser = value
	case "proxy_url":
		f.ProxyURL = value
	case "asset_proxy_url":
		f.AssetProxyURL = value
	case "concurrent_downloads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", field, value)
		}
		f.ConcurrentDownloads = n
	case "download_timeout_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", field, value)
		}
		f.DownloadTimeoutMinutes = n
	case "xget_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", field, value)
		}
		f.XgetEnabled = b
	case "xget_domain":
		f.XgetDomain = value
	case "admin_password":
		f.SetAdminPassword(value)
	case "github_token":
		f.SetGithubToken(value)
	default:
		return fmt.Errorf("unknown config field %q", field)
	}
	return nil
}

// updatePayload is the outgoing shape of a save. The secret keys are
// omitted entirely when blank.
type updatePayload struct {
	Record
	AdminPassword string `json:"admin_password,omitempty"`
	GithubToken   string `json:"github_token,omitempty"`
}

// Editor loads and saves the configuration record.
type Editor struct {
	client *api.Client
}

func NewEditor(client *api.Client) *Editor {
	return &Editor{client: client}
}

// Load fetches the record and returns a fresh form. Secret fields come
// back nil: the server never returns them and the form never pre-fills
// them.
func (e *Editor) Load(ctx context.Context) (*Form, error) {
	var rec Record
	if err := e.client.GetJSON(ctx, "/admin/config", nil, &rec); err != nil {
		return nil, err
	}
	return &Form{Record: rec}, nil
}

// Save submits the form. The admin password, when typed, is digested
// with the installation salt before transmission; the access token is
// sent as typed. After a successful save the record is reloaded so the
// caller sees the server's normalization and blank secrets again.
func (e *Editor) Save(ctx context.Context, form *Form) (*Form, error) {
	payload := updatePayload{Record: form.Record}

	if form.AdminPassword != nil && *form.AdminPassword != "" {
		info, err := e.client.AuthInfo(ctx)
		if err != nil {
			return nil, err
		}
		payload.AdminPassword = auth.Digest(*form.AdminPassword, info.Salt)
	}
	if form.GithubToken != nil && *form.GithubToken != "" {
		payload.GithubToken = *form.GithubToken
	}

	if err := e.client.PostJSON(ctx, "/admin/config", nil, payload, nil); err != nil {
		return nil, err
	}
	return e.Load(ctx)
}

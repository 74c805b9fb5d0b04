// Package files is the remote file browser of the admin console. It
// tracks the current location inside the mirror's storage tree and
// performs listing, navigation, download, upload and delete against
// the /admin/files endpoints.
package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/leemwood/lemwood-mirror/internal/api"
	"github.com/leemwood/lemwood-mirror/internal/prompt"
)

// Entry is one row of a directory listing, reconstructed on every
// list call and never cached across navigations.
type Entry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`

	// Parent marks the synthetic ".." row prepended to non-root
	// listings. Activating it navigates one level up.
	Parent bool `json:"-"`
}

// Browser navigates the remote storage tree. The browse path is an
// ordered list of segments, root being the empty list; it is always
// kept normalized (no empty segments, no separators inside a segment).
type Browser struct {
	client  *api.Client
	confirm prompt.Func
	path    []string
}

// NewBrowser returns a browser positioned at the root.
func NewBrowser(client *api.Client, confirm prompt.Func) *Browser {
	return &Browser{client: client, confirm: confirm}
}

// Path returns the current browse path as a slash-joined string,
// "" at root.
func (b *Browser) Path() string {
	return strings.Join(b.path, "/")
}

// AtRoot reports whether the browser is at the storage root.
func (b *Browser) AtRoot() bool {
	return len(b.path) == 0
}

// join builds the request path for an entry name under the current
// directory.
func (b *Browser) join(name string) string {
	if len(b.path) == 0 {
		return name
	}
	return b.Path() + "/" + name
}

// List fetches the entries of the current directory. A non-root
// listing gets exactly one synthetic parent entry at its head.
func (b *Browser) List(ctx context.Context) ([]Entry, error) {
	query := url.Values{"path": {b.Path()}}
	var entries []Entry
	if err := b.client.GetJSON(ctx, "/admin/files", query, &entries); err != nil {
		return nil, err
	}
	if !b.AtRoot() {
		entries = append([]Entry{{Name: "..", IsDir: true, Parent: true}}, entries...)
	}
	return entries, nil
}

// Enter descends into the named directory and re-lists. The name must
// be a single path segment; directory-ness is the caller's contract
// (the view only offers Enter on directory rows).
func (b *Browser) Enter(ctx context.Context, name string) ([]Entry, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid directory name %q", name)
	}
	if name == ".." {
		return b.Up(ctx)
	}
	b.path = append(b.path, name)
	entries, err := b.List(ctx)
	if err != nil {
		// Navigation failed, stay where we were
		b.path = b.path[:len(b.path)-1]
		return nil, err
	}
	return entries, nil
}

// Up ascends one level and re-lists. At the root it just re-lists.
func (b *Browser) Up(ctx context.Context) ([]Entry, error) {
	if len(b.path) > 0 {
		b.path = b.path[:len(b.path)-1]
	}
	return b.List(ctx)
}

// Download streams the named file's bytes to w. The fetch goes through
// the authenticated client because a plain hyperlink cannot carry the
// bearer token.
func (b *Browser) Download(ctx context.Context, name string, w io.Writer) error {
	query := url.Values{"path": {b.join(name)}}
	resp, err := b.client.Do(ctx, http.MethodGet, "/admin/files/download", &api.RequestOptions{Query: query})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	return nil
}

// SaveTo downloads the named file into dir under its base name and
// returns the local path written.
func (b *Browser) SaveTo(ctx context.Context, name, dir string) (string, error) {
	local := filepath.Join(dir, path.Base(name))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := b.Download(ctx, name, f); err != nil {
		os.Remove(local)
		return "", err
	}
	return local, nil
}

// Delete removes the named entry after confirmation, then re-lists the
// current directory. The re-list only happens once the delete has
// completed; a failed delete leaves the browser unchanged.
func (b *Browser) Delete(ctx context.Context, name string) ([]Entry, error) {
	target := b.join(name)
	if !b.confirm(fmt.Sprintf("Delete %s?", target)) {
		return nil, prompt.ErrDeclined
	}
	query := url.Values{"path": {target}}
	if err := b.client.Delete(ctx, "/admin/files", query); err != nil {
		return nil, err
	}
	return b.List(ctx)
}

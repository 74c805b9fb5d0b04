package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/leemwood/lemwood-mirror/internal/api"
)

// Uploader submits local files into the browser's current directory.
type Uploader struct {
	client  *api.Client
	browser *Browser
}

func NewUploader(client *api.Client, browser *Browser) *Uploader {
	return &Uploader{client: client, browser: browser}
}

// Upload sends the local file as a multipart body to
// currentPath/base(localPath), then re-lists the current directory.
// The multipart writer supplies the content type so the client's JSON
// default never applies here.
func (u *Uploader) Upload(ctx context.Context, localPath string) ([]Entry, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", localPath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	query := url.Values{"path": {u.browser.join(filepath.Base(localPath))}}
	resp, err := u.client.Do(ctx, http.MethodPost, "/admin/files", &api.RequestOptions{
		Query:       query,
		Body:        &buf,
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// Refresh only after the upload has fully succeeded
	return u.browser.List(ctx)
}

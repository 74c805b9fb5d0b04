package admin

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/leemwood/lemwood-mirror/internal/api"
	"github.com/leemwood/lemwood-mirror/internal/prompt"
)

// BlacklistEntry is one blocked address. The IP is the unique key.
type BlacklistEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Blacklist manages the service's IP blacklist. Every mutation is
// followed by a full refresh so the view always matches server truth,
// even with concurrent administrators.
type Blacklist struct {
	client  *api.Client
	confirm prompt.Func
}

func NewBlacklist(client *api.Client, confirm prompt.Func) *Blacklist {
	return &Blacklist{client: client, confirm: confirm}
}

// List fetches the current entries.
func (b *Blacklist) List(ctx context.Context) ([]BlacklistEntry, error) {
	var entries []BlacklistEntry
	if err := b.client.GetJSON(ctx, "/admin/blacklist", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Add blocks an address. A server rejection (malformed IP, duplicate)
// is surfaced verbatim, never swallowed. On success the refreshed list
// is returned.
func (b *Blacklist) Add(ctx context.Context, ip, reason string) ([]BlacklistEntry, error) {
	req := map[string]string{"ip": ip, "reason": reason}
	if err := b.client.PostJSON(ctx, "/admin/blacklist", nil, req, nil); err != nil {
		return nil, err
	}
	return b.List(ctx)
}

// Remove unblocks an address after confirmation and returns the
// refreshed list.
func (b *Blacklist) Remove(ctx context.Context, ip string) ([]BlacklistEntry, error) {
	if !b.confirm(fmt.Sprintf("Remove %s from the blacklist?", ip)) {
		return nil, prompt.ErrDeclined
	}
	query := url.Values{"ip": {ip}}
	if err := b.client.Delete(ctx, "/admin/blacklist", query); err != nil {
		return nil, err
	}
	return b.List(ctx)
}

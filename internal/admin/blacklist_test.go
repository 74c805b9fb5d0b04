package admin_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/leemwood/lemwood-mirror/internal/admin"
	"github.com/leemwood/lemwood-mirror/internal/api"
	"github.com/leemwood/lemwood-mirror/internal/prompt"
)

func ips(entries []admin.BlacklistEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.IP
	}
	return out
}

func TestBlacklistAddAndList(t *testing.T) {
	client, _ := newEnv(t)
	bl := admin.NewBlacklist(client, prompt.Always())
	ctx := context.Background()

	entries, err := bl.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh blacklist has %d entries", len(entries))
	}

	entries, err = bl.Add(ctx, "203.0.113.7", "scraping")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(entries) != 1 || entries[0].IP != "203.0.113.7" {
		t.Fatalf("refreshed list = %v, want the new entry", ips(entries))
	}
	if entries[0].Reason != "scraping" {
		t.Errorf("Reason = %q, want %q", entries[0].Reason, "scraping")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("CreatedAt must be stamped by the server")
	}
}

func TestBlacklistAddMalformedIPFailsLoudly(t *testing.T) {
	client, _ := newEnv(t)
	bl := admin.NewBlacklist(client, prompt.Always())

	_, err := bl.Add(context.Background(), "not-an-ip", "")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *api.APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "invalid ip address") {
		t.Errorf("body = %q, want the server's verbatim message", apiErr.Body)
	}
}

func TestBlacklistRemove(t *testing.T) {
	client, _ := newEnv(t)
	bl := admin.NewBlacklist(client, prompt.Always())
	ctx := context.Background()

	if _, err := bl.Add(ctx, "198.51.100.4", "abuse"); err != nil {
		t.Fatal(err)
	}
	entries, err := bl.Remove(ctx, "198.51.100.4")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	for _, e := range entries {
		if e.IP == "198.51.100.4" {
			t.Error("removed address still present in refreshed list")
		}
	}
}

func TestBlacklistRemoveDeclined(t *testing.T) {
	client, _ := newEnv(t)
	ctx := context.Background()

	if _, err := admin.NewBlacklist(client, prompt.Always()).Add(ctx, "198.51.100.4", ""); err != nil {
		t.Fatal(err)
	}

	bl := admin.NewBlacklist(client, prompt.Never())
	if _, err := bl.Remove(ctx, "198.51.100.4"); !errors.Is(err, prompt.ErrDeclined) {
		t.Fatalf("error = %v, want prompt.ErrDeclined", err)
	}

	entries, err := bl.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Error("declined removal must leave the entry in place")
	}
}

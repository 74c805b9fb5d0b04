package version

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stamped by the release build through -ldflags; dev builds keep the
// defaults.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// UpdateInfo describes the newest published release relative to this
// build.
type UpdateInfo struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
	ReleaseURL      string `json:"release_url,omitempty"`
	ReleaseNotes    string `json:"release_notes,omitempty"`
	CheckedAt       string `json:"checked_at,omitempty"`
	Error           string `json:"error,omitempty"`
}

var (
	cachedUpdate *UpdateInfo
	cacheMu      sync.RWMutex
	cacheTime    time.Time
)

// GetVersion returns the version with any 'v' prefix stripped.
func GetVersion() string {
	return strings.TrimPrefix(Version, "v")
}

// GetInfo collects the build stamp fields for display.
func GetInfo() map[string]string {
	return map[string]string{
		"version":    GetVersion(),
		"git_commit": GitCommit,
		"build_time": BuildTime,
	}
}

// compareVersions orders two dotted version strings, returning the
// usual negative/zero/positive result. Only the numeric segments
// matter; pre-release suffixes are ignored.
func compareVersions(v1, v2 string) int {
	v1 = strings.TrimPrefix(v1, "v")
	v2 = strings.TrimPrefix(v2, "v")

	if v1 == v2 {
		return 0
	}
	// dev/unknown builds always count as older, "latest" as newer
	if v1 == "dev" || v1 == "unknown" {
		return -1
	}
	if v2 == "dev" || v2 == "unknown" {
		return 1
	}
	if v1 == "latest" {
		return 1
	}
	if v2 == "latest" {
		return -1
	}

	parts1 := strings.Split(v1, ".")
	parts2 := strings.Split(v2, ".")

	maxLen := len(parts1)
	if len(parts2) > maxLen {
		maxLen = len(parts2)
	}

	for i := 0; i < maxLen; i++ {
		var n1, n2 int
		if i < len(parts1) {
			// Pre-release suffixes (e.g. "1-beta") are ignored
			numStr := strings.Split(parts1[i], "-")[0]
			n1, _ = strconv.Atoi(numStr)
		}
		if i < len(parts2) {
			numStr := strings.Split(parts2[i], "-")[0]
			n2, _ = strconv.Atoi(numStr)
		}

		if n1 < n2 {
			return -1
		}
		if n1 > n2 {
			return 1
		}
	}

	return 0
}

// CheckForUpdates asks GitHub for the newest release of the project.
// Results are cached for an hour.
func CheckForUpdates(ctx context.Context, repoOwner, repoName string) *UpdateInfo {
	cacheMu.RLock()
	if cachedUpdate != nil && time.Since(cacheTime) < time.Hour {
		cacheMu.RUnlock()
		return cachedUpdate
	}
	cacheMu.RUnlock()

	info := &UpdateInfo{
		CurrentVersion: GetVersion(),
		CheckedAt:      time.Now().Format(time.RFC3339),
	}

	url := "https://api.github.com/repos/" + repoOwner + "/" + repoName + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		info.Error = "Failed to check for updates"
		return info
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		info.Error = "Failed to check for updates"
		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		info.Error = "No releases found"
		return info
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		info.Error = "Failed to parse release info"
		return info
	}

	latestVersion := strings.TrimPrefix(release.TagName, "v")
	info.LatestVersion = latestVersion
	info.ReleaseURL = release.HTMLURL
	info.ReleaseNotes = release.Body
	info.UpdateAvailable = compareVersions(latestVersion, GetVersion()) > 0

	cacheMu.Lock()
	cachedUpdate = info
	cacheTime = time.Now()
	cacheMu.Unlock()

	return info
}

package buildinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
)

// Version is stamped at build time with -ldflags "-X .../buildinfo.Version=v1.2.3".
var Version = "v0.0.0"

type release struct {
	TagName string `json:"tag_name"`
}

// UpdateInfo is the result of comparing the running build with the latest release.
type UpdateInfo struct {
	Current  string
	Latest   string
	Outdated bool
}

// CheckForUpdates fetches the latest release from a GitHub style releases
// endpoint and compares it with current.
func CheckForUpdates(ctx context.Context, client *http.Client, url, current string) (UpdateInfo, error) {
	info := UpdateInfo{Current: current}

	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return info, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("release check returned %d", resp.StatusCode)
	}

	var r release
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return info, fmt.Errorf("decode release: %w", err)
	}
	info.Latest = r.TagName

	cur, err := version.NewVersion(current)
	if err != nil {
		return info, fmt.Errorf("parse current version %q: %w", current, err)
	}
	latest, err := version.NewVersion(r.TagName)
	if err != nil {
		return info, fmt.Errorf("parse latest version %q: %w", r.TagName, err)
	}

	info.Outdated = cur.LessThan(latest)
	return info, nil
}

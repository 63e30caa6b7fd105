package constraints

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pumas-ai/pumas-launcher/internal/netexec"
)

const pypiDomain = "pypi.org"

// VersionEntry is one release of a package as reported by the index.
type VersionEntry struct {
	Version    Version
	Raw        string
	UploadTime time.Time
}

// PyPIClient fetches package version/upload-time listings from the PyPA
// Simple Repository API's JSON representation (PEP 691), which — unlike
// the HTML index datawire-ocibuild's pep503 client parses — carries the
// upload-time metadata §4.6's release-date filter needs without requiring
// a second per-file HEAD request.
type PyPIClient struct {
	executor *netexec.Executor
	baseURL  string
	http     *http.Client
}

func NewPyPIClient(executor *netexec.Executor) *PyPIClient {
	return &PyPIClient{
		executor: executor,
		baseURL:  "https://" + pypiDomain + "/simple",
		http:     &http.Client{Timeout: 20 * time.Second},
	}
}

type simpleFile struct {
	Filename   string `json:"filename"`
	UploadTime string `json:"upload-time"`
}

type simpleIndexResponse struct {
	Files []simpleFile `json:"files"`
}

var filenameVersion = regexp.MustCompile(`-([0-9][0-9A-Za-z.\-_+]*)(?:-(?:py|cp|source)[^.]*)?\.(?:tar\.gz|whl|zip)$`)

// ListVersions fetches and parses every release of pkg, deduplicating by
// version string and keeping the earliest upload time seen for it (a
// package typically publishes several file types per version).
func (c *PyPIClient) ListVersions(ctx context.Context, pkg string) ([]VersionEntry, error) {
	url := fmt.Sprintf("%s/%s/", c.baseURL, normalizePkgName(pkg))
	resp, _, err := c.executor.Execute(ctx, pypiDomain, "pypi-versions:"+pkg, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.pypi.simple.v1+json")
		return c.http.Do(req)
	}, func() (any, bool) { return nil, false })
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body simpleIndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("constraints: decode simple index for %s: %w", pkg, err)
	}

	byVersion := make(map[string]VersionEntry)
	for _, f := range body.Files {
		m := filenameVersion.FindStringSubmatch(f.Filename)
		if m == nil {
			continue
		}
		raw := m[1]
		v, err := ParseVersion(raw)
		if err != nil {
			continue
		}
		uploadedAt, _ := time.Parse(time.RFC3339, f.UploadTime)
		existing, ok := byVersion[raw]
		if !ok || (!uploadedAt.IsZero() && uploadedAt.Before(existing.UploadTime)) {
			byVersion[raw] = VersionEntry{Version: v, Raw: raw, UploadTime: uploadedAt}
		}
	}

	out := make([]VersionEntry, 0, len(byVersion))
	for _, v := range byVersion {
		out = append(out, v)
	}
	return out, nil
}

func normalizePkgName(name string) string {
	return strings.ToLower(regexp.MustCompile(`[-_.]+`).ReplaceAllString(name, "-"))
}

package constraints

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/pumas-ai/pumas-launcher/internal/store"
)

// Requirement is one non-comment line of a requirements.txt, split into
// its package name and specifier clauses.
type Requirement struct {
	Name       string
	Specifiers []Specifier
	Pinned     string // set when the requirement is an exact "==" pin; bypasses resolution
}

var requirementLine = regexp.MustCompile(`^([A-Za-z0-9_.\-]+)\s*(.*)$`)

// ParseRequirementsTxt parses a minimal requirements.txt: blank lines and
// `#` comments are skipped, `-r`/`-c`/`--` option lines are ignored (this
// resolver flattens a single file, it does not follow includes), and
// environment markers (`; python_version ...`) are dropped since every
// installed version runs against the launcher's own pinned interpreter.
func ParseRequirementsTxt(data []byte) ([]Requirement, error) {
	var out []Requirement
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		m := requirementLine.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("constraints: unparseable requirement line %q", line)
		}
		req := Requirement{Name: m[1]}
		specClause := strings.TrimSpace(m[2])
		if specClause != "" {
			specs, err := ParseSpecifiers(specClause)
			if err != nil {
				return nil, fmt.Errorf("constraints: %s: %w", req.Name, err)
			}
			req.Specifiers = specs
			for _, s := range specs {
				if s.Op == "==" && len(specs) == 1 {
					req.Pinned = s.Version.String()
				}
			}
		}
		out = append(out, req)
	}
	return out, sc.Err()
}

type cacheFile struct {
	// Resolutions[cacheKey(tag, reqs)][pkg] = resolved version
	Resolutions map[string]map[string]string `json:"resolutions"`
	// PackageVersions[pkg] = known releases, refreshed opportunistically
	PackageVersions map[string][]cachedVersionEntry `json:"package_versions"`
}

type cachedVersionEntry struct {
	Version    string    `json:"version"`
	UploadTime time.Time `json:"upload_time"`
}

// Resolver implements §4.6's constraints resolution with a JSON-file
// cache (pypi-cache.json) deliberately kept outside SQLite so it never
// contends with the search index's single-writer lock.
type Resolver struct {
	client    *PyPIClient
	cachePath string

	mu    sync.Mutex
	cache cacheFile
}

func NewResolver(client *PyPIClient, cachePath string) *Resolver {
	r := &Resolver{client: client, cachePath: cachePath}
	r.load()
	return r
}

func (r *Resolver) load() {
	b, err := os.ReadFile(r.cachePath)
	if err != nil {
		r.cache = cacheFile{Resolutions: map[string]map[string]string{}, PackageVersions: map[string][]cachedVersionEntry{}}
		return
	}
	var c cacheFile
	if json.Unmarshal(b, &c) != nil || c.Resolutions == nil {
		c.Resolutions = map[string]map[string]string{}
	}
	if c.PackageVersions == nil {
		c.PackageVersions = map[string][]cachedVersionEntry{}
	}
	r.cache = c
}

func (r *Resolver) persistLocked() error {
	b, err := json.MarshalIndent(r.cache, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(r.cachePath, b)
}

func (r *Resolver) versionsFor(ctx context.Context, pkg string) ([]VersionEntry, error) {
	r.mu.Lock()
	if cached, ok := r.cache.PackageVersions[pkg]; ok && len(cached) > 0 {
		out := make([]VersionEntry, 0, len(cached))
		for _, c := range cached {
			v, err := ParseVersion(c.Version)
			if err == nil {
				out = append(out, VersionEntry{Version: v, Raw: c.Version, UploadTime: c.UploadTime})
			}
		}
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	live, err := r.client.ListVersions(ctx, pkg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	cached := make([]cachedVersionEntry, 0, len(live))
	for _, v := range live {
		cached = append(cached, cachedVersionEntry{Version: v.Raw, UploadTime: v.UploadTime})
	}
	r.cache.PackageVersions[pkg] = cached
	_ = r.persistLocked()
	r.mu.Unlock()
	return live, nil
}

// cacheKey derives the resolution cache key from tag, releaseDate, and a
// sha3-256 digest of the canonicalized (sorted, specifier-joined)
// requirement set, so a tag whose requirements.txt or release-date
// ceiling changes underneath it (a moving "dev"/"rolling" tag, a re-pin,
// or corrected release metadata) misses the cache instead of silently
// reusing a resolution computed against different inputs.
func cacheKey(tag string, reqs []Requirement, releaseDate time.Time) string {
	lines := make([]string, 0, len(reqs))
	for _, req := range reqs {
		specParts := make([]string, 0, len(req.Specifiers))
		for _, s := range req.Specifiers {
			specParts = append(specParts, s.Op+s.Version.String())
		}
		sort.Strings(specParts)
		lines = append(lines, req.Name+"|"+req.Pinned+"|"+strings.Join(specParts, ","))
	}
	sort.Strings(lines)
	lines = append(lines, "releaseDate|"+releaseDate.UTC().Format(time.RFC3339))

	sum := sha3.Sum256([]byte(strings.Join(lines, "\n")))
	return tag + "@" + hex.EncodeToString(sum[:8])
}

// Resolve pins every non-exact requirement to the highest version that
// satisfies its specifier and whose upload date is at or before
// releaseDate (zero means "no ceiling"), caching the result under a key
// derived from tag and the requirement set so a repeat install of the
// same version and requirements doesn't refetch the index.
func (r *Resolver) Resolve(ctx context.Context, tag string, reqs []Requirement, releaseDate time.Time) (map[string]string, error) {
	key := cacheKey(tag, reqs, releaseDate)

	r.mu.Lock()
	if cached, ok := r.cache.Resolutions[key]; ok {
		out := make(map[string]string, len(cached))
		for k, v := range cached {
			out[k] = v
		}
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	resolved := make(map[string]string, len(reqs))
	for _, req := range reqs {
		if req.Pinned != "" {
			resolved[req.Name] = req.Pinned
			continue
		}
		versions, err := r.versionsFor(ctx, req.Name)
		if err != nil {
			return nil, fmt.Errorf("constraints: resolve %s: %w", req.Name, err)
		}
		best, ok := pickBest(versions, req.Specifiers, releaseDate)
		if !ok {
			return nil, fmt.Errorf("constraints: no version of %s satisfies %v as of %s", req.Name, req.Specifiers, releaseDate)
		}
		resolved[req.Name] = best
	}

	r.mu.Lock()
	r.cache.Resolutions[key] = resolved
	err := r.persistLocked()
	r.mu.Unlock()
	return resolved, err
}

func pickBest(versions []VersionEntry, specs []Specifier, releaseDate time.Time) (string, bool) {
	var best VersionEntry
	found := false
	for _, v := range versions {
		if !Satisfies(v.Version, specs) {
			continue
		}
		if !releaseDate.IsZero() && !v.UploadTime.IsZero() && v.UploadTime.After(releaseDate) {
			continue
		}
		if !found || Compare(v.Version, best.Version) > 0 {
			best = v
			found = true
		}
	}
	return best.Raw, found
}

// WriteConstraintsFile renders resolved as a pip constraints file
// ("pkg==version" per line, sorted for deterministic output) and writes
// it atomically to path.
func WriteConstraintsFile(path string, resolved map[string]string) error {
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s==%s\n", name, resolved[name])
	}
	return store.WriteFileAtomic(path, []byte(b.String()))
}

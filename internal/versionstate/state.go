// Package versionstate implements the Version State component (C8, §4.7):
// the durable record of which (app_id, tag) pairs are installed, which
// tag is active per app, and the reconciliation/validation logic that
// keeps that record honest against the filesystem.
package versionstate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Prober answers whether an installed version's kind-specific artifact set
// (V1) is actually present and usable on disk.
type Prober interface {
	Probe(v models.InstalledVersion) bool
}

// fsProber is the default, filesystem-only prober described informally by
// §4.8's launch-command table: a venv kind needs its interpreter and
// entrypoint, a binary kind needs its executable, a container kind has no
// standing filesystem artifact beyond its version directory.
type fsProber struct{}

func (fsProber) Probe(v models.InstalledVersion) bool {
	switch v.Kind {
	case models.AppKindPythonVenv:
		return fileExists(filepath.Join(v.Dir, "venv", "bin", "python")) &&
			fileExists(filepath.Join(v.Dir, "main.py"))
	case models.AppKindBinary:
		return fileExists(filepath.Join(v.Dir, "app")) || dirHasExecutable(v.Dir)
	case models.AppKindDocker:
		return dirExists(v.Dir)
	default:
		return dirExists(v.Dir)
	}
}

func DefaultProber() Prober { return fsProber{} }

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func dirHasExecutable(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fi, err := e.Info(); err == nil && fi.Mode()&0o111 != 0 {
			return true
		}
	}
	return false
}

type appRecord struct {
	Installed    map[string]models.InstalledVersion `json:"installed"`
	Default      string                             `json:"default,omitempty"`
	LastSelected string                              `json:"last_selected,omitempty"`
}

func newAppRecord() *appRecord {
	return &appRecord{Installed: make(map[string]models.InstalledVersion)}
}

// State is the C8 façade, holding every app's installed set in memory and
// mirroring it to metadataPath. The active tag per app is additionally
// shadowed by a ".active-version" file inside that app's root directory,
// which ActiveTag checks against the installed set each time it runs.
type State struct {
	mu           sync.Mutex
	appsRootDir  string
	metadataPath string
	prober       Prober

	apps map[string]*appRecord
}

func New(appsRootDir, metadataPath string, prober Prober) *State {
	if prober == nil {
		prober = DefaultProber()
	}
	return &State{
		appsRootDir:  appsRootDir,
		metadataPath: metadataPath,
		prober:       prober,
		apps:         make(map[string]*appRecord),
	}
}

// Load reads persisted metadata into memory. It does not read the
// .active-version files; ActiveTag does that when queried.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw map[string]*appRecord
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for appID, rec := range raw {
		if rec.Installed == nil {
			rec.Installed = make(map[string]models.InstalledVersion)
		}
		s.apps[appID] = rec
	}
	return nil
}

func (s *State) persistLocked() error {
	b, err := json.MarshalIndent(s.apps, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(s.metadataPath, b)
}

func (s *State) activeVersionPath(appID string) string {
	return filepath.Join(s.appsRootDir, appID, ".active-version")
}

func (s *State) readActiveFile(appID string) (string, bool) {
	b, err := os.ReadFile(s.activeVersionPath(appID))
	if err != nil {
		return "", false
	}
	tag := string(b)
	for len(tag) > 0 && (tag[len(tag)-1] == '\n' || tag[len(tag)-1] == '\r' || tag[len(tag)-1] == ' ') {
		tag = tag[:len(tag)-1]
	}
	return tag, tag != ""
}

func (s *State) writeActiveFile(appID, tag string) error {
	if err := os.MkdirAll(filepath.Dir(s.activeVersionPath(appID)), 0o755); err != nil {
		return err
	}
	return store.WriteFileAtomic(s.activeVersionPath(appID), []byte(tag))
}

func (s *State) record(appID string) *appRecord {
	rec, ok := s.apps[appID]
	if !ok {
		rec = newAppRecord()
		s.apps[appID] = rec
	}
	return rec
}

// RecordInstalled adds or replaces the installed record for (app_id, tag).
func (s *State) RecordInstalled(v models.InstalledVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(v.AppID).Installed[v.Tag] = v
	return s.persistLocked()
}

// RemoveInstalled drops (app_id, tag) from the installed set. It is a
// no-op, not an error, if the entry is already absent.
func (s *State) RemoveInstalled(appID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apps[appID]
	if !ok {
		return nil
	}
	delete(rec.Installed, tag)
	return s.persistLocked()
}

func (s *State) IsInstalled(appID, tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apps[appID]
	if !ok {
		return false
	}
	_, ok = rec.Installed[tag]
	return ok
}

// ListInstalled returns a snapshot of every installed version for appID.
func (s *State) ListInstalled(appID string) []models.InstalledVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apps[appID]
	if !ok {
		return nil
	}
	out := make([]models.InstalledVersion, 0, len(rec.Installed))
	for _, v := range rec.Installed {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// SetDefault records the configured default tag for appID.
func (s *State) SetDefault(appID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(appID).Default = tag
	return s.persistLocked()
}

// SetActive marks tag active for appID, provided it is installed, and
// shadows the choice into .active-version for the next reconcile.
func (s *State) SetActive(appID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apps[appID]
	if !ok {
		return os.ErrNotExist
	}
	if _, ok := rec.Installed[tag]; !ok {
		return os.ErrNotExist
	}
	rec.LastSelected = tag
	if err := s.persistLocked(); err != nil {
		return err
	}
	return s.writeActiveFile(appID, tag)
}

// ActiveTag implements the §4.7 five-step selection policy in order:
// a valid .active-version, the configured default, the last-selected
// tag, the lexicographically greatest installed tag, or none.
func (s *State) ActiveTag(appID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apps[appID]
	if !ok {
		return "", false
	}
	if tag, ok := s.readActiveFile(appID); ok {
		if _, installed := rec.Installed[tag]; installed {
			return tag, true
		}
	}
	if rec.Default != "" {
		if _, installed := rec.Installed[rec.Default]; installed {
			return rec.Default, true
		}
	}
	if rec.LastSelected != "" {
		if _, installed := rec.Installed[rec.LastSelected]; installed {
			return rec.LastSelected, true
		}
	}
	var best string
	for tag := range rec.Installed {
		if tag > best {
			best = tag
		}
	}
	if best != "" {
		return best, true
	}
	return "", false
}

// ValidationResult summarizes one validate_installations pass.
type ValidationResult struct {
	Removed    []models.InstalledVersion
	Orphaned   []string
	ValidCount int
}

// ValidateInstallations implements §4.7's validate_installations: probe
// every recorded install, drop (and best-effort clean up on disk) any
// whose artifact set is missing, and report — without adopting — any
// on-disk version directory absent from the metadata.
func (s *State) ValidateInstallations(ctx context.Context) (ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result ValidationResult
	for appID, rec := range s.apps {
		onDisk := make(map[string]bool)
		if entries, err := os.ReadDir(filepath.Join(s.appsRootDir, appID)); err == nil {
			for _, e := range entries {
				if e.IsDir() {
					onDisk[e.Name()] = true
				}
			}
		}

		for tag, v := range rec.Installed {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			delete(onDisk, tag)
			if s.prober.Probe(v) {
				result.ValidCount++
				continue
			}
			delete(rec.Installed, tag)
			result.Removed = append(result.Removed, v)
			if dirExists(v.Dir) {
				_ = os.RemoveAll(v.Dir)
			}
		}
		for tag := range onDisk {
			if tag == ".active-version" {
				continue
			}
			result.Orphaned = append(result.Orphaned, appID+"/"+tag)
		}
	}
	if err := s.persistLocked(); err != nil {
		return result, err
	}
	return result, nil
}

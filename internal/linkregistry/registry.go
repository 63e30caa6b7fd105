// Package linkregistry implements the Link Registry (C4, §4.3): a
// durable, dual-indexed record of every link a consumer app has into the
// content store. The registry never creates or removes on-disk links
// itself — that is the caller's responsibility (the coordinator).
package linkregistry

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Registry is the C4 façade, backed by one JSON document.
type Registry struct {
	mu   sync.RWMutex
	path string

	byTarget map[string]models.LinkEntry
	byModel  map[string][]models.LinkEntry
}

// Open loads the registry from path, creating an empty one if absent.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:     path,
		byTarget: make(map[string]models.LinkEntry),
		byModel:  make(map[string][]models.LinkEntry),
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	var entries []models.LinkEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		r.byTarget[e.TargetInApp] = e
		r.byModel[e.ModelID] = append(r.byModel[e.ModelID], e)
	}
	return r, nil
}

// persistLocked rewrites the whole document, guarded by the caller already
// holding mu for writing.
func (r *Registry) persistLocked() error {
	entries := make([]models.LinkEntry, 0, len(r.byTarget))
	for _, e := range r.byTarget {
		entries = append(entries, e)
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(r.path, b)
}

// Register records a new link. If an entry already exists for the same
// target, it is replaced (re-linking onto the same app-side path).
func (r *Registry) Register(entry models.LinkEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byTarget[entry.TargetInApp]; ok {
		r.removeFromModelIndexLocked(old)
	}
	r.byTarget[entry.TargetInApp] = entry
	r.byModel[entry.ModelID] = append(r.byModel[entry.ModelID], entry)
	return r.persistLocked()
}

func (r *Registry) removeFromModelIndexLocked(e models.LinkEntry) {
	list := r.byModel[e.ModelID]
	for i, cand := range list {
		if cand.TargetInApp == e.TargetInApp {
			r.byModel[e.ModelID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byModel[e.ModelID]) == 0 {
		delete(r.byModel, e.ModelID)
	}
}

// UnregisterByTarget removes the entry for a given app-side target path.
func (r *Registry) UnregisterByTarget(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byTarget[target]
	if !ok {
		return nil
	}
	delete(r.byTarget, target)
	r.removeFromModelIndexLocked(e)
	return r.persistLocked()
}

// GetLinksForModel returns a snapshot of links pointing at modelID.
func (r *Registry) GetLinksForModel(modelID string) []models.LinkEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.LinkEntry, len(r.byModel[modelID]))
	copy(out, r.byModel[modelID])
	return out
}

// GetLinksForApp returns a snapshot of links belonging to appID.
func (r *Registry) GetLinksForApp(appID string) []models.LinkEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.LinkEntry
	for _, e := range r.byTarget {
		if e.AppID == appID {
			out = append(out, e)
		}
	}
	return out
}

// RemoveAllForModel cascades deletion of every link for modelID (§3 L1).
// Calling it twice in a row is safe and returns an empty list the second
// time (§8's idempotence law).
func (r *Registry) RemoveAllForModel(modelID string) ([]models.LinkEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.byModel[modelID]
	for _, e := range removed {
		delete(r.byTarget, e.TargetInApp)
	}
	delete(r.byModel, modelID)
	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	out := make([]models.LinkEntry, len(removed))
	copy(out, removed)
	return out, nil
}

// CleanupBroken removes entries whose source no longer exists on disk
// (§3 L2) and returns how many were removed. The caller supplies exists
// so the registry package stays free of a direct os.Stat dependency on
// source layout assumptions beyond "a path".
func (r *Registry) CleanupBroken(exists func(path string) bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []models.LinkEntry
	for _, e := range r.byTarget {
		if !exists(e.SourceInStore) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		delete(r.byTarget, e.TargetInApp)
		r.removeFromModelIndexLocked(e)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), r.persistLocked()
}

package download

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// persistedDownload is the on-disk shape of one download record: the
// request's expected hash doesn't live on DownloadProgress, so it rides
// alongside it here.
type persistedDownload struct {
	Progress     models.DownloadProgress `json:"progress"`
	ExpectedHash string                  `json:"expected_hash,omitempty"`
}

// persistAll rewrites downloads.json whole, via the same write-temp-rename
// primitive the content store uses. Called opportunistically (§4.5: "no
// faster than every T ms" in spirit — callers here call it at phase
// boundaries, which is cheap enough not to need its own debounce timer).
func (e *Engine) persistAll() error {
	e.mu.Lock()
	states := make([]*downloadState, 0, len(e.downloads))
	for _, st := range e.downloads {
		states = append(states, st)
	}
	e.mu.Unlock()

	records := make([]persistedDownload, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		records = append(records, persistedDownload{Progress: st.progress, ExpectedHash: st.req.ExpectedHash})
		st.mu.Unlock()
	}

	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(e.persistPath, b)
}

// RestorePersistedDownloads loads downloads.json on process start. Any
// download that was mid-transfer ("downloading") is marked "paused" so it
// sits visible to the UI awaiting an explicit resume, per §4.5.
func (e *Engine) RestorePersistedDownloads(ctx context.Context) error {
	b, err := os.ReadFile(e.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var records []persistedDownload
	if err := json.Unmarshal(b, &records); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		p := rec.Progress
		if p.Status == models.DownloadDownloading || p.Status == models.DownloadCancelling {
			p.Status = models.DownloadPaused
		}
		st := &downloadState{
			progress: p,
			req: models.DownloadRequest{
				RepoID: p.RepoID, Files: p.Files, ExpectedHash: rec.ExpectedHash,
			},
			done: make(chan struct{}),
		}
		close(st.done)
		if p.Status == models.DownloadPaused {
			st.paused.Store(true)
		}
		e.downloads[p.ID] = st
	}
	return nil
}

package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pumas-ai/pumas-launcher/internal/coreerr"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// run drives one download's whole lifecycle: auxiliary files first, then
// weight files, with the aux-complete callback firing exactly once on the
// boundary between them (§4.5).
func (e *Engine) run(ctx context.Context, id string, st *downloadState) {
	defer close(st.done)

	st.mu.Lock()
	st.progress.Status = models.DownloadDownloading
	st.mu.Unlock()
	_ = e.persistAll()

	aux, weight := splitAuxWeight(st.progress.Files)
	order := append(append([]int{}, aux...), weight...)

	var lastErr error
	for _, idx := range order {
		if st.cancelled.Load() {
			e.finishCancelled(st)
			return
		}
		if err := e.waitWhilePaused(st); err != nil {
			e.finishCancelled(st)
			return
		}

		st.mu.Lock()
		already := st.progress.Files[idx].Done
		st.mu.Unlock()
		if already {
			continue
		}

		if err := e.downloadOneFile(ctx, st, idx); err != nil {
			if coreerr.Cancelled(err) {
				e.finishCancelled(st)
				return
			}
			lastErr = err
			st.mu.Lock()
			st.progress.Status = models.DownloadError
			st.progress.Error = err.Error()
			st.mu.Unlock()
			_ = e.persistAll()
			return
		}

		if idx == lastAuxIndex(aux) && len(weight) > 0 {
			if cb := e.auxCompleteCB.Load(); cb != nil {
				(*cb)(id)
			}
		}
	}
	if lastErr != nil {
		return
	}

	st.mu.Lock()
	st.progress.Status = models.DownloadCompleted
	st.progress.UpdatedAt = time.Now().UTC()
	filenames := make([]string, len(st.progress.Files))
	for i, f := range st.progress.Files {
		filenames[i] = f.LocalPath
	}
	destDir := st.progress.DestDir
	var knownHash *string
	if st.req.ExpectedHash != "" {
		h := st.req.ExpectedHash
		knownHash = &h
	}
	st.mu.Unlock()
	_ = e.persistAll()

	if cb := e.completionCB.Load(); cb != nil {
		(*cb)(destDir, filenames, knownHash)
	}
}

func splitAuxWeight(files []models.DownloadFile) (aux, weight []int) {
	for i, f := range files {
		if f.Auxiliary {
			aux = append(aux, i)
		} else {
			weight = append(weight, i)
		}
	}
	return aux, weight
}

func lastAuxIndex(aux []int) int {
	if len(aux) == 0 {
		return -1
	}
	return aux[len(aux)-1]
}

// waitWhilePaused blocks in short polling intervals while the pause flag
// is set, returning early (with a cancellation error) if cancel fires
// while paused. Bounded by one poll tick, per §4.5's "bounded time"
// requirement on pause/cancel responsiveness.
func (e *Engine) waitWhilePaused(st *downloadState) error {
	if !st.paused.Load() {
		return nil
	}
	st.mu.Lock()
	st.progress.Status = models.DownloadPaused
	st.mu.Unlock()
	_ = e.persistAll()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for st.paused.Load() {
		if st.cancelled.Load() {
			return context.Canceled
		}
		<-ticker.C
	}
	st.mu.Lock()
	st.progress.Status = models.DownloadDownloading
	st.mu.Unlock()
	return nil
}

func (e *Engine) finishCancelled(st *downloadState) {
	st.mu.Lock()
	st.progress.Status = models.DownloadCancelled
	st.progress.UpdatedAt = time.Now().UTC()
	destDir := st.progress.DestDir
	files := append([]models.DownloadFile(nil), st.progress.Files...)
	st.mu.Unlock()

	for _, f := range files {
		_ = os.Remove(filepath.Join(destDir, f.LocalPath+".part"))
	}
	_ = e.persistAll()
}

// downloadOneFile implements the §4.5 per-file transfer algorithm: resume
// from an existing .part by length, stream in chunks with periodic
// progress flush, retry transient failures with exponential backoff, and
// atomically rename on clean completion.
func (e *Engine) downloadOneFile(ctx context.Context, st *downloadState, idx int) error {
	st.mu.Lock()
	f := st.progress.Files[idx]
	destDir := st.progress.DestDir
	st.mu.Unlock()

	finalPath := filepath.Join(destDir, f.LocalPath)
	partPath := finalPath + ".part"
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return coreerr.NewIO("download.downloadOneFile", finalPath, err)
	}

	var attempt int
	for {
		err := e.transferOnce(ctx, st, idx, f.RemotePath, partPath)
		if err == nil {
			break
		}
		if coreerr.Cancelled(err) || st.cancelled.Load() {
			return context.Canceled
		}
		if coreerr.Is(err, coreerr.KindRemotePermanent) || coreerr.Is(err, coreerr.KindNotFound) || coreerr.Is(err, coreerr.KindRateLimited) {
			return err
		}
		attempt++
		if attempt > maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBaseDelay << uint(attempt-1)):
		}
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return coreerr.NewIO("download.downloadOneFile", finalPath, err)
	}
	st.mu.Lock()
	st.progress.Files[idx].Done = true
	st.mu.Unlock()
	_ = e.persistAll()
	return nil
}

// transferOnce performs a single resumable attempt: one ranged GET plus
// the chunked copy loop. A return of nil means the part file now holds
// the complete transfer; any error leaves the partial .part file intact
// for the next attempt (or for process restart) to resume from.
func (e *Engine) transferOnce(ctx context.Context, st *downloadState, idx int, remotePath, partPath string) error {
	var resumeFrom int64
	if fi, err := os.Stat(partPath); err == nil {
		resumeFrom = fi.Size()
	}

	st.mu.Lock()
	expected := st.progress.Files[idx].ExpectedSize
	st.mu.Unlock()
	if expected > 0 && resumeFrom > expected {
		// A .part longer than the expected size can only be stale (a
		// prior pull with different metadata, a truncated write gone
		// wrong); discard it and restart the transfer from scratch
		// rather than sending a Range past the end of the remote object.
		if err := os.Truncate(partPath, 0); err != nil && !os.IsNotExist(err) {
			return coreerr.NewIO("download.transferOnce", partPath, err)
		}
		resumeFrom = 0
	}
	if expected > 0 && resumeFrom == expected {
		// §8: a .part whose length equals the full expected size is
		// already complete on resume; no request needed, and a ranged
		// GET past the end of a complete file gets a 416 from real CDNs.
		e.updateFileProgress(st, idx, resumeFrom, 0, time.Now())
		return nil
	}

	resp, _, err := e.executor.Execute(ctx, e.domain, "", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, remotePath, nil)
		if err != nil {
			return nil, err
		}
		if resumeFrom > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		}
		return e.httpClient().Do(req)
	}, func() (any, bool) { return nil, false })
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// continuing from resumeFrom, as requested
	case http.StatusOK:
		resumeFrom = 0
		if err := os.Truncate(partPath, 0); err != nil && !os.IsNotExist(err) {
			return coreerr.NewIO("download.transferOnce", partPath, err)
		}
	default:
		return coreerr.New(coreerr.ClassifyHTTP(resp.StatusCode), "download.transferOnce",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return coreerr.NewIO("download.transferOnce", partPath, err)
	}
	defer out.Close()
	if _, err := out.Seek(resumeFrom, io.SeekStart); err != nil {
		return coreerr.NewIO("download.transferOnce", partPath, err)
	}

	return e.copyChunks(ctx, st, idx, out, resp.Body, resumeFrom)
}

func (e *Engine) copyChunks(ctx context.Context, st *downloadState, idx int, out *os.File, body io.Reader, startAt int64) error {
	buf := make([]byte, e.chunkSize)
	written := startAt
	lastFlush := time.Now()
	lastFlushBytes := startAt
	start := time.Now()

	for {
		if st.cancelled.Load() {
			return context.Canceled
		}
		if err := e.waitWhilePaused(st); err != nil {
			return context.Canceled
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return coreerr.NewIO("download.copyChunks", out.Name(), werr)
			}
			written += int64(n)
		}

		if time.Since(lastFlush) >= flushInterval || readErr == io.EOF {
			elapsed := time.Since(lastFlush).Seconds()
			speed := float64(written-lastFlushBytes) / maxFloat(elapsed, 0.001)
			e.updateFileProgress(st, idx, written, speed, start)
			lastFlush = time.Now()
			lastFlushBytes = written
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return coreerr.New(coreerr.KindNetworkTransient, "download.copyChunks", readErr)
		}
	}
}

func (e *Engine) updateFileProgress(st *downloadState, idx int, fileBytes int64, speed float64, start time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.progress.Files[idx].DownloadedSize = fileBytes

	var total, done int64
	for _, f := range st.progress.Files {
		total += f.ExpectedSize
		done += f.DownloadedSize
	}
	st.progress.DownloadedBytes = done
	st.progress.TotalBytes = total
	st.progress.SpeedBytesPerSec = speed
	if speed > 0 && total > done {
		st.progress.ETASeconds = float64(total-done) / speed
	}
	st.progress.UpdatedAt = time.Now().UTC()
}

func (e *Engine) httpClient() *http.Client {
	return &http.Client{Timeout: 0} // streaming transfer; no overall deadline beyond ctx
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Package download implements the Download Engine (C6, §4.5): per-file
// resumable transfer with .part staging, pause/resume/cancel, on-disk
// persistence across restarts, and the auxiliary/weight completion
// callbacks the coordinator uses to stub metadata early.
package download

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pumas-ai/pumas-launcher/internal/coreerr"
	"github.com/pumas-ai/pumas-launcher/internal/netexec"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

const (
	defaultChunkSize  = 8 << 20 // 8 MiB, per §4.5 step 2
	maxRetries        = 5
	flushInterval     = 500 * time.Millisecond
	retryBaseDelay    = 500 * time.Millisecond
)

// CompletionFunc fires once per download id when every file has reached a
// final state. knownSHA256 is nil unless the request carried one.
type CompletionFunc func(destDir string, filenames []string, knownSHA256 *string)

// AuxCompleteFunc fires once, synchronously, on the boundary between the
// auxiliary-file phase and the weight-file phase of a single download.
type AuxCompleteFunc func(id string)

type downloadState struct {
	mu       sync.Mutex
	progress models.DownloadProgress
	req      models.DownloadRequest

	paused    atomic.Bool
	cancelled atomic.Bool
	done      chan struct{}
}

func (s *downloadState) snapshot() models.DownloadProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.progress
	cp.Files = append([]models.DownloadFile(nil), s.progress.Files...)
	return cp
}

// Engine is the C6 façade. One per process; every transfer runs on its own
// goroutine tracked in-memory, with state mirrored to disk for restart
// recovery.
type Engine struct {
	executor *netexec.Executor
	domain   string

	persistPath string
	chunkSize   int64

	mu        sync.Mutex
	downloads map[string]*downloadState

	completionCB    atomic.Pointer[CompletionFunc]
	auxCompleteCB   atomic.Pointer[AuxCompleteFunc]
}

// New constructs an Engine. domain is the netexec domain used for every
// fetch this engine issues (e.g. "huggingface.co"), so transfers share
// C1's circuit breaker and rate-limit bookkeeping with the hub client.
func New(executor *netexec.Executor, domain, persistPath string) *Engine {
	return &Engine{
		executor:    executor,
		domain:      domain,
		persistPath: persistPath,
		chunkSize:   defaultChunkSize,
		downloads:   make(map[string]*downloadState),
	}
}

func (e *Engine) SetCompletionCallback(fn CompletionFunc) {
	e.completionCB.Store(&fn)
}

func (e *Engine) SetAuxCompleteCallback(fn AuxCompleteFunc) {
	e.auxCompleteCB.Store(&fn)
}

// Start begins a new multi-file transfer and returns its id immediately;
// the transfer itself runs on a background goroutine.
func (e *Engine) Start(ctx context.Context, req models.DownloadRequest, destDir string) (string, error) {
	if len(req.Files) == 0 {
		return "", coreerr.New(coreerr.KindValidation, "download.Start", fmt.Errorf("no files in request"))
	}
	id := uuid.NewString()
	files := make([]models.DownloadFile, len(req.Files))
	copy(files, req.Files)

	st := &downloadState{
		req: req,
		progress: models.DownloadProgress{
			ID: id, RepoID: req.RepoID, DestDir: destDir,
			Status: models.DownloadQueued, Files: files,
			UpdatedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	for _, f := range files {
		st.progress.TotalBytes += f.ExpectedSize
	}

	e.mu.Lock()
	e.downloads[id] = st
	e.mu.Unlock()

	if err := e.persistAll(); err != nil {
		return "", err
	}

	go e.run(context.Background(), id, st)
	return id, nil
}

// Pause flips the paused flag; the active transfer observes it at the
// next chunk boundary and exits cleanly, leaving its .part file in place.
// Idempotent; returns false if id is unknown.
func (e *Engine) Pause(id string) bool {
	st, ok := e.get(id)
	if !ok {
		return false
	}
	st.paused.Store(true)
	return true
}

// Resume clears the paused flag and, if the download is not already
// running, restarts its goroutine from its persisted progress.
func (e *Engine) Resume(id string) bool {
	st, ok := e.get(id)
	if !ok {
		return false
	}
	st.mu.Lock()
	running := true
	select {
	case <-st.done:
		running = false
	default:
	}
	st.progress.Status = models.DownloadQueued
	st.mu.Unlock()
	st.paused.Store(false)
	if !running {
		st.done = make(chan struct{})
		go e.run(context.Background(), id, st)
	}
	return true
}

// Cancel flips the stronger cancel flag, which also deletes .part files
// once the active task exits. Idempotent; returns in bounded time.
func (e *Engine) Cancel(id string) bool {
	st, ok := e.get(id)
	if !ok {
		return false
	}
	st.cancelled.Store(true)
	return true
}

func (e *Engine) get(id string) (*downloadState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.downloads[id]
	return st, ok
}

// List returns a snapshot of every known download's progress.
func (e *Engine) List() []models.DownloadProgress {
	e.mu.Lock()
	ids := make([]*downloadState, 0, len(e.downloads))
	for _, st := range e.downloads {
		ids = append(ids, st)
	}
	e.mu.Unlock()

	out := make([]models.DownloadProgress, 0, len(ids))
	for _, st := range ids {
		out = append(out, st.snapshot())
	}
	return out
}

// Progress returns the current state of id, or (nil, false) if unknown.
func (e *Engine) Progress(id string) (*models.DownloadProgress, bool) {
	st, ok := e.get(id)
	if !ok {
		return nil, false
	}
	p := st.snapshot()
	return &p, true
}

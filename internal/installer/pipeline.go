// Package installer implements the §4.6 staged version-installation
// pipeline: a fixed, weighted sequence of stages driven per (app_id, tag),
// with only one installation running system-wide at a time.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pumas-ai/pumas-launcher/internal/download"
	"github.com/pumas-ai/pumas-launcher/internal/installer/constraints"
	"github.com/pumas-ai/pumas-launcher/internal/versionstate"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// StageProgress is one interim progress tick emitted by a stage's Run.
type StageProgress struct {
	Fraction float64
	Message  string
}

// Stage is one step of the fixed pipeline.
type Stage struct {
	Name   string
	Weight float64
	Run    func(ctx context.Context) (<-chan StageProgress, error)
}

// Request describes one install: the version directory to install into,
// the archive to fetch it from, and (for Python kind) the dependency
// manifest to resolve and install.
type Request struct {
	AppID            string
	Tag              string
	Kind             models.AppKind
	ArchiveURL       string
	RequirementsPath string // path to a requirements.txt on disk; empty makes the dependencies stage a no-op
	ReleaseDate      time.Time
}

func key(appID, tag string) string { return appID + "@" + tag }

// Pipeline runs §4.6 installs. Only one Stage pipeline executes at a time
// across the whole process (globalMu). A second concurrent request for the
// same (app_id, tag) is rejected immediately through the cancel map instead
// of queueing behind an unrelated install; tagLocks holds a per-tag mutex
// that an install keeps for its whole run.
type Pipeline struct {
	appsRootDir string
	engine      *download.Engine
	state       *versionstate.State
	resolver    *constraints.Resolver

	globalMu sync.Mutex

	mu       sync.Mutex
	tagLocks map[string]*sync.Mutex
	cancel   map[string]*cancelFlag
	last     map[string]*models.ProgressEvent
}

type cancelFlag struct {
	mu     sync.Mutex
	armed  bool
	cancel context.CancelFunc // cancels the context threaded into every stage.Run, killing any child process
}

// set arms the flag and, once the running stage has installed a
// context.CancelFunc, cancels that context too: stages spawn subprocesses
// via exec.CommandContext (runCapturing, runPip), so cancelling the
// context is what actually kills pip/venv children, not just the flag
// that downstream progress loops poll.
func (c *cancelFlag) set() {
	c.mu.Lock()
	c.armed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *cancelFlag) isSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

func (c *cancelFlag) attach(cancel context.CancelFunc) {
	c.mu.Lock()
	armed := c.armed
	c.cancel = cancel
	c.mu.Unlock()
	if armed {
		cancel()
	}
}

func New(appsRootDir string, engine *download.Engine, state *versionstate.State, resolver *constraints.Resolver) *Pipeline {
	return &Pipeline{
		appsRootDir: appsRootDir,
		engine:      engine,
		state:       state,
		resolver:    resolver,
		tagLocks:    map[string]*sync.Mutex{},
		cancel:      map[string]*cancelFlag{},
		last:        map[string]*models.ProgressEvent{},
	}
}

// TagLock returns the install lock for (appID, tag), creating it if needed.
// InstallVersion holds it for the duration of an install; the coordinator
// serializes its own mutations through its TagLocker instead.
func (p *Pipeline) TagLock(appID, tag string) *sync.Mutex {
	k := key(appID, tag)
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.tagLocks[k]
	if !ok {
		l = &sync.Mutex{}
		p.tagLocks[k] = l
	}
	return l
}

// InstallVersion starts an install of req, returning a channel of terminal
// and interim events. A second call for the same (app_id, tag) while one
// is already running is rejected immediately.
func (p *Pipeline) InstallVersion(ctx context.Context, req Request) (<-chan models.ProgressEvent, error) {
	k := key(req.AppID, req.Tag)

	p.mu.Lock()
	if cf, inflight := p.cancel[k]; inflight && cf != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("installer: %s is already installing", k)
	}
	cf := &cancelFlag{}
	p.cancel[k] = cf
	p.mu.Unlock()

	lock := p.TagLock(req.AppID, req.Tag)

	out := make(chan models.ProgressEvent, 8)
	go func() {
		defer close(out)
		lock.Lock()
		p.globalMu.Lock()
		stageCtx, cancel := context.WithCancel(ctx)
		cf.attach(cancel)
		defer func() {
			cancel()
			p.globalMu.Unlock()
			lock.Unlock()
			p.mu.Lock()
			delete(p.cancel, k)
			p.mu.Unlock()
			// Drain the cached terminal status shortly after completion
			// rather than immediately, so a racing status poll still sees it.
			go func() {
				time.Sleep(2 * time.Second)
				p.mu.Lock()
				delete(p.last, k)
				p.mu.Unlock()
			}()
		}()
		p.runInstall(stageCtx, req, cf, out)
	}()
	return out, nil
}

// CancelInstall arms the cancel flag for an in-flight install. It is a
// no-op if the tag is not currently installing.
func (p *Pipeline) CancelInstall(appID, tag string) bool {
	p.mu.Lock()
	cf, ok := p.cancel[key(appID, tag)]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cf.set()
	return true
}

// Progress returns the last observed event for (appID, tag), if any.
func (p *Pipeline) Progress(appID, tag string) (models.ProgressEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.last[key(appID, tag)]
	if !ok {
		return models.ProgressEvent{}, false
	}
	return *ev, true
}

func (p *Pipeline) record(appID, tag string, ev models.ProgressEvent) {
	p.mu.Lock()
	p.last[key(appID, tag)] = &ev
	p.mu.Unlock()
}

func (p *Pipeline) installingDir(appID, tag string) string {
	return filepath.Join(p.appsRootDir, appID, tag+".installing")
}

func (p *Pipeline) finalDir(appID, tag string) string {
	return filepath.Join(p.appsRootDir, appID, tag)
}

func (p *Pipeline) runInstall(ctx context.Context, req Request, cf *cancelFlag, out chan<- models.ProgressEvent) {
	emit := func(ev models.ProgressEvent) {
		p.record(req.AppID, req.Tag, ev)
		if ev.Kind == models.EventCompleted || ev.Kind == models.EventError {
			out <- ev // terminal events are never dropped
			return
		}
		select {
		case out <- ev:
		default:
		}
	}
	emit(models.ProgressEvent{Kind: models.EventQueued, Fraction: 0})

	installDir := p.installingDir(req.AppID, req.Tag)
	if err := os.MkdirAll(filepath.Dir(installDir), 0o755); err != nil {
		emit(models.ProgressEvent{Kind: models.EventError, Message: err.Error()})
		return
	}
	os.RemoveAll(installDir)

	stages := p.buildStages(req, installDir)
	totalWeight := 0.0
	for _, s := range stages {
		totalWeight += s.Weight
	}

	cleanup := func() { os.RemoveAll(installDir) }

	completed := 0.0
	for _, stage := range stages {
		if cf.isSet() {
			cleanup()
			emit(models.ProgressEvent{Kind: models.EventError, Message: "installation cancelled"})
			return
		}
		ch, err := stage.Run(ctx)
		if err != nil {
			cleanup()
			emit(models.ProgressEvent{Kind: models.EventError, Message: fmt.Sprintf("%s: %v", stage.Name, err)})
			return
		}
		stageFailed := false
		for sp := range ch {
			if cf.isSet() {
				stageFailed = true
				break
			}
			overall := clamp01((completed + sp.Fraction*stage.Weight) / totalWeight)
			emit(models.ProgressEvent{Kind: models.EventProgress, Fraction: overall, Message: fmt.Sprintf("%s: %s", stage.Name, sp.Message)})
		}
		if stageFailed || cf.isSet() {
			cleanup()
			emit(models.ProgressEvent{Kind: models.EventError, Message: "installation cancelled"})
			return
		}
		completed += stage.Weight
	}

	finalDir := p.finalDir(req.AppID, req.Tag)
	os.RemoveAll(finalDir)
	if err := os.Rename(installDir, finalDir); err != nil {
		cleanup()
		emit(models.ProgressEvent{Kind: models.EventError, Message: fmt.Sprintf("commit: %v", err)})
		return
	}

	if err := p.state.RecordInstalled(models.InstalledVersion{
		AppID:       req.AppID,
		Tag:         req.Tag,
		Kind:        req.Kind,
		InstalledAt: time.Now(),
		Dir:         finalDir,
	}); err != nil {
		emit(models.ProgressEvent{Kind: models.EventError, Message: fmt.Sprintf("record installed: %v", err)})
		return
	}

	emit(models.ProgressEvent{Kind: models.EventCompleted, Fraction: 1, Success: true})
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

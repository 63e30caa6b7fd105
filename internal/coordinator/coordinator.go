// Package coordinator implements the Coordinator façade (C12, §4.9): it
// owns every other component via constructor injection (no globals),
// wires the channels between them, and exposes the gin+chi diagnostics
// surface cmd/pumasd and any future UI talk to.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	chicors "github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pumas-ai/pumas-launcher/internal/config"
	"github.com/pumas-ai/pumas-launcher/internal/convert"
	"github.com/pumas-ai/pumas-launcher/internal/download"
	"github.com/pumas-ai/pumas-launcher/internal/hub"
	"github.com/pumas-ai/pumas-launcher/internal/installer"
	"github.com/pumas-ai/pumas-launcher/internal/installer/constraints"
	"github.com/pumas-ai/pumas-launcher/internal/linkregistry"
	"github.com/pumas-ai/pumas-launcher/internal/logging"
	"github.com/pumas-ai/pumas-launcher/internal/netexec"
	"github.com/pumas-ai/pumas-launcher/internal/resources"
	"github.com/pumas-ai/pumas-launcher/internal/searchindex"
	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/internal/supervisor"
	"github.com/pumas-ai/pumas-launcher/internal/versionstate"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Coordinator is the C12 façade. All fields are private; callers reach
// the subsystems only through Coordinator's methods or the diagnostics
// HTTP surface, per §9's "no globals, only constructor injection" rule.
type Coordinator struct {
	cfg    *config.Config
	logger *zap.Logger

	executor   *netexec.Executor
	hub        *hub.Client
	store      *store.Store
	index      *searchindex.Index
	links      *linkregistry.Registry
	downloads  *download.Engine
	installer  *installer.Pipeline
	supervisor *supervisor.Supervisor
	resources  *resources.Attributor
	convert    *convert.Orchestrator

	tagLocks   TagLocker
	modelLocks TagLocker // keyed by (modelID, "") — reuses the same primitive for §4.9's model-directory serialization
}

// New wires every component from cfg. It performs no I/O beyond opening
// the SQLite databases and the token/cache files already implied by cfg;
// network probing and the startup fan-out happen in Start.
func New(cfg *config.Config) (*Coordinator, error) {
	logger := logging.Setup(cfg.LogFormat)

	if err := os.MkdirAll(cfg.LauncherData, 0o755); err != nil {
		return nil, fmt.Errorf("coordinator: prepare launcher data dir: %w", err)
	}

	executor := netexec.New(netexec.Config{RecheckWindow: cfg.ConnectRecheck})

	index, err := searchindex.Open(filepath.Join(cfg.LauncherData, "search-index.db"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: open search index: %w", err)
	}

	st := store.New(cfg.LibraryRoot, index)

	links, err := linkregistry.Open(filepath.Join(cfg.LauncherData, "links.json"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: open link registry: %w", err)
	}

	hubCache, err := hub.OpenCache(filepath.Join(cfg.LauncherData, "hub-cache.db"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: open hub cache: %w", err)
	}
	tokens := hub.NewTokenStore(cfg.HubTokenFile)
	hubClient := hub.New(executor, hubCache, tokens)
	executor.RegisterSource(hubClient)

	pypi := constraints.NewPyPIClient(executor)
	resolver := constraints.NewResolver(pypi, filepath.Join(cfg.LauncherData, "pypi-cache.json"))

	downloads := download.New(executor, "huggingface.co", filepath.Join(cfg.LauncherData, "downloads.json"))

	appsRoot := filepath.Join(cfg.Root, "apps")
	state := versionstate.New(appsRoot, filepath.Join(cfg.LauncherData, "version-state.json"), versionstate.DefaultProber())
	pipeline := installer.New(appsRoot, downloads, state, resolver)

	sup := supervisor.New(appsRoot, filepath.Join(cfg.LauncherData, "logs"))
	attributor := resources.New()

	conv := convert.New(st, filepath.Join(cfg.LauncherData, "convert-scratch"))

	c := &Coordinator{
		cfg:        cfg,
		logger:     logger,
		executor:   executor,
		hub:        hubClient,
		store:      st,
		index:      index,
		links:      links,
		downloads:  downloads,
		installer:  pipeline,
		supervisor: sup,
		resources:  attributor,
		convert:    conv,
		tagLocks:   newTagLocker(cfg.ClusterCacheAddr),
		modelLocks: newTagLocker(cfg.ClusterCacheAddr),
	}

	downloads.SetCompletionCallback(c.onDownloadComplete)
	downloads.SetAuxCompleteCallback(c.onAuxComplete)

	return c, nil
}

// Start runs the §4.9 startup fan-out — restoring persisted downloads,
// scanning for orphaned model directories, and scanning for incomplete
// shard groups — concurrently, and returns once all three finish or one
// fails.
func (c *Coordinator) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.downloads.RestorePersistedDownloads(gctx); err != nil {
			return fmt.Errorf("restore downloads: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		orphans, err := c.store.ScanOrphans()
		if err != nil {
			return fmt.Errorf("scan orphans: %w", err)
		}
		c.logger.Info("orphan scan complete", zap.Int("count", len(orphans)))
		return nil
	})

	g.Go(func() error {
		return c.resumeIncompleteShards(gctx)
	})

	return g.Wait()
}

// resumeIncompleteShards walks the index for records whose files on disk
// form an incomplete ShardGroup and logs each such group, then the total
// count; it starts no download for the missing members. The teacher's equivalent fan-out (sched.go's pending
// queue replay) has no per-item error propagation either: one stuck
// shard group is logged and skipped rather than aborting the others.
func (c *Coordinator) resumeIncompleteShards(ctx context.Context) error {
	res, err := c.index.Search(ctx, "", "", "", 10000, 0)
	if err != nil {
		return fmt.Errorf("list models for shard resume: %w", err)
	}
	resumed := 0
	for _, rec := range res.Rows {
		files, err := store.ListFiles(rec.Path)
		if err != nil {
			continue
		}
		for _, grp := range store.GroupShards(files) {
			if grp.Complete {
				continue
			}
			c.logger.Warn("incomplete shard group found at startup",
				zap.String("model_id", rec.ModelID), zap.String("base", grp.Base))
			resumed++
		}
	}
	if resumed > 0 {
		c.logger.Info("shard resume scan complete", zap.Int("incomplete_groups", resumed))
	}
	return nil
}

// onDownloadComplete imports a fully-downloaded model into the store:
// rebuild metadata from the files actually on disk, re-resolve its
// model type, and upsert it into the search index. destDir is expected
// to sit at libraryRoot/<type>/<family>/<cleanedName>, the layout every
// caller of download.Engine.Start uses for a model download (store.ModelDir
// builds the same path). Runs under the model's lock so a concurrent
// delete can't race the import; errors are logged rather than returned
// since CompletionFunc has no error channel back to the download engine.
func (c *Coordinator) onDownloadComplete(destDir string, filenames []string, knownSHA256 *string) {
	ctx := context.Background()
	modelType, family, cleanedName, err := modelCoordsFromDir(c.store.Root(), destDir)
	if err != nil {
		c.logger.Warn("download completed outside the model library layout, skipping import", zap.String("dir", destDir), zap.Error(err))
		return
	}

	unlock, err := c.modelLocks.Lock(ctx, store.ModelID(modelType, family, cleanedName), "")
	if err != nil {
		c.logger.Error("lock model for import", zap.String("dir", destDir), zap.Error(err))
		return
	}
	defer unlock()

	os.Remove(store.MetadataPath(destDir))

	files, err := store.ListFiles(destDir)
	if err != nil {
		c.logger.Error("list downloaded files", zap.String("dir", destDir), zap.Error(err))
		return
	}
	res, err := store.ResolveModelType(ctx, c.index, destDir, nil)
	if err != nil {
		c.logger.Warn("model type resolution failed, keeping requested type", zap.String("dir", destDir), zap.Error(err))
	}
	resolvedType := modelType
	if res.Type != "" && res.Type != models.Unknown {
		resolvedType = res.Type
	}

	rec := &models.ModelRecord{
		ModelID:      store.ModelID(resolvedType, family, cleanedName),
		Family:       family,
		ModelType:    resolvedType,
		OfficialName: cleanedName,
		CleanedName:  cleanedName,
		Files:        files,
		Path:         destDir,
	}
	if knownSHA256 != nil && len(files) == 1 {
		rec.Hashes.SHA256 = *knownSHA256
	}
	if err := store.WriteMetadataAtomic(destDir, rec); err != nil {
		c.logger.Error("write imported metadata", zap.String("dir", destDir), zap.Error(err))
		return
	}
	if err := c.index.Upsert(ctx, rec); err != nil {
		c.logger.Error("upsert imported model into search index", zap.String("model_id", rec.ModelID), zap.Error(err))
	}
}

// onAuxComplete writes a stub metadata.json into a download's destination
// dir when the engine reports that the download's auxiliary files are
// done and its weight files are still to come.
func (c *Coordinator) onAuxComplete(id string) {
	prog, ok := c.downloads.Progress(id)
	if !ok {
		return
	}
	if err := store.WriteFileAtomic(store.MetadataPath(prog.DestDir), []byte(`{"kind":"aux"}`)); err != nil {
		c.logger.Warn("write aux stub metadata", zap.String("dir", prog.DestDir), zap.Error(err))
	}
}

// modelCoordsFromDir recovers (modelType, family, cleanedName) from a
// directory path built by store.Store.ModelDir.
func modelCoordsFromDir(libraryRoot, dir string) (models.ModelType, string, string, error) {
	rel, err := filepath.Rel(libraryRoot, dir)
	if err != nil {
		return "", "", "", err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("coordinator: %q is not a depth-3 model directory", dir)
	}
	return models.ModelType(parts[0]), parts[1], parts[2], nil
}

// InstallVersion serializes on (appID, tag) via TagLocker, per §4.9,
// before handing off to the installer pipeline; the lock is held only
// long enough to enqueue, since the pipeline itself enforces the single
// concurrent install and per-tag duplicate-rejection rules.
func (c *Coordinator) InstallVersion(ctx context.Context, req installer.Request) (<-chan models.ProgressEvent, error) {
	unlock, err := c.tagLocks.Lock(ctx, req.AppID, req.Tag)
	if err != nil {
		return nil, fmt.Errorf("lock %s@%s for install: %w", req.AppID, req.Tag, err)
	}
	defer unlock()
	return c.installer.InstallVersion(ctx, req)
}

// LaunchApp serializes on (appID, tag) so a launch can't race an
// in-flight install or stop of the same version.
func (c *Coordinator) LaunchApp(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.LaunchResult, error) {
	unlock, err := c.tagLocks.Lock(ctx, spec.AppID, spec.Tag)
	if err != nil {
		return supervisor.LaunchResult{}, fmt.Errorf("lock %s@%s for launch: %w", spec.AppID, spec.Tag, err)
	}
	defer unlock()
	return c.supervisor.Launch(ctx, spec)
}

// StopApp mirrors LaunchApp's locking for the stop path.
func (c *Coordinator) StopApp(ctx context.Context, appID, tag string, timeout time.Duration) error {
	unlock, err := c.tagLocks.Lock(ctx, appID, tag)
	if err != nil {
		return fmt.Errorf("lock %s@%s for stop: %w", appID, tag, err)
	}
	defer unlock()
	return c.supervisor.Stop(ctx, appID, tag, timeout)
}

// DeleteModel cascades a model removal through every component that
// references it: the search index, every link pointing at it (and their
// on-disk symlinks/junctions, best-effort), and finally the content
// store directory itself.
func (c *Coordinator) DeleteModel(ctx context.Context, modelID string) error {
	unlock, err := c.modelLocks.Lock(ctx, modelID, "")
	if err != nil {
		return fmt.Errorf("lock model for delete: %w", err)
	}
	defer unlock()

	rec, err := c.index.Get(ctx, modelID)
	if err != nil {
		return fmt.Errorf("look up model: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("coordinator: model %q not found", modelID)
	}

	if err := c.index.Delete(ctx, modelID); err != nil {
		return fmt.Errorf("remove from search index: %w", err)
	}

	entries, err := c.links.RemoveAllForModel(modelID)
	if err != nil {
		c.logger.Warn("link registry cleanup failed", zap.String("model_id", modelID), zap.Error(err))
	}
	for _, e := range entries {
		if err := os.Remove(e.TargetInApp); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove app-side link", zap.String("target", e.TargetInApp), zap.Error(err))
		}
	}

	if err := c.store.RemoveModelDir(rec.Path); err != nil {
		return fmt.Errorf("remove model directory: %w", err)
	}
	return nil
}

// Shutdown stops every launched app and releases subsystem resources.
// It is best-effort: failures are logged, not returned, so one stuck
// process doesn't block the rest of shutdown.
func (c *Coordinator) Shutdown(ctx context.Context, timeout time.Duration) {
	if err := c.supervisor.StopAll(ctx, timeout); err != nil {
		c.logger.Warn("stop all apps during shutdown", zap.Error(err))
	}
	if err := c.index.Close(); err != nil {
		c.logger.Warn("close search index", zap.Error(err))
	}
}

// SearchHub proxies a remote catalog search through the hub client; the
// `pumasd models search` command calls it.
func (c *Coordinator) SearchHub(ctx context.Context, query, kindFilter string, limit, offset int) ([]hub.RemoteModel, error) {
	return c.hub.Search(ctx, query, kindFilter, limit, offset)
}

// SearchModels queries the local content store's search index.
func (c *Coordinator) SearchModels(ctx context.Context, query, typeFilter, tagFilter string, limit, offset int) (*searchindex.SearchResult, error) {
	return c.index.Search(ctx, query, typeFilter, tagFilter, limit, offset)
}

// PullModel resolves a hub repo's downloadable shard set and starts a
// transfer for every shard into the store's depth-3 layout for the
// resolved model type, returning the download ids so the caller (the
// `pull` CLI command) can poll each one's progress.
func (c *Coordinator) PullModel(ctx context.Context, repoID string, modelType models.ModelType, family, cleanedName string) ([]string, error) {
	shards, err := c.hub.DownloadableFileSet(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("resolve downloadable files for %s: %w", repoID, err)
	}
	destDir := c.store.ModelDir(modelType, family, cleanedName)
	var ids []string
	for _, grp := range shards {
		files := make([]models.DownloadFile, 0, len(grp.Filenames))
		for _, name := range grp.Filenames {
			files = append(files, models.DownloadFile{RemotePath: name, LocalPath: name})
		}
		id, err := c.downloads.Start(ctx, models.DownloadRequest{RepoID: repoID, Files: files}, destDir)
		if err != nil {
			return ids, fmt.Errorf("start download for %s: %w", grp.Base, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ConvertModel runs the conversion orchestrator and blocks until it
// finishes, returning the final terminal event.
func (c *Coordinator) ConvertModel(ctx context.Context, req convert.Request) (models.ProgressEvent, error) {
	events, err := c.convert.Run(ctx, req)
	if err != nil {
		return models.ProgressEvent{}, err
	}
	var last models.ProgressEvent
	for ev := range events {
		last = ev
	}
	if last.Kind == models.EventError {
		return last, fmt.Errorf("conversion failed: %s", last.Message)
	}
	return last, nil
}

// DownloadProgress reports the current state of one download by id, for
// CLI polling loops.
func (c *Coordinator) DownloadProgress(id string) (*models.DownloadProgress, bool) {
	return c.downloads.Progress(id)
}

// ScanProcesses proxies the process supervisor's table scan.
func (c *Coordinator) ScanProcesses(ctx context.Context) ([]models.ProcessInfo, error) {
	return c.supervisor.ScanProcesses(ctx)
}

// DiagnosticsServer builds the read-only diagnostics HTTP surface: a gin
// router for the JSON status endpoints that cmd/pumasd's `serve` hosts
// (`ps` calls ScanProcesses directly instead), mounted under a chi router so CORS and other cross-cutting middleware
// can be layered the way the teacher layers chi middleware around gin's
// own handler in server/routes.go.
func (c *Coordinator) DiagnosticsServer() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.executor.Status())
	})
	g.GET("/processes", func(ctx *gin.Context) {
		procs, err := c.supervisor.ScanProcesses(ctx.Request.Context())
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, procs)
	})
	g.GET("/downloads", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.downloads.List())
	})

	r := chi.NewRouter()
	r.Use(chicors.Handler(chicors.Options{AllowedOrigins: []string{"http://localhost:*"}}))
	r.Mount("/api/v1", g)
	return r
}

package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/internal/config"
	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/internal/supervisor"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func supervisorLaunchSpec(dir string) supervisor.LaunchSpec {
	return supervisor.LaunchSpec{AppID: "comfy", Tag: "v1.0", Kind: models.AppKindBinary, Dir: dir}
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Root:           root,
		LibraryRoot:    filepath.Join(root, "shared-resources", "models"),
		LauncherData:   filepath.Join(root, "launcher-data"),
		LogFormat:      "text",
		HubTokenFile:   filepath.Join(root, "launcher-data", "hub-token"),
		ConnectRecheck: 30 * time.Second,
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.index.Close() })
	return c
}

func TestNewWiresEveryComponent(t *testing.T) {
	c := newTestCoordinator(t)
	require.NotNil(t, c.executor)
	require.NotNil(t, c.hub)
	require.NotNil(t, c.store)
	require.NotNil(t, c.index)
	require.NotNil(t, c.links)
	require.NotNil(t, c.downloads)
	require.NotNil(t, c.installer)
	require.NotNil(t, c.supervisor)
	require.NotNil(t, c.resources)
	require.NotNil(t, c.convert)
	require.NotNil(t, c.tagLocks)
	require.NotNil(t, c.modelLocks)
}

func TestStartFanOutCompletesWithNothingToDo(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.Start(context.Background())
	require.NoError(t, err)
}

func TestModelCoordsFromDirRoundTrips(t *testing.T) {
	root := "/library"
	dir := filepath.Join(root, "llm", "acme", "widget")
	typ, family, name, err := modelCoordsFromDir(root, dir)
	require.NoError(t, err)
	require.Equal(t, models.ModelType("llm"), typ)
	require.Equal(t, "acme", family)
	require.Equal(t, "widget", name)
}

func TestModelCoordsFromDirRejectsShallowPath(t *testing.T) {
	_, _, _, err := modelCoordsFromDir("/library", filepath.Join("/library", "llm"))
	require.Error(t, err)
}

func TestOnDownloadCompleteImportsAndIndexesModel(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	destDir := c.store.ModelDir(models.ModelType("llm"), "acme", "widget")
	require.NoError(t, os.MkdirAll(destDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "weights.bin"), []byte("x"), 0o644))

	c.onDownloadComplete(destDir, []string{"weights.bin"}, nil)

	_, err := os.Stat(store.MetadataPath(destDir))
	require.NoError(t, err)

	rec, err := c.index.Get(ctx, store.ModelID(models.ModelType("llm"), "acme", "widget"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "widget", rec.CleanedName)
}

func TestOnDownloadCompleteSkipsDirOutsideLibraryLayout(t *testing.T) {
	c := newTestCoordinator(t)
	shallow := filepath.Join(c.store.Root(), "not-depth-three")
	require.NoError(t, os.MkdirAll(shallow, 0o755))

	// Must not panic and must not write a metadata.json for a malformed layout.
	c.onDownloadComplete(shallow, nil, nil)
	_, err := os.Stat(store.MetadataPath(shallow))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteModelCascadesThroughIndexLinksAndStore(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	destDir := c.store.ModelDir(models.ModelType("llm"), "acme", "widget")
	require.NoError(t, os.MkdirAll(destDir, 0o755))
	modelID := store.ModelID(models.ModelType("llm"), "acme", "widget")
	require.NoError(t, c.index.Upsert(ctx, &models.ModelRecord{
		ModelID: modelID, ModelType: models.ModelType("llm"), Family: "acme", CleanedName: "widget", Path: destDir,
	}))

	linkTarget := filepath.Join(t.TempDir(), "linked-model.bin")
	require.NoError(t, os.WriteFile(linkTarget, []byte("x"), 0o644))
	require.NoError(t, c.links.Register(models.LinkEntry{
		ModelID: modelID, TargetInApp: linkTarget, AppID: "comfy", CreatedAt: time.Now(),
	}))

	require.NoError(t, c.DeleteModel(ctx, modelID))

	rec, err := c.index.Get(ctx, modelID)
	require.NoError(t, err)
	require.Nil(t, rec)

	_, err = os.Stat(destDir)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(linkTarget)
	require.True(t, os.IsNotExist(err))
}

func TestDeleteModelUnknownIDFails(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.DeleteModel(context.Background(), "llm/nobody/nothing")
	require.Error(t, err)
}

func TestLaunchAndStopAppSerializeThroughTagLocker(t *testing.T) {
	c := newTestCoordinator(t)
	appDir := filepath.Join(c.cfg.Root, "apps", "comfy", "v1.0")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "app"), []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.LaunchApp(ctx, supervisorLaunchSpec(appDir))
	require.NoError(t, err)
	require.True(t, res.Ready)

	require.NoError(t, c.StopApp(ctx, "comfy", "v1.0", 2*time.Second))
}

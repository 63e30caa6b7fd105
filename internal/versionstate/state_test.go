package versionstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func installBinary(t *testing.T, root, appID, tag string) models.InstalledVersion {
	t.Helper()
	dir := filepath.Join(root, appID, tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app"), []byte("#!/bin/sh\n"), 0o755))
	return models.InstalledVersion{AppID: appID, Tag: tag, Kind: models.AppKindBinary, Dir: dir, InstalledAt: time.Now()}
}

func TestActiveSelectionPolicyOrder(t *testing.T) {
	root := t.TempDir()
	s := New(root, filepath.Join(root, "state.json"), DefaultProber())

	v1 := installBinary(t, root, "comfy", "v1.0")
	v2 := installBinary(t, root, "comfy", "v2.0")
	require.NoError(t, s.RecordInstalled(v1))
	require.NoError(t, s.RecordInstalled(v2))

	// No active-version, no default, no last-selected: lexicographically greatest.
	tag, ok := s.ActiveTag("comfy")
	require.True(t, ok)
	require.Equal(t, "v2.0", tag)

	// A configured default wins over the lexicographic fallback.
	require.NoError(t, s.SetDefault("comfy", "v1.0"))
	tag, ok = s.ActiveTag("comfy")
	require.True(t, ok)
	require.Equal(t, "v1.0", tag)

	// An explicit SetActive (.active-version) wins over the default.
	require.NoError(t, s.SetActive("comfy", "v2.0"))
	tag, ok = s.ActiveTag("comfy")
	require.True(t, ok)
	require.Equal(t, "v2.0", tag)
}

func TestValidateInstallationsRemovesMissingAndReportsOrphans(t *testing.T) {
	root := t.TempDir()
	s := New(root, filepath.Join(root, "state.json"), DefaultProber())

	present := installBinary(t, root, "comfy", "v1.0")
	require.NoError(t, s.RecordInstalled(present))

	missing := models.InstalledVersion{AppID: "comfy", Tag: "v0.9", Kind: models.AppKindBinary, Dir: filepath.Join(root, "comfy", "v0.9")}
	require.NoError(t, s.RecordInstalled(missing))

	// An on-disk directory with no metadata entry at all: orphaned.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "comfy", "v3.0"), 0o755))

	result, err := s.ValidateInstallations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ValidCount)
	require.Len(t, result.Removed, 1)
	require.Equal(t, "v0.9", result.Removed[0].Tag)
	require.Contains(t, result.Orphaned, "comfy/v3.0")

	require.False(t, s.IsInstalled("comfy", "v0.9"))
	require.True(t, s.IsInstalled("comfy", "v1.0"))
}

func TestLoadReconcilesPersistedMetadata(t *testing.T) {
	root := t.TempDir()
	metaPath := filepath.Join(root, "state.json")

	s1 := New(root, metaPath, DefaultProber())
	v := installBinary(t, root, "comfy", "v1.0")
	require.NoError(t, s1.RecordInstalled(v))
	require.NoError(t, s1.SetActive("comfy", "v1.0"))

	s2 := New(root, metaPath, DefaultProber())
	require.NoError(t, s2.Load())
	tag, ok := s2.ActiveTag("comfy")
	require.True(t, ok)
	require.Equal(t, "v1.0", tag)
}

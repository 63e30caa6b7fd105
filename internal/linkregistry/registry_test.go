package linkregistry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func TestRegisterAndCascadeDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	reg, err := Open(path)
	require.NoError(t, err)

	entry := models.LinkEntry{
		ModelID: "llm/a/b", SourceInStore: "/lib/llm/a/b/weights.gguf",
		TargetInApp: "/apps/comfy/models/checkpoints/b.gguf", Kind: models.LinkSymlink,
		AppID: "comfy", CreatedAt: time.Now(),
	}
	require.NoError(t, reg.Register(entry))
	require.Len(t, reg.GetLinksForModel("llm/a/b"), 1)

	// Reopen from disk to confirm persistence.
	reg2, err := Open(path)
	require.NoError(t, err)
	require.Len(t, reg2.GetLinksForModel("llm/a/b"), 1)

	removed, err := reg2.RemoveAllForModel("llm/a/b")
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Empty(t, reg2.GetLinksForModel("llm/a/b"))

	// Idempotent: removing again yields no entries, no error.
	removed2, err := reg2.RemoveAllForModel("llm/a/b")
	require.NoError(t, err)
	require.Empty(t, removed2)
}

func TestCleanupBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	reg, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, reg.Register(models.LinkEntry{
		ModelID: "llm/a/b", SourceInStore: "/missing", TargetInApp: "/t1", Kind: models.LinkHardlink, AppID: "app",
	}))
	require.NoError(t, reg.Register(models.LinkEntry{
		ModelID: "llm/a/c", SourceInStore: "/present", TargetInApp: "/t2", Kind: models.LinkHardlink, AppID: "app",
	}))

	n, err := reg.CleanupBroken(func(p string) bool { return p == "/present" })
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, reg.GetLinksForModel("llm/a/b"))
	require.Len(t, reg.GetLinksForModel("llm/a/c"), 1)
}

package convert

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

type fakeRules struct{}

func (fakeRules) ArchitectureRules(ctx context.Context) ([]store.ArchitectureRule, error) {
	return nil, nil
}
func (fakeRules) ConfigModelTypeRules(ctx context.Context) ([]store.ConfigRule, error) {
	return nil, nil
}

// fakeConverterScript writes a tiny shell script that prints a couple of
// percentage status lines then copies an arbitrary file into its output
// directory, standing in for a real conversion tool.
func fakeConverterScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fake converter is POSIX-only")
	}
	path := filepath.Join(t.TempDir(), "fake-convert.sh")
	script := "#!/bin/sh\necho 'converting... 50%'\necho 'converting... 100%'\necho 'weights' > \"$2/weights.bin\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunConvertsAndCommitsIntoStore(t *testing.T) {
	converter := fakeConverterScript(t)
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "model.safetensors"), []byte("x"), 0o644))

	root := t.TempDir()
	s := store.New(filepath.Join(root, "library"), fakeRules{})
	o := New(s, filepath.Join(root, "scratch"))

	events, err := o.Run(context.Background(), Request{
		SourceDir:     srcDir,
		ConverterPath: converter,
		ModelType:     models.ModelType("llm"),
		Family:        "acme",
		CleanedName:   "widget",
		RepoID:        "acme/widget",
	})
	require.NoError(t, err)

	var last models.ProgressEvent
	for ev := range events {
		last = ev
	}
	require.Equal(t, models.EventCompleted, last.Kind)

	dest := s.ModelDir(models.ModelType("llm"), "acme", "widget")
	_, err = os.Stat(filepath.Join(dest, "weights.bin"))
	require.NoError(t, err)
	_, err = os.Stat(store.MetadataPath(dest))
	require.NoError(t, err)
}

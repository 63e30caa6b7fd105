package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

type fakeRules struct {
	arch []ArchitectureRule
	cfg  []ConfigRule
}

func (f fakeRules) ArchitectureRules(ctx context.Context) ([]ArchitectureRule, error) { return f.arch, nil }
func (f fakeRules) ConfigModelTypeRules(ctx context.Context) ([]ConfigRule, error)    { return f.cfg, nil }

func writeConfig(t *testing.T, dir string, cfg any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644))
}

// S5 — hard conflict between architecture and config-declared model_type.
func TestResolveModelTypeHardConflict(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]any{
		"architectures": []string{"UNet2DConditionModel"},
		"model_type":    "llama",
	})
	rules := fakeRules{
		arch: []ArchitectureRule{{Pattern: "UNet2DConditionModel", Style: MatchExact, Priority: 1, Type: "diffusion"}},
		cfg:  []ConfigRule{{ModelType: "llama", Type: "llm"}},
	}
	res, err := ResolveModelType(context.Background(), rules, dir, nil)
	require.NoError(t, err)
	require.Equal(t, models.Unknown, res.Type)
	require.Equal(t, "hard-conflict", res.Source)
	require.Equal(t, 0.0, res.Confidence)
	require.Contains(t, res.ReviewReasons, "model-type-conflict")
}

func TestResolveModelTypeUnresolved(t *testing.T) {
	dir := t.TempDir()
	res, err := ResolveModelType(context.Background(), fakeRules{}, dir, nil)
	require.NoError(t, err)
	require.Equal(t, models.Unknown, res.Type)
	require.Equal(t, "unresolved", res.Source)
}

func TestResolveModelTypeConfidentSingleSignal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]any{"model_type": "llama"})
	rules := fakeRules{cfg: []ConfigRule{{ModelType: "llama", Type: "llm"}}}
	res, err := ResolveModelType(context.Background(), rules, dir, nil)
	require.NoError(t, err)
	require.Equal(t, models.ModelType("llm"), res.Type)
	require.InDelta(t, 0.70, res.Confidence, 1e-9)
	require.True(t, res.NeedsReview)
}

func TestResolveModelTypeTwoAgreeingHardSignals(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]any{
		"architectures": []string{"LlamaForCausalLM"},
		"model_type":    "llama",
	})
	rules := fakeRules{
		arch: []ArchitectureRule{{Pattern: "LlamaForCausalLM", Style: MatchExact, Priority: 1, Type: "llm"}},
		cfg:  []ConfigRule{{ModelType: "llama", Type: "llm"}},
	}
	res, err := ResolveModelType(context.Background(), rules, dir, nil)
	require.NoError(t, err)
	require.Equal(t, models.ModelType("llm"), res.Type)
	require.InDelta(t, 0.90, res.Confidence, 1e-9)
	require.False(t, res.NeedsReview)
}

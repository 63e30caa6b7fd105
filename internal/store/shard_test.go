package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func files(names ...string) []models.FileRecord {
	out := make([]models.FileRecord, len(names))
	for i, n := range names {
		out[i] = models.FileRecord{Name: n, Size: 1024}
	}
	return out
}

func TestGroupShardsOfPattern(t *testing.T) {
	in := files(
		"w-00001-of-00003.safetensors",
		"w-00002-of-00003.safetensors",
		"w-00003-of-00003.safetensors",
		"config.json",
	)
	groups := GroupShards(in)
	require.Len(t, groups, 2)

	var shard, solo *models.ShardGroup
	for i := range groups {
		if groups[i].ShardCount == 3 {
			shard = &groups[i]
		} else {
			solo = &groups[i]
		}
	}
	require.NotNil(t, shard)
	require.NotNil(t, solo)
	require.True(t, shard.Complete)
	require.Equal(t, "config.json", solo.Base)
}

func TestGroupShardsIncomplete(t *testing.T) {
	in := files("w-00001-of-00003.safetensors", "w-00002-of-00003.safetensors")
	groups := GroupShards(in)
	require.Len(t, groups, 1)
	require.False(t, groups[0].Complete)
}

func TestGroupShardsSingletonDemoted(t *testing.T) {
	in := files("w-00001-of-00001.safetensors")
	groups := GroupShards(in)
	require.Len(t, groups, 1)
	require.Equal(t, 1, groups[0].ShardCount)
}

func TestGroupShardsUnderscorePatternNoDeclaredTotal(t *testing.T) {
	in := files("weights_00001.bin", "weights_00002.bin")
	groups := GroupShards(in)
	require.Len(t, groups, 1)
	require.True(t, groups[0].Complete)
}

func TestGroupShardsIdempotent(t *testing.T) {
	in := files(
		"w-00001-of-00002.safetensors",
		"w-00002-of-00002.safetensors",
		"README.md",
	)
	first := GroupShards(in)

	var reinput []models.FileRecord
	for _, g := range first {
		for _, name := range g.Filenames {
			reinput = append(reinput, models.FileRecord{Name: name, Size: 1024})
		}
	}
	second := GroupShards(reinput)
	require.Equal(t, len(first), len(second))
	firstBases := map[string]int{}
	for _, g := range first {
		firstBases[g.Base] = g.ShardCount
	}
	for _, g := range second {
		require.Equal(t, firstBases[g.Base], g.ShardCount)
	}
}

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersExpectedSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "pull", "install", "ps", "stop", "models"} {
		require.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestModelsCommandRegistersSubcommands(t *testing.T) {
	models := newModelsCmd()
	names := map[string]bool{}
	for _, c := range models.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["list"])
	require.True(t, names["rm"])
	require.True(t, names["search"])
}

func TestBarWidthIsWithinSaneBounds(t *testing.T) {
	w := barWidth()
	require.GreaterOrEqual(t, w, 10)
	require.LessOrEqual(t, w, 80)
}

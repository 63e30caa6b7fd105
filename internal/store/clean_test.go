package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"Llama 3.1 8B Instruct": "llama-3-1-8b-instruct",
		"  leading/trailing  ":  "leading-trailing",
		"already-clean":         "already-clean",
		"UPPER__CASE":           "upper-case",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanName(in), "input=%q", in)
	}
}

func TestModelIDRoundTrip(t *testing.T) {
	id := ModelID("llm", "meta-llama", "llama-3-1-8b")
	mt, family, name, err := SplitModelID(id)
	require.NoError(t, err)
	require.Equal(t, "llm", string(mt))
	require.Equal(t, "meta-llama", family)
	require.Equal(t, "llama-3-1-8b", name)
}

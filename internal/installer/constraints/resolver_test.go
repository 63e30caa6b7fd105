package constraints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/internal/netexec"
)

func TestParseVersionAndCompare(t *testing.T) {
	a, err := ParseVersion("2.1.0rc1")
	require.NoError(t, err)
	require.Equal(t, Version{2, 1, 0}, a)

	b, err := ParseVersion("2.1")
	require.NoError(t, err)
	require.Equal(t, 0, Compare(a, b))

	c, err := ParseVersion("2.2.0")
	require.NoError(t, err)
	require.Equal(t, -1, Compare(a, c))
}

func TestSatisfiesOperators(t *testing.T) {
	v, _ := ParseVersion("2.5.0")
	specs, err := ParseSpecifiers(">=2.0,<3.0")
	require.NoError(t, err)
	require.True(t, Satisfies(v, specs))

	specs2, err := ParseSpecifiers("~=2.1")
	require.NoError(t, err)
	require.True(t, Satisfies(v, specs2))

	outOfRange, _ := ParseVersion("3.0.0")
	require.False(t, Satisfies(outOfRange, specs2))
}

func TestParseRequirementsTxt(t *testing.T) {
	data := []byte("# comment\ntorch>=2.0,<3.0\nnumpy==1.26.0\n\n-r other.txt\nrequests ; python_version >= \"3.8\"\n")
	reqs, err := ParseRequirementsTxt(data)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	require.Equal(t, "torch", reqs[0].Name)
	require.Equal(t, "", reqs[0].Pinned)
	require.Equal(t, "numpy", reqs[1].Name)
	require.Equal(t, "1.26.0", reqs[1].Pinned)
	require.Equal(t, "requests", reqs[2].Name)
	require.Nil(t, reqs[2].Specifiers)
}

func newTestPyPIServer(t *testing.T, files []simpleFile) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(simpleIndexResponse{Files: files})
	}))
}

func TestResolvePicksHighestVersionBeforeReleaseDate(t *testing.T) {
	srv := newTestPyPIServer(t, []simpleFile{
		{Filename: "acme-1.0.0.tar.gz", UploadTime: "2024-01-01T00:00:00Z"},
		{Filename: "acme-1.5.0.tar.gz", UploadTime: "2024-06-01T00:00:00Z"},
		{Filename: "acme-2.0.0.tar.gz", UploadTime: "2024-12-01T00:00:00Z"},
	})
	defer srv.Close()

	exec := netexec.New(netexec.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	client := &PyPIClient{executor: exec, baseURL: srv.URL, http: http.DefaultClient}
	resolver := NewResolver(client, filepath.Join(t.TempDir(), "pypi-cache.json"))

	releaseDate := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	reqs, err := ParseRequirementsTxt([]byte("acme>=1.0.0\n"))
	require.NoError(t, err)

	resolved, err := resolver.Resolve(context.Background(), "v1.0", reqs, releaseDate)
	require.NoError(t, err)
	require.Equal(t, "1.5.0", resolved["acme"])
}

func TestResolveCachesByTag(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(simpleIndexResponse{Files: []simpleFile{
			{Filename: "acme-1.0.0.tar.gz", UploadTime: "2024-01-01T00:00:00Z"},
		}})
	}))
	defer srv.Close()

	exec := netexec.New(netexec.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	client := &PyPIClient{executor: exec, baseURL: srv.URL, http: http.DefaultClient}
	resolver := NewResolver(client, filepath.Join(t.TempDir(), "pypi-cache.json"))

	reqs, err := ParseRequirementsTxt([]byte("acme>=1.0.0\n"))
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "v1.0", reqs, time.Time{})
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), "v1.0", reqs, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, calls, "a second resolve of the same tag must hit the cache, not the network")
}

func TestResolveMissesCacheWhenRequirementsChangeUnderSameTag(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(simpleIndexResponse{Files: []simpleFile{
			{Filename: "acme-1.0.0.tar.gz", UploadTime: "2024-01-01T00:00:00Z"},
		}})
	}))
	defer srv.Close()

	exec := netexec.New(netexec.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	client := &PyPIClient{executor: exec, baseURL: srv.URL, http: http.DefaultClient}
	resolver := NewResolver(client, filepath.Join(t.TempDir(), "pypi-cache.json"))

	reqsV1, err := ParseRequirementsTxt([]byte("acme>=1.0.0\n"))
	require.NoError(t, err)
	reqsV2, err := ParseRequirementsTxt([]byte("acme>=1.0.0\nbeta>=1.0.0\n"))
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "dev", reqsV1, time.Time{})
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), "dev", reqsV2, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, calls, "a moving tag whose requirement set changed must not replay the stale resolution")
}

func TestResolveMissesCacheWhenReleaseDateChangesUnderSameTag(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(simpleIndexResponse{Files: []simpleFile{
			{Filename: "acme-1.0.0.tar.gz", UploadTime: "2024-01-01T00:00:00Z"},
			{Filename: "acme-2.0.0.tar.gz", UploadTime: "2024-12-01T00:00:00Z"},
		}})
	}))
	defer srv.Close()

	exec := netexec.New(netexec.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	client := &PyPIClient{executor: exec, baseURL: srv.URL, http: http.DefaultClient}
	resolver := NewResolver(client, filepath.Join(t.TempDir(), "pypi-cache.json"))

	reqs, err := ParseRequirementsTxt([]byte("acme>=1.0.0\n"))
	require.NoError(t, err)

	early := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	resolvedEarly, err := resolver.Resolve(context.Background(), "dev", reqs, early)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", resolvedEarly["acme"])

	resolvedLate, err := resolver.Resolve(context.Background(), "dev", reqs, late)
	require.NoError(t, err)
	require.Equal(t, "2.0.0", resolvedLate["acme"], "a corrected release-date ceiling under the same tag must not reuse the earlier resolution")
}

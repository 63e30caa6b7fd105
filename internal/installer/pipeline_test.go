package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/internal/download"
	"github.com/pumas-ai/pumas-launcher/internal/netexec"
	"github.com/pumas-ai/pumas-launcher/internal/versionstate"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// buildTarGz produces a minimal release archive containing a single file,
// for tests exercising the extract stage.
func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, archiveBody []byte) (*Pipeline, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archiveBody)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	exec := netexec.New(netexec.Config{FailureThreshold: 10, RecoveryTimeout: time.Minute})
	engine := download.New(exec, "test.example", filepath.Join(root, "downloads.json"))
	state := versionstate.New(filepath.Join(root, "apps"), filepath.Join(root, "versionstate.json"), versionstate.DefaultProber())

	p := New(filepath.Join(root, "apps"), engine, state, nil)
	return p, srv.URL
}

// newGatedPipeline is like newTestPipeline but the archive server blocks
// until release is closed, so a test can reliably cancel an install while
// the download stage is still in flight.
func newGatedPipeline(t *testing.T, archiveBody []byte, release <-chan struct{}) (*Pipeline, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archiveBody)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	exec := netexec.New(netexec.Config{FailureThreshold: 10, RecoveryTimeout: time.Minute})
	engine := download.New(exec, "test.example", filepath.Join(root, "downloads.json"))
	state := versionstate.New(filepath.Join(root, "apps"), filepath.Join(root, "versionstate.json"), versionstate.DefaultProber())

	p := New(filepath.Join(root, "apps"), engine, state, nil)
	return p, srv.URL
}

func TestInstallBinaryVersionCommitsAndRecordsInstalled(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"app": "#!/bin/sh\necho hi\n"})
	p, baseURL := newTestPipeline(t, archive)

	events, err := p.InstallVersion(context.Background(), Request{
		AppID:      "comfy",
		Tag:        "v1.0",
		Kind:       models.AppKindBinary,
		ArchiveURL: baseURL + "/archive.tar.gz",
	})
	require.NoError(t, err)

	var last models.ProgressEvent
	for ev := range events {
		last = ev
	}
	require.Equal(t, models.EventCompleted, last.Kind)
	require.True(t, p.state.IsInstalled("comfy", "v1.0"))

	finalDir := filepath.Join(p.appsRootDir, "comfy", "v1.0")
	_, err = os.Stat(filepath.Join(finalDir, "app"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(finalDir, "run.sh"))
	require.NoError(t, err)
}

func TestSecondConcurrentInstallOfSameTagIsRejected(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"app": "binary"})
	release := make(chan struct{})
	p, baseURL := newGatedPipeline(t, archive, release)

	req := Request{AppID: "comfy", Tag: "v1.0", Kind: models.AppKindBinary, ArchiveURL: baseURL + "/archive.tar.gz"}
	events, err := p.InstallVersion(context.Background(), req)
	require.NoError(t, err)

	_, err = p.InstallVersion(context.Background(), req)
	require.Error(t, err)

	close(release)
	for range events {
	}
}

func TestCancelInstallRemovesInstallingDirAndLeavesStateUnmutated(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"app": "binary"})
	release := make(chan struct{})
	p, baseURL := newGatedPipeline(t, archive, release)

	req := Request{AppID: "comfy", Tag: "v1.0", Kind: models.AppKindBinary, ArchiveURL: baseURL + "/archive.tar.gz"}
	events, err := p.InstallVersion(context.Background(), req)
	require.NoError(t, err)

	require.True(t, p.CancelInstall("comfy", "v1.0"))
	close(release)

	for range events {
		// drain to completion
	}

	require.False(t, p.state.IsInstalled("comfy", "v1.0"))
	_, statErr := os.Stat(p.installingDir("comfy", "v1.0"))
	require.True(t, os.IsNotExist(statErr))
}

// TestRunPipKilledByCancelledContext exercises the fix for §4.6's
// mid-pip-install cancellation requirement directly against runPip,
// without depending on a real pip/venv being present: venvPython(installDir)
// is faked as a script that blocks, and the test asserts the context
// cancellation that CancelInstall now threads through actually kills it
// instead of only leaving it running while the pipeline moves on.
func TestRunPipKilledByCancelledContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter script is POSIX shell")
	}
	root := t.TempDir()
	installDir := filepath.Join(root, "v1.0.installing")
	binDir := filepath.Join(installDir, "venv", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	script := "#!/bin/sh\necho 'Collecting slowpkg'\nsleep 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "python"), []byte(script), 0o755))

	p := &Pipeline{}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan StageProgress, 8)
	done := make(chan struct{})
	go func() {
		p.runPip(ctx, installDir, []string{"-m", "pip", "install", "-r", "requirements.txt"}, 1, out)
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-out:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "pip child never produced its first progress line")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runPip did not return after its context was cancelled — child process leaked")
	}
}

// TestCancelInstallCancelsStageContext confirms CancelInstall's effect
// reaches the context passed into stage.Run, not just the polled flag:
// a stage that blocks on ctx.Done() (rather than polling cf.isSet())
// must still unblock once CancelInstall is called mid-stage.
func TestCancelInstallCancelsStageContext(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"app": "binary"})
	p, baseURL := newTestPipeline(t, archive)

	blockingStageEntered := make(chan struct{})
	unblocked := make(chan struct{})

	req := Request{AppID: "comfy", Tag: "v1.0", Kind: models.AppKindBinary, ArchiveURL: baseURL + "/archive.tar.gz"}
	k := key(req.AppID, req.Tag)
	p.mu.Lock()
	cf := &cancelFlag{}
	p.cancel[k] = cf
	p.mu.Unlock()

	stageCtx, cancel := context.WithCancel(context.Background())
	cf.attach(cancel)

	go func() {
		close(blockingStageEntered)
		<-stageCtx.Done()
		close(unblocked)
	}()

	<-blockingStageEntered
	require.True(t, p.CancelInstall("comfy", "v1.0"))

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("CancelInstall did not cancel the stage context")
	}
}

// Package supervisor implements the Process Supervisor (C9, §4.8): launch,
// readiness probing, PID-file bookkeeping, process-table discovery, and
// graceful-then-forceful stop for launched applications.
//
// No example in the retrieved corpus supervises OS subprocesses; this
// package is built directly on os/exec and the syscall-level primitives
// the standard library exposes, split by build tag where POSIX and
// Windows semantics actually diverge (signal delivery, forceful kill).
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pumas-ai/pumas-launcher/internal/coreerr"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// LaunchSpec tells the supervisor how to start one (app_id, tag).
type LaunchSpec struct {
	AppID        string
	Tag          string
	Kind         models.AppKind
	Dir          string // version directory
	HealthURL    string // health endpoint to poll for readiness; empty skips the poll
	ReadyTimeout time.Duration
}

// LaunchResult is what Launch reports back.
type LaunchResult struct {
	Ready   bool
	LogPath string
	Error   string
}

type tracked struct {
	cmd     *exec.Cmd
	pidFile string
	info    models.ProcessInfo
}

// Supervisor is the C9 façade. appsRootDir is the directory tree whose
// immediate children are app IDs and whose grandchildren are version
// directories, the same layout versionstate uses.
type Supervisor struct {
	appsRootDir string
	logDir      string

	mu       sync.Mutex
	running  map[string]*tracked // key: appID+"/"+tag
}

func New(appsRootDir, logDir string) *Supervisor {
	return &Supervisor{appsRootDir: appsRootDir, logDir: logDir, running: make(map[string]*tracked)}
}

func key(appID, tag string) string { return appID + "/" + tag }

func pidFilePath(dir string) string { return filepath.Join(dir, "launcher.pid") }

// launchCommand resolves the §4.8 kind-specific command and working dir.
func launchCommand(spec LaunchSpec) (*exec.Cmd, error) {
	switch spec.Kind {
	case models.AppKindPythonVenv:
		python := filepath.Join(spec.Dir, "venv", "bin", "python")
		cmd := exec.Command(python, "main.py", "--host", "127.0.0.1", "--no-browser")
		cmd.Dir = spec.Dir
		return cmd, nil
	case models.AppKindBinary:
		bin := filepath.Join(spec.Dir, "app")
		cmd := exec.Command(bin, "serve")
		cmd.Dir = spec.Dir
		return cmd, nil
	default:
		return nil, coreerr.New(coreerr.KindValidation, "supervisor.launchCommand", fmt.Errorf("unsupported app kind %q", spec.Kind))
	}
}

// Launch starts spec's process, detached into its own process group on
// POSIX (setSysProcAttr, platform-specific), with stdout/stderr
// redirected to a timestamped log file, then polls readiness.
func (s *Supervisor) Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error) {
	s.mu.Lock()
	if _, ok := s.running[key(spec.AppID, spec.Tag)]; ok {
		s.mu.Unlock()
		return LaunchResult{}, coreerr.New(coreerr.KindValidation, "supervisor.Launch", fmt.Errorf("%s/%s already running", spec.AppID, spec.Tag))
	}
	s.mu.Unlock()

	cmd, err := launchCommand(spec)
	if err != nil {
		return LaunchResult{}, err
	}
	setSysProcAttr(cmd)

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return LaunchResult{}, coreerr.NewIO("supervisor.Launch", s.logDir, err)
	}
	logPath := filepath.Join(s.logDir, fmt.Sprintf("%s-%s-%s.log", spec.AppID, spec.Tag, time.Now().UTC().Format("20060102T150405Z")))
	logFile, err := os.Create(logPath)
	if err != nil {
		return LaunchResult{}, coreerr.NewIO("supervisor.Launch", logPath, err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return LaunchResult{}, coreerr.New(coreerr.KindInstallFailed, "supervisor.Launch", err)
	}

	pidFile := pidFilePath(spec.Dir)
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		_ = cmd.Process.Kill()
		logFile.Close()
		return LaunchResult{}, coreerr.NewIO("supervisor.Launch", pidFile, err)
	}

	t := &tracked{
		cmd:     cmd,
		pidFile: pidFile,
		info: models.ProcessInfo{
			PID: cmd.Process.Pid, AppID: spec.AppID, Tag: spec.Tag,
			Source: models.ProcSourceLaunched, StartedAt: time.Now().UTC(),
		},
	}
	s.mu.Lock()
	s.running[key(spec.AppID, spec.Tag)] = t
	s.mu.Unlock()

	go func() { _ = cmd.Wait(); logFile.Close() }()

	ready, readyErr := s.waitReady(ctx, spec, cmd)
	result := LaunchResult{Ready: ready, LogPath: logPath}
	if readyErr != nil {
		result.Error = readyErr.Error()
	}
	return result, nil
}

// waitReady polls spec.HealthURL with exponential backoff up to
// spec.ReadyTimeout, while also watching for the child exiting early.
func (s *Supervisor) waitReady(ctx context.Context, spec LaunchSpec, cmd *exec.Cmd) (bool, error) {
	if spec.HealthURL == "" {
		return true, nil
	}
	timeout := spec.ReadyTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	backoff := 200 * time.Millisecond
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		if cmd.ProcessState != nil {
			return false, fmt.Errorf("process exited before becoming ready")
		}
		resp, err := client.Get(spec.HealthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return true, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	return false, fmt.Errorf("readiness timeout after %s", timeout)
}

// Stop gracefully-then-forcefully stops (app_id, tag) and removes its PID
// file. Idempotent: stopping an untracked pair is a no-op.
func (s *Supervisor) Stop(ctx context.Context, appID, tag string, timeout time.Duration) error {
	s.mu.Lock()
	t, ok := s.running[key(appID, tag)]
	if ok {
		delete(s.running, key(appID, tag))
	}
	s.mu.Unlock()

	dir := filepath.Join(s.appsRootDir, appID, tag)
	pid, pidOK := readPIDFile(pidFilePath(dir))
	if !ok && !pidOK {
		return nil
	}
	if !pidOK && ok {
		pid = t.info.PID
	}

	if err := stopProcess(ctx, pid, timeout); err != nil {
		return err
	}
	_ = os.Remove(pidFilePath(dir))
	return nil
}

// StopAll stops every process this supervisor knows about (tracked or
// discovered via scan), then does one best-effort sweep for orphaned
// command-line matches left behind by a crashed prior launcher instance.
func (s *Supervisor) StopAll(ctx context.Context, timeout time.Duration) error {
	procs, err := s.ScanProcesses(ctx)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if err := s.Stop(ctx, p.AppID, p.Tag, timeout); err != nil {
			return err
		}
	}
	orphans, err := scanCmdline(ctx)
	if err == nil {
		for _, o := range orphans {
			_ = stopProcess(ctx, o.PID, timeout)
		}
	}
	return nil
}

// IsRunning reports whether (app_id, tag) is tracked as running in-process.
func (s *Supervisor) IsRunning(appID, tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key(appID, tag)]
	return ok
}

// ScanProcesses implements §4.8 discovery: cross-reference the OS process
// table (via a command-line pattern match) with PID files found under
// every version directory, verifying any PID-file hit is actually alive.
func (s *Supervisor) ScanProcesses(ctx context.Context) ([]models.ProcessInfo, error) {
	cmdlineHits, err := scanCmdline(ctx)
	if err != nil {
		return nil, err
	}
	byPID := make(map[int]models.ProcessInfo, len(cmdlineHits))
	for _, h := range cmdlineHits {
		byPID[h.PID] = h
	}

	appDirs, err := os.ReadDir(s.appsRootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerr.NewIO("supervisor.ScanProcesses", s.appsRootDir, err)
	}

	var out []models.ProcessInfo
	seen := make(map[int]bool)
	for _, appEntry := range appDirs {
		if !appEntry.IsDir() {
			continue
		}
		appID := appEntry.Name()
		versionDirs, err := os.ReadDir(filepath.Join(s.appsRootDir, appID))
		if err != nil {
			continue
		}
		for _, vEntry := range versionDirs {
			if !vEntry.IsDir() {
				continue
			}
			tag := vEntry.Name()
			dir := filepath.Join(s.appsRootDir, appID, tag)
			pid, ok := readPIDFile(pidFilePath(dir))
			if !ok {
				continue
			}
			if !processAlive(pid) {
				continue
			}
			cmdlineHit, fromCmdline := byPID[pid]
			info := models.ProcessInfo{PID: pid, AppID: appID, Tag: tag, Source: models.ProcSourcePidFileOnly, StartedAt: time.Now().UTC()}
			if fromCmdline {
				info.Source = models.ProcSourceBoth
				info.StartedAt = cmdlineHit.StartedAt
				delete(byPID, pid)
			}
			out = append(out, info)
			seen[pid] = true
		}
	}
	for pid, h := range byPID {
		if !seen[pid] {
			out = append(out, h)
		}
	}
	return out, nil
}

func readPIDFile(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// scanCmdline greps the OS process table for command lines matching a
// known launcher-managed interpreter/binary subpath, attributing a tag
// when the path carries one.
func scanCmdline(ctx context.Context) ([]models.ProcessInfo, error) {
	lines, err := psCommandLines(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ProcessInfo
	for _, line := range lines {
		pid, cmdline, ok := splitPidCmdline(line)
		if !ok {
			continue
		}
		if !strings.Contains(cmdline, "venv/bin/python") && !strings.Contains(cmdline, "/app serve") {
			continue
		}
		appID, tag, ok := attributeTagFromPath(cmdline)
		if !ok {
			continue
		}
		out = append(out, models.ProcessInfo{PID: pid, AppID: appID, Tag: tag, Source: models.ProcSourceCmdlineScan, StartedAt: time.Now().UTC()})
	}
	return out, nil
}

func splitPidCmdline(line string) (int, string, bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) != 2 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	return pid, fields[1], true
}

// attributeTagFromPath extracts (app_id, tag) from a command line whose
// working directory embeds the launcher's {appsRoot}/{app_id}/{tag}
// convention.
func attributeTagFromPath(cmdline string) (string, string, bool) {
	parts := strings.Split(cmdline, string(os.PathSeparator))
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "apps" && i+2 < len(parts) {
			return parts[i+1], parts[i+2], true
		}
	}
	return "", "", false
}

func psCommandLines(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "ps", "-eo", "pid=,args=").Output()
	if err != nil {
		return nil, nil // absence of ps (e.g. sandboxed/minimal hosts) degrades to "no hits", not an error
	}
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, nil
}

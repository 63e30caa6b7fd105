// Package resources implements the Resource Attributor (C10, §4.8):
// per-(app_id,tag) CPU/RAM/GPU sampling keyed by PID, aggregated and
// rounded per the spec's stated precision (CPU to 0.1%, memory to
// 0.01 GiB).
package resources

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Attributor is the C10 façade. It shells out to `ps` for CPU/RSS (the
// portable sysinfo-equivalent available without a third-party gopsutil
// dependency in this corpus) and to `nvidia-smi` for GPU figures, which
// degrades to zero values when the tool is absent.
type Attributor struct{}

func New() *Attributor { return &Attributor{} }

// Sample returns resource usage for each (app_id, tag, pid) triple given.
type Target struct {
	AppID string
	Tag   string
	PID   int
}

func (a *Attributor) Sample(ctx context.Context, targets []Target) ([]models.ResourceUsage, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	cpu, rss := a.sampleCPUAndMem(ctx, targets)
	gpuPct, gpuMem := a.sampleGPU(ctx, targets)

	out := make([]models.ResourceUsage, 0, len(targets))
	for _, t := range targets {
		out = append(out, models.ResourceUsage{
			AppID:     t.AppID,
			Tag:       t.Tag,
			CPUPct:    round1(cpu[t.PID]),
			MemGiB:    round2(rss[t.PID] / (1024 * 1024)), // ps RSS is in KiB
			GPUPct:    round1(gpuPct[t.PID]),
			GPUMemGiB: round2(gpuMem[t.PID]),
		})
	}
	return out, nil
}

func (a *Attributor) sampleCPUAndMem(ctx context.Context, targets []Target) (cpu, rssKiB map[int]float64) {
	cpu = make(map[int]float64)
	rssKiB = make(map[int]float64)
	pids := make([]string, len(targets))
	for i, t := range targets {
		pids[i] = strconv.Itoa(t.PID)
	}
	out, err := exec.CommandContext(ctx, "ps", "-o", "pid=,pcpu=,rss=", "-p", strings.Join(pids, ",")).Output()
	if err != nil {
		return cpu, rssKiB
	}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		pct, err2 := strconv.ParseFloat(fields[1], 64)
		rss, err3 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		cpu[pid] = pct
		rssKiB[pid] = rss
	}
	return cpu, rssKiB
}

// sampleGPU shells out to nvidia-smi's CSV query mode, keyed by PID via
// the per-process accounting it exposes. Any failure (tool absent, no
// GPU, accounting mode disabled) degrades to empty maps, i.e. zero usage.
func (a *Attributor) sampleGPU(ctx context.Context, targets []Target) (pct, memGiB map[int]float64) {
	pct = make(map[int]float64)
	memGiB = make(map[int]float64)
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-compute-apps=pid,used_memory", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return pct, memGiB
	}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ",")
		if len(fields) != 2 {
			continue
		}
		pid, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		memMiB, err2 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		memGiB[pid] = memMiB / 1024
	}
	return pct, memGiB
}

func round1(v float64) float64 { return float64(int(v*10+0.5)) / 10 }
func round2(v float64) float64 { return float64(int(v*100+0.5)) / 100 }

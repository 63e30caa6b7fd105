// Package convert implements the Conversion Orchestrator (C11): running an
// external format-conversion tool as a subprocess, turning its stdout
// status lines into progress events the way server/images.go turns a
// registry client's status strings into api.ProgressResponse, and
// committing the converted output into the content store atomically.
package convert

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Request describes one conversion: an input model directory on disk, the
// target (type, family, name) to commit the result under, and the
// converter binary to invoke.
type Request struct {
	SourceDir     string
	ConverterPath string // e.g. a GGUF/ONNX converter CLI on PATH
	ExtraArgs     []string
	ModelType     models.ModelType
	Family        string
	CleanedName   string
	RepoID        string
}

// Orchestrator runs conversions and commits their output into a Store.
type Orchestrator struct {
	store   *store.Store
	scratch string // parent directory for in-progress conversion output
}

func New(s *store.Store, scratchDir string) *Orchestrator {
	return &Orchestrator{store: s, scratch: scratchDir}
}

var statusPct = regexp.MustCompile(`(\d{1,3})\s*%`)

// Run executes the converter against req.SourceDir, streaming progress
// events parsed from its stdout, and on success commits the converted
// output directory into the store. The scratch output directory is
// removed on any failure or cancellation.
func (o *Orchestrator) Run(ctx context.Context, req Request) (<-chan models.ProgressEvent, error) {
	if err := os.MkdirAll(o.scratch, 0o755); err != nil {
		return nil, fmt.Errorf("convert: prepare scratch dir: %w", err)
	}
	outDir, err := os.MkdirTemp(o.scratch, "convert-*")
	if err != nil {
		return nil, fmt.Errorf("convert: create output dir: %w", err)
	}

	out := make(chan models.ProgressEvent, 16)
	go o.run(ctx, req, outDir, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, outDir string, out chan<- models.ProgressEvent) {
	defer close(out)
	cleanup := func() { os.RemoveAll(outDir) }

	args := append([]string{req.SourceDir, outDir}, req.ExtraArgs...)
	cmd := exec.CommandContext(ctx, req.ConverterPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		out <- models.ProgressEvent{Kind: models.EventError, Message: err.Error()}
		return
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cleanup()
		out <- models.ProgressEvent{Kind: models.EventError, Message: fmt.Sprintf("start converter: %v", err)}
		return
	}

	out <- models.ProgressEvent{Kind: models.EventProgress, Fraction: 0, Message: "converting"}
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := statusPct.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				out <- models.ProgressEvent{Kind: models.EventProgress, Fraction: float64(pct) / 100, Message: line}
				continue
			}
		}
		out <- models.ProgressEvent{Kind: models.EventProgress, Message: line}
	}

	if err := cmd.Wait(); err != nil {
		cleanup()
		if ctx.Err() != nil {
			out <- models.ProgressEvent{Kind: models.EventError, Message: "conversion cancelled"}
			return
		}
		out <- models.ProgressEvent{Kind: models.EventError, Message: fmt.Sprintf("converter failed: %v: %s", err, strings.TrimSpace(stderr.String()))}
		return
	}

	if err := o.commit(ctx, req, outDir); err != nil {
		cleanup()
		out <- models.ProgressEvent{Kind: models.EventError, Message: fmt.Sprintf("commit: %v", err)}
		return
	}

	out <- models.ProgressEvent{Kind: models.EventCompleted, Fraction: 1, Success: true}
}

// commit rebuilds metadata.json from the converted files and moves outDir
// into place under the store atomically.
func (o *Orchestrator) commit(ctx context.Context, req Request, outDir string) error {
	files, err := store.ListFiles(outDir)
	if err != nil {
		return fmt.Errorf("list converted files: %w", err)
	}

	rec := &models.ModelRecord{
		ModelID:     store.ModelID(req.ModelType, req.Family, req.CleanedName),
		Family:      req.Family,
		ModelType:   req.ModelType,
		CleanedName: req.CleanedName,
		OfficialName: req.CleanedName,
		Files:       files,
		RepoID:      req.RepoID,
	}
	if err := store.WriteMetadataAtomic(outDir, rec); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	_, err = o.store.CommitDir(req.ModelType, req.Family, req.CleanedName, outDir)
	return err
}

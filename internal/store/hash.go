package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/sync/semaphore"
	"lukechampine.com/blake3"
)

// hashWorkers bounds the number of concurrent on-demand hash computations
// so a burst of hash requests cannot starve the scheduler's I/O-bound
// work, per §5 ("CPU-bound operations ... execute on a blocking worker
// pool so the main scheduler is never stalled").
var hashWorkers = semaphore.NewWeighted(4)

// HashSHA256 computes the SHA-256 of path off the caller's goroutine
// budget, bounded by hashWorkers.
func HashSHA256(ctx context.Context, path string) (string, error) {
	return hashWith(ctx, path, sha256.New())
}

// HashBLAKE3 computes the BLAKE3 hash of path, supported symmetrically
// with SHA-256 per §4.2.
func HashBLAKE3(ctx context.Context, path string) (string, error) {
	return hashWith(ctx, path, blake3.New(32, nil))
}

type hasher interface {
	io.Writer
	Sum(b []byte) []byte
}

func hashWith(ctx context.Context, path string, h hasher) (string, error) {
	if err := hashWorkers.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer hashWorkers.Release(1)

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

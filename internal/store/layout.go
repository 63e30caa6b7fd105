// Package store implements the Content Store (C2): filesystem layout,
// atomic writes, hash computation, shard grouping and model-type
// resolution over the content-addressed model library described in §3
// and §6.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// ErrInvalidDigestFormat mirrors the teacher's blob-path validation error
// (server/images.go's PruneLayers path) for malformed content identifiers.
var ErrInvalidDigestFormat = errors.New("store: invalid digest format")

// RuleSource is the subset of the search index's rule tables the
// model-type resolver needs (C3 owns persistence of these tables; C2
// only reads them through this interface to avoid a package cycle).
type RuleSource interface {
	ArchitectureRules(ctx context.Context) ([]ArchitectureRule, error)
	ConfigModelTypeRules(ctx context.Context) ([]ConfigRule, error)
}

// Store is the C2 façade over one library_root.
type Store struct {
	root  string
	rules RuleSource

	// dirLocks serializes mutations to a single model directory (§4.9
	// concurrency contract: "model mutations touching a single directory
	// are serialized by path").
	mu       sync.Mutex
	dirLocks map[string]*sync.Mutex
}

func New(libraryRoot string, rules RuleSource) *Store {
	return &Store{root: libraryRoot, rules: rules, dirLocks: make(map[string]*sync.Mutex)}
}

func (s *Store) Root() string { return s.root }

func (s *Store) lockFor(path string) func() {
	s.mu.Lock()
	l, ok := s.dirLocks[path]
	if !ok {
		l = &sync.Mutex{}
		s.dirLocks[path] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ModelDir returns the depth-3 directory for (type, family, cleanedName).
func (s *Store) ModelDir(modelType models.ModelType, family, cleanedName string) string {
	return filepath.Join(s.root, string(modelType), family, cleanedName)
}

// ModelID joins the three path components with "/" per §4.2.
func ModelID(modelType models.ModelType, family, cleanedName string) string {
	return strings.Join([]string{string(modelType), family, cleanedName}, "/")
}

// SplitModelID is the inverse of ModelID.
func SplitModelID(id string) (modelType models.ModelType, family, cleanedName string, err error) {
	parts := strings.SplitN(id, "/", 3)
	if len(parts) != 3 {
		return "", "", "", errors.New("store: malformed model id " + id)
	}
	return models.ModelType(parts[0]), parts[1], parts[2], nil
}

// DirExists reports whether a model directory exists at all (used by
// invariant M2 checks and reconciliation).
func (s *Store) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CommitDir atomically moves srcDir (a scratch directory built by a
// conversion or import step) into place as the model directory for
// (modelType, family, cleanedName), replacing any existing directory
// there. Serialized per destination path like every other store mutation.
func (s *Store) CommitDir(modelType models.ModelType, family, cleanedName, srcDir string) (string, error) {
	dest := s.ModelDir(modelType, family, cleanedName)
	unlock := s.lockFor(dest)
	defer unlock()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.RemoveAll(dest); err != nil {
		return "", err
	}
	if err := os.Rename(srcDir, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// RemoveModelDir deletes a model directory and its contents. Cascading to
// the search index and link registry is the coordinator's job (§4.9).
func (s *Store) RemoveModelDir(path string) error {
	unlock := s.lockFor(path)
	defer unlock()
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return PruneEmptyParents(s.root, filepath.Dir(path))
}

// PruneEmptyParents removes now-empty family/type directories up to (but
// not including) root, grounded on the teacher's recursive
// PruneDirectory helper (server/images.go).
func PruneEmptyParents(root, dir string) error {
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				dir = filepath.Dir(dir)
				continue
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

const metadataFileName = "metadata.json"

// MetadataPath returns the metadata.json path within a model directory.
func MetadataPath(modelDir string) string {
	return filepath.Join(modelDir, metadataFileName)
}

// ReadMetadata reads and decodes a model's metadata.json. Unknown fields
// are ignored by encoding/json by default, matching the forward-compatible
// contract in §6.
func ReadMetadata(modelDir string) (*models.ModelRecord, error) {
	b, err := os.ReadFile(MetadataPath(modelDir))
	if err != nil {
		return nil, err
	}
	var rec models.ModelRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("store: decode metadata.json at %s: %w", modelDir, err)
	}
	rec.Path = modelDir
	return &rec, nil
}

// WriteMetadataAtomic writes metadata.json via write-temp-fsync-rename,
// the standard atomic-write idiom this spec requires everywhere a
// committed artefact is produced (§9).
func WriteMetadataAtomic(modelDir string, rec *models.ModelRecord) error {
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(MetadataPath(modelDir), b)
}

// WriteFileAtomic is the general write-temp-then-rename primitive used
// throughout the store, link registry and download persistence layers.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

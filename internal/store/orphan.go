package store

import (
	"os"
	"path/filepath"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// OrphanDir is a depth-3 directory with no metadata.json (§4.2).
type OrphanDir struct {
	Path        string
	ModelType   models.ModelType
	Family      string
	CleanedName string
}

// ScanOrphans walks the library root to depth 3 and returns directories
// without a metadata.json. Family and name are inferred from the path
// components, mirroring how they'd have been produced on import.
func (s *Store) ScanOrphans() ([]OrphanDir, error) {
	var orphans []OrphanDir

	typeDirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, td := range typeDirs {
		if !td.IsDir() {
			continue
		}
		familyDirs, err := os.ReadDir(filepath.Join(s.root, td.Name()))
		if err != nil {
			continue
		}
		for _, fd := range familyDirs {
			if !fd.IsDir() {
				continue
			}
			nameDirs, err := os.ReadDir(filepath.Join(s.root, td.Name(), fd.Name()))
			if err != nil {
				continue
			}
			for _, nd := range nameDirs {
				if !nd.IsDir() {
					continue
				}
				dir := filepath.Join(s.root, td.Name(), fd.Name(), nd.Name())
				if _, err := os.Stat(MetadataPath(dir)); os.IsNotExist(err) {
					orphans = append(orphans, OrphanDir{
						Path:        dir,
						ModelType:   models.ModelType(td.Name()),
						Family:      fd.Name(),
						CleanedName: nd.Name(),
					})
				}
			}
		}
	}
	return orphans, nil
}

// ListFiles returns the FileRecord list for a model directory, excluding
// metadata.json itself and any in-flight .part staging files (§3 D1).
func ListFiles(modelDir string) ([]models.FileRecord, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, err
	}
	var files []models.FileRecord
	for _, e := range entries {
		if e.IsDir() || e.Name() == metadataFileName {
			continue
		}
		if filepath.Ext(e.Name()) == ".part" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, models.FileRecord{Name: e.Name(), Size: info.Size()})
	}
	return files, nil
}

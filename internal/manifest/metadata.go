package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// Filename is the human-readable manifest inside the archive root.
	Filename = "manifest"
	// MetadataFilename is the machine-readable twin.
	MetadataFilename = "metadata.json"
)

// WriteFiles writes both manifest representations into dir (the staging
// root), so they travel inside the archive.
func (m *Manifest) WriteFiles(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, Filename), []byte(m.Render()), 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	jsonFile, err := os.Create(filepath.Join(dir, MetadataFilename))
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode metadata JSON: %w", err)
	}
	return nil
}

package targeting

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadManifestFile reads a manifest from a JSON file, typically a local
// override bundled with a development build.
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targeting: read manifest file: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("targeting: parse manifest file %s: %w", path, err)
	}
	return &m, nil
}

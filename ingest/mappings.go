package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingOverrides holds operator-supplied field synonyms loaded from a
// YAML file keyed by canonical field name:
//
//	source_ip:
//	  - remote_addr
//	  - x_forwarded_for
//	actor:
//	  - subject
//
// Overrides extend the built-in chains; they never replace or reorder them.
type MappingOverrides struct {
	Fields map[string][]string
}

// LoadMappingOverrides reads and validates a mapping overrides file.
// A file that names an unknown canonical field or an empty source key is
// rejected outright so a typo surfaces at startup, not at ingest time.
func LoadMappingOverrides(path string) (*MappingOverrides, error) {
	// SECURITY: Validate file path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping overrides file: %w", err)
	}
	return ParseMappingOverrides(data)
}

// ParseMappingOverrides parses and validates raw YAML mapping overrides
func ParseMappingOverrides(data []byte) (*MappingOverrides, error) {
	var fields map[string][]string
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse mapping overrides YAML: %w", err)
	}

	for field, sources := range fields {
		if _, ok := defaultSynonyms[field]; !ok {
			return nil, fmt.Errorf("unknown canonical field %q in mapping overrides", field)
		}
		for _, source := range sources {
			if strings.TrimSpace(source) == "" {
				return nil, fmt.Errorf("empty source key for field %q in mapping overrides", field)
			}
		}
	}

	return &MappingOverrides{Fields: fields}, nil
}

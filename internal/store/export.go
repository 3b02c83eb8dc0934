package store

import (
	"encoding/json"
	"fmt"
	"os"
)

// Export is the on-disk shape of a realtime database export:
// collection -> id -> field -> value.
type Export map[string]map[string]map[string]any

// ParseExport decodes a realtime database export.
func ParseExport(raw []byte) (Export, error) {
	var exp Export
	if err := json.Unmarshal(raw, &exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// ReadExport loads an export from disk.
func ReadExport(path string) (Export, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	exp, err := ParseExport(raw)
	if err != nil {
		return nil, fmt.Errorf("parse export %s: %w", path, err)
	}
	return exp, nil
}

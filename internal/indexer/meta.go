package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Project data layout under the root
const (
	DataDirName  = ".codekb"
	GraphFile    = "graph.json"
	ManifestFile = "index.db"
	VectorsFile  = "vectors.db"
	MetaFile     = "meta.json"

	// MetaSchemaVersion is written into meta.json
	MetaSchemaVersion = "1.0.0"

	// MetaTimeLayout is the UTC timestamp format of last_indexed
	MetaTimeLayout = "2006-01-02T15:04:05Z"
)

// Layout holds the absolute paths of a project's persisted files
type Layout struct {
	Dir      string
	Graph    string
	Manifest string
	Vectors  string
	Meta     string
}

// LayoutFor returns the data layout for the project at root
func LayoutFor(root string) Layout {
	dir := filepath.Join(root, DataDirName)
	return Layout{
		Dir:      dir,
		Graph:    filepath.Join(dir, GraphFile),
		Manifest: filepath.Join(dir, ManifestFile),
		Vectors:  filepath.Join(dir, VectorsFile),
		Meta:     filepath.Join(dir, MetaFile),
	}
}

// Meta is the summary written after every index mutation
type Meta struct {
	LastIndexed   string `json:"last_indexed"`
	FileCount     int    `json:"file_count"`
	SymbolCount   int    `json:"symbol_count"`
	EdgeCount     int    `json:"edge_count"`
	SchemaVersion string `json:"schema_version"`
}

// LastIndexedTime parses LastIndexed; ok is false when it is missing or malformed
func (m *Meta) LastIndexedTime() (time.Time, bool) {
	t, err := time.Parse(MetaTimeLayout, m.LastIndexed)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AgeMinutes returns the whole minutes since LastIndexed, or -1 when unknown
func (m *Meta) AgeMinutes(now time.Time) int {
	t, ok := m.LastIndexedTime()
	if !ok {
		return -1
	}
	age := now.Sub(t)
	if age < 0 {
		return 0
	}
	return int(age / time.Minute)
}

// WriteMeta writes meta atomically
func WriteMeta(path string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename metadata: %w", err)
	}
	return nil
}

// ReadMeta reads meta.json. A missing or unreadable file returns ErrNoMetadata.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoMetadata
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}
	return &meta, nil
}

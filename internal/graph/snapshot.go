package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotVersion is written into every snapshot and checked on load
const SnapshotVersion = "1"

// ErrSnapshotVersion is returned when a snapshot was written by an incompatible version
var ErrSnapshotVersion = errors.New("unsupported graph snapshot version")

type snapshot struct {
	Version string       `json:"version"`
	Files   []*fileEntry `json:"files"`
	Nodes   []Node       `json:"nodes"`
	Edges   []Edge       `json:"edges"`
}

// MarshalJSON encodes the graph with nodes, edges and files sorted,
// so identical graphs encode to identical bytes.
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := snapshot{
		Version: SnapshotVersion,
		Files:   make([]*fileEntry, 0, len(g.files)),
		Nodes:   make([]Node, 0, len(g.nodes)),
		Edges:   g.edgesLocked(),
	}
	for _, p := range g.sortedPathsLocked() {
		snap.Files = append(snap.Files, g.files[p])
	}
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Nodes = append(snap.Nodes, *g.nodes[id])
	}
	return json.MarshalIndent(snap, "", "  ")
}

// UnmarshalJSON replaces the graph's contents with a decoded snapshot
func (g *Graph) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode graph snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %q", ErrSnapshotVersion, snap.Version)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()

	for _, f := range snap.Files {
		if f == nil || f.Path == "" {
			continue
		}
		f.Nodes = nil
		g.files[f.Path] = f
	}
	for i := range snap.Nodes {
		n := snap.Nodes[i]
		entry, ok := g.files[n.FilePath]
		if !ok {
			continue
		}
		g.addNode(&n)
		entry.Nodes = append(entry.Nodes, n.ID)
	}
	for _, e := range snap.Edges {
		g.addEdge(e.From, e.To, e.Kind)
	}
	return nil
}

// Save writes the graph to path atomically via a temp file and rename
func (g *Graph) Save(path string) error {
	data, err := g.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create graph directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".graph-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write graph: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}
	return nil
}

// Load reads a graph saved by Save. A missing file returns an error wrapping os.ErrNotExist.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph: %w", err)
	}
	g := New()
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return g, nil
}

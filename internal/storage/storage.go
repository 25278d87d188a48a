package storage

import (
	"time"

	"github.com/dshills/codekb/pkg/types"
)

// FileRecord is one manifest row
type FileRecord struct {
	Path             string
	ContentHash      string
	Language         string
	SizeBytes        int64
	LastModified     time.Time
	IndexedAt        time.Time
	LastEmbeddedHash string // Empty until the file has been embedded
}

// NeedsEmbed reports whether the file changed since it was last embedded
func (f *FileRecord) NeedsEmbed() bool {
	return f.LastEmbeddedHash == "" || f.LastEmbeddedHash != f.ContentHash
}

// SymbolRecord is a symbol row owned by a file
type SymbolRecord struct {
	Name        string
	Kind        types.SymbolKind
	ParentClass string
	LineStart   int
	LineEnd     int
	Docstring   string
}

// SymbolMatch is a symbol located by name
type SymbolMatch struct {
	Name        string           `json:"name"`
	Kind        types.SymbolKind `json:"symbol_type"`
	ParentClass string           `json:"parent_class,omitempty"`
	FilePath    string           `json:"file_path"`
	Language    string           `json:"language"`
	LineStart   int              `json:"line_start"`
	LineEnd     int              `json:"line_end"`
}

// EmbedCandidate is a file whose current hash has not been embedded
type EmbedCandidate struct {
	Path string
	Hash string
}

// ManifestStats aggregates manifest contents
type ManifestStats struct {
	FileCount   int            `json:"file_count"`
	SymbolCount int            `json:"symbol_count"`
	Languages   map[string]int `json:"languages"`
}

// SymbolsFromParsed converts parser output into manifest symbol rows
func SymbolsFromParsed(pf *types.ParsedFile) []SymbolRecord {
	recs := make([]SymbolRecord, 0, pf.SymbolCount())
	for _, c := range pf.Classes {
		recs = append(recs, SymbolRecord{
			Name:      c.Name,
			Kind:      types.KindClass,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			Docstring: c.Docstring,
		})
	}
	for _, fn := range pf.Functions {
		recs = append(recs, SymbolRecord{
			Name:        fn.Name,
			Kind:        types.FunctionKind(fn.ParentClass),
			ParentClass: fn.ParentClass,
			LineStart:   fn.LineStart,
			LineEnd:     fn.LineEnd,
			Docstring:   fn.Docstring,
		})
	}
	for _, v := range pf.Variables {
		recs = append(recs, SymbolRecord{
			Name:      v.Name,
			Kind:      types.KindVariable,
			LineStart: v.Line,
			LineEnd:   v.Line,
		})
	}
	return recs
}

// Payload is the typed metadata stored with each vector point
type Payload struct {
	File         string            `json:"file"`
	Language     string            `json:"language"`
	SymbolType   string            `json:"symbol_type"`
	SymbolName   string            `json:"symbol_name"`
	ParentClass  string            `json:"parent_class,omitempty"`
	LineStart    int               `json:"line_start"`
	LineEnd      int               `json:"line_end"`
	LastModified string            `json:"last_modified,omitempty"`
	SizeInLines  int               `json:"loc"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Point is a vector with its payload
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Filter is an exact-match pre-filter; empty fields match everything
type Filter struct {
	File       string
	Language   string
	SymbolType string
}

// ScoredPoint is a search hit
type ScoredPoint struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// CollectionInfo describes the vector collection
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount int    `json:"points_count"`
}

package kb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dshills/codekb/internal/storage"
)

// StaleAfter is the index age past which Health reports it stale
const StaleAfter = time.Hour

// Health summarises the state of a project's knowledge base
type Health struct {
	Root          string         `json:"root"`
	Indexed       bool           `json:"indexed"`
	FileCount     int            `json:"file_count"`
	SymbolCount   int            `json:"symbol_count"`
	EdgeCount     int            `json:"edge_count"`
	LastIndexed   string         `json:"last_indexed,omitempty"`
	Stale         bool           `json:"stale"`
	Languages     map[string]int `json:"languages,omitempty"`
	VectorPoints  int            `json:"vector_points"`
	Collection    string         `json:"collection,omitempty"`
	EmbedPending  int            `json:"embed_pending"`
	Provider      string         `json:"embedding_provider"`
	Model         string         `json:"embedding_model"`
	GlobalEntries int            `json:"global_entries"`
	GlobalErrors  int            `json:"global_error_fixes"`
	BuildMode     string         `json:"build_mode"`
	Indexing      bool           `json:"indexing"`
}

// Health reports index, vector and global store state. Unreadable parts are
// logged and left at their zero value.
func (p *Project) Health(ctx context.Context) *Health {
	h := &Health{
		Root:      p.root,
		BuildMode: storage.BuildMode,
		Provider:  p.emb.Provider(),
		Model:     p.emb.Model(),
		Indexing:  p.indexer.Busy() || p.dispatcher.Busy(p.root),
	}

	if meta, err := p.indexer.ReadMeta(); err == nil {
		h.Indexed = true
		h.FileCount = meta.FileCount
		h.SymbolCount = meta.SymbolCount
		h.EdgeCount = meta.EdgeCount
		h.LastIndexed = meta.LastIndexed
		t, ok := meta.LastIndexedTime()
		h.Stale = !ok || time.Since(t) > StaleAfter
	}

	if stats, err := p.manifest.Stats(ctx); err == nil {
		h.Languages = stats.Languages
	} else {
		p.logger.Debug("health: manifest stats failed", slog.String("error", err.Error()))
	}
	if pending, err := p.manifest.FilesNeedingEmbed(ctx); err == nil {
		h.EmbedPending = len(pending)
	}
	if info, err := p.vectors.CollectionInfo(ctx); err == nil {
		h.VectorPoints = info.PointsCount
		h.Collection = info.Name
	} else {
		p.logger.Debug("health: vector store unavailable", slog.String("error", err.Error()))
	}
	if p.global != nil {
		if stats, err := p.global.Stats(ctx); err == nil {
			h.GlobalEntries = stats.Total() - stats.ErrorFixes
			h.GlobalErrors = stats.ErrorFixes
		} else {
			p.logger.Debug("health: global store unavailable", slog.String("error", err.Error()))
		}
	}
	return h
}

func status(ok bool) string {
	if ok {
		return "OK"
	}
	return "NOT OK"
}

// FormatHealth renders h as a human-readable report
func FormatHealth(h *Health) string {
	var sb strings.Builder
	sb.WriteString("Knowledge Base Health Report\n")
	sb.WriteString(strings.Repeat("=", 40) + "\n\n")

	fmt.Fprintf(&sb, "Project: %s\n\n", h.Root)
	sb.WriteString("Local KB:\n")
	fmt.Fprintf(&sb, "  Indexed       : %s\n", status(h.Indexed))
	fmt.Fprintf(&sb, "  Files         : %d\n", h.FileCount)
	fmt.Fprintf(&sb, "  Symbols       : %d\n", h.SymbolCount)
	fmt.Fprintf(&sb, "  Edges         : %d\n", h.EdgeCount)
	last := h.LastIndexed
	if last == "" {
		last = "never"
	}
	if h.Indexed && h.Stale {
		last += " (stale)"
	}
	fmt.Fprintf(&sb, "  Last indexed  : %s\n", last)
	if len(h.Languages) > 0 {
		langs := make([]string, 0, len(h.Languages))
		for l, n := range h.Languages {
			langs = append(langs, fmt.Sprintf("%s=%d", l, n))
		}
		sort.Strings(langs)
		fmt.Fprintf(&sb, "  Languages     : %s\n", strings.Join(langs, ", "))
	}
	if h.Indexing {
		sb.WriteString("  Indexing      : in progress\n")
	}

	sb.WriteString("\nVectors:\n")
	fmt.Fprintf(&sb, "  Points        : %d\n", h.VectorPoints)
	fmt.Fprintf(&sb, "  Pending files : %d\n", h.EmbedPending)
	fmt.Fprintf(&sb, "  Provider      : %s (%s)\n", h.Provider, h.Model)
	fmt.Fprintf(&sb, "  Build mode    : %s\n", h.BuildMode)

	sb.WriteString("\nGlobal KB:\n")
	fmt.Fprintf(&sb, "  Entries       : %d\n", h.GlobalEntries)
	fmt.Fprintf(&sb, "  Error fixes   : %d\n", h.GlobalErrors)
	return sb.String()
}

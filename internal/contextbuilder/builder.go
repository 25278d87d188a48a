package contextbuilder

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/internal/metrics"
	"github.com/dshills/codekb/internal/searcher"
	"github.com/dshills/codekb/pkg/types"
)

const (
	DefaultMaxTokens    = 4000
	DefaultSemanticTopK = 8

	// expandTop is how many semantic hits get graph neighbours
	expandTop = 3
	// keptSemantic survives the first trimming pass
	keptSemantic = 3
	patternTopK  = 3
)

// Sources recorded in Bundle.SourcesUsed
const (
	SourceLocalSemantic = "local_semantic"
	SourceGraph         = "graph"
	SourceErrorDict     = "error_dict"
	SourceGlobalKB      = "global_kb"
)

var errorKeywords = []string{
	"error", "exception", "failed", "traceback", "undefined", "null",
	"crash", "fix", "debug", "not working", "bug", "broken",
}

var reviewKeywords = []string{
	"review", "refactor", "improve", "clean", "optimize", "pattern",
	"quality", "lint", "style",
}

var extLanguages = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".go": "go", ".rs": "rust", ".rb": "ruby",
	".c": "c", ".cpp": "cpp", ".cs": "csharp", ".php": "php",
	".swift": "swift", ".kt": "kotlin", ".scala": "scala",
}

// SemanticSearcher is the local search used for the first section
type SemanticSearcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) *searcher.SearchResponse
}

// GraphExpander finds neighbours of a symbol
type GraphExpander interface {
	RelatedSymbols(name string, depth int) []types.RelatedSymbol
}

// KnowledgeStore is the global knowledge base
type KnowledgeStore interface {
	SearchErrors(ctx context.Context, message, language string) ([]globalkb.ErrorFix, error)
	Search(ctx context.Context, query string, categories []globalkb.Category, topK int) ([]globalkb.Entry, error)
	BehavioralInstructions(ctx context.Context, task string) ([]globalkb.Entry, error)
}

// Bundle is the context gathered for one task
type Bundle struct {
	LocalSymbols   []types.SearchResult  `json:"local_symbols"`
	RelatedSymbols []types.RelatedSymbol `json:"related_symbols"`
	ErrorFixes     []globalkb.ErrorFix   `json:"error_fixes"`
	GlobalPatterns []globalkb.Entry      `json:"global_patterns"`
	Behavioral     []globalkb.Entry      `json:"behavioral_instructions"`
	TokenCount     int                   `json:"token_count"`
	KBAvailable    bool                  `json:"kb_available"`
	SourcesUsed    []string              `json:"sources_used"`
}

// Config wires a Builder. Any collaborator may be nil.
type Config struct {
	Root     string
	Searcher SemanticSearcher
	Graph    GraphExpander
	Global   KnowledgeStore

	// Available reports whether the local index can be queried. nil means it can whenever Searcher is set.
	Available func() bool

	SemanticTopK int
	Logger       *slog.Logger
}

// Builder assembles token-budgeted context bundles
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Builder
func New(cfg Config) *Builder {
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = DefaultSemanticTopK
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// HasErrorIntent reports whether the task reads like fixing a failure
func HasErrorIntent(task string) bool { return containsAny(task, errorKeywords) }

// HasReviewIntent reports whether the task reads like a review or refactor
func HasReviewIntent(task string) bool { return containsAny(task, reviewKeywords) }

// DetectLanguage maps a file extension to a language name, or ""
func DetectLanguage(file string) string {
	return extLanguages[strings.ToLower(filepath.Ext(file))]
}

func (b *Builder) localAvailable() bool {
	if b.cfg.Searcher == nil {
		return false
	}
	if b.cfg.Available == nil {
		return true
	}
	return b.cfg.Available()
}

// dirFilter returns the slash-separated directory prefix of currentFile, relative to root
func (b *Builder) dirFilter(currentFile string) string {
	if currentFile == "" {
		return ""
	}
	if filepath.IsAbs(currentFile) && b.cfg.Root != "" {
		if rel, err := filepath.Rel(b.cfg.Root, currentFile); err == nil {
			currentFile = rel
		}
	}
	dir := path.Dir(filepath.ToSlash(currentFile))
	if dir == "." || dir == "/" || strings.HasPrefix(dir, "..") {
		return ""
	}
	return dir + "/"
}

// Build gathers context for task. It never fails; collaborators that error leave their section empty.
func (b *Builder) Build(ctx context.Context, task, currentFile string, maxTokens int) *Bundle {
	start := time.Now()
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	bundle := &Bundle{}
	errorIntent := HasErrorIntent(task)
	reviewIntent := HasReviewIntent(task)
	language := DetectLanguage(currentFile)

	if b.localAvailable() {
		bundle.KBAvailable = true
		resp := b.cfg.Searcher.Search(ctx, searcher.SearchRequest{
			Query:   task,
			TopK:    b.cfg.SemanticTopK,
			Filters: searcher.Filters{File: b.dirFilter(currentFile)},
		})
		if resp != nil {
			bundle.LocalSymbols = resp.Results
		}
	}

	if b.cfg.Graph != nil && len(bundle.LocalSymbols) > 0 {
		bundle.RelatedSymbols = b.expand(bundle.LocalSymbols)
	}

	if g := b.cfg.Global; g != nil {
		if errorIntent {
			fixes, err := g.SearchErrors(ctx, task, language)
			if err != nil {
				b.logger.Debug("error lookup failed", slog.String("error", err.Error()))
			}
			bundle.ErrorFixes = fixes
		}
		if reviewIntent {
			patterns, err := g.Search(ctx, task, []globalkb.Category{globalkb.CategoryPattern, globalkb.CategoryADR}, patternTopK)
			if err != nil {
				b.logger.Debug("pattern search failed", slog.String("error", err.Error()))
			}
			bundle.GlobalPatterns = patterns
		}
		behavioral, err := g.BehavioralInstructions(ctx, task)
		if err != nil {
			b.logger.Debug("behavioral lookup failed", slog.String("error", err.Error()))
		}
		bundle.Behavioral = behavioral
	}

	applyBudget(bundle, maxTokens)
	bundle.SourcesUsed = sources(bundle)
	metrics.ContextTokens.Observe(float64(bundle.TokenCount))

	b.logger.Debug("context built",
		slog.Int("tokens", bundle.TokenCount),
		slog.Any("sources", bundle.SourcesUsed),
		slog.Duration("elapsed", time.Since(start)))
	return bundle
}

// expand merges one-hop neighbours of the top hits, unique by name
func (b *Builder) expand(hits []types.SearchResult) []types.RelatedSymbol {
	seen := make(map[string]bool)
	var out []types.RelatedSymbol
	for i := 0; i < len(hits) && i < expandTop; i++ {
		name := hits[i].SymbolName
		if seen[name] {
			continue
		}
		seen[name] = true
		for _, r := range b.cfg.Graph.RelatedSymbols(name, 1) {
			if !seen[r.Name] {
				seen[r.Name] = true
				out = append(out, r)
			}
		}
	}
	return out
}

func sources(bundle *Bundle) []string {
	out := []string{}
	if len(bundle.LocalSymbols) > 0 {
		out = append(out, SourceLocalSemantic)
	}
	if len(bundle.RelatedSymbols) > 0 {
		out = append(out, SourceGraph)
	}
	if len(bundle.ErrorFixes) > 0 {
		out = append(out, SourceErrorDict)
	}
	if len(bundle.GlobalPatterns) > 0 {
		out = append(out, SourceGlobalKB)
	}
	return out
}

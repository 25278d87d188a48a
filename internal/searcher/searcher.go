package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dshills/codekb/internal/chunker"
	"github.com/dshills/codekb/internal/embedder"
	"github.com/dshills/codekb/internal/graph"
	"github.com/dshills/codekb/internal/metrics"
	"github.com/dshills/codekb/internal/storage"
	"github.com/dshills/codekb/pkg/types"
)

// SearchMode records which path produced a response
type SearchMode string

const (
	SearchModeVector  SearchMode = "vector"  // Embedding similarity over the vector store
	SearchModeKeyword SearchMode = "keyword" // Token overlap over graph symbol names
)

const (
	DefaultTopK      = 10
	MaxTopK          = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour

	// overFetch widens the vector query so post-filtering can still fill top_k
	overFetch = 2
)

// VectorIndex is the read side of the vector store
type VectorIndex interface {
	Search(ctx context.Context, query []float32, topK int, filter *storage.Filter) ([]storage.ScoredPoint, error)
	CollectionInfo(ctx context.Context) (*storage.CollectionInfo, error)
}

// Filters narrows a search. File is a path prefix, usually a directory such as "pkg/api/".
type Filters struct {
	File       string `json:"file,omitempty"`
	Language   string `json:"language,omitempty"`
	SymbolType string `json:"symbol_type,omitempty"`
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query   string
	TopK    int
	Filters Filters
	NoCache bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results  []types.SearchResult `json:"results"`
	Mode     SearchMode           `json:"mode"`
	Duration time.Duration        `json:"duration"`
	CacheHit bool                 `json:"cache_hit"`
}

// Options configures a Searcher
type Options struct {
	CacheSize       int
	CacheTTL        time.Duration
	SnippetMaxLines int // 0 keeps the whole symbol
	Logger          *slog.Logger
}

// Searcher runs semantic search and falls back to keyword matching over the graph
// when there is no vector data or the query cannot be embedded.
// Search never fails; a broken collaborator yields fewer results.
type Searcher struct {
	root     string
	graph    *graph.Graph
	vectors  VectorIndex
	embedder embedder.Embedder
	cache    *expirable.LRU[[32]byte, *SearchResponse]
	snippet  int
	logger   *slog.Logger
}

// New creates a Searcher. vectors and emb may be nil, in which case only keyword search runs.
func New(root string, g *graph.Graph, vectors VectorIndex, emb embedder.Embedder, opts Options) *Searcher {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		root:     root,
		graph:    g,
		vectors:  vectors,
		embedder: emb,
		cache:    expirable.NewLRU[[32]byte, *SearchResponse](size, nil, ttl),
		snippet:  opts.SnippetMaxLines,
		logger:   logger,
	}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) *SearchResponse {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(req.Query) == "" {
		return &SearchResponse{Results: []types.SearchResult{}, Mode: SearchModeKeyword}
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}

	key := computeQueryHash(req)
	if !req.NoCache {
		if cached, ok := s.cache.Get(key); ok {
			metrics.SearchRequests.WithLabelValues("cache").Inc()
			resp := copySearchResponse(cached)
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp
		}
	}

	resp := s.search(ctx, req)
	resp.Duration = time.Since(start)
	metrics.SearchRequests.WithLabelValues(string(resp.Mode)).Inc()

	if !req.NoCache && len(resp.Results) > 0 {
		s.cache.Add(key, copySearchResponse(resp))
	}
	s.logger.Debug("search complete",
		slog.String("mode", string(resp.Mode)),
		slog.Int("results", len(resp.Results)),
		slog.Duration("elapsed", resp.Duration))
	return resp
}

// Invalidate drops cached responses; call after the index changes
func (s *Searcher) Invalidate() {
	s.cache.Purge()
}

func (s *Searcher) search(ctx context.Context, req SearchRequest) *SearchResponse {
	if s.vectors == nil || s.embedder == nil {
		return s.keywordSearch(req)
	}
	info, err := s.vectors.CollectionInfo(ctx)
	if err == nil && info.PointsCount == 0 {
		return s.keywordSearch(req)
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		s.logger.Warn("failed to embed query, using keyword search", slog.String("error", err.Error()))
		return s.keywordSearch(req)
	}

	hits, err := s.vectors.Search(ctx, emb.Vector, req.TopK*overFetch, &storage.Filter{
		Language:   req.Filters.Language,
		SymbolType: req.Filters.SymbolType,
	})
	if err != nil {
		s.logger.Warn("vector search failed, using keyword search", slog.String("error", err.Error()))
		return s.keywordSearch(req)
	}

	seen := make(map[string]bool, len(hits))
	results := make([]types.SearchResult, 0, req.TopK)
	for _, hit := range hits {
		if len(results) >= req.TopK {
			break
		}
		p := hit.Payload
		if !strings.HasPrefix(p.File, req.Filters.File) {
			continue
		}
		key := types.SymbolKey(p.File, p.SymbolName, p.LineStart)
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, s.result(p.SymbolName, p.SymbolType, p.File, p.LineStart, p.LineEnd, hit.Score))
	}
	sortResults(results)
	return &SearchResponse{Results: results, Mode: SearchModeVector}
}

// keywordSearch scores FUNCTION and CLASS nodes by the share of query tokens found in name or path
func (s *Searcher) keywordSearch(req SearchRequest) *SearchResponse {
	tokens := strings.Fields(strings.ToLower(req.Query))
	results := []types.SearchResult{}
	seen := make(map[string]bool)

	for _, n := range s.graph.Nodes(graph.KindFunction, graph.KindClass) {
		if !strings.HasPrefix(n.FilePath, req.Filters.File) {
			continue
		}
		if req.Filters.Language != "" && !strings.EqualFold(req.Filters.Language, s.graph.FileLanguage(n.FilePath)) {
			continue
		}
		symType := symbolType(&n)
		if req.Filters.SymbolType != "" && req.Filters.SymbolType != symType {
			continue
		}
		key := types.SymbolKey(n.FilePath, n.Name, n.LineStart)
		if seen[key] {
			continue
		}

		target := strings.ToLower(n.Name + " " + n.FilePath)
		matched := 0
		for _, t := range tokens {
			if strings.Contains(target, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		seen[key] = true
		score := float64(matched) / float64(len(tokens))
		results = append(results, s.result(n.Name, symType, n.FilePath, n.LineStart, n.LineEnd, score))
	}

	sortResults(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return &SearchResponse{Results: results, Mode: SearchModeKeyword}
}

func (s *Searcher) result(name, symType, file string, start, end int, score float64) types.SearchResult {
	return types.SearchResult{
		SymbolName:  name,
		SymbolType:  symType,
		File:        file,
		LineStart:   start,
		LineEnd:     end,
		CodeSnippet: chunker.Snippet(s.root, file, start, end, s.snippet),
		Score:       score,
		Related:     s.graph.RelatedSymbols(name, 1),
	}
}

func symbolType(n *graph.Node) string {
	if n.Kind == graph.KindClass {
		return string(types.KindClass)
	}
	return string(types.FunctionKind(n.ParentClass))
}

// sortResults orders by score, breaking ties by location so output is stable
func sortResults(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.LineStart < b.LineStart
	})
}

// computeQueryHash generates a cache key from query and filters
func computeQueryHash(req SearchRequest) [32]byte {
	key := fmt.Sprintf("%s|%d|%s|%s|%s", req.Query, req.TopK, req.Filters.File, req.Filters.Language, req.Filters.SymbolType)
	return sha256.Sum256([]byte(key))
}

// copySearchResponse creates a deep copy so cached entries cannot be mutated by callers
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Related != nil {
			dst.Results[i].Related = append([]types.RelatedSymbol(nil), r.Related...)
		}
	}
	return &dst
}

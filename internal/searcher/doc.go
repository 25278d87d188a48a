// Package searcher answers natural-language code queries.
//
// The query is embedded with the project's provider and ranked against the vector
// store by cosine similarity. Language and symbol type are pushed down to the store;
// the file filter is a path prefix applied afterwards, so the store is asked for
// twice top_k. Hits are deduplicated by file, name and start line, and each result
// carries its source snippet and the symbols one hop away in the graph.
//
// When the store is empty or the query cannot be embedded, results come from a
// keyword match over function and class names in the graph instead.
//
//	s := searcher.New(root, g, vectors, emb, searcher.Options{})
//	resp := s.Search(ctx, searcher.SearchRequest{Query: "retry with backoff", TopK: 5})
//
// Responses are cached per query and filters for an hour; Invalidate clears the
// cache after the index changes.
package searcher

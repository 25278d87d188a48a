// Package embedder turns symbol chunks into vectors and writes them to the
// vector store.
//
// Three providers implement Embedder:
//
//   - jina: Jina AI HTTP API (JINA_API_KEY)
//   - openai: OpenAI embeddings via go-openai (OPENAI_API_KEY)
//   - local: an offline hashed bag-of-words model, 384 dimensions
//
// With no provider configured, New picks jina, then openai, then local,
// depending on which API keys are set. Providers make one attempt per call
// and share an LRU cache keyed by model and content hash.
//
// # Pipeline
//
// Pipeline owns batching, pacing (golang.org/x/time/rate) and retry with
// exponential backoff (3 attempts, 100ms doubling to at most 5s). A batch
// that still fails is skipped and counted; the files it touched keep a stale
// embedded hash in the manifest and are picked up by the next pass.
//
//	p := embedder.NewPipeline(root, emb, graph, vectors, manifest, embedder.PipelineOptions{})
//	stats, err := p.EmbedProject(ctx, true)
package embedder

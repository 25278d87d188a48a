// Package indexer keeps a project's manifest and code graph in step with its files.
//
// A full index discovers indexable files (skipping build and vendor directories,
// hidden directories and .gitignore matches), parses them in parallel into a fresh
// graph, links it and swaps it in. The manifest is reconciled against the result
// so embed state of unchanged files survives. Incremental updates re-parse
// single files, skip ones whose content hash is unchanged and drop files that were
// deleted or no longer parse. Every mutation ends by re-resolving import edges,
// relinking calls and writing graph.json and meta.json under .codekb.
//
//	idx := indexer.New(root, manifest, graph.New(), indexer.Options{Logger: logger})
//	res, err := idx.FullIndex(ctx)
//
// Only one full index runs per project at a time; a second call returns
// ErrAlreadyIndexing.
package indexer

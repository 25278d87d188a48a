// Package storage provides SQLite-based persistence for the knowledge base.
//
// Two databases live under a project's .codekb directory:
//
//   - index.db holds the Manifest: one row per indexed file (path, content
//     hash, language, timestamps, last embedded hash) and the symbols each
//     file defines. Symbols cascade when their file is removed.
//   - vectors.db holds the VectorStore: one row per embedded symbol with a
//     little-endian float32 blob and a JSON payload. File, language and
//     symbol type are also stored as columns for exact-match pre-filtering.
//
// Both databases run in WAL mode with foreign keys on and a single
// connection, and both are versioned with semver migrations.
//
// # Basic Usage
//
//	m, err := storage.OpenManifest(ctx, ".codekb/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	err = m.UpsertFile(ctx, storage.FileRecord{Path: "a.py", ContentHash: h}, syms)
//	changed, err := m.IsFileChanged(ctx, "a.py", h)
//
// Vector search is exact: every candidate passing the filter is scored with
// cosine similarity in Go and points scoring zero or less are dropped.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_vec tag switches to github.com/mattn/go-sqlite3 (cgo). BuildMode
// reports which one is compiled in.
package storage

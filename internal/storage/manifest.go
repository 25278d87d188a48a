package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/codekb/pkg/types"
)

// Manifest tracks indexed files, their hashes and the symbols they define
type Manifest struct {
	db *sql.DB
}

// OpenManifest opens (or creates) the manifest database at path. Use MemoryPath in tests.
func OpenManifest(ctx context.Context, path string) (*Manifest, error) {
	db, err := openDatabase(ctx, path, ManifestMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	return &Manifest{db: db}, nil
}

// Close closes the database connection
func (m *Manifest) Close() error {
	return m.db.Close()
}

// UpsertFile inserts or updates the file row and replaces its symbols in one transaction.
// last_embedded_hash is left untouched.
func (m *Manifest) UpsertFile(ctx context.Context, file FileRecord, symbols []SymbolRecord) error {
	if file.Path == "" {
		return errors.New("file path is required")
	}
	if file.IndexedAt.IsZero() {
		file.IndexedAt = time.Now()
	}

	return withTx(ctx, m.db, func(q querier) error {
		query := `
			INSERT INTO files (path, content_hash, language, size_bytes, last_modified, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				content_hash = excluded.content_hash,
				language = excluded.language,
				size_bytes = excluded.size_bytes,
				last_modified = excluded.last_modified,
				indexed_at = excluded.indexed_at
			RETURNING id
		`
		var fileID int64
		err := q.QueryRowContext(ctx, query,
			file.Path, file.ContentHash, file.Language, file.SizeBytes,
			formatTime(file.LastModified), formatTime(file.IndexedAt)).Scan(&fileID)
		if err != nil {
			return fmt.Errorf("failed to upsert file: %w", err)
		}

		if _, err := q.ExecContext(ctx, "DELETE FROM symbols WHERE file_id = ?", fileID); err != nil {
			return fmt.Errorf("failed to delete symbols: %w", err)
		}
		for _, s := range symbols {
			_, err := q.ExecContext(ctx, `
				INSERT INTO symbols (file_id, name, kind, parent_class, line_start, line_end, docstring)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, fileID, s.Name, string(s.Kind), s.ParentClass, s.LineStart, s.LineEnd, s.Docstring)
			if err != nil {
				return fmt.Errorf("failed to insert symbol %s: %w", s.Name, err)
			}
		}
		return nil
	})
}

// GetFile returns the manifest row for path, or ErrNotFound
func (m *Manifest) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	query := `
		SELECT path, content_hash, language, size_bytes, last_modified, indexed_at, last_embedded_hash
		FROM files
		WHERE path = ?
	`
	var rec FileRecord
	var lastModified, indexedAt string
	var embedded sql.NullString
	err := m.db.QueryRowContext(ctx, query, path).Scan(
		&rec.Path, &rec.ContentHash, &rec.Language, &rec.SizeBytes,
		&lastModified, &indexedAt, &embedded,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	rec.LastModified = parseTime(lastModified)
	rec.IndexedAt = parseTime(indexedAt)
	if embedded.Valid {
		rec.LastEmbeddedHash = embedded.String
	}
	return &rec, nil
}

// IsFileChanged returns true if path is unknown or its stored hash differs from hash
func (m *Manifest) IsFileChanged(ctx context.Context, path, hash string) (bool, error) {
	var stored string
	err := m.db.QueryRowContext(ctx, "SELECT content_hash FROM files WHERE path = ?", path).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read file hash: %w", err)
	}
	return stored != hash, nil
}

// RemoveFile deletes the file row; symbols cascade. Removing an unknown path is a no-op.
func (m *Manifest) RemoveFile(ctx context.Context, path string) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// IndexedPaths returns every path in the manifest, sorted
func (m *Manifest) IndexedPaths(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// FileHashes returns path -> content hash for every indexed file
func (m *Manifest) FileHashes(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT path, content_hash FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to list file hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			return nil, err
		}
		hashes[p] = h
	}
	return hashes, rows.Err()
}

// SymbolsForFile returns the symbols recorded for path in line order
func (m *Manifest) SymbolsForFile(ctx context.Context, path string) ([]SymbolRecord, error) {
	query := `
		SELECT s.name, s.kind, s.parent_class, s.line_start, s.line_end, s.docstring
		FROM symbols s
		JOIN files f ON s.file_id = f.id
		WHERE f.path = ?
		ORDER BY s.line_start, s.name
	`
	rows, err := m.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []SymbolRecord
	for rows.Next() {
		var r SymbolRecord
		var kind string
		if err := rows.Scan(&r.Name, &kind, &r.ParentClass, &r.LineStart, &r.LineEnd, &r.Docstring); err != nil {
			return nil, err
		}
		r.Kind = types.SymbolKind(kind)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// FilesNeedingEmbed returns files whose current hash has not been embedded
func (m *Manifest) FilesNeedingEmbed(ctx context.Context) ([]EmbedCandidate, error) {
	query := `
		SELECT path, content_hash FROM files
		WHERE last_embedded_hash IS NULL OR last_embedded_hash != content_hash
		ORDER BY path
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query embed candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EmbedCandidate
	for rows.Next() {
		var c EmbedCandidate
		if err := rows.Scan(&c.Path, &c.Hash); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetEmbeddedHash records that hash was embedded for path
func (m *Manifest) SetEmbeddedHash(ctx context.Context, path, hash string) error {
	res, err := m.db.ExecContext(ctx, "UPDATE files SET last_embedded_hash = ? WHERE path = ?", hash, path)
	if err != nil {
		return fmt.Errorf("failed to set embedded hash: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindSymbol returns symbols named name, optionally restricted to kind
func (m *Manifest) FindSymbol(ctx context.Context, name string, kind types.SymbolKind) ([]SymbolMatch, error) {
	query := `
		SELECT s.name, s.kind, s.parent_class, f.path, f.language, s.line_start, s.line_end
		FROM symbols s
		JOIN files f ON s.file_id = f.id
		WHERE s.name = ?
	`
	args := []interface{}{name}
	if kind != "" {
		query += " AND s.kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY f.path, s.line_start"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find symbol: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []SymbolMatch
	for rows.Next() {
		var sm SymbolMatch
		var k string
		if err := rows.Scan(&sm.Name, &k, &sm.ParentClass, &sm.FilePath, &sm.Language, &sm.LineStart, &sm.LineEnd); err != nil {
			return nil, err
		}
		sm.Kind = types.SymbolKind(k)
		matches = append(matches, sm)
	}
	return matches, rows.Err()
}

// Stats returns file and symbol counts with a per-language breakdown
func (m *Manifest) Stats(ctx context.Context) (*ManifestStats, error) {
	stats := &ManifestStats{Languages: make(map[string]int)}
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&stats.FileCount); err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols").Scan(&stats.SymbolCount); err != nil {
		return nil, fmt.Errorf("failed to count symbols: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT language, COUNT(*) FROM files GROUP BY language")
	if err != nil {
		return nil, fmt.Errorf("failed to count languages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		stats.Languages[lang] = n
	}
	return stats, rows.Err()
}

// Clear deletes all files and symbols
func (m *Manifest) Clear(ctx context.Context) error {
	return withTx(ctx, m.db, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM symbols"); err != nil {
			return fmt.Errorf("failed to clear symbols: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM files"); err != nil {
			return fmt.Errorf("failed to clear files: %w", err)
		}
		return nil
	})
}

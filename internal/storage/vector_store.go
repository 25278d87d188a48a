package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// VectorStore persists embedding points in SQLite and ranks them by exact cosine similarity
type VectorStore struct {
	db   *sql.DB
	name string
}

// OpenVectorStore opens (or creates) the vector database at path.
// name labels the collection in CollectionInfo.
func OpenVectorStore(ctx context.Context, path, name string) (*VectorStore, error) {
	db, err := openDatabase(ctx, path, VectorMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return &VectorStore{db: db, name: name}, nil
}

// CollectionName derives the collection label for a project root
func CollectionName(projectRoot string) string {
	return "local_sqlite_" + filepath.Base(projectRoot)
}

// Close closes the database connection
func (s *VectorStore) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces points in one transaction
func (s *VectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p.ID == "" || len(p.Vector) == 0 {
			return fmt.Errorf("%w: id=%q dim=%d", ErrInvalidPoint, p.ID, len(p.Vector))
		}
	}

	return withTx(ctx, s.db, func(q querier) error {
		query := `
			INSERT INTO vectors (point_id, file, language, symbol_type, dimension, vector, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(point_id) DO UPDATE SET
				file = excluded.file,
				language = excluded.language,
				symbol_type = excluded.symbol_type,
				dimension = excluded.dimension,
				vector = excluded.vector,
				payload = excluded.payload
		`
		for _, p := range points {
			payload, err := json.Marshal(p.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload: %w", err)
			}
			_, err = q.ExecContext(ctx, query,
				p.ID, p.Payload.File, p.Payload.Language, p.Payload.SymbolType,
				len(p.Vector), serializeVector(p.Vector), string(payload))
			if err != nil {
				return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// Search returns up to topK points most similar to query. Points scoring <= 0 are dropped.
func (s *VectorStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]ScoredPoint, error) {
	if len(query) == 0 || topK <= 0 {
		return []ScoredPoint{}, nil
	}

	sqlQuery := "SELECT point_id, vector, payload FROM vectors WHERE dimension = ?"
	args := []interface{}{len(query)}
	sqlQuery, args = applyFilter(sqlQuery, args, filter)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var id, payloadJSON string
		var blob []byte
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		score := cosineSimilarity(query, deserializeVector(blob))
		if score <= 0 {
			continue
		}
		var payload Payload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", id, err)
		}
		candidates = append(candidates, candidate{id: id, score: score, payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return buildScoredPoints(candidates, topK), nil
}

// applyFilter adds exact-match WHERE clauses
func applyFilter(query string, args []interface{}, filter *Filter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}
	var clauses []string
	if filter.File != "" {
		clauses = append(clauses, "file = ?")
		args = append(args, filter.File)
	}
	if filter.Language != "" {
		clauses = append(clauses, "language = ?")
		args = append(args, filter.Language)
	}
	if filter.SymbolType != "" {
		clauses = append(clauses, "symbol_type = ?")
		args = append(args, filter.SymbolType)
	}
	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}
	return query, args
}

// DeleteByFile removes every point whose payload file is path
func (s *VectorStore) DeleteByFile(ctx context.Context, path string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE file = ?", path)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteByFileExcept removes the points of path whose id is not in keep
func (s *VectorStore) DeleteByFileExcept(ctx context.Context, path string, keep []string) (int, error) {
	if len(keep) == 0 {
		return s.DeleteByFile(ctx, path)
	}
	args := make([]interface{}, 0, len(keep)+1)
	args = append(args, path)
	for _, id := range keep {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM vectors WHERE file = ? AND point_id NOT IN ("+placeholders(len(keep))+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteByIDs removes points by id
func (s *VectorStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE point_id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Clear deletes all points
func (s *VectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}
	return nil
}

// Count returns the number of stored points
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// CollectionInfo returns the collection name and point count
func (s *VectorStore) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{Name: s.name, PointsCount: n}, nil
}

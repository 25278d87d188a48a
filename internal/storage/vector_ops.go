package storage

import (
	"encoding/binary"
	"math"
	"sort"
)

// candidate is a scored point awaiting ranking
type candidate struct {
	id      string
	score   float64
	payload Payload
}

// sortCandidates orders by score descending, then id for stable output
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
}

// buildScoredPoints returns the top limit candidates
func buildScoredPoints(candidates []candidate, limit int) []ScoredPoint {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]ScoredPoint, limit)
	for i := 0; i < limit; i++ {
		results[i] = ScoredPoint{
			ID:      candidates[i].id,
			Score:   candidates[i].score,
			Payload: candidates[i].payload,
		}
	}
	return results
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero-norm vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

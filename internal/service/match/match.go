// Package match ranks stored jobs against a query embedding by cosine
// similarity.
package match

import (
	"log/slog"
	"math"
	"sort"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// Cosine returns the cosine similarity of a and b. A zero-norm vector yields
// 0 rather than NaN.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores every candidate against the query vector, drops scores below
// minSimilarity, and returns at most limit results ordered by similarity
// descending with job ID as the tie-break. Candidates whose stored vector has
// a different dimension than the query are excluded and counted, never padded
// or truncated into comparability.
func Rank(query []float32, candidates []domain.StoredJob, minSimilarity float64, limit int) []domain.MatchResult {
	results := make([]domain.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) != len(query) {
			observability.EmbeddingDimMismatchTotal.Inc()
			slog.Warn("stored embedding dimension mismatch, excluding job",
				slog.String("job_id", c.Job.ID),
				slog.Int("stored_dim", len(c.Embedding)),
				slog.Int("query_dim", len(query)))
			continue
		}
		sim := Cosine(query, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, domain.MatchResult{Job: c.Job, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Job.ID < results[j].Job.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

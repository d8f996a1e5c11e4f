package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

func stored(id string, vec ...float32) domain.StoredJob {
	return domain.StoredJob{
		Job:       domain.EnrichedJob{RawJob: domain.RawJob{ID: id}},
		Embedding: vec,
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	// zero-norm vectors yield 0, not NaN
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{0, 0}))
	// mismatched lengths yield 0
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
}

func TestRankOrdersBySimilarityDescending(t *testing.T) {
	t.Parallel()
	query := []float32{1, 0}
	out := Rank(query, []domain.StoredJob{
		stored("far", 0, 1),
		stored("mid-way", 1, 0.1),
		stored("exact", 1, 0),
	}, 0, 0)
	require.Len(t, out, 3)
	assert.Equal(t, "exact", out[0].Job.ID)
	assert.InDelta(t, 1.0, out[0].Similarity, 1e-9)
	assert.Equal(t, "mid-way", out[1].Job.ID)
	assert.Equal(t, "far", out[2].Job.ID)
}

func TestRankFiltersBelowMinSimilarity(t *testing.T) {
	t.Parallel()
	query := []float32{1, 0}
	out := Rank(query, []domain.StoredJob{
		stored("orthogonal", 0, 1),
		stored("close", 1, 0.2),
	}, 0.5, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "close", out[0].Job.ID)
}

func TestRankAppliesLimit(t *testing.T) {
	t.Parallel()
	query := []float32{1, 0}
	out := Rank(query, []domain.StoredJob{
		stored("a", 1, 0),
		stored("b", 1, 0.1),
		stored("c", 1, 0.2),
	}, 0, 2)
	assert.Len(t, out, 2)
}

func TestRankExcludesDimensionMismatch(t *testing.T) {
	t.Parallel()
	query := []float32{1, 0}
	out := Rank(query, []domain.StoredJob{
		stored("wrong-dim", 1, 0, 0),
		stored("ok", 1, 0),
	}, 0, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Job.ID)
}

func TestRankTieBreaksOnJobID(t *testing.T) {
	t.Parallel()
	query := []float32{1, 0}
	out := Rank(query, []domain.StoredJob{
		stored("b", 2, 0),
		stored("a", 1, 0),
	}, 0, 0)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Job.ID)
	assert.Equal(t, "b", out[1].Job.ID)
}

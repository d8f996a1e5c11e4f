package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over pre-baked value tuples.
type rowsStub struct {
	rows [][]any
	idx  int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                       { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }

func (r *rowsStub) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *rowsStub) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("unsupported dest type")
		}
	}
	return nil
}

type poolStub struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	querySQL string
	queryArg []any
	rows     *rowsStub
	queryErr error
	row      rowStub
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.querySQL = sql
	p.queryArg = args
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		p.rows = &rowsStub{}
	}
	return p.rows, nil
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}
	}
	return p.row
}

func enriched(id string) domain.EnrichedJob {
	return domain.EnrichedJob{
		RawJob: domain.RawJob{
			ID:       id,
			Company:  "Acme",
			Position: "Backend Engineer",
			Tags:     []string{"go"},
		},
		Skills:    []string{"Go", "Kafka"},
		Seniority: domain.SenioritySenior,
		Summary:   "Backend role.",
		Embedding: []float32{0.1, 0.2},
	}
}

func storedRow(t *testing.T, id string, createdAt time.Time, vec []float32) []any {
	t.Helper()
	tags, err := json.Marshal([]string{"go"})
	require.NoError(t, err)
	skills, err := json.Marshal([]string{"Go"})
	require.NoError(t, err)
	embedding, err := json.Marshal(vec)
	require.NoError(t, err)
	return []any{id, "Acme", "Backend Engineer", "Remote", "https://a", tags, "desc", skills, "Senior", "sum", embedding, createdAt}
}

func TestUpsertPreservesCreatedAtOnConflict(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool)

	require.NoError(t, repo.UpsertEnrichedJob(context.Background(), enriched("job-1")))
	require.Len(t, pool.execSQL, 1)
	q := pool.execSQL[0]
	assert.Contains(t, q, "ON CONFLICT (id) DO UPDATE")
	assert.Contains(t, q, "updated_at = EXCLUDED.updated_at")
	assert.NotContains(t, q, "created_at = EXCLUDED.created_at")
}

func TestUpsertMarshalsJSONColumns(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool)

	require.NoError(t, repo.UpsertEnrichedJob(context.Background(), enriched("job-1")))
	args := pool.execArgs[0]
	require.Len(t, args, 12)
	assert.JSONEq(t, `["go"]`, string(args[5].([]byte)))
	assert.JSONEq(t, `["Go","Kafka"]`, string(args[7].([]byte)))
	assert.JSONEq(t, `[0.1,0.2]`, string(args[10].([]byte)))
}

func TestUpsertWrapsPoolError(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execErr: errors.New("connection refused")}
	repo := postgres.NewJobRepo(pool)

	err := repo.UpsertEnrichedJob(context.Background(), enriched("job-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=jobs.upsert")
}

func TestQueryDecodesRows(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	pool := &poolStub{rows: &rowsStub{rows: [][]any{
		storedRow(t, "job-1", now, []float32{0.1, 0.2}),
		storedRow(t, "job-2", now.Add(-time.Hour), []float32{0.3, 0.4}),
	}}}
	repo := postgres.NewJobRepo(pool)

	out, err := repo.Query(context.Background(), domain.JobFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "job-1", out[0].Job.ID)
	assert.Equal(t, []float32{0.1, 0.2}, out[0].Embedding)
	assert.Equal(t, []string{"Go"}, out[0].Job.Skills)
	assert.Contains(t, pool.querySQL, "ORDER BY created_at DESC")
	assert.NotContains(t, pool.querySQL, "WHERE")
}

func TestQueryAppliesFilters(t *testing.T) {
	t.Parallel()
	pool := &poolStub{rows: &rowsStub{}}
	repo := postgres.NewJobRepo(pool)

	_, err := repo.Query(context.Background(), domain.JobFilter{
		Seniority: domain.SenioritySenior,
		Skills:    []string{"Go"},
	}, 5)
	require.NoError(t, err)
	assert.Contains(t, pool.querySQL, "seniority = $1")
	assert.Contains(t, pool.querySQL, "skills @> $2")
	assert.Contains(t, pool.querySQL, "LIMIT $3")
	require.Len(t, pool.queryArg, 3)
	assert.Equal(t, domain.SenioritySenior, pool.queryArg[0])
	assert.Equal(t, 5, pool.queryArg[2])
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{})
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnsureSchemaIssuesCreateStatements(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool)

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.GreaterOrEqual(t, len(pool.execSQL), 2)
	assert.Contains(t, pool.execSQL[0], "CREATE TABLE IF NOT EXISTS jobs_enriched")
}

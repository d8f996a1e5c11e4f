// Package postgres persists enriched jobs in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// JobRepo persists and loads enriched jobs using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// EnsureSchema creates the jobs_enriched table and its indexes when missing.
// Called by the worker at startup so a fresh database works out of the box.
func (r *JobRepo) EnsureSchema(ctx domain.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs_enriched (
			id TEXT PRIMARY KEY,
			company TEXT NOT NULL DEFAULT '',
			position TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			tags JSONB NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			skills JSONB NOT NULL DEFAULT '[]',
			seniority TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			embedding JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_enriched_seniority ON jobs_enriched (seniority)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_enriched_created_at ON jobs_enriched (created_at DESC)`,
	}
	for _, q := range stmts {
		if _, err := r.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=jobs.ensure_schema: %w", err)
		}
	}
	return nil
}

// UpsertEnrichedJob inserts or replaces an enriched job keyed by id. The
// update path is last-writer-wins for every enriched field but leaves
// created_at at its original value so re-enrichment does not rewrite history.
func (r *JobRepo) UpsertEnrichedJob(ctx domain.Context, job domain.EnrichedJob) error {
	tracer := otel.Tracer("repo.jobs_enriched")
	ctx, span := tracer.Start(ctx, "jobs_enriched.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs_enriched"),
	)

	tags, err := json.Marshal(orEmpty(job.Tags))
	if err != nil {
		return fmt.Errorf("op=jobs.upsert: marshal tags: %w", err)
	}
	skills, err := json.Marshal(orEmpty(job.Skills))
	if err != nil {
		return fmt.Errorf("op=jobs.upsert: marshal skills: %w", err)
	}
	embedding, err := json.Marshal(job.Embedding)
	if err != nil {
		return fmt.Errorf("op=jobs.upsert: marshal embedding: %w", err)
	}

	q := `INSERT INTO jobs_enriched
		(id, company, position, location, url, tags, description, skills, seniority, summary, embedding, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		ON CONFLICT (id) DO UPDATE SET
			company = EXCLUDED.company,
			position = EXCLUDED.position,
			location = EXCLUDED.location,
			url = EXCLUDED.url,
			tags = EXCLUDED.tags,
			description = EXCLUDED.description,
			skills = EXCLUDED.skills,
			seniority = EXCLUDED.seniority,
			summary = EXCLUDED.summary,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`
	_, err = r.Pool.Exec(ctx, q,
		job.ID, job.Company, job.Position, job.Location, job.URL,
		tags, job.Description, skills, job.Seniority, job.Summary,
		embedding, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=jobs.upsert: %w", err)
	}
	return nil
}

// Query loads stored jobs matching the filter, newest first. Skills filtering
// uses JSONB containment, so every requested skill must be present.
func (r *JobRepo) Query(ctx domain.Context, filter domain.JobFilter, limit int) ([]domain.StoredJob, error) {
	tracer := otel.Tracer("repo.jobs_enriched")
	ctx, span := tracer.Start(ctx, "jobs_enriched.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs_enriched"),
	)

	q := `SELECT id, company, position, location, url, tags, description, skills, seniority, summary, embedding, created_at FROM jobs_enriched`
	args := make([]any, 0, 3)
	if filter.Seniority != "" {
		args = append(args, filter.Seniority)
		q += fmt.Sprintf(" WHERE seniority = $%d", len(args))
	}
	if len(filter.Skills) > 0 {
		want, err := json.Marshal(filter.Skills)
		if err != nil {
			return nil, fmt.Errorf("op=jobs.query: marshal skills filter: %w", err)
		}
		args = append(args, want)
		clause := "WHERE"
		if len(args) > 1 {
			clause = "AND"
		}
		q += fmt.Sprintf(" %s skills @> $%d", clause, len(args))
	}
	q += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=jobs.query: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredJob
	for rows.Next() {
		var (
			job       domain.EnrichedJob
			tags      []byte
			skills    []byte
			embedding []byte
		)
		if err := rows.Scan(&job.ID, &job.Company, &job.Position, &job.Location, &job.URL,
			&tags, &job.Description, &skills, &job.Seniority, &job.Summary,
			&embedding, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=jobs.query: scan: %w", err)
		}
		if err := json.Unmarshal(tags, &job.Tags); err != nil {
			return nil, fmt.Errorf("op=jobs.query: decode tags id=%s: %w", job.ID, err)
		}
		if err := json.Unmarshal(skills, &job.Skills); err != nil {
			return nil, fmt.Errorf("op=jobs.query: decode skills id=%s: %w", job.ID, err)
		}
		var vec []float32
		if err := json.Unmarshal(embedding, &vec); err != nil {
			return nil, fmt.Errorf("op=jobs.query: decode embedding id=%s: %w", job.ID, err)
		}
		out = append(out, domain.StoredJob{Job: job, Embedding: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=jobs.query: %w", err)
	}
	return out, nil
}

// Get loads a single enriched job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.StoredJob, error) {
	tracer := otel.Tracer("repo.jobs_enriched")
	ctx, span := tracer.Start(ctx, "jobs_enriched.Get")
	defer span.End()

	q := `SELECT id, company, position, location, url, tags, description, skills, seniority, summary, embedding, created_at FROM jobs_enriched WHERE id = $1`
	row := r.Pool.QueryRow(ctx, q, id)
	var (
		job       domain.EnrichedJob
		tags      []byte
		skills    []byte
		embedding []byte
	)
	if err := row.Scan(&job.ID, &job.Company, &job.Position, &job.Location, &job.URL,
		&tags, &job.Description, &skills, &job.Seniority, &job.Summary,
		&embedding, &job.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.StoredJob{}, fmt.Errorf("op=jobs.get: %w", domain.ErrNotFound)
		}
		return domain.StoredJob{}, fmt.Errorf("op=jobs.get: %w", err)
	}
	if err := json.Unmarshal(tags, &job.Tags); err != nil {
		return domain.StoredJob{}, fmt.Errorf("op=jobs.get: decode tags: %w", err)
	}
	if err := json.Unmarshal(skills, &job.Skills); err != nil {
		return domain.StoredJob{}, fmt.Errorf("op=jobs.get: decode skills: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(embedding, &vec); err != nil {
		return domain.StoredJob{}, fmt.Errorf("op=jobs.get: decode embedding: %w", err)
	}
	return domain.StoredJob{Job: job, Embedding: vec}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

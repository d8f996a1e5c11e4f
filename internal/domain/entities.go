package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")

	// ErrProviderExhausted signals that every credential in the dispatcher
	// pool was tried within the retry budget and none produced a result.
	// The HTTP surface maps it to 429.
	ErrProviderExhausted = errors.New("all credentials exhausted")
)

// Seniority enumerates the closed set of seniority levels.
const (
	SeniorityJunior = "Junior"
	SeniorityMid    = "Mid"
	SenioritySenior = "Senior"
	SeniorityLead   = "Lead"
)

// ValidSeniority reports whether s is a member of the closed seniority set.
func ValidSeniority(s string) bool {
	switch s {
	case SeniorityJunior, SeniorityMid, SenioritySenior, SeniorityLead:
		return true
	}
	return false
}

// RawJob is a job posting exactly as received from the raw-jobs topic.
// Immutable once received.
type RawJob struct {
	ID          string   `json:"id"`
	Company     string   `json:"company"`
	Position    string   `json:"position"`
	Location    string   `json:"location"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

// EnrichedJob is the persistent unit: a RawJob plus LLM-derived structure
// and its embedding vector.
// Invariants: len(Embedding) == configured dimension; Seniority in closed set.
type EnrichedJob struct {
	RawJob
	Skills    []string  `json:"skills"`
	Seniority string    `json:"seniority"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// ResumeProfile is the structured profile extracted from a resume. Transient
// per request; never persisted.
type ResumeProfile struct {
	Skills          []string `json:"skills"`
	ExperienceYears int      `json:"experience_years"`
	Summary         string   `json:"summary"`
	KeyStrengths    []string `json:"key_strengths"`
	Education       string   `json:"education"`
	JobTitles       []string `json:"job_titles"`
}

// SkillGap compares a candidate profile against one job's requirements.
type SkillGap struct {
	Missing         []string `json:"missing_skills"`
	Matching        []string `json:"matching_skills"`
	Recommendations []string `json:"recommendations"`
}

// MatchResult pairs a stored job with its similarity to a query vector.
// Gap is populated only for the top matches when gap analysis is requested.
type MatchResult struct {
	Job        EnrichedJob `json:"job"`
	Similarity float64     `json:"similarity"`
	Gap        *SkillGap   `json:"skill_gap,omitempty"`
}

// JobFilter narrows the candidate set for ranking.
// Zero values mean "no constraint".
type JobFilter struct {
	Seniority string
	Skills    []string
}

// StoredJob is the tuple the store returns for ranking: the job metadata plus
// its raw embedding as persisted (which may have a legacy dimensionality).
type StoredJob struct {
	Job       EnrichedJob
	Embedding []float32
}

// Provider is the low-level LLM collaborator consumed by the dispatcher.
// Implementations surface errors distinguishable via errors.Is into
// ErrUpstreamRateLimit, ErrUpstreamTimeout, and transport failures.
type Provider interface {
	// Generate produces text for a prompt using the given model id and
	// credential token.
	Generate(ctx Context, credential, model, prompt string, maxTokens int, temperature float64) (string, error)
	// Embed produces an embedding vector for text; dimensionality is
	// whatever the provider returns and is validated by the dispatcher.
	Embed(ctx Context, credential, model, text string) ([]float32, error)
}

// JobStore persists enriched jobs and serves ranking candidates.
type JobStore interface {
	// UpsertEnrichedJob writes the job keyed by id; last writer wins,
	// created_at is preserved on replacement.
	UpsertEnrichedJob(ctx Context, job EnrichedJob) error
	// Query returns stored tuples matching the filter, up to limit
	// (limit <= 0 means no cap).
	Query(ctx Context, filter JobFilter, limit int) ([]StoredJob, error)
}

// JobCache is a best-effort cache; failures are logged and ignored.
type JobCache interface {
	CacheJob(ctx Context, job EnrichedJob, ttl time.Duration) error
}

// TextExtractor extracts plain text from an uploaded document.
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// Context is an alias so adapters and services share the std context without
// the domain package spelling the import at every call site.
type Context = context.Context

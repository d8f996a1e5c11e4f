// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
	"github.com/fairyhunter13/ai-job-matcher/internal/service/match"
	"github.com/fairyhunter13/ai-job-matcher/pkg/textx"
)

// charsPerPage approximates how much extracted text one resume page yields;
// used to cap the prompt for very long documents.
const charsPerPage = 3500

// AI is the slice of the dispatcher the analyzer needs.
type AI interface {
	GenerateJSON(ctx domain.Context, prompt string, out any) error
	Embed(ctx domain.Context, text string) ([]float32, error)
}

// MatchOptions tune a single analyze request. IncludeGap is a pointer so an
// unset value can default to on; gap analysis runs unless the caller turns it
// off.
type MatchOptions struct {
	Limit         int
	MinSimilarity float64
	IncludeGap    *bool
	GapDepth      int
}

// MatchResponse is the analyzer's result: the extracted profile plus ranked
// matches, with gap analysis attached to the top matches when requested.
type MatchResponse struct {
	Profile          domain.ResumeProfile `json:"profile"`
	Matches          []domain.MatchResult `json:"matches"`
	ProcessingTimeMS int64                `json:"processing_time_ms"`
}

// AnalyzeService orchestrates resume analysis: extract, profile, embed, rank,
// and gap analysis.
type AnalyzeService struct {
	AI        AI
	Store     domain.JobStore
	Extractor domain.TextExtractor
	Cfg       config.Config
}

// NewAnalyzeService constructs an AnalyzeService with its dependencies.
func NewAnalyzeService(ai AI, store domain.JobStore, ex domain.TextExtractor, cfg config.Config) AnalyzeService {
	return AnalyzeService{AI: ai, Store: store, Extractor: ex, Cfg: cfg}
}

// normalize fills option defaults from config, enables gap analysis when the
// caller did not choose, and clamps the gap depth to the result count ceiling.
func (s AnalyzeService) normalize(opts MatchOptions) MatchOptions {
	if opts.Limit <= 0 {
		opts.Limit = s.Cfg.MatchLimit
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = s.Cfg.MinSimilarity
	}
	if opts.GapDepth <= 0 {
		opts.GapDepth = s.Cfg.GapDepth
	}
	if opts.IncludeGap == nil {
		on := true
		opts.IncludeGap = &on
	}
	if opts.GapDepth > opts.Limit {
		opts.GapDepth = opts.Limit
	}
	return opts
}

// AnalyzeResume runs the full pipeline for an uploaded resume file. The
// provider is consulted three times by default (profile, embed, and one
// combined gap call covering every top match) and twice when gap analysis is
// turned off.
func (s AnalyzeService) AnalyzeResume(ctx domain.Context, fileName, path string, opts MatchOptions) (MatchResponse, error) {
	tracer := otel.Tracer("usecase.analyze")
	ctx, span := tracer.Start(ctx, "AnalyzeResume")
	defer span.End()
	start := time.Now()
	opts = s.normalize(opts)

	text, err := s.Extractor.ExtractPath(ctx, fileName, path)
	if err != nil {
		return MatchResponse{}, fmt.Errorf("op=analyze.extract: %w", err)
	}
	text = textx.Truncate(strings.TrimSpace(text), s.Cfg.ResumeMaxPages*charsPerPage)
	if text == "" {
		return MatchResponse{}, fmt.Errorf("%w: no text extracted from resume", domain.ErrInvalidArgument)
	}

	var profile domain.ResumeProfile
	if err := s.AI.GenerateJSON(ctx, buildProfilePrompt(text), &profile); err != nil {
		return MatchResponse{}, fmt.Errorf("op=analyze.profile: %w", err)
	}

	vec, err := s.AI.Embed(ctx, profileEmbeddingText(profile))
	if err != nil {
		return MatchResponse{}, fmt.Errorf("op=analyze.embed: %w", err)
	}

	candidates, err := s.Store.Query(ctx, domain.JobFilter{}, 0)
	if err != nil {
		return MatchResponse{}, fmt.Errorf("op=analyze.candidates: %w", err)
	}

	results := match.Rank(vec, candidates, opts.MinSimilarity, opts.Limit)

	if *opts.IncludeGap && len(results) > 0 {
		depth := opts.GapDepth
		if depth > len(results) {
			depth = len(results)
		}
		gaps, err := s.analyzeGaps(ctx, profile, results[:depth])
		if err != nil {
			return MatchResponse{}, fmt.Errorf("op=analyze.gaps: %w", err)
		}
		for i := range gaps {
			if i < len(results) {
				g := gaps[i]
				results[i].Gap = &g
			}
		}
	}

	elapsed := time.Since(start)
	observability.ResumeMatchDuration.Observe(elapsed.Seconds())
	return MatchResponse{
		Profile:          profile,
		Matches:          results,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}, nil
}

// analyzeGaps asks for the skill gap of every top match in a single combined
// call; the reply carries one gap per listed job, in order.
func (s AnalyzeService) analyzeGaps(ctx domain.Context, profile domain.ResumeProfile, top []domain.MatchResult) ([]domain.SkillGap, error) {
	var out struct {
		Gaps []domain.SkillGap `json:"gaps"`
	}
	if err := s.AI.GenerateJSON(ctx, buildGapPrompt(profile, top), &out); err != nil {
		return nil, err
	}
	if len(out.Gaps) > len(top) {
		out.Gaps = out.Gaps[:len(top)]
	}
	return out.Gaps, nil
}

func buildProfilePrompt(resumeText string) string {
	var b strings.Builder
	b.WriteString("You are a resume analyst. Extract a structured profile from the resume below.\n")
	b.WriteString("Respond with ONLY a JSON object of this exact shape:\n")
	b.WriteString(`{"skills": ["skill1"], "experience_years": 0, "summary": "one to two sentences", "key_strengths": ["strength1"], "education": "highest degree", "job_titles": ["title1"]}`)
	b.WriteString("\n\nResume:\n")
	b.WriteString(resumeText)
	return b.String()
}

func profileEmbeddingText(p domain.ResumeProfile) string {
	var parts []string
	if len(p.JobTitles) > 0 {
		parts = append(parts, strings.Join(p.JobTitles, ", "))
	}
	if len(p.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(p.Skills, ", "))
	}
	if p.Summary != "" {
		parts = append(parts, p.Summary)
	}
	return strings.Join(parts, ". ")
}

func buildGapPrompt(profile domain.ResumeProfile, top []domain.MatchResult) string {
	var b strings.Builder
	b.WriteString("You are a career advisor. Compare the candidate's skills against each job below.\n")
	b.WriteString("Respond with ONLY a JSON object of this exact shape, one entry per job in the same order:\n")
	b.WriteString(`{"gaps": [{"missing_skills": ["skill"], "matching_skills": ["skill"], "recommendations": ["advice"]}]}`)
	b.WriteString("\n\nCandidate skills: ")
	b.WriteString(strings.Join(profile.Skills, ", "))
	b.WriteString("\n\nJobs:\n")
	for i, r := range top {
		fmt.Fprintf(&b, "%d. %s at %s (requires: %s)\n",
			i+1, r.Job.Position, r.Job.Company, strings.Join(r.Job.Skills, ", "))
	}
	return b.String()
}

// Package enrich turns raw job postings into enriched, embedded records.
package enrich

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
	"github.com/fairyhunter13/ai-job-matcher/pkg/textx"
)

// MaxSkills caps the skill list kept on an enriched job.
const MaxSkills = 15

// maxDescriptionChars bounds the posting description folded into prompts and
// embedding text.
const maxDescriptionChars = 4000

// AI is the slice of the dispatcher the enrichment transform needs.
type AI interface {
	GenerateJSON(ctx domain.Context, prompt string, out any) error
	Embed(ctx domain.Context, text string) ([]float32, error)
}

// Service implements the enrichment transform.
type Service struct {
	ai AI
}

// New constructs an enrichment service.
func New(ai AI) *Service {
	return &Service{ai: ai}
}

// extraction is the structured shape requested from the model.
type extraction struct {
	Skills    []string `json:"skills"`
	Seniority string   `json:"seniority"`
	Summary   string   `json:"summary"`
}

// Enrich extracts skills, seniority, and a summary from a raw posting and
// embeds the combined text. The generation output is normalized so the stored
// record never depends on model formatting quirks.
func (s *Service) Enrich(ctx domain.Context, raw domain.RawJob) (domain.EnrichedJob, error) {
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Position) == "" {
		return domain.EnrichedJob{}, fmt.Errorf("%w: job id and position required", domain.ErrInvalidArgument)
	}

	var ext extraction
	if err := s.ai.GenerateJSON(ctx, buildExtractionPrompt(raw), &ext); err != nil {
		return domain.EnrichedJob{}, fmt.Errorf("op=enrich.Enrich job_id=%s: %w", raw.ID, err)
	}

	job := domain.EnrichedJob{
		RawJob:    raw,
		Skills:    NormalizeSkills(ext.Skills),
		Seniority: NormalizeSeniority(ext.Seniority),
		Summary:   strings.TrimSpace(ext.Summary),
	}

	vec, err := s.ai.Embed(ctx, EmbeddingText(job))
	if err != nil {
		return domain.EnrichedJob{}, fmt.Errorf("op=enrich.Enrich job_id=%s: %w", raw.ID, err)
	}
	job.Embedding = vec
	return job, nil
}

func buildExtractionPrompt(raw domain.RawJob) string {
	var b strings.Builder
	b.WriteString("You are a job posting analyst. Extract structured data from the posting below.\n")
	b.WriteString("Respond with ONLY a JSON object of this exact shape:\n")
	b.WriteString(`{"skills": ["skill1", "skill2"], "seniority": "Junior|Mid|Senior|Lead", "summary": "one to two sentences"}`)
	b.WriteString("\n\nPosting:\n")
	fmt.Fprintf(&b, "Position: %s\n", textx.SanitizeText(raw.Position))
	fmt.Fprintf(&b, "Company: %s\n", textx.SanitizeText(raw.Company))
	if raw.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", textx.SanitizeText(raw.Location))
	}
	if len(raw.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(raw.Tags, ", "))
	}
	if desc := textx.SanitizeText(raw.Description); desc != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", textx.Truncate(desc, maxDescriptionChars))
	}
	return b.String()
}

// EmbeddingText composes the text embedded for a job. Kept deterministic so
// re-enriching the same posting produces comparable vectors.
func EmbeddingText(job domain.EnrichedJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s.", job.Position, job.Company)
	if job.Location != "" {
		fmt.Fprintf(&b, " Location: %s.", job.Location)
	}
	if job.Seniority != "" {
		fmt.Fprintf(&b, " Seniority: %s.", job.Seniority)
	}
	if len(job.Skills) > 0 {
		fmt.Fprintf(&b, " Skills: %s.", strings.Join(job.Skills, ", "))
	}
	if job.Summary != "" {
		fmt.Fprintf(&b, " %s", job.Summary)
	} else if desc := textx.SanitizeText(job.Description); desc != "" {
		fmt.Fprintf(&b, " %s", textx.Truncate(desc, maxDescriptionChars))
	}
	return b.String()
}

// NormalizeSkills trims entries, drops blanks, removes case-insensitive
// duplicates keeping the first occurrence, and caps the list at MaxSkills.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, sk := range skills {
		sk = strings.TrimSpace(sk)
		if sk == "" {
			continue
		}
		key := strings.ToLower(sk)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sk)
		if len(out) == MaxSkills {
			break
		}
	}
	return out
}

// NormalizeSeniority folds free-form seniority labels into the four canonical
// levels. Unknown labels land on Mid.
func NormalizeSeniority(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case strings.Contains(v, "junior"), strings.Contains(v, "entry"):
		return domain.SeniorityJunior
	case strings.Contains(v, "lead"), strings.Contains(v, "principal"), strings.Contains(v, "staff"):
		return domain.SeniorityLead
	case strings.Contains(v, "senior"), v == "sr", strings.HasPrefix(v, "sr."), strings.HasPrefix(v, "sr "):
		return domain.SenioritySenior
	default:
		return domain.SeniorityMid
	}
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
	"github.com/fairyhunter13/ai-job-matcher/internal/usecase"
)

// JobFeed serves the recently-enriched job list, typically backed by Redis.
type JobFeed interface {
	RecentJobIDs(ctx domain.Context, n int) ([]string, error)
	GetJob(ctx domain.Context, id string) (domain.EnrichedJob, error)
}

// JobGetter loads one stored job by id, typically backed by Postgres.
type JobGetter interface {
	Get(ctx domain.Context, id string) (domain.StoredJob, error)
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Analyze    usecase.AnalyzeService
	Feed       JobFeed
	Store      JobGetter
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	TikaCheck  func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, analyze usecase.AnalyzeService, feed JobFeed, store JobGetter, dbCheck, redisCheck, tikaCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Analyze: analyze, Feed: feed, Store: store, DBCheck: dbCheck, RedisCheck: redisCheck, TikaCheck: tikaCheck}
}

// allowedExt enforces the resume upload allowlist: PDF only.
func allowedExt(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

func allowedMIME(m string) bool {
	return strings.ToLower(m) == "application/pdf"
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type matchParams struct {
	Limit         int     `validate:"omitempty,min=1,max=20"`
	MinSimilarity float64 `validate:"omitempty,min=0,max=1"`
	GapDepth      int     `validate:"omitempty,min=1,max=10"`
}

// parseMatchOptions reads the tuning knobs from form values (multipart fields
// or query parameters; form fields win).
func parseMatchOptions(r *http.Request) (usecase.MatchOptions, error) {
	var opts usecase.MatchOptions
	var params matchParams
	if v := r.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidArgument)
		}
		params.Limit = n
	}
	if v := r.FormValue("min_similarity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("%w: min_similarity must be a number", domain.ErrInvalidArgument)
		}
		params.MinSimilarity = f
	}
	if v := r.FormValue("gap_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: gap_depth must be an integer", domain.ErrInvalidArgument)
		}
		params.GapDepth = n
	}
	if err := getValidator().Struct(params); err != nil {
		return opts, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	opts.Limit = params.Limit
	opts.MinSimilarity = params.MinSimilarity
	opts.GapDepth = params.GapDepth
	if v := r.FormValue("include_gap"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: include_gap must be a boolean", domain.ErrInvalidArgument)
		}
		opts.IncludeGap = &b
	}
	return opts, nil
}

// ResumeMatchHandler accepts a multipart resume upload and returns ranked job
// matches for it.
func (s *Server) ResumeMatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "NOT_ACCEPTABLE", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes*2)
		if err := r.ParseMultipartForm(maxBytes * 2); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "PAYLOAD_TOO_LARGE", "message": "payload too large", "details": map[string]any{"max_mb": s.Cfg.MaxUploadMB}}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("resume")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: resume file required", domain.ErrInvalidArgument), map[string]string{"field": "resume"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: resume read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		if len(data) == 0 {
			writeError(w, r, fmt.Errorf("%w: resume file is empty", domain.ErrInvalidArgument), nil)
			return
		}
		if !allowedExt(header.Filename) {
			writeError(w, r, fmt.Errorf("%w: resume must be a PDF file", domain.ErrInvalidArgument), map[string]string{"filename": header.Filename})
			return
		}
		mt := mimetype.Detect(data)
		if !allowedMIME(mt.String()) {
			writeError(w, r, fmt.Errorf("%w: resume content is not a PDF", domain.ErrInvalidArgument), map[string]string{"mime": mt.String(), "filename": header.Filename})
			return
		}

		opts, err := parseMatchOptions(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		// Spool to a temp file so the extractor reads from disk.
		tmp, err := os.CreateTemp("", "resume-*")
		if err != nil {
			writeError(w, r, fmt.Errorf("resume spool: %w", err), nil)
			return
		}
		defer func() { _ = os.Remove(tmp.Name()); _ = tmp.Close() }()
		if _, err := tmp.Write(data); err != nil {
			writeError(w, r, fmt.Errorf("resume spool: %w", err), nil)
			return
		}

		resp, err := s.Analyze.AnalyzeResume(r.Context(), header.Filename, tmp.Name(), opts)
		if err != nil {
			LoggerFrom(r).Warn("resume analysis failed", "error", err)
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RecentJobsHandler returns the most recently enriched jobs, newest first.
// Cache misses fall back to the store so the feed survives Redis evictions.
func (s *Server) RecentJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 100 {
				writeError(w, r, fmt.Errorf("%w: limit must be between 1 and 100", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		ids, err := s.Feed.RecentJobIDs(r.Context(), limit)
		if err != nil {
			writeError(w, r, fmt.Errorf("recent jobs: %w", err), nil)
			return
		}
		jobs := make([]domain.EnrichedJob, 0, len(ids))
		for _, id := range ids {
			job, err := s.lookupJob(r.Context(), id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				writeError(w, r, fmt.Errorf("recent jobs: %w", err), nil)
				return
			}
			jobs = append(jobs, job)
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
	}
}

// GetJobHandler returns one enriched job by id.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument), nil)
			return
		}
		job, err := s.lookupJob(r.Context(), id)
		if err != nil {
			writeError(w, r, err, map[string]string{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// lookupJob reads a job from the cache first and falls back to the store.
func (s *Server) lookupJob(ctx context.Context, id string) (domain.EnrichedJob, error) {
	if s.Feed != nil {
		job, err := s.Feed.GetJob(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.EnrichedJob{}, err
		}
	}
	if s.Store == nil {
		return domain.EnrichedJob{}, fmt.Errorf("op=lookupJob: %w", domain.ErrNotFound)
	}
	stored, err := s.Store.Get(ctx, id)
	if err != nil {
		return domain.EnrichedJob{}, err
	}
	return stored.Job, nil
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler is the readiness probe: every wired dependency check must
// pass for a 200.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		name string
		fn   func(ctx context.Context) error
	}
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []check{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"tika", s.TikaCheck},
		}
		statuses := map[string]string{}
		ready := true
		for _, c := range checks {
			if c.fn == nil {
				statuses[c.name] = "skipped"
				continue
			}
			if err := c.fn(r.Context()); err != nil {
				statuses[c.name] = err.Error()
				ready = false
				continue
			}
			statuses[c.name] = "ok"
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": statuses})
	}
}

// Command jobseed publishes raw job postings from a YAML file onto the
// raw-jobs topic. It exists for local development and demo seeding.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

type seedFile struct {
	Jobs []domain.RawJob `yaml:"jobs"`
}

func main() {
	file := flag.String("file", "jobs.yaml", "YAML file with a jobs: list of raw postings")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	raw, err := os.ReadFile(*file)
	if err != nil {
		slog.Error("seed file read failed", slog.String("file", *file), slog.Any("error", err))
		os.Exit(1)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		slog.Error("seed file parse failed", slog.String("file", *file), slog.Any("error", err))
		os.Exit(1)
	}
	if len(seed.Jobs) == 0 {
		slog.Error("seed file contains no jobs", slog.String("file", *file))
		os.Exit(1)
	}

	producer, err := redpanda.NewProducer(cfg)
	if err != nil {
		slog.Error("producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	published := 0
	for _, job := range seed.Jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		// Retry transient broker failures with exponential backoff so a
		// slow-starting local Redpanda does not abort the seed run.
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
		err := backoff.Retry(func() error {
			return producer.PublishRawJob(ctx, job)
		}, bo)
		if err != nil {
			slog.Error("publish failed", slog.String("job_id", job.ID), slog.Any("error", err))
			continue
		}
		published++
	}
	slog.Info("seeding complete",
		slog.Int("published", published),
		slog.Int("total", len(seed.Jobs)),
		slog.String("topic", cfg.RawJobsTopic))
}

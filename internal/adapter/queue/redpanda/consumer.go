package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// Enricher is the slice of the enrichment service the worker needs.
type Enricher interface {
	Enrich(ctx domain.Context, raw domain.RawJob) (domain.EnrichedJob, error)
}

// Worker consumes raw postings, enriches them, and persists the result.
// Offsets are committed manually so the commit decision can follow the
// failure classification:
//
//   - poison input (bad JSON, invalid jobs): logged and committed, the
//     message will never succeed; schema-invalid LLM replies get one
//     immediate retry first
//   - provider exhaustion: not committed, retried in place with backoff so
//     ordering holds while credentials cool down
//   - transport or storage failures: bounded retries, then committed with the
//     failure logged so one broken dependency cannot wedge the partition
type Worker struct {
	client   *kgo.Client
	enricher Enricher
	store    domain.JobStore
	cache    domain.JobCache
	cfg      config.Config

	// Injectable for tests.
	sleep func(domain.Context, time.Duration) error
}

// NewWorker constructs a Worker, ensures the raw topic exists, and joins the
// consumer group.
func NewWorker(cfg config.Config, enricher Enricher, store domain.JobStore, cache domain.JobCache) (*Worker, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("%w: no seed brokers provided", domain.ErrInvalidArgument)
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("%w: missing consumer group", domain.ErrInvalidArgument)
	}
	slog.Info("creating enrichment worker",
		slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
		slog.String("group_id", cfg.ConsumerGroup),
		slog.String("topic", cfg.RawJobsTopic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.RawJobsTopic),
		kgo.DisableAutoCommit(),
		kgo.WithHooks(kotelHooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(cfg.PollTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.worker: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, cfg.RawJobsTopic, 3, 1); err != nil {
		slog.Warn("topic creation failed, assuming it exists",
			slog.String("topic", cfg.RawJobsTopic), slog.Any("error", err))
	}
	return &Worker{
		client:   client,
		enricher: enricher,
		store:    store,
		cache:    cache,
		cfg:      cfg,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx domain.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("enrichment worker started",
		slog.String("topic", w.cfg.RawJobsTopic),
		slog.String("group_id", w.cfg.ConsumerGroup))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := w.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			slog.Error("fetch error",
				slog.String("topic", fe.Topic),
				slog.Int("partition", int(fe.Partition)),
				slog.Any("error", fe.Err))
		}

		var toCommit []*kgo.Record
		var iterErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if iterErr != nil {
				return
			}
			commit, err := w.consumeRecord(ctx, rec)
			if err != nil {
				iterErr = err
				return
			}
			if commit {
				toCommit = append(toCommit, rec)
			}
		})
		if len(toCommit) > 0 {
			if err := w.client.CommitRecords(ctx, toCommit...); err != nil {
				slog.Error("offset commit failed", slog.Any("error", err))
			}
		}
		if iterErr != nil {
			return iterErr
		}
	}
}

// consumeRecord processes one record to completion and reports whether its
// offset should be committed. It only returns an error when the context ends.
func (w *Worker) consumeRecord(ctx domain.Context, rec *kgo.Record) (bool, error) {
	tracer := otel.Tracer("queue.worker")
	ctx, span := tracer.Start(ctx, "ProcessRawJob")
	defer span.End()

	var raw domain.RawJob
	if err := json.Unmarshal(rec.Value, &raw); err != nil {
		observability.JobsConsumedTotal.WithLabelValues("poison").Inc()
		slog.Warn("skipping undecodable message",
			slog.Int64("offset", rec.Offset),
			slog.Int("partition", int(rec.Partition)),
			slog.Any("error", err))
		return true, nil
	}

	initial, maxDelay, multiplier := w.cfg.GetRetryBackoff()
	exhaustedWait := initial
	transportAttempts := 0
	schemaRetried := false
	for {
		err := w.processJob(ctx, raw)
		switch {
		case err == nil:
			observability.JobsConsumedTotal.WithLabelValues("ok").Inc()
			return true, nil

		case errors.Is(err, domain.ErrInvalidArgument):
			observability.JobsConsumedTotal.WithLabelValues("poison").Inc()
			slog.Warn("skipping unprocessable job",
				slog.String("job_id", raw.ID), slog.Any("error", err))
			return true, nil

		case errors.Is(err, domain.ErrSchemaInvalid):
			// LLM replies are nondeterministic; one immediate re-ask is
			// worth it before declaring the message poison.
			if schemaRetried {
				observability.JobsConsumedTotal.WithLabelValues("poison").Inc()
				slog.Warn("skipping job after repeated schema-invalid replies",
					slog.String("job_id", raw.ID), slog.Any("error", err))
				return true, nil
			}
			schemaRetried = true
			slog.Warn("schema-invalid reply, retrying once",
				slog.String("job_id", raw.ID), slog.Any("error", err))

		case errors.Is(err, domain.ErrProviderExhausted):
			observability.JobsConsumedTotal.WithLabelValues("exhausted").Inc()
			slog.Warn("credential pool exhausted, holding offset and retrying",
				slog.String("job_id", raw.ID),
				slog.Duration("wait", exhaustedWait))
			if serr := w.sleep(ctx, exhaustedWait); serr != nil {
				return false, serr
			}
			exhaustedWait = time.Duration(float64(exhaustedWait) * multiplier)
			if exhaustedWait > maxDelay {
				exhaustedWait = maxDelay
			}

		default:
			transportAttempts++
			if transportAttempts > w.cfg.TransportMaxRetries {
				observability.JobsConsumedTotal.WithLabelValues("failed").Inc()
				slog.Error("giving up on job after transient failures",
					slog.String("job_id", raw.ID),
					slog.Int("attempts", transportAttempts),
					slog.Any("error", err))
				return true, nil
			}
			slog.Warn("transient failure, retrying job",
				slog.String("job_id", raw.ID),
				slog.Int("attempt", transportAttempts),
				slog.Any("error", err))
			if serr := w.sleep(ctx, initial*time.Duration(transportAttempts)); serr != nil {
				return false, serr
			}
		}
	}
}

// processJob runs enrich, persist, cache for one posting. Cache failures are
// logged, not returned, the cache is best-effort.
func (w *Worker) processJob(ctx domain.Context, raw domain.RawJob) error {
	job, err := w.enricher.Enrich(ctx, raw)
	if err != nil {
		return err
	}
	if err := w.store.UpsertEnrichedJob(ctx, job); err != nil {
		return err
	}
	if w.cache != nil {
		if err := w.cache.CacheJob(ctx, job, w.cfg.CacheTTL); err != nil {
			slog.Warn("job cache write failed",
				slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}
	return nil
}

// Close leaves the group and releases the client.
func (w *Worker) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

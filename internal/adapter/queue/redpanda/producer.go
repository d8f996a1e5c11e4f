// Package redpanda moves raw job postings through Redpanda/Kafka: a producer
// feeds the raw topic and a consumer group enriches from it.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// Producer publishes raw job postings keyed by job id, so re-published
// postings land on the same partition and keep their order.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer constructs a Producer and ensures the raw topic exists.
func NewProducer(cfg config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("%w: no seed brokers provided", domain.ErrInvalidArgument)
	}
	slog.Info("creating raw jobs producer",
		slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
		slog.String("topic", cfg.RawJobsTopic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.WithHooks(kotelHooks()...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, cfg.RawJobsTopic, 3, 1); err != nil {
		slog.Warn("topic creation failed, assuming it exists",
			slog.String("topic", cfg.RawJobsTopic), slog.Any("error", err))
	}
	return &Producer{client: client, topic: cfg.RawJobsTopic}, nil
}

// PublishRawJob publishes one raw posting to the raw topic.
func (p *Producer) PublishRawJob(ctx domain.Context, job domain.RawJob) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: raw job id required", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=queue.publish: marshal job_id=%s: %w", job.ID, err)
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(job.ID), Value: b}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=queue.publish job_id=%s: %w", job.ID, err)
	}
	return nil
}

// Close closes the underlying client.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// kotelHooks returns kgo hooks that propagate OTEL trace context through
// produced and consumed records.
func kotelHooks() []kgo.Hook {
	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	return kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()
}

// createTopicIfNotExists creates a topic via the Kafka admin API, treating
// TOPIC_ALREADY_EXISTS as success so producer and worker can both ensure the
// topic at startup.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=queue.create_topic: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=queue.create_topic: unexpected response type %T", resp)
	}

	for _, tr := range createResp.Topics {
		if tr.ErrorCode != 0 {
			// 36 = TOPIC_ALREADY_EXISTS
			if tr.ErrorCode == 36 {
				slog.Debug("topic already exists", slog.String("topic", tr.Topic))
				return nil
			}
			msg := ""
			if tr.ErrorMessage != nil {
				msg = *tr.ErrorMessage
			}
			return fmt.Errorf("op=queue.create_topic: %s (code %d)", msg, tr.ErrorCode)
		}
		slog.Info("topic created",
			slog.String("topic", tr.Topic),
			slog.Int("partitions", int(partitions)))
	}
	return nil
}

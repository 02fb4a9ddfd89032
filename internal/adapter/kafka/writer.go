// Package kafka publishes newly persisted incidents to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/config"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
)

// Writer produces incident messages to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured incident topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaIncidentTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Publish serializes and writes the incidents in a single WriteMessages call.
// Messages are keyed by incident id so replays land on the same partition.
func (w *Writer) Publish(ctx context.Context, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(incidents))
	for i := range incidents {
		msg, err := serializeToMessage(incidents[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d incidents to %s: %w", len(msgs), w.writer.Topic, err)
	}
	w.logger.Debug("incidents published", "sink", w.Name(), "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Incident into a Kafka message.
func serializeToMessage(inc domain.Incident) (kafkago.Message, error) {
	data, err := json.Marshal(inc)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(inc.IncidentID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_level", Value: []byte(inc.RiskLevel)},
			{Key: "run_id", Value: []byte(inc.RunID)},
			{Key: "timestamp_end", Value: []byte(inc.TimestampEnd.UTC().Format(time.RFC3339))},
		},
	}, nil
}

// Package kafka publishes index completion notifications so downstream
// consumers (dashboards, bulletins) learn about fresh grids without polling
// the raster store.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
)

// Notifier produces one message per committed index grid.
// It implements pipeline.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyIndex serializes and publishes one committed-grid notification. The
// message key is deterministic per (index, tag, timestep), so replays of a
// resumed run compact cleanly downstream.
func (n *Notifier) NotifyIndex(ctx context.Context, note domain.IndexNotification) error {
	msg, err := serializeNotification(note)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish index notification %s: %w", note.Key(), err)
	}
	n.logger.Debug("index notification published", "key", note.Key())
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeNotification marshals an IndexNotification into a Kafka message.
func serializeNotification(note domain.IndexNotification) (kafkago.Message, error) {
	data, err := json.Marshal(note)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize index notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(note.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "index", Value: []byte(note.Index)},
			{Key: "tag", Value: []byte(note.Tag)},
			{Key: "processed_at", Value: []byte(note.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}

package eventsource

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/catalog-sdk/dispatch"
)

// KafkaConfig selects the topic one agent consumes.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource reads catalog change messages from a Kafka topic and feeds
// them to the dispatcher, committing offsets only after terminal outcomes.
type KafkaSource struct {
	reader     *kafka.Reader
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewKafkaSource builds a consumer-group reader for cfg.
func NewKafkaSource(cfg KafkaConfig, d *dispatch.Dispatcher, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return &KafkaSource{reader: reader, dispatcher: d, logger: logger}
}

// Run consumes until ctx is cancelled. Poison messages (undecodable or with
// an invalid envelope) are logged and committed so they do not redeliver
// forever; everything else commits only after the dispatcher reports a
// terminal outcome.
func (s *KafkaSource) Run(ctx context.Context) error {
	defer s.reader.Close()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		event, err := decodeEvent(msg.Value)
		if err != nil {
			s.logger.Error("dropping poison message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		ticket, err := s.dispatcher.Submit(ctx, event)
		if err != nil {
			// Shutdown or cancellation: leave uncommitted for redelivery.
			s.logger.Warn("submit failed, message left for redelivery",
				"eventId", event.ID, "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, dispatch.ErrShutdown) {
				return nil
			}
			return err
		}

		if _, err := ticket.Wait(ctx); err != nil {
			// Not terminal (shutdown/cancel): do not commit.
			s.logger.Warn("event unfinished, message left for redelivery",
				"eventId", event.ID, "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, dispatch.ErrShutdown) {
				return nil
			}
			return err
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

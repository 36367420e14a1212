package eventsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stan "github.com/nats-io/stan.go"

	"github.com/example/catalog-sdk/dispatch"
)

// StanConfig selects the NATS Streaming channel one agent consumes.
type StanConfig struct {
	ClusterID  string
	ClientID   string
	URL        string
	Subject    string
	QueueGroup string
	Durable    string
	AckWait    time.Duration
}

// StanSource subscribes to a NATS Streaming channel with manual acks: a
// message is acked only after the dispatcher reports a terminal outcome, so
// unfinished messages redeliver after AckWait.
type StanSource struct {
	cfg        StanConfig
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewStanSource(cfg StanConfig, d *dispatch.Dispatcher, logger *slog.Logger) *StanSource {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("catalog-agent-%d", time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StanSource{cfg: cfg, dispatcher: d, logger: logger}
}

// Run subscribes and blocks until ctx is cancelled.
func (s *StanSource) Run(ctx context.Context) error {
	sc, err := stan.Connect(s.cfg.ClusterID, s.cfg.ClientID, stan.NatsURL(s.cfg.URL))
	if err != nil {
		return fmt.Errorf("eventsource: stan connect: %w", err)
	}
	defer sc.Close()

	sub, err := sc.QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, func(m *stan.Msg) {
		s.handle(ctx, m)
	},
		stan.DurableName(s.cfg.Durable),
		stan.SetManualAckMode(),
		stan.AckWait(s.cfg.AckWait),
		stan.DeliverAllAvailable(),
	)
	if err != nil {
		return fmt.Errorf("eventsource: stan subscribe: %w", err)
	}
	defer sub.Close()

	<-ctx.Done()
	return nil
}

func (s *StanSource) handle(ctx context.Context, m *stan.Msg) {
	event, err := decodeEvent(m.Data)
	if err != nil {
		// Poison: ack so it stops redelivering.
		s.logger.Error("dropping poison message", "subject", m.Subject, "error", err)
		if err := m.Ack(); err != nil {
			s.logger.Warn("ack failed", "error", err)
		}
		return
	}

	ticket, err := s.dispatcher.Submit(ctx, event)
	if err != nil {
		s.logger.Warn("submit failed, message left for redelivery",
			"eventId", event.ID, "error", err)
		return
	}
	if _, err := ticket.Wait(ctx); err != nil {
		s.logger.Warn("event unfinished, message left for redelivery",
			"eventId", event.ID, "error", err)
		return
	}

	if err := m.Ack(); err != nil {
		s.logger.Warn("ack failed", "eventId", event.ID, "error", err)
	}
}

package stream

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/config"
	"github.com/kzinvogon/apoyar-chat/internal/events"
)

// Publisher forwards session lifecycle events to Kafka for the surrounding
// platform (ticket conversion, analytics). Delivery problems never touch the
// chat path; they are logged and the event is dropped.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewPublisher connects a synchronous producer to the configured brokers.
func NewPublisher(cfg config.StreamConfig, logger *zap.Logger) (*Publisher, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: producer, topic: cfg.Topic, logger: logger}, nil
}

// Attach subscribes the publisher to every lifecycle event type.
func (p *Publisher) Attach(dispatcher events.Dispatcher) {
	for _, eventType := range []events.EventType{
		events.EventSessionStarted,
		events.EventSessionClaimed,
		events.EventSessionTransferred,
		events.EventSessionClosed,
		events.EventSessionRated,
		events.EventMessageAdded,
	} {
		dispatcher.Subscribe(eventType, p.publish)
	}
}

func (p *Publisher) publish(ctx context.Context, event events.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("stream marshal failed",
			zap.String("event", string(event.Type)), zap.Error(err))
		return err
	}

	// Keyed by session so one conversation stays in partition order.
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.SessionID),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.logger.Warn("stream publish failed",
			zap.String("event", string(event.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName    = "FRAMA"
	RunSubject    = "frama.runs"
	TradeSubject  = "frama.trades"
	streamSubject = "frama.>"
)

func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, nats.Name("frama-trader"))
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{streamSubject},
	})
	if err != nil {
		_, err = js.UpdateStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{streamSubject},
		})
		if err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return nc, js, nil
}

// EventPublisher publishes run and trade events to JetStream under
// frama.runs.<symbol> and frama.trades.<symbol>.
type EventPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewEventPublisher(js nats.JetStreamContext, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{js: js, logger: logger}
}

func (p *EventPublisher) PublishTrade(ctx context.Context, event model.TradeEvent) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", TradeSubject, event.Symbol), event)
}

func (p *EventPublisher) PublishRun(ctx context.Context, event model.RunEvent) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", RunSubject, event.Symbol), event)
}

func (p *EventPublisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("published event", zap.String("subject", subject))
	return nil
}

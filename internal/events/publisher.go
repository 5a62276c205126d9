// Package events publishes market lifecycle events to Kafka so downstream
// consumers (notification bots, analytics) can follow the market without
// polling the API.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/season"
)

// Event types carried on the topic.
const (
	TypeRoundOpened  = "round_opened"
	TypeRoundSettled = "round_settled"
	TypeSeasonEnded  = "season_ended"
)

// Envelope wraps every published event.
type Envelope struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher writes lifecycle events to a Kafka topic. A nil Publisher is a
// no-op, so wiring stays unconditional even when Kafka is not configured.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers and topic. Writes
// are asynchronous; publishing never blocks a settlement.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Publisher) publish(key, eventType string, payload any) {
	if p == nil || p.writer == nil {
		return
	}
	data, err := json.Marshal(Envelope{
		Type:    eventType,
		At:      time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		slog.Error("event encode failed", "type", eventType, "error", err)
		return
	}
	err = p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		slog.Error("event publish failed", "type", eventType, "error", err)
	}
}

// RoundOpened publishes a round_opened event.
func (p *Publisher) RoundOpened(r model.Round) {
	p.publish(r.ID, TypeRoundOpened, r)
}

// RoundSettled publishes a round_settled event.
func (p *Publisher) RoundSettled(res market.SettlementResult) {
	p.publish(res.Round.ID, TypeRoundSettled, res)
}

// SeasonEnded publishes a season_ended event.
func (p *Publisher) SeasonEnded(o season.Outcome) {
	p.publish(o.Season.ID, TypeSeasonEnded, o)
}

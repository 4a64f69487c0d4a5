package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"trade-core/src/snapshot"
)

const (
	EventFill = "fill"
	EventPnL  = "pnl"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits fills keyed by symbol and PnL records keyed by account,
// so each key stays ordered within its partition.
type Publisher struct {
	writer messageWriter
	topic  string
}

func New(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) Persist(ctx context.Context, batch snapshot.Batch) error {
	msgs, err := Encode(batch)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d messages to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Encode turns a batch into kafka messages: every fill, then every PnL record.
func Encode(batch snapshot.Batch) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(batch.Fills)+len(batch.PnL))
	reason := []byte(batch.Reason)

	for _, f := range batch.Fills {
		val, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal fill %s: %w", f.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(f.Symbol),
			Value: val,
			Time:  time.Unix(0, f.Timestamp),
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(EventFill)},
				{Key: "reason", Value: reason},
			},
		})
	}

	for _, r := range batch.PnL {
		val, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pnl %s/%s: %w", r.AccountID, r.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.AccountID),
			Value: val,
			Time:  r.UpdatedAt,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(EventPnL)},
				{Key: "reason", Value: reason},
			},
		})
	}
	return msgs, nil
}

// Package events publishes "cases changed" notifications after an upload
// commits.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// CasesChanged is published once per committed upload.
type CasesChanged struct {
	Dictionary string    `json:"dictionary"`
	Revision   int64     `json:"revision"`
	Device     string    `json:"device"`
	Cases      int       `json:"cases"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers change events. Delivery is best effort.
type Publisher interface {
	PublishCasesChanged(ctx context.Context, e *CasesChanged) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by dictionary so one dictionary's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) PublishCasesChanged(ctx context.Context, e *CasesChanged) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Dictionary),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops events; used when no brokers are configured.
type Nop struct{}

func (Nop) PublishCasesChanged(context.Context, *CasesChanged) error { return nil }
func (Nop) Close() error                                             { return nil }

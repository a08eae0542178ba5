package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration // default 10ms
	RequiredAcks int           // default all
}

// Producer writes keyed records. Records with the same key land on the same
// partition, which keeps one saga's messages in order.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	acks := kafka.RequireAll
	if c.RequiredAcks > 0 {
		acks = kafka.RequiredAcks(c.RequiredAcks)
	}

	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           bt,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
	}}
}

// Send writes one record synchronously.
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value})
}

func (p *Producer) Close() error { return p.w.Close() }

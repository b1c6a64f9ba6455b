// Package ingest publishes driver locations and ride-request lifecycle
// events to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes to two topics through one writer; each message
// carries its topic.
type KafkaProducer struct {
	writer        messageWriter
	locationTopic string
	eventTopic    string
	timeout       time.Duration
}

// DefaultWriteTimeout bounds one WriteMessages call.
const DefaultWriteTimeout = 2 * time.Second

func NewKafkaProducer(brokers []string, locationTopic, eventTopic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		// one message per call; don't wait for a batch to fill
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: DefaultWriteTimeout,
		ReadTimeout:  DefaultWriteTimeout,
	}
	return &KafkaProducer{writer: w, locationTopic: locationTopic, eventTopic: eventTopic, timeout: DefaultWriteTimeout}
}

func (k *KafkaProducer) write(ctx context.Context, m kafka.Message) error {
	timeout := k.timeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, m)
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, d models.Driver) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return k.write(ctx, kafka.Message{Topic: k.locationTopic, Key: []byte(d.ID), Value: b})
}

// Publish implements collab.EventPublisher. Events are keyed by ride
// request id so one request's events stay ordered on a partition.
func (k *KafkaProducer) Publish(ctx context.Context, e collab.Event) error {
	m, err := eventMessage(k.eventTopic, e)
	if err != nil {
		return err
	}
	if err := k.write(ctx, m); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func eventMessage(topic string, e collab.Event) (kafka.Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(e.RideRequestID),
		Value:   b,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(e.Type)}},
	}, nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Package kafka publishes domain events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

// Message is a keyed record with string headers.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes to a single topic with acks from all in-sync replicas.
type Producer struct {
	w       writer
	topic   string
	brokers []string
}

// NewProducer builds a producer for the configured brokers and topic.
func NewProducer(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"topic": cfg.Topic, "brokers": brokers}), "kafka producer initialized")
	}
	return &Producer{w: w, topic: cfg.Topic, brokers: brokers}, nil
}

// Topic returns the topic every message is written to.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish writes one message. Messages with the same key land on the same
// partition, so events of one aggregate stay ordered.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.w == nil {
		return errors.New("kafka producer not initialized")
	}
	record := kafkago.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  msg.Time,
	}
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	if err := p.w.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil {
		return errors.New("kafka producer not initialized")
	}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

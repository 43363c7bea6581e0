package main

import (
	"context"

	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/kafka"
	"github.com/angelmondragon/pharmaflow-backend/pkg/pubsub"
)

// SinkMessage is one outbox row ready for transport. Key is the aggregate
// id so events of one aggregate keep their order on partitioned sinks.
type SinkMessage struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink is where domain events leave the process.
type Sink interface {
	Name() string
	Ping(ctx context.Context) error
	Publish(ctx context.Context, msg SinkMessage) error
}

type pubsubClient interface {
	Ping(context.Context) error
	Publish(context.Context, pubsub.Message) (string, error)
}

type pubsubSink struct {
	client pubsubClient
}

func newPubSubSink(client pubsubClient) *pubsubSink {
	return &pubsubSink{client: client}
}

func (s *pubsubSink) Name() string { return config.EventsSinkPubSub }

func (s *pubsubSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *pubsubSink) Publish(ctx context.Context, msg SinkMessage) error {
	_, err := s.client.Publish(ctx, pubsub.Message{
		Topic:       msg.Topic,
		OrderingKey: msg.Key,
		Data:        msg.Data,
		Attributes:  msg.Attributes,
	})
	return err
}

type kafkaProducer interface {
	Ping(context.Context) error
	Publish(context.Context, kafka.Message) error
}

type kafkaSink struct {
	producer kafkaProducer
}

func newKafkaSink(producer kafkaProducer) *kafkaSink {
	return &kafkaSink{producer: producer}
}

func (s *kafkaSink) Name() string { return config.EventsSinkKafka }

func (s *kafkaSink) Ping(ctx context.Context) error {
	return s.producer.Ping(ctx)
}

// Publish ignores msg.Topic; the producer is bound to the configured topic.
func (s *kafkaSink) Publish(ctx context.Context, msg SinkMessage) error {
	return s.producer.Publish(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Data,
		Headers: msg.Attributes,
	})
}

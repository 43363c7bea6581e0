package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	"github.com/angelmondragon/pharmaflow-backend/pkg/kafka"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/registry"
)

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	first := orderPlacedRow(t)
	second := orderPlacedRow(t)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	sink := &fakeSink{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, sink, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("unexpected failed rows: %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("unexpected published rows: %v", repo.published)
	}
}

func TestPublishCarriesKeyAndAttributes(t *testing.T) {
	row := orderPlacedRow(t)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sink.sent))
	}
	msg := sink.sent[0]
	if msg.Topic != "domain-events" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if msg.Key != row.AggregateID.String() {
		t.Fatalf("expected aggregate id key, got %q", msg.Key)
	}
	if msg.Attributes["event_type"] != string(enums.EventOrderPlaced) || msg.Attributes["event_id"] == "" {
		t.Fatalf("unexpected attributes: %v", msg.Attributes)
	}
	if !bytes.Equal(msg.Data, row.Payload) {
		t.Fatalf("payload should be forwarded untouched")
	}
}

func TestUnknownEventGoesToDLQ(t *testing.T) {
	row := orderPlacedRow(t)
	row.EventType = enums.OutboxEventType("order.teleported")
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	dlq := service.dlq.(*fakeDLQRepo)
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != row.ID || entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected dlq entry: %+v", entry)
	}
	if !bytes.Equal(entry.Payload, row.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if len(sink.sent) != 0 {
		t.Fatalf("unresolvable event must not reach the sink")
	}
}

func TestNonRetryableSinkErrorGoesToDLQ(t *testing.T) {
	row := orderPlacedRow(t)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	sink := &fakeSink{errs: []error{registry.NewNonRetryableError(errors.New("topic missing"))}}
	service := newTestService(t, repo, sink, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	dlq := service.dlq.(*fakeDLQRepo)
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dlq entry, got %+v", dlq.entries)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row marked terminal")
	}
}

func TestMaxAttemptsGoesToDLQ(t *testing.T) {
	row := orderPlacedRow(t)
	row.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	sink := &fakeSink{errs: []error{errors.New("broker unavailable")}}
	service := newTestService(t, repo, sink, &config.OutboxConfig{BatchSize: 1, PollIntervalMS: 100, MaxAttempts: 2})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	dlq := service.dlq.(*fakeDLQRepo)
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max attempts dlq entry, got %+v", dlq.entries)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row should not be marked failed")
	}
}

func TestRunStopsWhenSinkUnreachable(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{pingErr: errors.New("no route")}, nil)

	if err := service.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestKafkaSinkMapsMessage(t *testing.T) {
	producer := &fakeProducer{}
	sink := newKafkaSink(producer)

	err := sink.Publish(context.Background(), SinkMessage{
		Topic:      "ignored",
		Key:        "agg-1",
		Data:       []byte(`{"version":1}`),
		Attributes: map[string]string{"event_type": "order.placed"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if sink.Name() != config.EventsSinkKafka {
		t.Fatalf("unexpected sink name %q", sink.Name())
	}
	if producer.last.Key != "agg-1" || producer.last.Headers["event_type"] != "order.placed" {
		t.Fatalf("unexpected kafka message: %+v", producer.last)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	base := 500 * time.Millisecond
	if got := nextBackoff(0, base, maxBackoff); got != time.Second {
		t.Fatalf("expected 1s got %s", got)
	}
	if got := nextBackoff(8*time.Second, base, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap got %s", got)
	}
	if got := withJitter(base); got < base || got >= base+jitterWindow {
		t.Fatalf("jitter out of window: %s", got)
	}
}

func newTestService(t *testing.T, repo *fakeRepo, sink Sink, outboxCfg *config.OutboxConfig) *Service {
	t.Helper()
	cfg := &config.Config{Outbox: config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}}
	if outboxCfg != nil {
		cfg.Outbox = *outboxCfg
	}
	eventRegistry, err := registry.NewEventRegistry("domain-events")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logger.Nop(),
		DB:            &fakeDB{},
		Sink:          sink,
		Repository:    repo,
		Registry:      eventRegistry,
		DLQRepository: &fakeDLQRepo{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func orderPlacedRow(tb testing.TB) models.OutboxEvent {
	tb.Helper()
	orderID := uuid.New()
	data, err := json.Marshal(payloads.OrderPlacedEvent{OrderID: orderID, OrderNumber: "ORD-1"})
	if err != nil {
		tb.Fatalf("marshal payload: %v", err)
	}
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeSink struct {
	errs    []error
	sent    []SinkMessage
	pingErr error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Ping(context.Context) error { return f.pingErr }

func (f *fakeSink) Publish(_ context.Context, msg SinkMessage) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	return err
}

type fakeProducer struct {
	last kafka.Message
}

func (f *fakeProducer) Ping(context.Context) error { return nil }

func (f *fakeProducer) Publish(_ context.Context, msg kafka.Message) error {
	f.last = msg
	return nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

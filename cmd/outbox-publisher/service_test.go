package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/libraryhq/library-backend/pkg/config"
	"github.com/libraryhq/library-backend/pkg/db/dbtest"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/enums"
	"github.com/libraryhq/library-backend/pkg/logger"
	"github.com/libraryhq/library-backend/pkg/outbox"
	"github.com/libraryhq/library-backend/pkg/pubsub"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		newEvent(t, enums.EventReservationCreated),
		newEvent(t, enums.EventReservationReturned),
	}}
	pub := &fakePublisher{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, pub, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("expected second row marked published, got %v", repo.published)
	}
	if len(repo.terminal) != 0 {
		t.Fatalf("expected no terminal rows, got %v", repo.terminal)
	}
}

func TestServiceProcessBatchPublishesStoredEnvelope(t *testing.T) {
	event := newEvent(t, enums.EventReservationOverdue)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.sent))
	}
	sent := pub.sent[0]
	if sent.ID != event.ID.String() {
		t.Fatalf("event id mismatch: %s", sent.ID)
	}
	if sent.Type != "reservation.overdue" || sent.AggregateType != "reservation" {
		t.Fatalf("unexpected attributes: %+v", sent)
	}
	if string(sent.Payload) != string(event.Payload) {
		t.Fatalf("payload changed in transit")
	}
}

func TestServiceProcessBatchParksUndecodablePayload(t *testing.T) {
	event := newEvent(t, enums.EventReservationCreated)
	event.Payload = json.RawMessage(`not-json`)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("expected no publish, got %d", len(pub.sent))
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row parked as terminal, got %v", repo.terminal)
	}
	if repo.terminalAttempts != 5 {
		t.Fatalf("expected terminal attempts 5, got %d", repo.terminalAttempts)
	}
}

func TestServiceProcessBatchParksRowAtMaxAttempts(t *testing.T) {
	event := newEvent(t, enums.EventReservationCreated)
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, pub, &config.OutboxConfig{
		BatchSize:    1,
		PollInterval: 100 * time.Millisecond,
		MaxAttempts:  2,
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no retryable failure, got %v", repo.failed)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row parked as terminal, got %v", repo.terminal)
	}
}

func TestServiceProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatalf("expected empty batch to report nothing processed")
	}
}

func TestServiceDrainsRecordedEvents(t *testing.T) {
	conn := dbtest.Open(t)
	recorder := outbox.NewService(outbox.NewRepository(conn), nil)
	for _, eventType := range []enums.OutboxEventType{enums.EventReservationCreated, enums.EventReservationReturned} {
		err := conn.Transaction(func(tx *gorm.DB) error {
			return recorder.Emit(context.Background(), tx, outbox.DomainEvent{
				EventType:     eventType,
				AggregateType: enums.AggregateReservation,
				AggregateID:   uuid.New(),
				Data:          map[string]string{"status": "outstanding"},
			})
		})
		if err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	pub := &fakePublisher{}
	service, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, MaxAttempts: 3}},
		Logger:     testLogger(),
		DB:         sqliteClient{TxRunner: dbtest.TxRunner{DB: conn}},
		PubSub:     fakePinger{},
		Repository: outbox.NewRepository(conn),
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.sent) != 2 {
		t.Fatalf("expected two publishes, got %d", len(pub.sent))
	}
	var pending int64
	if err := conn.Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&pending).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected no pending rows, got %d", pending)
	}

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if processed {
		t.Fatalf("published rows must not be fetched again")
	}
}

func TestNewServiceValidatesParams(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected error for missing config")
	}
	_, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     testLogger(),
		DB:         &fakeDB{},
		PubSub:     fakePinger{},
		Repository: &fakeRepo{},
	})
	if err == nil {
		t.Fatal("expected error for missing publisher")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	base := 500 * time.Millisecond
	if got := nextBackoff(base, base, maxBackoff); got != time.Second {
		t.Fatalf("expected 1s, got %s", got)
	}
	if got := nextBackoff(8*time.Second, base, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap %s, got %s", maxBackoff, got)
	}
	if got := withJitter(base); got < base || got >= base+jitterWindow {
		t.Fatalf("jitter out of range: %s", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub eventPublisher, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:    2,
		PollInterval: 100 * time.Millisecond,
		MaxAttempts:  5,
	}
	if override != nil {
		outboxCfg = *override
	}
	service, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: outboxCfg},
		Logger:     testLogger(),
		DB:         &fakeDB{},
		PubSub:     fakePinger{},
		Repository: repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

func newEvent(tb testing.TB, eventType enums.OutboxEventType) models.OutboxEvent {
	tb.Helper()
	id := uuid.New()
	env := outbox.PayloadEnvelope{
		Version:    outbox.EnvelopeVersion,
		EventID:    id.String(),
		EventType:  string(eventType),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateReservation,
		AggregateID:   uuid.New(),
		Payload:       payload,
		CreatedAt:     env.OccurredAt,
	}
}

type fakeRepo struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = terminalAttempts
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sqliteClient struct {
	dbtest.TxRunner
}

func (sqliteClient) Ping(context.Context) error { return nil }

type fakePinger struct{}

func (fakePinger) Ping(context.Context) error { return nil }

type fakePublisher struct {
	errs []error
	sent []pubsub.Event
}

func (f *fakePublisher) PublishEvent(_ context.Context, event pubsub.Event) (string, error) {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return "", err
	}
	f.sent = append(f.sent, event)
	return "server-" + event.ID, nil
}

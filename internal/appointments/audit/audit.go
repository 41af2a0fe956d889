// Package audit records booking attempts. Sinks are best effort from the
// booking engine's point of view: a failed Record is logged by the caller
// and never changes a booking outcome.
package audit

import (
	"context"
	"errors"
	"fmt"

	"edubook/internal/appointments/repository"
	"edubook/pkg/config"
	"edubook/pkg/kafka"
	"edubook/pkg/logger"
	"edubook/pkg/middleware"
	"edubook/pkg/model"
)

const (
	eventSource = "edubook.bookings"
	// SchemaVersion is the audit payload layout published to Kafka.
	SchemaVersion = "1"
)

type Sink interface {
	Record(ctx context.Context, entry *model.AuditEntry) error
}

// Publisher is the subset of *kafka.Producer the Kafka sink needs.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// New builds the sink selected by backend. store or publisher may be nil
// when the backend does not need them.
func New(backend string, store repository.AuditRepository, publisher Publisher, log *logger.Logger) (Sink, error) {
	switch backend {
	case config.AuditBackendMongo:
		if store == nil {
			return nil, errors.New("mongo audit backend requires a store")
		}
		return NewStoreSink(store), nil
	case config.AuditBackendKafka:
		if publisher == nil {
			return nil, errors.New("kafka audit backend requires a producer")
		}
		return NewKafkaSink(publisher), nil
	case config.AuditBackendBoth:
		if store == nil || publisher == nil {
			return nil, errors.New("fan-out audit backend requires a store and a producer")
		}
		return NewFanout(log, NewStoreSink(store), NewKafkaSink(publisher)), nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", backend)
	}
}

type storeSink struct {
	store repository.AuditRepository
}

// NewStoreSink writes entries straight to the audit collection.
func NewStoreSink(store repository.AuditRepository) Sink {
	return &storeSink{store: store}
}

func (s *storeSink) Record(ctx context.Context, entry *model.AuditEntry) error {
	return s.store.Insert(ctx, entry)
}

type kafkaSink struct {
	publisher Publisher
}

// NewKafkaSink publishes entries keyed by user so one caller's events stay
// ordered within a partition.
func NewKafkaSink(publisher Publisher) Sink {
	return &kafkaSink{publisher: publisher}
}

func (s *kafkaSink) Record(ctx context.Context, entry *model.AuditEntry) error {
	key := entry.UserID
	if key == "" {
		key = entry.TransactionID
	}
	if key == "" {
		key = entry.ID
	}

	builder := kafka.NewMessage().
		WithKey(key).
		WithValue(entry).
		WithEventID(entry.ID).
		WithEventType(string(entry.EventType)).
		WithSource(eventSource).
		WithSchemaVersion(SchemaVersion).
		WithCorrelationID(middleware.RequestIDFromContext(ctx)).
		WithTransactionID(entry.TransactionID).
		WithTimestamp(entry.Timestamp)

	msg, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build audit message: %w", err)
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit entry %s: %w", entry.ID, err)
	}
	return nil
}

type fanout struct {
	sinks []Sink
	log   *logger.Logger
}

// NewFanout records to every sink and returns the joined failures. A failing
// sink does not stop the others.
func NewFanout(log *logger.Logger, sinks ...Sink) Sink {
	return &fanout{sinks: sinks, log: log}
}

func (f *fanout) Record(ctx context.Context, entry *model.AuditEntry) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Record(ctx, entry); err != nil {
			f.log.Warn("audit sink failed", "audit_id", entry.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

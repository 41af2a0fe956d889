package audit

import (
	"context"

	"edubook/internal/appointments/repository"
	"edubook/pkg/kafka"
	"edubook/pkg/logger"
	"edubook/pkg/model"
)

// NewIngestHandler persists audit events consumed from Kafka. Payloads from
// another schema version are parked on the DLQ. Inserts are
// idempotent on the entry id, so redelivery is harmless. Undecodable
// payloads are permanent failures and go to the DLQ; store failures are
// retried.
func NewIngestHandler(store repository.AuditRepository, log *logger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		if version, ok := msg.GetHeader(kafka.HeaderSchemaVersion); ok && version != SchemaVersion {
			return kafka.NewPermanentError("unsupported audit schema version "+version, kafka.ErrInvalidMessage).
				WithDetail("offset", msg.Offset)
		}

		var entry model.AuditEntry
		if err := msg.DecodeValue(&entry); err != nil {
			return kafka.NewPermanentError("deserialization failed", err).
				WithDetail("offset", msg.Offset)
		}
		if entry.ID == "" {
			entry.ID = msg.GetEventID()
		}
		if entry.ID == "" {
			return kafka.NewPermanentError("invalid message: audit entry without id", kafka.ErrInvalidMessage)
		}

		if err := store.Insert(ctx, &entry); err != nil {
			return kafka.NewTransientError("audit store write failed", err).
				WithDetail("audit_id", entry.ID)
		}

		log.Debug("audit entry ingested",
			"audit_id", entry.ID,
			"event_type", entry.EventType,
			"transaction_id", entry.TransactionID,
			"correlation_id", msg.GetCorrelationID(),
		)
		return nil
	}
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"edubook/internal/appointments/audit"
	"edubook/internal/appointments/repository"
	"edubook/pkg/config"
	"edubook/pkg/kafka"
	kafka_config "edubook/pkg/kafka/config"
	kafka_middleware "edubook/pkg/kafka/middleware"
)

const ServiceName = "audit-ingest"

// Consumes the audit topic and persists every entry into the audit
// collection. Used when the bookings service publishes audit entries to
// Kafka only.
func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	kcfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid kafka configuration", "error", err)
	}
	kcfg.LogConfiguration(cfg.Log)

	handler := audit.NewIngestHandler(repository.NewMongoAuditRepository(cfg), cfg.Log)
	consumer, err := kafka.NewConsumer(kcfg, cfg.Log, cfg.AuditTopic, kcfg.ConsumerGroupID, kcfg.DLQTopic(cfg.AuditTopic), handler)
	if err != nil {
		cfg.Log.Fatal("Failed to create audit consumer", "error", err)
	}
	if kcfg.EnableMiddleware {
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Log.Info("Starting audit ingest", "topic", cfg.AuditTopic, "group_id", kcfg.ConsumerGroupID)
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cfg.Log.Error("Audit consumer stopped", "error", err)
	}

	if err := consumer.Close(); err != nil {
		cfg.Log.Error("Failed to close audit consumer", "error", err)
	}
	cfg.Log.Info("Audit ingest stopped")
}

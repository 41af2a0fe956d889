package main

import (
	"edubook/internal/appointments/audit"
	"edubook/internal/appointments/conflict"
	"edubook/internal/appointments/handler"
	"edubook/internal/appointments/lock"
	"edubook/internal/appointments/repository"
	"edubook/internal/appointments/service"
	"edubook/internal/appointments/sweeper"
	"edubook/internal/appointments/validator"
	"edubook/pkg/app"
	"edubook/pkg/config"
	"edubook/pkg/kafka"
	kafka_config "edubook/pkg/kafka/config"
	kafka_middleware "edubook/pkg/kafka/middleware"
)

const ServiceName = "bookings"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	if cfg.LockBackend == config.LockBackendRedis {
		cfg.SetRedis()
	}

	cfg.Log.Info("Starting Bookings service")
	serverApp := app.NewApplication(cfg)

	bookingService := initServices(cfg, serverApp)

	bookingSweeper := sweeper.New(bookingService, cfg.SweepInterval, cfg.Log)
	bookingSweeper.Start()
	serverApp.AddWorker(bookingSweeper)

	serverApp.SetApp(
		handler.NewBookingHandler(bookingService, cfg.ClampAttempts, cfg.Log),
		handler.NewHealthHandler(cfg.Log, healthChecks(cfg)...),
	)
	serverApp.Run()
}

func initServices(cfg *config.Config, serverApp *app.Application) service.BookingService {
	catalogRepo := repository.NewMongoCatalogRepository(cfg)
	appointmentRepo := repository.NewMongoAppointmentRepository(cfg)

	locks, err := lock.NewManager(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to build lock manager", "error", err)
	}

	sink, err := audit.New(cfg.AuditBackend, repository.NewMongoAuditRepository(cfg), auditPublisher(cfg, serverApp), cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to build audit sink", "error", err)
	}

	bookingService := service.NewBookingService(service.Dependencies{
		Validator: validator.NewBookingValidator(catalogRepo, validator.Options{
			AdvanceBookingDays: cfg.AdvanceBookingDays,
			Location:           cfg.Location(),
		}, cfg.Log),
		Conflicts:    conflict.NewResolver(appointmentRepo, catalogRepo),
		Locks:        locks,
		Transactions: repository.NewMongoTransactionRepository(cfg),
		Appointments: appointmentRepo,
		Audit:        sink,
	}, service.OptionsFromConfig(cfg), cfg.Log)

	cfg.Log.Info("Booking service initialized",
		"database", cfg.MongoDatabaseName,
		"lock_backend", cfg.LockBackend,
		"audit_backend", cfg.AuditBackend,
	)
	return bookingService
}

// auditPublisher returns nil when the audit backend does not involve Kafka.
func auditPublisher(cfg *config.Config, serverApp *app.Application) audit.Publisher {
	if cfg.AuditBackend == config.AuditBackendMongo {
		return nil
	}

	kcfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid kafka configuration", "error", err)
	}
	kcfg.LogConfiguration(cfg.Log)

	producer, err := kafka.NewProducer(kcfg, cfg.Log, cfg.AuditTopic, kcfg.DLQTopic(cfg.AuditTopic))
	if err != nil {
		cfg.Log.Fatal("Failed to create audit producer", "error", err)
	}
	if kcfg.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	}

	serverApp.AddWorker(app.WorkerFunc(func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close audit producer", "error", err)
		}
	}))
	return producer
}

func healthChecks(cfg *config.Config) []handler.Check {
	checks := []handler.Check{handler.MongoCheck(cfg.Client.Mongo)}
	if cfg.Client.Redis != nil {
		checks = append(checks, handler.RedisCheck(cfg.Client.Redis))
	}
	return checks
}

package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvRequestTimeout    = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL    = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize    = "MAX_REQUEST_SIZE"
	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvLockBackend      = "LOCK_BACKEND"
	EnvLockTimeout      = "LOCK_TIMEOUT"
	EnvLockTTL          = "LOCK_TTL"
	EnvLockPollInterval = "LOCK_POLL_INTERVAL"

	EnvTransactionTTL            = "TRANSACTION_TTL"
	EnvAdvanceBookingDays        = "DEFAULT_ADVANCE_BOOKING_DAYS"
	EnvBookingTimezone           = "BOOKING_TIMEZONE"
	EnvRetryMaxAttempts          = "RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay            = "RETRY_BASE_DELAY"
	EnvRetryMaxDelay             = "RETRY_MAX_DELAY"
	EnvSweepInterval             = "SWEEP_INTERVAL"
	EnvSweepBatchSize            = "SWEEP_BATCH_SIZE"
	EnvMaxRetryAttemptsPerCaller = "RETRY_MAX_ATTEMPTS_PER_CALLER"

	EnvAuditBackend = "AUDIT_BACKEND"
	EnvAuditTopic   = "AUDIT_TOPIC"
	EnvAuditTimeout = "AUDIT_TIMEOUT"

	EnvRedisURL      = "REDIS_URL"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"

	// EnvDotenvFile points at an optional .env file; missing files are ignored.
	EnvDotenvFile = "DOTENV_FILE"
)

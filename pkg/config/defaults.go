package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "edubook"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultRequestTimeout    = 30 * time.Second
	DefaultIdempotencyTTL    = 24 * time.Hour
	DefaultMaxRequestSize    = 64 * 1024 // 64KB
	DefaultRateLimitRequests = 30
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLockBackend      = LockBackendMongo
	DefaultLockTimeout      = 2 * time.Second
	DefaultLockTTL          = 30 * time.Second
	DefaultLockPollInterval = 25 * time.Millisecond

	DefaultTransactionTTL            = 2 * time.Minute
	DefaultAdvanceBookingDays        = 90
	DefaultBookingTimezone           = "UTC"
	DefaultRetryMaxAttempts          = 3
	DefaultRetryBaseDelay            = 100 * time.Millisecond
	DefaultRetryMaxDelay             = 2 * time.Second
	DefaultSweepInterval             = 1 * time.Minute
	DefaultSweepBatchSize            = 100
	DefaultMaxRetryAttemptsPerCaller = 10

	DefaultAuditBackend = AuditBackendMongo
	DefaultAuditTopic   = "booking.audit"
	DefaultAuditTimeout = 2 * time.Second

	DefaultRedisURL = "localhost:6379"
	DefaultRedisDB  = 0
)

const (
	LockBackendMongo  = "mongo"
	LockBackendRedis  = "redis"
	LockBackendMemory = "memory"

	AuditBackendMongo = "mongo"
	AuditBackendKafka = "kafka"
	AuditBackendBoth  = "both"
)

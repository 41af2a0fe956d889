package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"edubook/pkg/client"
	"edubook/pkg/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	Port     string
	LogLevel string

	RequestTimeout    time.Duration
	IdempotencyTTL    time.Duration
	MaxRequestSize    int
	RateLimitRequests int
	RateLimitWindow   time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	LockBackend      string
	LockTimeout      time.Duration
	LockTTL          time.Duration
	LockPollInterval time.Duration

	TransactionTTL            time.Duration
	AdvanceBookingDays        int
	BookingTimezone           string
	RetryMaxAttempts          int
	RetryBaseDelay            time.Duration
	RetryMaxDelay             time.Duration
	MaxRetryAttemptsPerCaller int
	SweepInterval             time.Duration
	SweepBatchSize            int

	AuditBackend string
	AuditTopic   string
	AuditTimeout time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	dotenvErr := loadDotenv()

	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		Port:     getEnvStr(EnvPort, DefaultPort),
		LogLevel: getEnvStr(EnvLogLevel, DefaultLogLevel),

		RequestTimeout:    getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL:    getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize:    getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),
		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		LockBackend:      getEnvStr(EnvLockBackend, DefaultLockBackend),
		LockTimeout:      getEnvDuration(EnvLockTimeout, DefaultLockTimeout),
		LockTTL:          getEnvDuration(EnvLockTTL, DefaultLockTTL),
		LockPollInterval: getEnvDuration(EnvLockPollInterval, DefaultLockPollInterval),

		TransactionTTL:            getEnvDuration(EnvTransactionTTL, DefaultTransactionTTL),
		AdvanceBookingDays:        getEnvNum(EnvAdvanceBookingDays, DefaultAdvanceBookingDays),
		BookingTimezone:           getEnvStr(EnvBookingTimezone, DefaultBookingTimezone),
		RetryMaxAttempts:          getEnvNum(EnvRetryMaxAttempts, DefaultRetryMaxAttempts),
		RetryBaseDelay:            getEnvDuration(EnvRetryBaseDelay, DefaultRetryBaseDelay),
		RetryMaxDelay:             getEnvDuration(EnvRetryMaxDelay, DefaultRetryMaxDelay),
		MaxRetryAttemptsPerCaller: getEnvNum(EnvMaxRetryAttemptsPerCaller, DefaultMaxRetryAttemptsPerCaller),
		SweepInterval:             getEnvDuration(EnvSweepInterval, DefaultSweepInterval),
		SweepBatchSize:            getEnvNum(EnvSweepBatchSize, DefaultSweepBatchSize),

		AuditBackend: getEnvStr(EnvAuditBackend, DefaultAuditBackend),
		AuditTopic:   getEnvStr(EnvAuditTopic, DefaultAuditTopic),
		AuditTimeout: getEnvDuration(EnvAuditTimeout, DefaultAuditTimeout),

		RedisURL:      getEnvStr(EnvRedisURL, DefaultRedisURL),
		RedisPassword: getEnvStr(EnvRedisPassword, ""),
		RedisDB:       getEnvNum(EnvRedisDB, DefaultRedisDB),

		Client: client.NewClient(),
	}
	cfg.Log = logger.New(logger.Config{
		Level:     cfg.LogLevel,
		Format:    logger.JSON,
		AddSource: true,
		Service:   serviceName,
	})

	if dotenvErr != nil {
		cfg.Log.Warn("Failed to load .env file", "error", dotenvErr)
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

// loadDotenv reads DOTENV_FILE (or ./.env) into the process environment
// without overriding variables that are already set.
func loadDotenv() error {
	path := getEnvStr(EnvDotenvFile, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) SetRedis() {
	cfg.Client.SetRedis(cfg.Log, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, cfg.MongoConnTimeout)
}

// Location returns the zone booking dates are interpreted in. Validate has
// already rejected unknown zones.
func (cfg *Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.BookingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errors = append(errors, "MongoURI cannot be empty")
	} else if len(cfg.MongoURI) < 10 || !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
	}
	if cfg.MongoDatabaseName == "" {
		errors = append(errors, "MongoDatabaseName cannot be empty")
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"MongoConnTimeout", cfg.MongoConnTimeout},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"RateLimitWindow", cfg.RateLimitWindow},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"LockTimeout", cfg.LockTimeout},
		{"LockTTL", cfg.LockTTL},
		{"LockPollInterval", cfg.LockPollInterval},
		{"TransactionTTL", cfg.TransactionTTL},
		{"RetryBaseDelay", cfg.RetryBaseDelay},
		{"RetryMaxDelay", cfg.RetryMaxDelay},
		{"SweepInterval", cfg.SweepInterval},
		{"AuditTimeout", cfg.AuditTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", p.name, p.value))
		}
	}

	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}

	switch cfg.LockBackend {
	case LockBackendMongo, LockBackendRedis, LockBackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("LockBackend must be one of mongo, redis, memory, got: %s", cfg.LockBackend))
	}
	if cfg.LockTTL <= cfg.LockTimeout {
		errors = append(errors, fmt.Sprintf("LockTTL (%s) must be greater than LockTimeout (%s)", cfg.LockTTL, cfg.LockTimeout))
	}
	if cfg.TransactionTTL < cfg.LockTTL {
		errors = append(errors, fmt.Sprintf("TransactionTTL (%s) must be at least LockTTL (%s)", cfg.TransactionTTL, cfg.LockTTL))
	}

	if cfg.AdvanceBookingDays <= 0 {
		errors = append(errors, fmt.Sprintf("AdvanceBookingDays must be positive, got: %d", cfg.AdvanceBookingDays))
	}
	if _, err := time.LoadLocation(cfg.BookingTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("BookingTimezone must be a valid IANA zone, got: %s", cfg.BookingTimezone))
	}

	if cfg.RetryMaxAttempts <= 0 {
		errors = append(errors, fmt.Sprintf("RetryMaxAttempts must be positive, got: %d", cfg.RetryMaxAttempts))
	}
	if cfg.MaxRetryAttemptsPerCaller < cfg.RetryMaxAttempts {
		errors = append(errors, fmt.Sprintf("MaxRetryAttemptsPerCaller (%d) must be >= RetryMaxAttempts (%d)", cfg.MaxRetryAttemptsPerCaller, cfg.RetryMaxAttempts))
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		errors = append(errors, fmt.Sprintf("RetryMaxDelay (%s) must be >= RetryBaseDelay (%s)", cfg.RetryMaxDelay, cfg.RetryBaseDelay))
	}
	if cfg.SweepBatchSize <= 0 {
		errors = append(errors, fmt.Sprintf("SweepBatchSize must be positive, got: %d", cfg.SweepBatchSize))
	}

	switch cfg.AuditBackend {
	case AuditBackendMongo, AuditBackendKafka, AuditBackendBoth:
	default:
		errors = append(errors, fmt.Sprintf("AuditBackend must be one of mongo, kafka, both, got: %s", cfg.AuditBackend))
	}
	if cfg.AuditBackend != AuditBackendMongo && cfg.AuditTopic == "" {
		errors = append(errors, "AuditTopic cannot be empty when auditing to Kafka")
	}

	if cfg.LockBackend == LockBackendRedis && cfg.RedisURL == "" {
		errors = append(errors, "RedisURL cannot be empty when LockBackend is redis")
	}
	if cfg.RedisDB < 0 {
		errors = append(errors, fmt.Sprintf("RedisDB cannot be negative, got: %d", cfg.RedisDB))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"port", cfg.Port,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"lock_backend", cfg.LockBackend,
		"lock_timeout", cfg.LockTimeout,
		"lock_ttl", cfg.LockTTL,
		"lock_poll_interval", cfg.LockPollInterval,
		"transaction_ttl", cfg.TransactionTTL,
		"advance_booking_days", cfg.AdvanceBookingDays,
		"booking_timezone", cfg.BookingTimezone,
		"retry_max_attempts", cfg.RetryMaxAttempts,
		"retry_base_delay", cfg.RetryBaseDelay,
		"retry_max_delay", cfg.RetryMaxDelay,
		"sweep_interval", cfg.SweepInterval,
		"sweep_batch_size", cfg.SweepBatchSize,
		"audit_backend", cfg.AuditBackend,
		"audit_topic", cfg.AuditTopic,
		"redis_url", cfg.RedisURL,
		"redis_password_set", cfg.RedisPassword != "",
	)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}

// ClampAttempts bounds a caller-supplied retry budget.
func (cfg *Config) ClampAttempts(requested int) int {
	if requested <= 0 {
		return cfg.RetryMaxAttempts
	}
	return min(requested, cfg.MaxRetryAttemptsPerCaller)
}

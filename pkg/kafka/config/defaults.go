package kafka_config

import "time"

const (
	DefaultKafkaBrokers = "localhost:9092"

	// Audit entries are published synchronously so a lost entry surfaces as
	// an error on the booking path.
	DefaultProducerMaxAttempts  = 3
	DefaultProducerBatchTimeout = 10 * time.Millisecond
	DefaultProducerRequireAcks  = -1
	DefaultProducerCompression  = "snappy"
	DefaultProducerAsync        = false

	DefaultConsumerGroupID           = "edubook-audit-ingest"
	DefaultConsumerStartOffset       = -2 // oldest, so a new group ingests the backlog
	DefaultConsumerMinBytes          = 1
	DefaultConsumerMaxBytes          = 10 * 1024 * 1024
	DefaultConsumerMaxWait           = 500 * time.Millisecond
	DefaultConsumerCommitInterval    = 0 // synchronous commits after each handled message
	DefaultConsumerHeartbeatInterval = 3 * time.Second
	DefaultConsumerSessionTimeout    = 10 * time.Second
	DefaultConsumerRebalanceTimeout  = 60 * time.Second
	DefaultConsumerMaxRetries        = 3
	DefaultConsumerRetryDelay        = 200 * time.Millisecond

	DefaultDLQSuffix        = ".dlq"
	DefaultEnableMiddleware = true
)

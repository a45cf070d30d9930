package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the relay daemon. Knobs for
// the embedding services (snapshot thresholds, strict tenant mode) live on the
// library constructors, not here.
type Server struct {
	Addr               string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	KafkaBrokers       string
	OutboxTopic        string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CHRONICLE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("CHRONICLE_OUTBOX_TOPIC")
	if topic == "" {
		topic = "chronicle.events"
	}

	pollInterval := 100 * time.Millisecond
	if s := os.Getenv("CHRONICLE_OUTBOX_POLL_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			pollInterval = d
		}
	}

	batchSize := 100
	if s := os.Getenv("CHRONICLE_OUTBOX_BATCH_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			batchSize = n
		}
	}

	return Server{
		Addr:               addr,
		LogLevel:           os.Getenv("CHRONICLE_LOG_LEVEL"),
		DatabaseURL:        os.Getenv("CHRONICLE_DATABASE_URL"),
		RedisURL:           os.Getenv("CHRONICLE_REDIS_URL"),
		KafkaBrokers:       os.Getenv("CHRONICLE_KAFKA_BROKERS"),
		OutboxTopic:        topic,
		OutboxPollInterval: pollInterval,
		OutboxBatchSize:    batchSize,
	}
}

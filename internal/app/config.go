package app

import "time"

// StorageDriver определяет реализацию хранилища заказов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// IdempotencyDriver определяет хранилище ключей идемпотентности.
type IdempotencyDriver string

const (
	IdempotencyDriverMemory   IdempotencyDriver = "memory"
	IdempotencyDriverPostgres IdempotencyDriver = "postgres"
	IdempotencyDriverRedis    IdempotencyDriver = "redis"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	TxTimeout           time.Duration
	RequestTimeout      time.Duration

	// KafkaBrokers - список брокеров через запятую; пустое значение включает LogPublisher.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyDriver           IdempotencyDriver
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	OTelEndpoint string
	SeedDemoData bool
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		TxTimeout:           10 * time.Second,
		RequestTimeout:      15 * time.Second,

		KafkaTopic:    "ordertx.order.events",
		KafkaDLQTopic: "ordertx.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyDriver:           IdempotencyDriverMemory,
		RedisAddr:                   "localhost:6379",
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		SeedDemoData: true,
	}
}

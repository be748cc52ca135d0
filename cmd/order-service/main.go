package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/app"
)

const (
	envHTTPAddr                    = "ORDERS_HTTP_ADDR"
	envGRPCAddr                    = "ORDERS_GRPC_ADDR"
	envMetricsAddr                 = "ORDERS_METRICS_ADDR"
	envStorageDriver               = "ORDERS_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERS_POSTGRES_AUTO_MIGRATE"
	envTxTimeout                   = "ORDERS_TX_TIMEOUT"
	envRequestTimeout              = "ORDERS_REQUEST_TIMEOUT"
	envKafkaBrokers                = "ORDERS_KAFKA_BROKERS"
	envKafkaTopic                  = "ORDERS_KAFKA_TOPIC"
	envKafkaDLQTopic               = "ORDERS_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "ORDERS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERS_OUTBOX_RETRY_DELAY"
	envIdempotencyDriver           = "ORDERS_IDEMPOTENCY_DRIVER"
	envRedisAddr                   = "ORDERS_REDIS_ADDR"
	envIdempotencyTTL              = "ORDERS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envOTelEndpoint                = "ORDERS_OTEL_ENDPOINT"
	envSeedDemoData                = "ORDERS_SEED_DEMO_DATA"
	envLogLevel                    = "ORDERS_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

func positiveInt(v int) bool                   { return v > 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) []string {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return []string{fmt.Sprintf("%s: %v, using info", envLogLevel, err)}
	}
	log.SetLevel(level)
	return nil
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения оставляют значение по умолчанию и попадают в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		if v, ok := lookup(key); ok {
			parsed, err := parseInt(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		switch driver := app.StorageDriver(strings.ToLower(strings.TrimSpace(v))); driver {
		case app.StorageDriverMemory, app.StorageDriverPostgres:
			cfg.StorageDriver = driver
		default:
			warn(envStorageDriver, v, errors.New("must be memory or postgres"))
		}
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	duration(envTxTimeout, &cfg.TxTimeout, positiveDuration, "must be > 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	if v, ok := lookup(envIdempotencyDriver); ok && strings.TrimSpace(v) != "" {
		switch driver := app.IdempotencyDriver(strings.ToLower(strings.TrimSpace(v))); driver {
		case app.IdempotencyDriverMemory, app.IdempotencyDriverPostgres, app.IdempotencyDriverRedis:
			cfg.IdempotencyDriver = driver
		default:
			warn(envIdempotencyDriver, v, errors.New("must be memory, postgres or redis"))
		}
	}
	str(envRedisAddr, &cfg.RedisAddr)
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	str(envOTelEndpoint, &cfg.OTelEndpoint)
	boolean(envSeedDemoData, &cfg.SeedDemoData)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	envFileErr := godotenv.Load()

	warnings := setupLogger(os.LookupEnv)
	cfg, configWarnings := readConfigFromEnv(os.LookupEnv)
	warnings = append(warnings, configWarnings...)

	if envFileErr != nil && !errors.Is(envFileErr, os.ErrNotExist) {
		log.WithError(envFileErr).Warn("failed to load .env file")
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":          cfg.HTTPAddr,
		"grpc_addr":          cfg.GRPCAddr,
		"metrics_addr":       cfg.MetricsAddr,
		"storage_driver":     cfg.StorageDriver,
		"idempotency_driver": cfg.IdempotencyDriver,
		"kafka_enabled":      cfg.KafkaBrokers != "",
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordertx/internal/health"
	"github.com/vladislavdragonenkov/ordertx/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordertx/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordertx/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/ordertx/internal/storage/redis"
)

// runtimeDependencies - хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	transactor      domain.Transactor
	reader          domain.OrderReader
	seeder          domain.CatalogSeeder
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	// sweeper задан только для хранилищ без нативного TTL.
	sweeper idempotency.ExpiredKeyStore

	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker

	// pgStore задан при StorageDriverPostgres.
	pgStore *postgres.Store

	closers []func() error
}

// closeFn закрывает подключения в обратном порядке открытия.
func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}
	if err := initStorage(ctx, cfg, logger, deps); err != nil {
		return nil, err
	}
	if err := initIdempotencyStore(ctx, cfg, logger, deps); err != nil {
		_ = deps.closeFn()
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.transactor = store
		deps.reader = store
		deps.seeder = store
		deps.outboxRepo = store.Outbox()
		deps.storageChecker = healthcheck.NewPingChecker("storage", store)
		logger.WithField("driver", StorageDriverMemory).Info("storage initialized")
		return nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return fmt.Errorf("postgres storage requires ORDERS_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open postgres storage: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = deps.closeFn()
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		deps.pgStore = store
		deps.transactor = store
		deps.reader = store
		deps.seeder = store
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.storageChecker = healthcheck.NewPingChecker("storage", store)
		logger.WithFields(log.Fields{
			"driver":       StorageDriverPostgres,
			"auto_migrate": cfg.PostgresAutoMigrate,
		}).Info("storage initialized")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initIdempotencyStore(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.IdempotencyDriver {
	case IdempotencyDriverMemory, "":
		repo := memory.NewIdempotencyRepository()
		deps.idempotencyRepo = repo
		deps.sweeper = repo
		return nil

	case IdempotencyDriverPostgres:
		if deps.pgStore == nil {
			return fmt.Errorf("postgres idempotency driver requires ORDERS_STORAGE_DRIVER=postgres")
		}
		repo := postgres.NewIdempotencyRepository(deps.pgStore)
		deps.idempotencyRepo = repo
		deps.sweeper = repo
		logger.Info("postgres idempotency store initialized")
		return nil

	case IdempotencyDriverRedis:
		client := redisstore.NewClient(cfg.RedisAddr)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		deps.closers = append(deps.closers, client.Close)
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
		deps.idempotencyChecker = healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}).Optional()
		logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency store initialized")
		return nil

	default:
		return fmt.Errorf("unsupported idempotency driver %q", cfg.IdempotencyDriver)
	}
}

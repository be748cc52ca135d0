package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/ordertx/internal/health"
	"github.com/vladislavdragonenkov/ordertx/internal/httpapi"
	"github.com/vladislavdragonenkov/ordertx/internal/metrics"
	"github.com/vladislavdragonenkov/ordertx/internal/observability"
	"github.com/vladislavdragonenkov/ordertx/internal/service/engine"
	"github.com/vladislavdragonenkov/ordertx/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordertx/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordertx/internal/service/query"
	"github.com/vladislavdragonenkov/ordertx/internal/version"
)

const serviceName = "ordertx"

// Run поднимает API, gRPC health, сервер метрик и фоновые воркеры и ждёт отмены ctx.
// После отмены возвращает ctx.Err(), при падении любого сервера - его ошибку.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting ordertx")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, deps.seeder, logger); err != nil {
			return err
		}
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       true,
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
	})
	if err != nil {
		logger.WithError(err).Warn("tracing is disabled")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	pubs := initPublishers(cfg, logger)
	defer closeKafkaProducer(pubs.producer, logger)

	orderMetrics := metrics.NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
	eng := engine.New(deps.transactor,
		engine.WithLogger(log.WithField("component", "engine")),
		engine.WithMetrics(orderMetrics),
		engine.WithTxTimeout(cfg.TxTimeout),
	)
	queries := query.NewService(deps.reader, log.WithField("component", "query"), orderMetrics)
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, log.WithField("component", "idempotency"))

	api := httpapi.NewHandler(eng, queries,
		httpapi.WithLogger(log.WithField("component", "http")),
		httpapi.WithIdempotency(guard),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	healthHandler := newHealthHandler(cfg, deps, pubs)

	listeners, err := listenAll(cfg)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: readHeaderTimeout}
	metricsSrv := newMetricsServer(cfg.MetricsAddr, prometheus.DefaultGatherer, healthHandler)
	grpcSrv := newGRPCHealthServer(prometheus.DefaultRegisterer, deps.storageChecker, logger)

	worker := outbox.NewWorker(deps.outboxRepo, pubs.main,
		outbox.WithLogger(log.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(pubs.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return serveHTTP(groupCtx, apiSrv, listeners.api, "api", logger) })
	group.Go(func() error { return serveHTTP(groupCtx, metricsSrv, listeners.metrics, "metrics", logger) })
	group.Go(func() error { return grpcSrv.serve(groupCtx, listeners.grpc, logger) })
	group.Go(func() error {
		worker.Run(groupCtx)
		return nil
	})
	if deps.sweeper != nil {
		sweeper := idempotency.NewSweeper(deps.sweeper,
			idempotency.WithLogger(log.WithField("component", "idempotency-sweeper")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		group.Go(func() error {
			sweeper.Run(groupCtx)
			return nil
		})
	}

	err = group.Wait()
	logger.Info("ordertx stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

func newHealthHandler(cfg Config, deps *runtimeDependencies, pubs publishers) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.RegisterChecker("storage", deps.storageChecker)
	if deps.idempotencyChecker != nil {
		handler.RegisterChecker("redis", deps.idempotencyChecker)
	}
	if len(splitBrokers(cfg.KafkaBrokers)) > 0 {
		handler.RegisterChecker("kafka", healthcheck.NewSimpleChecker("kafka", func(context.Context) error {
			if pubs.producer == nil {
				return errors.New("kafka producer is not connected, events are logged only")
			}
			return nil
		}).Optional())
	}
	return handler
}

type serverListeners struct {
	api     net.Listener
	grpc    net.Listener
	metrics net.Listener
}

// listenAll открывает все порты до старта серверов, чтобы ошибка адреса была видна сразу.
func listenAll(cfg Config) (serverListeners, error) {
	var (
		result serverListeners
		opened []net.Listener
	)
	for _, target := range []struct {
		addr string
		dst  *net.Listener
		name string
	}{
		{cfg.HTTPAddr, &result.api, "http"},
		{cfg.GRPCAddr, &result.grpc, "grpc"},
		{cfg.MetricsAddr, &result.metrics, "metrics"},
	} {
		lis, err := net.Listen("tcp", target.addr)
		if err != nil {
			for _, l := range opened {
				_ = l.Close()
			}
			return serverListeners{}, fmt.Errorf("listen %s on %s: %w", target.name, target.addr, err)
		}
		opened = append(opened, lis)
		*target.dst = lis
	}
	return result, nil
}

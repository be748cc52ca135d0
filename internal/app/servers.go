package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordertx/internal/health"
)

const (
	shutdownTimeout        = 5 * time.Second
	healthPollInterval     = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second
	grpcHealthyServiceName = ""
)

// newMetricsServer собирает HTTP-сервер с /metrics и health-пробами.
func newMetricsServer(addr string, gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
}

// serveHTTP обслуживает srv на lis до отмены ctx, затем аккуратно останавливает его.
func serveHTTP(ctx context.Context, srv *http.Server, lis net.Listener, name string, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"server": name, "addr": lis.Addr().String()}).Info("http server started")
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, name, logger)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, name string, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", name).Warn("http shutdown with error")
	}
}

// grpcHealthServer - gRPC health и reflection; статус следует за проверкой хранилища.
type grpcHealthServer struct {
	server  *grpc.Server
	health  *health.Server
	checker healthcheck.Checker
}

func newGRPCHealthServer(registerer prometheus.Registerer, checker healthcheck.Checker, logger *log.Entry) *grpcHealthServer {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return &grpcHealthServer{server: server, health: healthServer, checker: checker}
}

func (g *grpcHealthServer) refreshStatus(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if g.checker != nil && g.checker.Check(ctx).Status == healthcheck.StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(grpcHealthyServiceName, status)
}

// serve обслуживает lis до отмены ctx и периодически обновляет статус health.
func (g *grpcHealthServer) serve(ctx context.Context, lis net.Listener, logger *log.Entry) error {
	g.refreshStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("grpc health server started")
		errCh <- g.server.Serve(lis)
	}()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.health.Shutdown()
			g.stop(logger)
			return nil
		case <-ticker.C:
			g.refreshStatus(ctx)
		case err := <-errCh:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("grpc server: %w", err)
		}
	}
}

func (g *grpcHealthServer) stop(logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		g.server.Stop()
	}
}

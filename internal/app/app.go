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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/health"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/negotiation"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/notification"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/sweeper"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	storageCheckTimeout = 2 * time.Second
	grpcHealthInterval  = 10 * time.Second
)

// Run поднимает HTTP API, gRPC health, метрики и фоновые воркеры и ждёт отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	transport := initNotificationTransport(ctx, cfg, logger.WithField("layer", "messaging"))
	defer transport.close(logger)

	negotiationMetrics := metrics.NewNegotiationMetrics()
	backgroundMetrics := metrics.NewBackgroundMetrics()
	notifier := notification.NewOutboxNotifier(deps.outboxRepo,
		notification.WithLogger(logger.WithField("layer", "notification")))
	engine := negotiation.NewEngine(deps.offers, deps.listings, deps.users, notifier,
		negotiation.WithLogger(logger.WithField("layer", "negotiation")),
		negotiation.WithOfferTTL(cfg.OfferTTL),
		negotiation.WithMetrics(negotiationMetrics),
		negotiation.WithExpireBatchSize(cfg.SweeperBatchSize),
	)

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", health.NewPingChecker("storage", storageCheckTimeout, deps.ping))
	if transport.ping != nil {
		healthHandler.RegisterOptional("notifications",
			health.NewPingChecker("notifications", storageCheckTimeout, transport.ping))
	}

	api := httpapi.NewHandler(engine,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins()...),
	)

	apiListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http api: %w", err)
	}
	metricsListener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiListener.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiListener.Close()
		_ = metricsListener.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	grpcServer, grpcHealth := newGRPCServer(logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("offer HTTP API listening on %s", apiListener.Addr())
		return serveHTTP(gctx, &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}, apiListener, logger)
	})
	g.Go(func() error {
		logger.Infof("metrics available at %s/metrics", metricsListener.Addr())
		return serveHTTP(gctx, newMetricsServer(healthHandler), metricsListener, logger)
	})
	g.Go(func() error {
		logger.Infof("gRPC health listening on %s", grpcListener.Addr())
		return serveGRPC(gctx, grpcServer, grpcHealth, grpcListener, logger)
	})
	g.Go(func() error {
		syncGRPCHealth(gctx, healthHandler, grpcHealth)
		return nil
	})

	g.Go(func() error {
		sweeper.NewWorker(engine,
			sweeper.WithLogger(logger.WithField("layer", "sweeper")),
			sweeper.WithInterval(cfg.SweeperInterval),
			sweeper.WithMetrics(negotiationMetrics),
		).Run(gctx)
		return nil
	})
	g.Go(func() error {
		outbox.NewWorker(deps.outboxRepo, transport.publisher,
			outbox.WithLogger(logger.WithFields(log.Fields{"layer": "outbox", "transport": transport.name})),
			outbox.WithDLQPublisher(transport.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithMetrics(backgroundMetrics),
		).Run(gctx)
		return nil
	})
	g.Go(func() error {
		idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("layer", "idempotency")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
			idempotency.WithMetrics(backgroundMetrics),
		).Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("offer service stopped")
	return ctx.Err()
}

// newGRPCServer собирает gRPC-сервер с health, reflection и Prometheus-интерсепторами.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

func serveGRPC(ctx context.Context, server *grpc.Server, healthServer *grpchealth.Server, lis net.Listener, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("grpc graceful stop timed out, forcing stop")
			server.Stop()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc server: %w", err)
	}
}

// syncGRPCHealth переносит результат проверок хранилища в gRPC health.
func syncGRPCHealth(ctx context.Context, checks *health.Handler, healthServer *grpchealth.Server) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if !checks.Ready(ctx) {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(grpcHealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// newMetricsServer отдаёт /metrics и health-пробы.
func newMetricsServer(healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serveHTTP обслуживает запросы до отмены ctx и затем аккуратно останавливает сервер.
func serveHTTP(ctx context.Context, srv *http.Server, lis net.Listener, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, logger)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"marketplace/messaging-service/internal/config"
	"marketplace/messaging-service/internal/directory"
	grpcServer "marketplace/messaging-service/internal/grpc"
	"marketplace/messaging-service/internal/httpapi"
	"marketplace/messaging-service/internal/realtime"
	"marketplace/messaging-service/internal/repository"
	"marketplace/messaging-service/internal/repository/memory"
	"marketplace/messaging-service/internal/service"
)

type backend struct {
	store    repository.Store
	users    service.UserDirectory
	listings service.ListingCatalog
	close    func()
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*backend, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		dir := directory.NewMemoryDirectory()
		return &backend{store: memory.NewStore(), users: dir, listings: dir, close: func() {}}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL database")

	store := repository.NewPostgresStore(db)
	if err := store.InitializeTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	dir := directory.NewPostgresDirectory(db)
	return &backend{store: store, users: dir, listings: dir, close: func() { db.Close() }}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	be, err := openBackend(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer be.close()

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	var next realtime.Publisher = hub
	if cfg.Realtime.Broker == config.BrokerValkey {
		broker, err := realtime.NewValkeyBroker(cfg.Realtime.ValkeyAddr, hub, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to Valkey: %v", err)
		}
		defer broker.Close()
		go func() {
			if err := broker.Run(ctx); err != nil {
				logger.WithError(err).Error("Valkey relay stopped")
			}
		}()
		next = broker
		logger.WithField("addr", cfg.Realtime.ValkeyAddr).Info("Using Valkey broker")
	}
	publisher := realtime.NewAsyncPublisher(next, cfg.Realtime.QueueSize, logger)

	opts := []service.Option{service.WithPageSizes(cfg.Pagination.DefaultSize, cfg.Pagination.MaxSize)}
	chatService := service.NewChatService(be.store, publisher, be.users, be.listings, logger, opts...)
	inboxService := service.NewInboxService(be.store, be.users, be.listings, logger, opts...)
	notificationService := service.NewNotificationService(be.store, publisher, be.users, be.listings, logger, opts...)

	address := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	lis, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf("Failed to listen on %s: %v", address, err)
	}

	s := grpc.NewServer()
	grpcServer.Register(s, grpcServer.NewMessagingServer(chatService, inboxService, notificationService, logger))

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(s, healthSrv)
	healthSrv.SetServingStatus(grpcServer.ServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.GRPC.ReflectionEnabled {
		reflection.Register(s)
		logger.Info("gRPC reflection enabled")
	}

	go func() {
		logger.Infof("Starting gRPC server on %s", address)
		if err := s.Serve(lis); err != nil {
			logger.Fatalf("Failed to start gRPC server: %v", err)
		}
	}()

	handler := httpapi.NewHandler(chatService, inboxService, notificationService, hub, httpapi.NewAuthenticator(cfg.Auth.JWTSecret), logger)
	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.HTTP.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting HTTP server on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	healthSrv.Shutdown()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelHTTP()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown timeout")
	}

	grpcCtx, cancelGRPC := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
	defer cancelGRPC()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gRPC server exited gracefully")
	case <-grpcCtx.Done():
		logger.Info("gRPC server shutdown timeout")
		s.Stop()
	}

	publisher.Close()
	stop()

	logger.Info("Server exited")
}

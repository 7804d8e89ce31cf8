package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"semaphore/bursar/internal/auth"
	"semaphore/bursar/internal/clients"
	"semaphore/bursar/internal/config"
	"semaphore/bursar/internal/db"
	bursargrpc "semaphore/bursar/internal/grpc"
	"semaphore/bursar/internal/guard"
	internalhttp "semaphore/bursar/internal/http"
	"semaphore/bursar/internal/identity"
	"semaphore/bursar/internal/jobs"
	"semaphore/bursar/internal/ledger"
	"semaphore/bursar/internal/logger"
	"semaphore/bursar/internal/metrics"
	"semaphore/bursar/internal/notify"
	"semaphore/bursar/internal/repository"
)

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	if err := cfg.Validate(); err != nil {
		logg.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logg.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.ApplySchema(ctx, pool); err != nil {
			logg.Fatal("schema migration failed", zap.Error(err))
		}
		logg.Info("schema applied")
	}

	backing, err := clients.New(ctx, cfg, logg)
	if err != nil {
		logg.Fatal("backing services unavailable", zap.Error(err))
	}
	defer backing.Close()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logg.Fatal("token service init failed", zap.Error(err))
	}

	store := repository.NewStore(pool)

	var (
		deny    guard.DenyList
		revoker identity.Revoker
	)
	if backing.Redis != nil {
		denyList := guard.NewRedisDenyList(backing.Redis, "bursar:deny")
		deny, revoker = denyList, denyList
	} else {
		logg.Warn("token revocation disabled: REDIS_ADDR not set")
	}

	var sink notify.Sink = notify.NewLogSink(logg)
	if backing.NATS != nil {
		sink = notify.NewNATSSink(backing.NATS, cfg.NATSSubjectPrefix)
	}
	notifier := notify.NewAsync(sink, cfg.NotifyBuffer, logg, func(event notify.Event) {
		metrics.NotificationsDropped.Inc()
	})

	authGuard := guard.New(tokens, store, deny, logg)
	identities := identity.NewService(store, tokens, revoker, logg)
	fees := ledger.NewService(repository.NewLedgerStore(pool), notifier, logg)

	server := internalhttp.NewServer(cfg, authGuard, identities, fees, logg)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.ServiceAuthToken != "" {
		serviceAuthInterceptor, err := bursargrpc.NewServiceAuthUnaryInterceptor(cfg.ServiceAuthToken)
		if err != nil {
			logg.Fatal("grpc service auth init failed", zap.Error(err))
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(serviceAuthInterceptor))
	} else {
		logg.Warn("grpc service auth disabled: SERVICE_AUTH_TOKEN not set")
		grpcServer = grpc.NewServer()
	}
	bursargrpc.NewLedgerServer(fees, logg).Register(grpcServer)
	health := bursargrpc.NewHealth(store, logg)
	health.Register(grpcServer)
	health.Watch(ctx, 10*time.Second, 2*time.Second)

	jobs.StartOverdueJob(ctx, cfg, fees, logg)

	go func() {
		logg.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("http server error", zap.Error(err))
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logg.Fatal("grpc listen error", zap.Error(err))
		}
		logg.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(listener); err != nil {
			logg.Fatal("grpc server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("http shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := notifier.Close(shutdownCtx); err != nil {
		logg.Warn("notification queue not drained", zap.Error(err))
	}
}

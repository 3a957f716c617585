package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"estatly.org/internal/app"
	"estatly.org/internal/authz"
	"estatly.org/internal/cache"
	"estatly.org/internal/config"
	"estatly.org/internal/httpapi"
	"estatly.org/internal/obs"
	"estatly.org/internal/store/memory"
	"estatly.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	// Postgres when a DSN is set, otherwise the in-memory backend
	var (
		backend app.Backend
		ready   httpapi.ReadinessChecker = httpapi.StoreReadiness{}
		closers []func() error
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		backend = store
		ready = httpapi.StoreReadiness{Store: store}
		closers = append(closers, store.Close)
	} else {
		logger.Warn("using in-memory store; data is lost on restart")
		backend = memory.New()
	}

	var bindings authz.BindingStore
	if cfg.CacheEnabled() {
		client, err := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		bindings = cache.NewBindings(backend, client, cache.WithTTL(cfg.BindingCacheTTL), cache.WithLogger(logger))
		closers = append(closers, client.Close)
	}

	svc, err := app.New(app.Options{Config: cfg, Backend: backend, Bindings: bindings, Logger: logger})
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	if err := svc.Provision(startCtx, cfg); err != nil {
		log.Fatalf("provision super admin: %v", err)
	}
	cancelStart()

	api := httpapi.New(svc.Services(), ready,
		httpapi.WithVersion(version),
		httpapi.WithLogger(logger),
		httpapi.WithRateLimit(cfg.RatePerSec, cfg.RateBurst),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(ready)
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go health.Run(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	logger.Info("server_started",
		"version", version,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"scope_mode", cfg.ScopeMode.String(),
		"audit_async", cfg.AuditAsync,
	)

	<-ctx.Done()
	logger.Info("server_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("audit_drain_failed", "error", err)
	}
	for _, c := range closers {
		_ = c()
	}
	logger.Info("server_stopped")
}

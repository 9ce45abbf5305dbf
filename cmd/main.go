package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huddleplan/call-service/config"
	"github.com/huddleplan/call-service/internal/activity"
	"github.com/huddleplan/call-service/internal/postgres"
	"github.com/huddleplan/call-service/internal/rtc"
	"github.com/huddleplan/call-service/internal/service"
	grpcx "github.com/huddleplan/call-service/internal/transport/grpc"
	httpx "github.com/huddleplan/call-service/internal/transport/http"
	"github.com/huddleplan/call-service/internal/transport/ws"
	"github.com/huddleplan/call-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting call-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres ---
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- redis + rtc hub ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	hub := rtc.NewHub(rtc.NewRedisStore(rdb, 24*time.Hour))
	if err := hub.Restore(ctx); err != nil {
		log.Fatalf("restore rooms: %v", err)
	}
	defer hub.Close()

	// --- repos ---
	sessionRepo := postgres.NewSessionRepository(db.Pool)
	chatRepo := postgres.NewChatRepository(db.Pool)

	// --- services ---
	sessionSvc := service.NewSessionService(sessionRepo)
	chatSvc := service.NewChatService(chatRepo)
	callSvc := service.NewCallService(hub, sessionRepo, activity.BuiltIn(), service.CallConfig{
		MaxPerRoom:  cfg.Call.MaxPerRoom,
		GraceDelay:  cfg.Call.GraceDelayDur(),
		ClearBuffer: cfg.Call.ClearBufferDur(),
		ReactionTTL: cfg.Call.ReactionTTLDur(),
		Tick:        cfg.Call.TickDur(),
	})

	// --- WS Hub & Server ---
	wsHub := ws.NewHub()
	wsServer := ws.NewServer(wsHub, callSvc, chatSvc)

	// --- HTTP ---
	handler := httpx.NewHandler(sessionSvc, callSvc, chatSvc)
	router := httpx.NewRouter(handler, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- gRPC (health only) ---
	grpcServer, healthSrv := grpcx.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// --- run both servers ---
	errCh := make(chan error, 2)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	_ = httpSrv.Shutdown(ctxShutdown)
	callSvc.Close(ctxShutdown)
	slog.Info("stopped")
}

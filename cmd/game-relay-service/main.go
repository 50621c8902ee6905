package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cheildo/game-relay/internal/pkg/config"
	"github.com/cheildo/game-relay/internal/pkg/kafka"
	"github.com/cheildo/game-relay/internal/pkg/redis"
	"github.com/cheildo/game-relay/internal/relay"
)

const serviceName = "game-relay-service"

func main() {
	// --- Configuration Loading ---
	// A local .env file is optional; it only seeds environment variables,
	// which viper then lets override any key from the yaml file.
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	cfg, err := config.Load(serviceName, "./configs/development")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	// Every package logs through the default slog logger, so this one call
	// applies the configured level and format everywhere.
	slog.SetDefault(config.NewLogger(cfg.Log, os.Stdout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Lifecycle Observers ---
	// Observers are optional side channels. The in-memory registry remains the
	// only source of truth for who is connected, so the relay works the same
	// with both of them disabled.
	var observers []relay.Observer
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		// Entries written by a previous process describe connections that no
		// longer exist, so the presence hash starts empty.
		presence := relay.NewRedisPresence(rdb, cfg.Redis.PresenceKey)
		if err := presence.Reset(ctx); err != nil {
			slog.Warn("Failed to clear stale presence entries", "error", err)
		}
		observers = append(observers, presence)
		slog.Info("Redis presence enabled.", "key", cfg.Redis.PresenceKey)
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		observers = append(observers, relay.NewKafkaPublisher(producer))
		slog.Info("Kafka lifecycle events enabled.", "topic", cfg.Kafka.Topic)
	}

	// --- Dependency Injection ---
	// The dispatcher runs on its own goroutine and is the only place observers
	// are called from, so a slow Redis or Kafka never stalls a broadcast.
	dispatcher := relay.NewDispatcher(cfg.Events.BufferSize, observers...)
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	// One registry for the whole process, shared by reference with the relay
	// (which mutates it) and the HTTP handler (which only reads it).
	registry := relay.NewRegistry()
	gameRelay := relay.NewRelay(registry, dispatcher)
	wsHandler := relay.NewWebsocketHandler(gameRelay, relay.WebsocketConfig{
		PathPrefix:     cfg.Websocket.PathPrefix,
		AllowedOrigins: cfg.Websocket.AllowedOrigins,
		ReadLimit:      cfg.Websocket.ReadLimit,
		WriteWait:      cfg.Websocket.WriteWait,
		PongWait:       cfg.Websocket.PongWait,
	})
	router := relay.NewRouter(cfg.Websocket.PathPrefix, wsHandler, relay.NewHTTPHandler(registry))

	// --- gRPC Health Server ---
	// Orchestrators probe the standard grpc.health.v1 service. It reports
	// SERVING until shutdown begins.
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	go startGRPCServer(grpcServer, cfg.GRPCServer.Port)

	startDiagnosticsServer(cfg.Diagnostics.Port)

	// --- HTTP Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPServer.Port),
		Handler: router,
	}

	go func() {
		slog.Info("Game relay starting...", "port", cfg.HTTPServer.Port, "path_prefix", cfg.Websocket.PathPrefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down game relay...")
	// Flip health to NOT_SERVING first so load balancers stop routing here
	// while existing games are torn down.
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Hijacked websocket connections are not closed by server.Shutdown.
	// The relay refuses new participants from here on and disconnects the
	// registered ones, emitting their leave events.
	gameRelay.Shutdown()

	// Cancelling the context makes the dispatcher flush what is buffered
	// before it returns; the deferred producer Close then flushes Kafka.
	cancel()
	<-dispatcherDone
	grpcServer.GracefulStop()

	slog.Info("Game relay stopped.")
}

func startGRPCServer(grpcServer *grpc.Server, port string) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		slog.Error("Failed to listen on gRPC port", "port", port, "error", err)
		os.Exit(1)
	}

	slog.Info("Health gRPC server listening", "address", lis.Addr().String())
	if err := grpcServer.Serve(lis); err != nil {
		slog.Error("gRPC server failed to serve", "error", err)
	}
}

func startDiagnosticsServer(port string) {
	go func() {
		slog.Info("Starting diagnostics server", "port", port)
		if err := http.ListenAndServe(fmt.Sprintf(":%s", port), nil); err != nil {
			slog.Error("Diagnostics server failed to start", "error", err)
		}
	}()
}

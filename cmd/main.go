package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/infrastructure/api"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Deferred cleanups run before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s?prefix=%s", config.DebugPort, endpoint, repositories.MessagePrefix))
		database.StartDebugServer(db, config.DebugPort, endpoint, MessageMapper)
	}

	messageRepository := repositories.NewMessageRepository(db, logger, config.LimitMessages)
	attachmentRepository, err := repositories.NewAttachmentRepository(config.UploadsDir, logger)
	if err != nil {
		return exitRuntime, err
	}

	// 3. Runtime
	monitoring := observability.NewMonitoringManager(logger)
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewPresenceBroadcaster(logger, registry)
	relay := runtime.NewRelay(logger, registry, messageRepository, attachmentRepository,
		runtime.WithMetrics(monitoring),
		runtime.WithEchoToSender(config.EchoToSender))
	resolver := auth.NewJWTResolver([]byte(config.JWTSecretKey), config.JWTIssuer)
	chatService := services.NewChatService(logger, registry, broadcaster, relay, resolver, messageRepository)

	var supervisor contract.ISupervisor = workers.NewSupervisor(logger, config.RestartInterval,
		workers.WithOnRestart(monitoring.IncrRestarted))
	supervisor.Add(workers.NewTelemetryWorker(logger, config.MetricInterval, registry, monitoring))
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(supervisorDone)
	}()

	// 4. Transport
	socketHandler := ws.NewHandler(ctx, logger, chatService, ws.Config{
		BufferSize:      config.ConnectionBufferSize,
		DeliveryTimeout: config.DeliveryTimeout,
		PingInterval:    config.PingInterval,
		PongTimeout:     config.PongTimeout,
		WriteTimeout:    config.WriteTimeout,
		MaxMessageSize:  config.MaxMessageSize,
		AllowedOrigins:  config.Origins(),
	})
	router := api.NewRouter(logger, chatService, attachmentRepository, monitoring, socketHandler, config.Origins())

	server := &http.Server{
		Addr:              config.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 5. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 6. Graceful shutdown: sockets are bound to ctx, so they are already closing
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if !socketHandler.Wait(config.ShutdownTimeout) {
		logger.Warn("Some WebSocket connections did not close in time")
	}
	supervisor.Stop()
	<-supervisorDone
	logger.Info("Program stopped cleanly")

	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

// MessageMapper renders a stored message as a row of the debug inspector.
func MessageMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	message, err := repositories.DecodeDiskMessage(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}

	row.Type = "TEXT"
	row.Detail = fmt.Sprintf("%s -> %s: %s", message.Sender, message.Recipient, message.Text)
	if message.File != "" {
		row.Type = "FILE"
		row.Detail += " [" + message.File + "]"
	}
	return row
}

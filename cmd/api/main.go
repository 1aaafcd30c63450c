// @title        Labeler Bridge Service API
// @version      1.0
// @description  Bidirectional moderation-event bridge to external AT-Protocol labelers.
// @host         localhost:8080
// @BasePath     /
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/apps/labeler-bridge-service/internal/credentials"
	"github.com/arc-self/apps/labeler-bridge-service/internal/handler"
	"github.com/arc-self/apps/labeler-bridge-service/internal/natsclient"
	"github.com/arc-self/apps/labeler-bridge-service/internal/repository"
	"github.com/arc-self/apps/labeler-bridge-service/internal/reviewqueue"
	"github.com/arc-self/apps/labeler-bridge-service/internal/scheduler"
	"github.com/arc-self/apps/labeler-bridge-service/internal/secrets"
	"github.com/arc-self/apps/labeler-bridge-service/internal/service"
	"github.com/arc-self/apps/labeler-bridge-service/internal/telemetry"
)

func main() {
	// --- Structured Logger ---
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// --- OpenTelemetry Tracer ---
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "labeler-bridge-service", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "labeler-bridge-service", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// --- Vault Secret Loading ---
	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		vaultAddr = "http://localhost:8200"
	}
	vaultToken := os.Getenv("VAULT_TOKEN")
	if vaultToken == "" {
		vaultToken = "root"
	}
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/arc/labeler-bridge-service"
	}

	vaultManager, err := secrets.NewManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Fatal("Vault connection failed", zap.Error(err))
	}

	infraSecrets, err := vaultManager.GetKV2(secretPath)
	if err != nil {
		logger.Fatal("Failed to load secrets from Vault", zap.Error(err))
	}

	pgURL := infraSecrets["PG_URL"].(string)
	natsURL := infraSecrets["NATS_URL"].(string)

	// --- Database Connection Pool (instrumented with OTel) ---
	poolCfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		logger.Fatal("failed to parse PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

	// --- NATS JetStream ---
	natsClient, err := natsclient.NewClient(natsURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// --- Repository & Service Layers ---
	store := repository.NewPostgresStore(pool)

	credPath := os.Getenv("LABELER_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "secret/data/arc/labeler-bridge"
	}
	credStore := credentials.NewVaultStore(vaultManager.Client(), credPath)

	bridge := service.NewBridgeService(credStore, store, nil, logger)

	// --- Polling Scheduler ---
	pollCtx, pollCancel := context.WithCancel(context.Background())
	queue := reviewqueue.NewNATSQueue(natsClient, logger)
	poller := scheduler.NewPoller(bridge, queue, logger, scheduler.ConfigFromEnv())

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(pollCtx)
	}()

	// --- HTTP Server (Echo, port 8080) ---
	e := echo.New()
	e.HideBanner = true

	// OTel tracing middleware (must be first to capture full request lifecycle)
	e.Use(otelecho.Middleware("labeler-bridge-service"))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	labelerHandler := handler.NewLabelerHandler(bridge, poller)
	labelerHandler.Register(e)

	go func() {
		logger.Info("labeler-bridge-service HTTP server listening on :8080")
		if err := e.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	logger.Info("labeler-bridge-service started", zap.String("http", ":8080"))

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Initiating graceful shutdown")

	// Stop the poll loop and wait for the in-flight tenant to drain.
	pollCancel()
	<-pollerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}

	logger.Info("labeler-bridge-service shut down cleanly")
}

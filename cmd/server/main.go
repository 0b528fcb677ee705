package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/config"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/events"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/gateway"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/handler"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/health"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/logger"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/metrics"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/registry"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/snapshot"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/tracker"
)

const serviceName = "xmr-tracker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, sim := buildGateway(cfg, zapLogger)

	opts := tracker.Options[model.Metadata]{
		RequiredConfirmations: cfg.RequiredConfirmations,
		RPCTimeout:            cfg.RPCTimeout,
		Expiry:                registry.ExpiryPolicy{TTL: cfg.PaymentTTL, Blocks: cfg.PaymentTTLBlocks},
		SweepTTL:              cfg.SweepTTL,
		WalletFile:            cfg.WalletFile,
		WalletPassword:        cfg.WalletPassword,
		Monitor:               health.NewMonitorWithConfig(cfg.HealthWindowSize, cfg.HealthWindowDuration),
		Metrics:               metrics.New(prometheus.DefaultRegisterer),
		Publisher:             events.Nop{},
	}

	if cfg.RedisURL != "" {
		redisClient, err := snapshot.NewRedisClient(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Failed to configure redis", zap.Error(err))
		}
		defer redisClient.Close()

		store := snapshot.NewStore[model.Metadata](redisClient, cfg.SnapshotKey)
		if err := store.Ping(ctx); err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		opts.Store = store
		zapLogger.Info("Snapshot store enabled", zap.String("key", cfg.SnapshotKey))
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			zapLogger.Fatal("Failed to create kafka producer", zap.Error(err))
		}
		opts.Publisher = events.NewKafkaPublisher(producer, cfg.KafkaTopic, zapLogger)
		zapLogger.Info("Status events enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}
	defer opts.Publisher.Close()

	client, err := tracker.New[model.Metadata](ctx, gw, opts, zapLogger)
	if err != nil {
		zapLogger.Fatal("Wallet handshake failed", zap.Error(err))
	}

	router := setupRouter(client, sim, zapLogger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := client.Run(ctx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("Scheduler stopped", zap.Error(err))
		}
	}()

	go func() {
		zapLogger.Info("Starting xmr tracker",
			zap.String("port", cfg.Port),
			zap.String("gateway", cfg.GatewayMode),
			zap.Uint64("required_confirmations", cfg.RequiredConfirmations),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := client.SaveSnapshot(shutdownCtx); err != nil {
		zapLogger.Error("Final snapshot failed", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func buildGateway(cfg *config.Config, zapLogger *zap.Logger) (gateway.Gateway, handler.Simulator) {
	if cfg.GatewayMode == config.GatewayMock {
		mock := gateway.NewMock(gateway.MockConfig{
			StartHeight: 3_000_000,
			MinLatency:  5 * time.Millisecond,
			MaxLatency:  50 * time.Millisecond,
		})
		zapLogger.Warn("Running against the simulated wallet daemon")
		return mock, mock
	}
	return gateway.NewRPCClient(gateway.RPCConfig{
		Endpoint: cfg.WalletRPCURL,
		Username: cfg.WalletRPCUser,
		Password: cfg.WalletRPCPassword,
	}, zapLogger), nil
}

func setupRouter(client *tracker.Client[model.Metadata], sim handler.Simulator, zapLogger *zap.Logger) *gin.Engine {
	router := handler.NewRouter(zapLogger)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(client, sim, zapLogger).RegisterRoutes(router)
	return router
}

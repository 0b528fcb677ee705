package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// RequiredConfirmations is the default depth at which a fully funded payment is confirmed.
	RequiredConfirmations = 10

	// RPCTimeout bounds every call to the wallet daemon.
	RPCTimeout = 10 * time.Second

	// PollInterval is how often the scheduler drains the pending set.
	PollInterval = 5 * time.Second

	// PaymentTTL and PaymentTTLBlocks: an unconfirmed payment expires after whichever
	// window passes first.
	PaymentTTL       = 30 * time.Minute
	PaymentTTLBlocks = 15

	// SweepTTL is how long expired and confirmed payments are kept before eviction.
	SweepTTL = 24 * time.Hour

	// AllocationAttempts caps how many times a colliding payment id is re-requested.
	AllocationAttempts = 8

	// HealthWindowSize is the number of recent daemon calls considered for health calculation.
	HealthWindowSize = 50

	// HealthWindowDuration is the time window for health calculation.
	HealthWindowDuration = 10 * time.Minute

	// DegradedThreshold is the success ratio below which the daemon is considered degraded.
	DegradedThreshold = 0.5

	// CircuitBreakerThreshold is the success ratio below which scheduled polls are skipped.
	CircuitBreakerThreshold = 0.2

	// ServerPort is the default HTTP server port.
	ServerPort = "8080"

	// SnapshotKey is the default Redis key holding the registry snapshot.
	SnapshotKey = "xmr-tracker:registry"
)

// Gateway modes.
const (
	GatewayRPC  = "rpc"
	GatewayMock = "mock"
)

// Config holds runtime settings for the tracker service.
type Config struct {
	Port        string
	Environment string

	WalletRPCURL      string
	WalletRPCUser     string
	WalletRPCPassword string
	WalletFile        string
	WalletPassword    string
	GatewayMode       string

	RequiredConfirmations uint64
	RPCTimeout            time.Duration
	PollInterval          time.Duration
	PaymentTTL            time.Duration
	PaymentTTLBlocks      uint64
	SweepTTL              time.Duration

	HealthWindowSize     int
	HealthWindowDuration time.Duration

	RedisURL    string
	SnapshotKey string

	KafkaBrokers []string
	KafkaTopic   string
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Port:                  ServerPort,
		Environment:           "development",
		WalletRPCURL:          "http://127.0.0.1:18082",
		GatewayMode:           GatewayRPC,
		RequiredConfirmations: RequiredConfirmations,
		RPCTimeout:            RPCTimeout,
		PollInterval:          PollInterval,
		PaymentTTL:            PaymentTTL,
		PaymentTTLBlocks:      PaymentTTLBlocks,
		SweepTTL:              SweepTTL,
		HealthWindowSize:      HealthWindowSize,
		HealthWindowDuration:  HealthWindowDuration,
		SnapshotKey:           SnapshotKey,
		KafkaTopic:            "xmr-payment-status",
	}
}

// Load builds a Config from environment variables, falling back to Default for anything unset.
func Load() (*Config, error) {
	cfg := Default()

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.WalletRPCURL = getEnv("WALLET_RPC_URL", cfg.WalletRPCURL)
	cfg.WalletRPCUser = getEnv("WALLET_RPC_USER", "")
	cfg.WalletRPCPassword = getEnv("WALLET_RPC_PASSWORD", "")
	cfg.WalletFile = getEnv("WALLET_FILE", "")
	cfg.WalletPassword = getEnv("WALLET_PASSWORD", "")
	cfg.GatewayMode = getEnv("GATEWAY_MODE", cfg.GatewayMode)
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.SnapshotKey = getEnv("SNAPSHOT_KEY", cfg.SnapshotKey)
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.RequiredConfirmations, err = getUint("REQUIRED_CONFIRMATIONS", cfg.RequiredConfirmations); err != nil {
		return nil, err
	}
	if cfg.PaymentTTLBlocks, err = getUint("PAYMENT_TTL_BLOCKS", cfg.PaymentTTLBlocks); err != nil {
		return nil, err
	}
	if cfg.RPCTimeout, err = getDuration("RPC_TIMEOUT", cfg.RPCTimeout); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.PaymentTTL, err = getDuration("PAYMENT_TTL", cfg.PaymentTTL); err != nil {
		return nil, err
	}
	if cfg.SweepTTL, err = getDuration("SWEEP_TTL", cfg.SweepTTL); err != nil {
		return nil, err
	}
	if cfg.HealthWindowDuration, err = getDuration("HEALTH_WINDOW", cfg.HealthWindowDuration); err != nil {
		return nil, err
	}
	size, err := getUint("HEALTH_WINDOW_SIZE", uint64(cfg.HealthWindowSize))
	if err != nil {
		return nil, err
	}
	cfg.HealthWindowSize = int(size)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would make the tracker misbehave.
func (c *Config) Validate() error {
	if c.GatewayMode != GatewayRPC && c.GatewayMode != GatewayMock {
		return fmt.Errorf("GATEWAY_MODE must be %q or %q, got %q", GatewayRPC, GatewayMock, c.GatewayMode)
	}
	if c.GatewayMode == GatewayRPC && c.WalletRPCURL == "" {
		return fmt.Errorf("WALLET_RPC_URL is required in rpc mode")
	}
	if c.RequiredConfirmations == 0 {
		return fmt.Errorf("REQUIRED_CONFIRMATIONS must be at least 1")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.HealthWindowSize <= 0 {
		return fmt.Errorf("HEALTH_WINDOW_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getUint(key string, fallback uint64) (uint64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

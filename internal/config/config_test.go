package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ServerPort, cfg.Port)
	assert.Equal(t, GatewayRPC, cfg.GatewayMode)
	assert.Equal(t, uint64(RequiredConfirmations), cfg.RequiredConfirmations)
	assert.Equal(t, PaymentTTL, cfg.PaymentTTL)
	assert.Equal(t, uint64(PaymentTTLBlocks), cfg.PaymentTTLBlocks)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GATEWAY_MODE", "mock")
	t.Setenv("REQUIRED_CONFIRMATIONS", "3")
	t.Setenv("RPC_TIMEOUT", "2s")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HEALTH_WINDOW_SIZE", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, GatewayMock, cfg.GatewayMode)
	assert.Equal(t, uint64(3), cfg.RequiredConfirmations)
	assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 20, cfg.HealthWindowSize)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric confirmations", "REQUIRED_CONFIRMATIONS", "ten"},
		{"zero confirmations", "REQUIRED_CONFIRMATIONS", "0"},
		{"bad duration", "RPC_TIMEOUT", "soon"},
		{"unknown gateway mode", "GATEWAY_MODE", "grpc"},
		{"zero poll interval", "POLL_INTERVAL", "0s"},
		{"zero health window", "HEALTH_WINDOW_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

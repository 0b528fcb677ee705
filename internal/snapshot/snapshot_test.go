package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

// memoryRedis is an in-process stand-in for the handful of commands the store issues.
type memoryRedis struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: make(map[string][]byte)}
}

func (m *memoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (m *memoryRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.data[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.err)
}

type tag struct {
	Customer string `json:"customer"`
}

func samplePayments() []model.Payment[tag] {
	created := time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)
	return []model.Payment[tag]{
		{
			ID:              model.PaymentID{1, 2, 3, 4, 5, 6, 7, 8},
			Address:         "4Mock0102030405060708",
			Status:          model.StatusPartiallyReceived,
			CreatedAt:       created,
			CreatedHeight:   3000000,
			AmountRequested: 2_500_000_000_000,
			AmountReceived:  1_000_000_000_000,
			Confirmations:   3,
			UpdatedAt:       created.Add(time.Minute),
			Extra:           tag{Customer: "c-42"},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	savedAt := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)
	b, err := Encode(samplePayments(), savedAt)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"payment_id":"0102030405060708"`)
	assert.Contains(t, string(b), `"version":1`)

	payments, at, err := Decode[tag](b)
	require.NoError(t, err)
	assert.Equal(t, savedAt, at)
	assert.Equal(t, samplePayments(), payments)
}

func TestDecode_Rejects(t *testing.T) {
	_, _, err := Decode[tag]([]byte(`{"version":99,"payments":[]}`))
	assert.Error(t, err)

	_, _, err = Decode[tag]([]byte(`not json`))
	assert.Error(t, err)
}

func TestStore_SaveLoad(t *testing.T) {
	client := newMemoryRedis()
	store := NewStore[tag](client, "test:registry")
	ctx := context.Background()

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, store.Save(ctx, samplePayments()))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, samplePayments(), loaded)
	assert.NoError(t, store.Ping(ctx))
}

func TestStore_PropagatesErrors(t *testing.T) {
	client := newMemoryRedis()
	client.err = errors.New("connection reset")
	store := NewStore[tag](client, "k")

	assert.Error(t, store.Save(context.Background(), samplePayments()))
	_, err := store.Load(context.Background())
	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	c, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	require.NoError(t, c.Close())

	_, err = NewRedisClient("://bad")
	assert.Error(t, err)
}

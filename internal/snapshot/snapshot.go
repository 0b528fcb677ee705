package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

const formatVersion = 1

// Client is the subset of the go-redis API the store needs. *redis.Client satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewRedisClient parses a redis:// URL into a client with pool and timeout settings suited to
// infrequent snapshot writes.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 4
	return redis.NewClient(opts), nil
}

type document[T any] struct {
	Version  int                `json:"version"`
	SavedAt  time.Time          `json:"saved_at"`
	Payments []model.Payment[T] `json:"payments"`
}

// Encode serializes payments into the stored snapshot format.
func Encode[T any](payments []model.Payment[T], savedAt time.Time) ([]byte, error) {
	if payments == nil {
		payments = []model.Payment[T]{}
	}
	return json.Marshal(document[T]{Version: formatVersion, SavedAt: savedAt.UTC(), Payments: payments})
}

// Decode parses a stored snapshot.
func Decode[T any](b []byte) ([]model.Payment[T], time.Time, error) {
	var doc document[T]
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, time.Time{}, fmt.Errorf("decode snapshot: unsupported version %d", doc.Version)
	}
	return doc.Payments, doc.SavedAt, nil
}

// Store keeps the registry snapshot under a single Redis key.
type Store[T any] struct {
	client Client
	key    string
	now    func() time.Time
}

// NewStore creates a store writing to key.
func NewStore[T any](client Client, key string) *Store[T] {
	return &Store[T]{client: client, key: key, now: time.Now}
}

// Ping checks connectivity.
func (s *Store[T]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save overwrites the stored snapshot.
func (s *Store[T]) Save(ctx context.Context, payments []model.Payment[T]) error {
	b, err := Encode(payments, s.now())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.key, err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when none has been saved yet.
func (s *Store[T]) Load(ctx context.Context) ([]model.Payment[T], error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.key, err)
	}
	payments, _, err := Decode[T](b)
	return payments, err
}

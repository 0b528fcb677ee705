package tracker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/config"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/events"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/gateway"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/health"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/metrics"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/poller"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/registry"
)

// WalletOpener is implemented by gateways that must open a wallet file before use.
type WalletOpener interface {
	OpenWallet(ctx context.Context, filename, password string) error
}

// SnapshotStore persists the registry between restarts.
type SnapshotStore[T any] interface {
	Save(ctx context.Context, payments []model.Payment[T]) error
	Load(ctx context.Context) ([]model.Payment[T], error)
}

// Options configures a Client. Zero values fall back to the config defaults.
type Options[T any] struct {
	RequiredConfirmations uint64
	RPCTimeout            time.Duration
	Expiry                registry.ExpiryPolicy
	SweepTTL              time.Duration

	WalletFile     string
	WalletPassword string

	Monitor   *health.Monitor
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Store     SnapshotStore[T]
}

// Client is the single entry point for allocating and tracking payments.
type Client[T any] struct {
	gateway  gateway.Gateway
	registry *registry.Registry[T]
	engine   *poller.Engine[T]
	store    SnapshotStore[T]
	metrics  *metrics.Metrics
	expiry   registry.ExpiryPolicy
	sweepTTL time.Duration
	height   atomic.Uint64
	logger   *zap.Logger
	now      func() time.Time
}

// New performs the daemon handshake and returns a ready client. The handshake opens the
// configured wallet file, reads the chain height and restores any stored snapshot.
func New[T any](ctx context.Context, gw gateway.Gateway, opts Options[T], logger *zap.Logger) (*Client[T], error) {
	c := &Client[T]{
		gateway:  gw,
		store:    opts.Store,
		metrics:  opts.Metrics,
		expiry:   opts.Expiry,
		sweepTTL: opts.SweepTTL,
		logger:   logger,
		now:      time.Now,
	}
	if c.expiry == (registry.ExpiryPolicy{}) {
		c.expiry = registry.ExpiryPolicy{TTL: config.PaymentTTL, Blocks: config.PaymentTTLBlocks}
	}

	// The registry allocates through the engine so address calls feed the health monitor.
	c.registry = registry.New[T](
		registry.AddressSourceFunc(func(ctx context.Context) (model.IntegratedAddress, error) {
			return c.engine.CreateAddress(ctx)
		}),
		registry.Options{
			RequiredConfirmations: opts.RequiredConfirmations,
			Height:                c.Height,
		},
		logger,
	)
	c.engine = poller.New[T](c.registry, gw, poller.Options{
		RPCTimeout: opts.RPCTimeout,
		Monitor:    opts.Monitor,
		Metrics:    opts.Metrics,
		Publisher:  opts.Publisher,
	}, logger)

	if opener, ok := gw.(WalletOpener); ok && opts.WalletFile != "" {
		err := c.engine.Invoke(ctx, "open_wallet", func(ctx context.Context) error {
			return opener.OpenWallet(ctx, opts.WalletFile, opts.WalletPassword)
		})
		if err != nil {
			return nil, fmt.Errorf("open wallet %s: %w", opts.WalletFile, err)
		}
		logger.Info("wallet_opened", zap.String("wallet_file", opts.WalletFile))
	}

	height, err := c.RefreshHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}

	if c.store != nil {
		payments, err := c.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		restored := c.registry.Restore(payments)
		logger.Info("snapshot_restored", zap.Int("payments", restored))
	}

	logger.Info("tracker_ready",
		zap.Uint64("height", height),
		zap.Uint64("required_confirmations", c.registry.RequiredConfirmations()),
	)
	c.updateGauges()
	return c, nil
}

// Allocate mints a fresh integrated address and starts tracking it.
func (c *Client[T]) Allocate(ctx context.Context, extra T, amountRequested model.Amount) (model.PaymentID, model.Address, error) {
	id, addr, err := c.registry.Allocate(ctx, extra, amountRequested)
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.Allocations.WithLabelValues(outcome).Inc()
	}
	c.updateGauges()
	return id, addr, err
}

// Status returns the stored record for id without contacting the daemon.
func (c *Client[T]) Status(id model.PaymentID) (model.Payment[T], error) {
	p, ok := c.registry.Get(id)
	if !ok {
		return model.Payment[T]{}, fmt.Errorf("status %s: %w", id, registry.ErrNotFound)
	}
	return p, nil
}

// PollOne queries the daemon for id immediately.
func (c *Client[T]) PollOne(ctx context.Context, id model.PaymentID) (model.Payment[T], error) {
	return c.engine.PollOne(ctx, id)
}

// Enqueue schedules id for the next bulk poll.
func (c *Client[T]) Enqueue(id model.PaymentID) error {
	return c.engine.Enqueue(id)
}

// IsPending reports whether id waits for the next bulk poll.
func (c *Client[T]) IsPending(id model.PaymentID) bool {
	return c.engine.IsPending(id)
}

// PollAll drains the pending set in one batched query.
func (c *Client[T]) PollAll(ctx context.Context) model.BulkPollReport {
	return c.engine.PollAll(ctx)
}

// UpdateExtra replaces the caller payload attached to id.
func (c *Client[T]) UpdateExtra(id model.PaymentID, extra T) error {
	return c.registry.UpdateExtra(id, extra)
}

// Evict stops tracking id.
func (c *Client[T]) Evict(id model.PaymentID) error {
	if err := c.registry.Evict(id); err != nil {
		return err
	}
	c.engine.Forget(id)
	c.updateGauges()
	return nil
}

// Expire marks lapsed payments expired at the current height and publishes the transitions.
func (c *Client[T]) Expire(ctx context.Context) []model.StatusChange {
	changes := c.registry.Expire(c.now(), c.Height(), c.expiry)
	for _, change := range changes {
		c.engine.Record(ctx, change)
	}
	return changes
}

// SweepExpired evicts confirmed and expired payments older than the sweep TTL.
func (c *Client[T]) SweepExpired() []model.PaymentID {
	if c.sweepTTL <= 0 {
		return nil
	}
	swept := c.registry.SweepExpired(c.now(), c.sweepTTL)
	for _, id := range swept {
		c.engine.Forget(id)
	}
	c.updateGauges()
	return swept
}

// Height returns the last chain height seen from the daemon.
func (c *Client[T]) Height() uint64 {
	return c.height.Load()
}

// RefreshHeight asks the daemon for the chain height and caches it.
func (c *Client[T]) RefreshHeight(ctx context.Context) (uint64, error) {
	h, err := c.engine.Height(ctx)
	if err != nil {
		return 0, err
	}
	c.height.Store(h)
	if c.metrics != nil {
		c.metrics.ChainHeight.Set(float64(h))
	}
	return h, nil
}

// DaemonHealth reports the wallet daemon's recent call health.
func (c *Client[T]) DaemonHealth() health.DaemonHealth {
	return c.engine.Monitor().GetHealth(c.engine.DaemonName())
}

// Len returns the number of tracked payments.
func (c *Client[T]) Len() int {
	return c.registry.Len()
}

// Pending returns how many ids wait for the next bulk poll.
func (c *Client[T]) Pending() int {
	return c.engine.Pending()
}

// SaveSnapshot writes the registry to the configured store, if any.
func (c *Client[T]) SaveSnapshot(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, c.registry.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Tick runs one scheduled cycle: refresh the height, expire and sweep, drain the pending set
// unless the daemon circuit is open, then snapshot.
func (c *Client[T]) Tick(ctx context.Context) {
	if _, err := c.RefreshHeight(ctx); err != nil {
		c.logger.Warn("height_refresh_failed", zap.Error(err))
	}
	c.Expire(ctx)
	c.SweepExpired()

	if c.engine.Monitor().IsCircuitOpen(c.engine.DaemonName()) {
		c.logger.Warn("poll_all_skipped_circuit_open", zap.Int("pending", c.Pending()))
	} else if c.Pending() > 0 {
		c.PollAll(ctx)
	}

	if err := c.SaveSnapshot(ctx); err != nil {
		c.logger.Error("snapshot_save_failed", zap.Error(err))
	}
}

// Run calls Tick every interval until ctx is cancelled.
func (c *Client[T]) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("scheduler_started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("scheduler_stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

func (c *Client[T]) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.TrackedIDs.Set(float64(c.registry.Len()))
}

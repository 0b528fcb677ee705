package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/config"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/events"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/gateway"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/health"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/metrics"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/registry"
)

// Error kinds carried by PollError and reported per id in a BulkPollReport.
const (
	KindUnreachable = "unreachable"
	KindRejected    = "rejected"
	KindNotFound    = "not_found"
)

// DefaultDaemonName labels the wallet daemon in the health monitor.
const DefaultDaemonName = "wallet-rpc"

// maxPages stops a daemon that keeps reporting More without advancing.
const maxPages = 1000

// PollError reports why a poll of one payment failed.
type PollError struct {
	ID   model.PaymentID
	Kind string
	Err  error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s: %s: %v", e.ID, e.Kind, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// Options wires the engine's collaborators. Nil fields get defaults.
type Options struct {
	RPCTimeout time.Duration
	DaemonName string
	Monitor    *health.Monitor
	Metrics    *metrics.Metrics
	Publisher  events.Publisher
}

// Engine decides when to query the wallet daemon and routes results into the registry.
type Engine[T any] struct {
	registry  *registry.Registry[T]
	gateway   gateway.Gateway
	pending   *pendingSet
	timeout   time.Duration
	daemon    string
	monitor   *health.Monitor
	metrics   *metrics.Metrics
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an engine over reg and gw.
func New[T any](reg *registry.Registry[T], gw gateway.Gateway, opts Options, logger *zap.Logger) *Engine[T] {
	e := &Engine[T]{
		registry:  reg,
		gateway:   gw,
		pending:   newPendingSet(),
		timeout:   opts.RPCTimeout,
		daemon:    opts.DaemonName,
		monitor:   opts.Monitor,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		logger:    logger,
		now:       time.Now,
	}
	if e.timeout <= 0 {
		e.timeout = config.RPCTimeout
	}
	if e.daemon == "" {
		e.daemon = DefaultDaemonName
	}
	if e.monitor == nil {
		e.monitor = health.NewMonitor()
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	return e
}

// Monitor returns the health monitor fed by this engine's gateway calls.
func (e *Engine[T]) Monitor() *health.Monitor {
	return e.monitor
}

// DaemonName is the monitor key for the wallet daemon.
func (e *Engine[T]) DaemonName() string {
	return e.daemon
}

// CreateAddress mints an integrated address through the instrumented gateway path.
func (e *Engine[T]) CreateAddress(ctx context.Context) (model.IntegratedAddress, error) {
	var addr model.IntegratedAddress
	err := e.call(ctx, "make_integrated_address", func(ctx context.Context) error {
		var err error
		addr, err = e.gateway.CreateAddress(ctx)
		return err
	})
	return addr, err
}

// Height asks the daemon for the current chain height.
func (e *Engine[T]) Height(ctx context.Context) (uint64, error) {
	var height uint64
	err := e.call(ctx, "get_height", func(ctx context.Context) error {
		var err error
		height, err = e.gateway.Height(ctx)
		return err
	})
	return height, err
}

// PollOne queries the daemon for id alone and applies the result. It does not touch the
// pending set.
func (e *Engine[T]) PollOne(ctx context.Context, id model.PaymentID) (model.Payment[T], error) {
	p, ok := e.registry.Get(id)
	if !ok {
		e.countRun("one", KindNotFound)
		return model.Payment[T]{}, &PollError{ID: id, Kind: KindNotFound, Err: registry.ErrNotFound}
	}

	var transfers []model.Transfer
	err := e.call(ctx, "get_bulk_payments", func(ctx context.Context) error {
		var err error
		transfers, err = e.gateway.Payments(ctx, []model.PaymentID{id}, p.CreatedHeight)
		return err
	})
	if err != nil {
		kind := gateway.Classify(err)
		e.countRun("one", kind)
		e.logger.Warn("poll_one_failed",
			zap.String("payment_id", id.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return model.Payment[T]{}, &PollError{ID: id, Kind: kind, Err: err}
	}

	change, err := e.registry.Apply(id, model.Observe(transfers)[id])
	if err != nil {
		e.countRun("one", KindNotFound)
		return model.Payment[T]{}, &PollError{ID: id, Kind: KindNotFound, Err: err}
	}
	e.Record(ctx, change)
	e.countRun("one", "")

	updated, ok := e.registry.Get(id)
	if !ok {
		return model.Payment[T]{}, &PollError{ID: id, Kind: KindNotFound, Err: registry.ErrNotFound}
	}
	return updated, nil
}

// Enqueue schedules id for the next PollAll. Enqueueing an id already waiting is a no-op.
func (e *Engine[T]) Enqueue(id model.PaymentID) error {
	if _, ok := e.registry.Get(id); !ok {
		return fmt.Errorf("enqueue %s: %w", id, registry.ErrNotFound)
	}
	if e.pending.add(id) {
		e.logger.Debug("payment_enqueued", zap.String("payment_id", id.String()))
	}
	e.setPendingGauge()
	return nil
}

// Pending returns how many ids wait for the next PollAll.
func (e *Engine[T]) Pending() int {
	return e.pending.len()
}

// IsPending reports whether id waits for the next PollAll.
func (e *Engine[T]) IsPending(id model.PaymentID) bool {
	return e.pending.contains(id)
}

// Forget drops id from the pending set, used when a payment is evicted.
func (e *Engine[T]) Forget(id model.PaymentID) {
	e.pending.remove(id)
	e.setPendingGauge()
}

// PollAll drains the pending set and covers every drained id with one transfer listing
// (one call per page). Ids whose daemon query failed are re-enqueued.
func (e *Engine[T]) PollAll(ctx context.Context) (report model.BulkPollReport) {
	report = model.BulkPollReport{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
		Results:   make(map[model.PaymentID]model.BulkResult),
	}
	defer func() {
		report.Duration = e.now().Sub(report.StartedAt)
		e.setPendingGauge()
	}()

	drained := e.pending.drain()
	if len(drained) == 0 {
		return report
	}

	live := make([]model.PaymentID, 0, len(drained))
	for _, id := range drained {
		p, ok := e.registry.Get(id)
		if !ok {
			report.Results[id] = model.BulkResult{Error: KindNotFound}
			report.Failed++
			continue
		}
		if len(live) == 0 || p.CreatedHeight < report.Cursor {
			report.Cursor = p.CreatedHeight
		}
		live = append(live, id)
	}
	if len(live) == 0 {
		e.finish(report)
		return report
	}

	transfers, pages, err := e.fetchTransfers(ctx, gateway.Cursor(report.Cursor))
	report.Pages = pages
	if err != nil {
		kind := gateway.Classify(err)
		for _, id := range live {
			report.Results[id] = model.BulkResult{Error: kind}
			report.Failed++
		}
		e.pending.requeue(live)
		e.logger.Warn("poll_all_gateway_failed",
			zap.String("report_id", report.ID),
			zap.String("kind", kind),
			zap.Int("requeued", len(live)),
			zap.Error(err),
		)
		e.finish(report)
		return report
	}

	observations := model.Observe(transfers)
	for _, id := range live {
		change, err := e.registry.Apply(id, observations[id])
		if err != nil {
			report.Results[id] = model.BulkResult{Error: KindNotFound}
			report.Failed++
			continue
		}
		report.Results[id] = model.BulkResult{Status: change.To, Change: &change}
		report.Succeeded++
		e.Record(ctx, change)
	}

	e.finish(report)
	return report
}

func (e *Engine[T]) fetchTransfers(ctx context.Context, cursor gateway.Cursor) ([]model.Transfer, int, error) {
	var (
		all   []model.Transfer
		pages int
	)
	for pages < maxPages {
		var page gateway.TransferPage
		err := e.call(ctx, "get_transfers", func(ctx context.Context) error {
			var err error
			page, err = e.gateway.Transfers(ctx, cursor)
			return err
		})
		if err != nil {
			return nil, pages, err
		}
		pages++
		all = append(all, page.Transfers...)
		if !page.More {
			return all, pages, nil
		}
		cursor = page.Next
	}
	return nil, pages, fmt.Errorf("get_transfers: %w: more than %d pages", gateway.ErrRejected, maxPages)
}

// Invoke runs a gateway call that has no engine verb, such as open_wallet, through the
// same timeout and health bookkeeping.
func (e *Engine[T]) Invoke(ctx context.Context, method string, fn func(context.Context) error) error {
	return e.call(ctx, method, fn)
}

// call bounds fn by the RPC timeout and records the outcome.
func (e *Engine[T]) call(ctx context.Context, method string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err != nil && !errors.Is(err, gateway.ErrUnreachable) && !errors.Is(err, gateway.ErrRejected) {
		err = fmt.Errorf("%s: %w: %v", method, gateway.ErrUnreachable, err)
	}

	e.monitor.RecordOutcome(e.daemon, err)
	if e.metrics != nil {
		e.metrics.RPCCalls.WithLabelValues(method, metrics.Outcome(gateway.Classify(err))).Inc()
		e.metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	return err
}

// Record publishes a status transition and counts anomalies. Changes made outside the
// engine, such as expiry, are reported through it too.
func (e *Engine[T]) Record(ctx context.Context, change model.StatusChange) {
	if change.Anomaly != "" && e.metrics != nil {
		e.metrics.Anomalies.WithLabelValues(change.Anomaly).Inc()
	}
	if !change.Transitioned() {
		return
	}
	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(change.From), string(change.To)).Inc()
	}
	if err := e.publisher.Publish(ctx, events.FromChange(change, e.now())); err != nil {
		if e.metrics != nil {
			e.metrics.EventsFailures.Inc()
		}
		e.logger.Warn("status_event_publish_failed",
			zap.String("payment_id", change.ID.String()),
			zap.Error(err),
		)
	}
}

func (e *Engine[T]) finish(report model.BulkPollReport) {
	outcome := ""
	if report.Failed > 0 {
		outcome = "partial"
		if report.Succeeded == 0 {
			outcome = "failed"
		}
	}
	e.countRun("all", outcome)
	if e.metrics != nil {
		e.metrics.PollResults.WithLabelValues("succeeded").Add(float64(report.Succeeded))
		e.metrics.PollResults.WithLabelValues("failed").Add(float64(report.Failed))
	}
	e.logger.Info("poll_all_completed",
		zap.String("report_id", report.ID),
		zap.Uint64("cursor", report.Cursor),
		zap.Int("pages", report.Pages),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
}

func (e *Engine[T]) countRun(mode, kind string) {
	if e.metrics != nil {
		e.metrics.PollRuns.WithLabelValues(mode, metrics.Outcome(kind)).Inc()
	}
}

func (e *Engine[T]) setPendingGauge() {
	if e.metrics != nil {
		e.metrics.PendingIDs.Set(float64(e.pending.len()))
	}
}

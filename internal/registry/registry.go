package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/config"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

var (
	// ErrNotFound is returned for ids the registry does not hold.
	ErrNotFound = errors.New("payment not found")
	// ErrAllocation is returned when no fresh integrated address could be obtained.
	ErrAllocation = errors.New("payment allocation failed")
)

// Anomaly reasons reported on a StatusChange when an observation is ignored.
const (
	AnomalyAmountDecreased        = "amount_decreased"
	AnomalyConfirmationsDecreased = "confirmations_decreased"
)

// AddressSource mints integrated addresses. The wallet gateway satisfies it.
type AddressSource interface {
	CreateAddress(ctx context.Context) (model.IntegratedAddress, error)
}

// AddressSourceFunc adapts a function to AddressSource.
type AddressSourceFunc func(ctx context.Context) (model.IntegratedAddress, error)

func (f AddressSourceFunc) CreateAddress(ctx context.Context) (model.IntegratedAddress, error) {
	return f(ctx)
}

// Options tunes a Registry. Zero values fall back to the config defaults.
type Options struct {
	// RequiredConfirmations of 0 means unset and falls back to config.RequiredConfirmations.
	// config.Validate rejects an explicit 0.
	RequiredConfirmations uint64
	AllocationAttempts    int
	// Height reports the current chain height, stamped on new records.
	Height func() uint64
	Now    func() time.Time
}

// ExpiryPolicy decides when an unconfirmed payment lapses. A payment expires once more than
// TTL has elapsed or more than Blocks blocks have been mined since it was created.
type ExpiryPolicy struct {
	TTL    time.Duration
	Blocks uint64
}

type record[T any] struct {
	mu sync.Mutex
	p  model.Payment[T]
}

// Registry is the authoritative store of payment records keyed by payment id.
type Registry[T any] struct {
	mu       sync.RWMutex
	records  map[model.PaymentID]*record[T]
	source   AddressSource
	required uint64
	attempts int
	height   func() uint64
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an empty registry that allocates addresses from source.
func New[T any](source AddressSource, opts Options, logger *zap.Logger) *Registry[T] {
	r := &Registry[T]{
		records:  make(map[model.PaymentID]*record[T]),
		source:   source,
		required: opts.RequiredConfirmations,
		attempts: opts.AllocationAttempts,
		height:   opts.Height,
		now:      opts.Now,
		logger:   logger,
	}
	if r.required == 0 {
		r.required = config.RequiredConfirmations
	}
	if r.attempts <= 0 {
		r.attempts = config.AllocationAttempts
	}
	if r.height == nil {
		r.height = func() uint64 { return 0 }
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RequiredConfirmations returns the depth at which a funded payment is confirmed.
func (r *Registry[T]) RequiredConfirmations() uint64 {
	return r.required
}

// Allocate obtains a fresh integrated address and inserts a pending record for it. A
// payment id already held by the registry is never reused; the daemon is asked again.
func (r *Registry[T]) Allocate(ctx context.Context, extra T, amountRequested model.Amount) (model.PaymentID, model.Address, error) {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		addr, err := r.source.CreateAddress(ctx)
		if err != nil {
			return model.PaymentID{}, "", fmt.Errorf("%w: %w", ErrAllocation, err)
		}

		now := r.now()
		p := model.Payment[T]{
			ID:              addr.PaymentID,
			Address:         addr.Address,
			Status:          model.StatusPending,
			CreatedAt:       now,
			CreatedHeight:   r.height(),
			AmountRequested: amountRequested,
			UpdatedAt:       now,
			Extra:           extra,
		}

		r.mu.Lock()
		_, taken := r.records[addr.PaymentID]
		if !taken {
			r.records[addr.PaymentID] = &record[T]{p: p}
		}
		r.mu.Unlock()

		if taken {
			r.logger.Warn("payment_id_collision",
				zap.String("payment_id", addr.PaymentID.String()),
				zap.Int("attempt", attempt),
			)
			continue
		}

		r.logger.Info("payment_allocated",
			zap.String("payment_id", p.ID.String()),
			zap.Uint64("amount_requested", uint64(amountRequested)),
			zap.Uint64("created_height", p.CreatedHeight),
		)
		return p.ID, p.Address, nil
	}
	return model.PaymentID{}, "", fmt.Errorf("%w: no unused payment id after %d attempts", ErrAllocation, r.attempts)
}

// Get returns a copy of the record for id.
func (r *Registry[T]) Get(id model.PaymentID) (model.Payment[T], bool) {
	rec := r.lookup(id)
	if rec == nil {
		return model.Payment[T]{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.p, true
}

// Apply folds an observation into the record for id. It is the only path that writes the
// received amount and confirmation depth.
func (r *Registry[T]) Apply(id model.PaymentID, obs model.Observation) (model.StatusChange, error) {
	rec := r.lookup(id)
	if rec == nil {
		return model.StatusChange{}, fmt.Errorf("apply %s: %w", id, ErrNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	cur := rec.p
	change := model.StatusChange{
		ID:             id,
		From:           cur.Status,
		To:             cur.Status,
		AmountReceived: cur.AmountReceived,
		Confirmations:  cur.Confirmations,
	}

	if anomaly := regression(cur, obs); anomaly != "" {
		change.Anomaly = anomaly
		r.logger.Warn("reorg_observation_ignored",
			zap.String("payment_id", id.String()),
			zap.String("anomaly", anomaly),
			zap.Uint64("recorded_amount", uint64(cur.AmountReceived)),
			zap.Uint64("observed_amount", uint64(obs.Amount)),
			zap.Uint64("recorded_confirmations", cur.Confirmations),
			zap.Uint64("observed_confirmations", obs.Confirmations),
		)
		return change, nil
	}

	next := cur
	if cur.Status == model.StatusConfirmed {
		// Confirmed is terminal: only depth moves forward.
		if obs.Confirmations > cur.Confirmations {
			next.Confirmations = obs.Confirmations
		}
	} else {
		next.AmountReceived = obs.Amount
		next.Confirmations = obs.Confirmations
		next.Status = nextStatus(cur, obs, r.required)
	}

	if deep := obs.ConfirmedAmount(r.required); deep > next.AmountConfirmed {
		next.AmountConfirmed = deep
	}

	if next.Status == cur.Status && next.AmountReceived == cur.AmountReceived &&
		next.Confirmations == cur.Confirmations && next.AmountConfirmed == cur.AmountConfirmed {
		return change, nil
	}

	next.UpdatedAt = r.now()
	rec.p = next

	change.To = next.Status
	change.AmountReceived = next.AmountReceived
	change.Confirmations = next.Confirmations
	change.Applied = true

	if change.Transitioned() {
		r.logger.Info("payment_status_changed",
			zap.String("payment_id", id.String()),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
			zap.Uint64("amount_received", uint64(next.AmountReceived)),
			zap.Uint64("confirmations", next.Confirmations),
		)
	}
	return change, nil
}

// regression reports why obs would move a record backwards, or "" if it would not.
func regression[T any](cur model.Payment[T], obs model.Observation) string {
	switch {
	case obs.Amount < cur.AmountReceived:
		return AnomalyAmountDecreased
	case obs.Amount == cur.AmountReceived && obs.Confirmations < cur.Confirmations:
		return AnomalyConfirmationsDecreased
	default:
		return ""
	}
}

func nextStatus[T any](cur model.Payment[T], obs model.Observation, required uint64) model.PaymentStatus {
	switch {
	case cur.Status == model.StatusExpired:
		return model.StatusExpired
	case obs.Amount == 0:
		return cur.Status
	case obs.Amount >= cur.AmountRequested && obs.Confirmations >= required:
		return model.StatusConfirmed
	default:
		return model.StatusPartiallyReceived
	}
}

// UpdateExtra replaces the caller payload of id.
func (r *Registry[T]) UpdateExtra(id model.PaymentID, extra T) error {
	rec := r.lookup(id)
	if rec == nil {
		return fmt.Errorf("update extra %s: %w", id, ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.p.Extra = extra
	rec.p.UpdatedAt = r.now()
	return nil
}

// Evict removes id from the registry.
func (r *Registry[T]) Evict(id model.PaymentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("evict %s: %w", id, ErrNotFound)
	}
	delete(r.records, id)
	r.logger.Info("payment_evicted", zap.String("payment_id", id.String()))
	return nil
}

// Expire marks pending and partially received payments expired once policy says they have
// lapsed. Keys are kept.
func (r *Registry[T]) Expire(now time.Time, height uint64, policy ExpiryPolicy) []model.StatusChange {
	var changes []model.StatusChange
	for _, rec := range r.all() {
		rec.mu.Lock()
		p := rec.p
		if p.Status == model.StatusPending || p.Status == model.StatusPartiallyReceived {
			if lapsed(p, now, height, policy) {
				rec.p.Status = model.StatusExpired
				rec.p.UpdatedAt = now
				changes = append(changes, model.StatusChange{
					ID:             p.ID,
					From:           p.Status,
					To:             model.StatusExpired,
					AmountReceived: p.AmountReceived,
					Confirmations:  p.Confirmations,
					Applied:        true,
				})
			}
		}
		rec.mu.Unlock()
	}
	if len(changes) > 0 {
		r.logger.Info("payments_expired", zap.Int("count", len(changes)), zap.Uint64("height", height))
	}
	return changes
}

func lapsed[T any](p model.Payment[T], now time.Time, height uint64, policy ExpiryPolicy) bool {
	if policy.TTL > 0 && now.Sub(p.CreatedAt) > policy.TTL {
		return true
	}
	return policy.Blocks > 0 && height > p.CreatedHeight && height-p.CreatedHeight > policy.Blocks
}

// SweepExpired evicts confirmed and expired records created more than ttl before now and
// returns their ids.
func (r *Registry[T]) SweepExpired(now time.Time, ttl time.Duration) []model.PaymentID {
	cutoff := now.Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []model.PaymentID
	for id, rec := range r.records {
		rec.mu.Lock()
		p := rec.p
		rec.mu.Unlock()

		if !p.CreatedAt.Before(cutoff) {
			continue
		}
		if p.Status.IsTerminal() || p.Status == model.StatusExpired {
			delete(r.records, id)
			swept = append(swept, id)
		}
	}
	if len(swept) > 0 {
		r.logger.Info("payments_swept", zap.Int("count", len(swept)), zap.Duration("ttl", ttl))
	}
	return swept
}

// Snapshot returns a copy of every record ordered by creation time.
func (r *Registry[T]) Snapshot() []model.Payment[T] {
	recs := r.all()
	out := make([]model.Payment[T], 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.p)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Restore loads records from a snapshot. Ids already present are left untouched.
func (r *Registry[T]) Restore(payments []model.Payment[T]) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	restored := 0
	for _, p := range payments {
		if _, ok := r.records[p.ID]; ok {
			continue
		}
		r.records[p.ID] = &record[T]{p: p}
		restored++
	}
	return restored
}

// Len returns the number of records held.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry[T]) lookup(id model.PaymentID) *record[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}

func (r *Registry[T]) all() []*record[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]*record[T], 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	return recs
}

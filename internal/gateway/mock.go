package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

// MockConfig holds configuration for creating a simulated wallet daemon.
type MockConfig struct {
	StartHeight uint64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// Mock simulates monero-wallet-rpc in memory for tests and the server's simulation mode.
type Mock struct {
	mu          sync.Mutex
	config      MockConfig
	height      uint64
	transfers   []model.Transfer
	queuedIDs   []model.PaymentID
	unreachable bool
	rejecting   bool
	calls       map[string]int
	txSeq       int
}

// NewMock creates a simulated daemon at cfg.StartHeight.
func NewMock(cfg MockConfig) *Mock {
	return &Mock{
		config: cfg,
		height: cfg.StartHeight,
		calls:  make(map[string]int),
	}
}

// SetUnreachable toggles a simulated outage: every call fails with ErrUnreachable.
func (m *Mock) SetUnreachable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = down
}

// IsUnreachable returns the current outage state.
func (m *Mock) IsUnreachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unreachable
}

// SetRejecting makes every call fail with ErrRejected, as a locked wallet would.
func (m *Mock) SetRejecting(rejecting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejecting = rejecting
}

// QueueAddressIDs makes the next CreateAddress calls hand out these payment ids in order.
func (m *Mock) QueueAddressIDs(ids ...model.PaymentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queuedIDs = append(m.queuedIDs, ids...)
}

// SimulateTransfer records an incoming transfer with the given depth. Zero confirmations
// places it in the pool. Returns the generated tx id.
func (m *Mock) SimulateTransfer(id model.PaymentID, amount model.Amount, confirmations uint64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txSeq++
	txid := fmt.Sprintf("mocktx%058d", m.txSeq)
	var height uint64
	if confirmations > 0 {
		if confirmations >= m.height {
			m.height = confirmations + 1
		}
		height = m.height - confirmations
	}
	m.transfers = append(m.transfers, model.Transfer{
		PaymentID: id,
		TxID:      txid,
		Amount:    amount,
		Height:    height,
	})
	return txid
}

// MineBlocks advances the chain by n blocks. Pool transfers are mined into the first new block.
func (m *Mock) MineBlocks(n uint64) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.transfers {
		if m.transfers[i].Height == 0 {
			m.transfers[i].Height = m.height
		}
	}
	m.height += n
}

// SimulateReorg drops a transfer from the chain as a reorganization would.
func (m *Mock) SimulateReorg(txid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.transfers {
		if t.TxID == txid {
			m.transfers = append(m.transfers[:i], m.transfers[i+1:]...)
			return true
		}
	}
	return false
}

// CallCount returns how many times the named method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Mock) CreateAddress(ctx context.Context) (model.IntegratedAddress, error) {
	if err := m.enter(ctx, "make_integrated_address"); err != nil {
		return model.IntegratedAddress{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var id model.PaymentID
	if len(m.queuedIDs) > 0 {
		id = m.queuedIDs[0]
		m.queuedIDs = m.queuedIDs[1:]
	} else if _, err := rand.Read(id[:]); err != nil {
		return model.IntegratedAddress{}, fmt.Errorf("make_integrated_address: %w: %v", ErrRejected, err)
	}
	return model.IntegratedAddress{
		Address:   model.Address("4Mock" + hex.EncodeToString(id[:])),
		PaymentID: id,
	}, nil
}

func (m *Mock) Height(ctx context.Context) (uint64, error) {
	if err := m.enter(ctx, "get_height"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, nil
}

// Payments returns mined transfers at or above minHeight, the Gateway bound. RPCClient maps
// that bound onto the wallet's exclusive one.
func (m *Mock) Payments(ctx context.Context, ids []model.PaymentID, minHeight uint64) ([]model.Transfer, error) {
	if err := m.enter(ctx, "get_bulk_payments"); err != nil {
		return nil, err
	}

	wanted := make(map[model.PaymentID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transfer
	for _, t := range m.transfers {
		if _, ok := wanted[t.PaymentID]; !ok {
			continue
		}
		if t.Height == 0 || t.Height < minHeight {
			continue
		}
		out = append(out, m.withDepth(t))
	}
	return out, nil
}

func (m *Mock) Transfers(ctx context.Context, cursor Cursor) (TransferPage, error) {
	if err := m.enter(ctx, "get_transfers"); err != nil {
		return TransferPage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	page := TransferPage{Next: cursor}
	for _, t := range m.transfers {
		if t.Height != 0 && t.Height < uint64(cursor) {
			continue
		}
		page.Transfers = append(page.Transfers, m.withDepth(t))
		if Cursor(t.Height) > page.Next {
			page.Next = Cursor(t.Height)
		}
	}
	return page, nil
}

// withDepth is called with m.mu held.
func (m *Mock) withDepth(t model.Transfer) model.Transfer {
	t.Confirmations = depth(m.height, t.Height)
	return t
}

// enter records the call, simulates latency and applies the outage switches.
func (m *Mock) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls[method]++
	latency := m.config.MinLatency
	if spread := m.config.MaxLatency - m.config.MinLatency; spread > 0 {
		latency += time.Duration(time.Now().UnixNano() % int64(spread))
	}
	unreachable, rejecting := m.unreachable, m.rejecting
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %v", method, ErrUnreachable, ctx.Err())
		}
	} else if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrUnreachable, err)
	}

	if unreachable {
		return fmt.Errorf("%s: %w: simulated outage", method, ErrUnreachable)
	}
	if rejecting {
		return fmt.Errorf("%s: %w: wallet locked", method, ErrRejected)
	}
	return nil
}

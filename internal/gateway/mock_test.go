package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

func TestMock_CreateAddress_UsesQueuedIDs(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 100})
	first := model.PaymentID{1}
	m.QueueAddressIDs(first)

	addr, err := m.CreateAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, addr.PaymentID)
	assert.NotEmpty(t, addr.Address)

	random, err := m.CreateAddress(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, random.PaymentID)
	assert.Equal(t, 2, m.CallCount("make_integrated_address"))
}

func TestMock_TransferDepthTracksMining(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 100})
	id := model.PaymentID{7}
	ctx := context.Background()

	m.SimulateTransfer(id, 500, 0)

	page, err := m.Transfers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page.Transfers, 1)
	assert.Equal(t, uint64(0), page.Transfers[0].Confirmations)

	mined, err := m.Payments(ctx, []model.PaymentID{id}, 0)
	require.NoError(t, err)
	assert.Empty(t, mined, "pool transfers are not reported as payments")

	m.MineBlocks(3)
	mined, err = m.Payments(ctx, []model.PaymentID{id}, 0)
	require.NoError(t, err)
	require.Len(t, mined, 1)
	assert.Equal(t, uint64(3), mined[0].Confirmations)

	h, err := m.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(103), h)
}

func TestMock_SimulateTransferWithDepth(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 100})
	id := model.PaymentID{3}
	m.SimulateTransfer(id, 42, 12)

	transfers, err := m.Payments(context.Background(), []model.PaymentID{id}, 0)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(12), transfers[0].Confirmations)
	assert.Equal(t, model.Amount(42), transfers[0].Amount)
}

func TestMock_TransfersRespectsCursor(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 100})
	m.SimulateTransfer(model.PaymentID{1}, 1, 50) // height 50
	m.SimulateTransfer(model.PaymentID{2}, 1, 5)  // height 95

	page, err := m.Transfers(context.Background(), Cursor(90))
	require.NoError(t, err)
	require.Len(t, page.Transfers, 1)
	assert.Equal(t, model.PaymentID{2}, page.Transfers[0].PaymentID)
}

func TestMock_SimulateReorg(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 100})
	txid := m.SimulateTransfer(model.PaymentID{1}, 10, 2)

	assert.True(t, m.SimulateReorg(txid))
	assert.False(t, m.SimulateReorg(txid))

	page, err := m.Transfers(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, page.Transfers)
}

func TestMock_OutageSwitches(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 1})
	ctx := context.Background()

	m.SetUnreachable(true)
	assert.True(t, m.IsUnreachable())
	_, err := m.Height(ctx)
	assert.ErrorIs(t, err, ErrUnreachable)

	m.SetUnreachable(false)
	m.SetRejecting(true)
	_, err = m.CreateAddress(ctx)
	assert.ErrorIs(t, err, ErrRejected)

	m.SetRejecting(false)
	_, err = m.Height(ctx)
	assert.NoError(t, err)
}

func TestMock_ContextCancellation(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 1, MinLatency: 5 * time.Second, MaxLatency: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Transfers(ctx, 0)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, "unreachable", Classify(err))
}

func TestMock_ConcurrentAccess(t *testing.T) {
	m := NewMock(MockConfig{StartHeight: 10})
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.SimulateTransfer(model.PaymentID{byte(i)}, 1, uint64(i%3))
			_, _ = m.Transfers(ctx, 0)
			m.MineBlocks(1)
		}(i)
	}
	wg.Wait()

	page, err := m.Transfers(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, page.Transfers, 50)
}

package gateway

import (
	"context"
	"errors"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

var (
	// ErrUnreachable means the daemon could not be reached or did not answer in time.
	ErrUnreachable = errors.New("wallet daemon unreachable")
	// ErrRejected means the daemon answered but refused the request.
	ErrRejected = errors.New("wallet daemon rejected request")
)

// Cursor is an opaque resume point for transfer listing. The wallet RPC uses it as a
// minimum block height.
type Cursor uint64

// TransferPage is one page of incoming transfers.
type TransferPage struct {
	Transfers []model.Transfer
	Next      Cursor
	More      bool
}

// Gateway defines the calls the tracker makes against the wallet daemon. Implementations
// never retry; failures wrap ErrUnreachable or ErrRejected.
type Gateway interface {
	// CreateAddress mints a fresh integrated address with a new payment id.
	CreateAddress(ctx context.Context) (model.IntegratedAddress, error)
	// Height returns the wallet's current block height.
	Height(ctx context.Context) (uint64, error)
	// Payments returns mined transfers for the given payment ids at or above minHeight.
	// minHeight is inclusive; implementations translate it to the daemon's own bound.
	Payments(ctx context.Context, ids []model.PaymentID, minHeight uint64) ([]model.Transfer, error)
	// Transfers lists incoming transfers, pool included, at or above the cursor height.
	Transfers(ctx context.Context, cursor Cursor) (TransferPage, error)
}

// Classify maps an error to the kind reported to callers: "unreachable", "rejected" or "".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnreachable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "unreachable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "unreachable"
	}
}

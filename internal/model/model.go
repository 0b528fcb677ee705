package model

import (
	"encoding/hex"
	"fmt"
	"time"
)

// PaymentID is the 8-byte payment id embedded in an integrated address.
type PaymentID [8]byte

// ParsePaymentID decodes a 16 character hex payment id.
func ParsePaymentID(s string) (PaymentID, error) {
	var id PaymentID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("payment id must be %d hex characters, got %d", hex.EncodedLen(len(id)), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid payment id %q: %w", s, err)
	}
	return id, nil
}

func (id PaymentID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero id the wallet uses for "no payment id".
func (id PaymentID) IsZero() bool {
	return id == PaymentID{}
}

func (id PaymentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PaymentID) UnmarshalText(b []byte) error {
	parsed, err := ParsePaymentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Address is an integrated address as returned by the wallet daemon.
type Address string

// IntegratedAddress pairs a freshly minted address with its payment id.
type IntegratedAddress struct {
	Address   Address   `json:"address"`
	PaymentID PaymentID `json:"payment_id"`
}

// PaymentStatus represents where a payment is in its lifecycle.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusPartiallyReceived PaymentStatus = "partially_received"
	StatusExpired           PaymentStatus = "expired"
	StatusConfirmed         PaymentStatus = "confirmed"
)

// Rank orders statuses by how far a payment has advanced. A record's rank never decreases.
func (s PaymentStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPartiallyReceived:
		return 1
	case StatusExpired:
		return 2
	case StatusConfirmed:
		return 3
	default:
		return -1
	}
}

// IsTerminal returns true once no observation can change the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusConfirmed
}

// Payment is the tracked state of one allocated payment id. Extra is caller-owned and never
// interpreted by the tracker.
type Payment[T any] struct {
	ID              PaymentID     `json:"payment_id"`
	Address         Address       `json:"address"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	CreatedHeight   uint64        `json:"created_height"`
	AmountRequested Amount        `json:"amount_requested"`
	AmountReceived  Amount        `json:"amount_received"`
	AmountConfirmed Amount        `json:"amount_confirmed"`
	Confirmations   uint64        `json:"confirmations"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Extra           T             `json:"extra"`
}

// OpenAmount reports whether the payment accepts any positive amount.
func (p Payment[T]) OpenAmount() bool {
	return p.AmountRequested == 0
}

// Transfer is a single incoming transfer reported by the wallet daemon.
type Transfer struct {
	PaymentID     PaymentID `json:"payment_id"`
	TxID          string    `json:"txid"`
	Amount        Amount    `json:"amount"`
	Confirmations uint64    `json:"confirmations"`
	Height        uint64    `json:"height"`
}

// Observation is the aggregated view of all transfers seen for one payment id.
type Observation struct {
	Amount        Amount `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
	TxCount       int    `json:"tx_count"`
	Parts         []Part `json:"parts,omitempty"`
}

// Part is one de-duplicated transfer inside an Observation.
type Part struct {
	Amount        Amount `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
}

// ConfirmedAmount sums the transfers buried at least required blocks deep. Without parts the
// observation counts as one transfer.
func (o Observation) ConfirmedAmount(required uint64) Amount {
	if len(o.Parts) == 0 {
		if o.Confirmations >= required {
			return o.Amount
		}
		return 0
	}
	var sum Amount
	for _, p := range o.Parts {
		if p.Confirmations >= required {
			sum += p.Amount
		}
	}
	return sum
}

// Observe folds transfers into an Observation per payment id. Transfers repeated under the
// same tx id are counted once. Confirmations is the depth of the most recent transfer.
func Observe(transfers []Transfer) map[PaymentID]Observation {
	type key struct {
		id   PaymentID
		txid string
	}
	seen := make(map[key]struct{}, len(transfers))
	out := make(map[PaymentID]Observation)
	for _, t := range transfers {
		k := key{t.PaymentID, t.TxID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		obs, ok := out[t.PaymentID]
		if !ok || t.Confirmations < obs.Confirmations {
			obs.Confirmations = t.Confirmations
		}
		obs.Amount += t.Amount
		obs.TxCount++
		obs.Parts = append(obs.Parts, Part{Amount: t.Amount, Confirmations: t.Confirmations})
		out[t.PaymentID] = obs
	}
	return out
}

// StatusChange describes the outcome of applying one observation.
type StatusChange struct {
	ID             PaymentID     `json:"payment_id"`
	From           PaymentStatus `json:"from"`
	To             PaymentStatus `json:"to"`
	AmountReceived Amount        `json:"amount_received"`
	Confirmations  uint64        `json:"confirmations"`
	Applied        bool          `json:"applied"`
	Anomaly        string        `json:"anomaly,omitempty"`
}

// Transitioned returns true if the status moved.
func (c StatusChange) Transitioned() bool {
	return c.From != c.To
}

// BulkResult is the per-id outcome of a bulk poll.
type BulkResult struct {
	Status PaymentStatus `json:"status,omitempty"`
	Change *StatusChange `json:"change,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// BulkPollReport summarizes one drain of the pending set.
type BulkPollReport struct {
	ID        string                   `json:"id"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Cursor    uint64                   `json:"cursor"`
	Pages     int                      `json:"pages"`
	Results   map[PaymentID]BulkResult `json:"results"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// Metadata is the caller payload carried by the HTTP API.
type Metadata map[string]string

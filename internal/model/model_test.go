package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid lowercase", "4435a6473cdc78bd", false},
		{"valid uppercase", "4435A6473CDC78BD", false},
		{"too short", "4435a6", true},
		{"too long", "4435a6473cdc78bd00", true},
		{"not hex", "zz35a6473cdc78bd", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParsePaymentID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "4435a6473cdc78bd", id.String())
		})
	}
}

func TestPaymentID_JSONMapKey(t *testing.T) {
	id, err := ParsePaymentID("0102030405060708")
	require.NoError(t, err)

	data, err := json.Marshal(map[PaymentID]int{id: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"0102030405060708":1}`, string(data))

	var decoded map[PaymentID]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded[id])
}

func TestPaymentID_IsZero(t *testing.T) {
	assert.True(t, PaymentID{}.IsZero())
	assert.False(t, PaymentID{1}.IsZero())
}

func TestPaymentStatus_Rank(t *testing.T) {
	ordered := []PaymentStatus{StatusPending, StatusPartiallyReceived, StatusExpired, StatusConfirmed}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Rank(), ordered[i].Rank(),
			"%s should rank below %s", ordered[i-1], ordered[i])
	}
	assert.Equal(t, -1, PaymentStatus("bogus").Rank())
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusConfirmed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusPartiallyReceived.IsTerminal())
	assert.False(t, StatusExpired.IsTerminal())
}

func TestObserve_AggregatesPerPaymentID(t *testing.T) {
	a := PaymentID{1}
	b := PaymentID{2}
	transfers := []Transfer{
		{PaymentID: a, TxID: "tx1", Amount: 100, Confirmations: 12},
		{PaymentID: a, TxID: "tx2", Amount: 50, Confirmations: 3},
		{PaymentID: b, TxID: "tx3", Amount: 7, Confirmations: 0},
	}

	obs := Observe(transfers)
	require.Len(t, obs, 2)
	assert.Equal(t, Observation{
		Amount: 150, Confirmations: 3, TxCount: 2,
		Parts: []Part{{Amount: 100, Confirmations: 12}, {Amount: 50, Confirmations: 3}},
	}, obs[a])
	assert.Equal(t, Observation{
		Amount: 7, Confirmations: 0, TxCount: 1,
		Parts: []Part{{Amount: 7, Confirmations: 0}},
	}, obs[b])
}

func TestObservation_ConfirmedAmount(t *testing.T) {
	obs := Observation{Amount: 150, Confirmations: 3, Parts: []Part{
		{Amount: 100, Confirmations: 12},
		{Amount: 50, Confirmations: 3},
	}}
	assert.Equal(t, Amount(100), obs.ConfirmedAmount(10))
	assert.Equal(t, Amount(150), obs.ConfirmedAmount(3))
	assert.Equal(t, Amount(0), obs.ConfirmedAmount(13))

	bare := Observation{Amount: 40, Confirmations: 10}
	assert.Equal(t, Amount(40), bare.ConfirmedAmount(10))
	assert.Equal(t, Amount(0), bare.ConfirmedAmount(11))
}

func TestObserve_DuplicateTxCountedOnce(t *testing.T) {
	id := PaymentID{9}
	transfers := []Transfer{
		{PaymentID: id, TxID: "tx1", Amount: 100, Confirmations: 4},
		{PaymentID: id, TxID: "tx1", Amount: 100, Confirmations: 4},
	}
	obs := Observe(transfers)
	assert.Equal(t, Amount(100), obs[id].Amount)
	assert.Equal(t, 1, obs[id].TxCount)
}

func TestAmount_XMR(t *testing.T) {
	assert.Equal(t, "1", Amount(1_000_000_000_000).String())
	assert.Equal(t, "0.001", Amount(1_000_000_000).String())
	assert.Equal(t, "0.000000000001", Amount(1).String())
	assert.Equal(t, "0", Amount(0).String())
}

func TestParseXMR(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Amount
		wantErr bool
	}{
		{"whole", "2", 2_000_000_000_000, false},
		{"fraction", "0.25", 250_000_000_000, false},
		{"smallest unit", "0.000000000001", 1, false},
		{"too precise", "0.0000000000001", 0, true},
		{"negative", "-1", 0, true},
		{"garbage", "abc", 0, true},
		{"overflow", "100000000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseXMR(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusChange_Transitioned(t *testing.T) {
	assert.True(t, StatusChange{From: StatusPending, To: StatusConfirmed}.Transitioned())
	assert.False(t, StatusChange{From: StatusConfirmed, To: StatusConfirmed}.Transitioned())
}

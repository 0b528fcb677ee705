package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

// RPCConfig configures a wallet RPC client. Username and Password are sent as HTTP basic
// auth when set; a custom HTTPClient can supply any other authentication scheme.
type RPCConfig struct {
	Endpoint   string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// RPCClient talks JSON-RPC 2.0 to monero-wallet-rpc.
type RPCClient struct {
	endpoint string
	username string
	password string
	http     *http.Client
	logger   *zap.Logger
}

// NewRPCClient creates a client for the wallet RPC at cfg.Endpoint.
func NewRPCClient(cfg RPCConfig, logger *zap.Logger) *RPCClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &RPCClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/json_rpc",
		username: cfg.Username,
		password: cfg.Password,
		http:     hc,
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("wallet_rpc_call",
		zap.String("method", method),
		zap.Int("http_status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: http %d", method, ErrUnreachable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s: %w: http %d", method, ErrRejected, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w: read body: %v", method, ErrUnreachable, err)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: %w: malformed response: %v", method, ErrRejected, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w: code %d: %s", method, ErrRejected, envelope.Error.Code, envelope.Error.Message)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("%s: %w: malformed result: %v", method, ErrRejected, err)
	}
	return nil
}

// OpenWallet opens a wallet file on the daemon. It is part of the startup handshake.
func (c *RPCClient) OpenWallet(ctx context.Context, filename, password string) error {
	params := map[string]string{"filename": filename, "password": password}
	return c.call(ctx, "open_wallet", params, nil)
}

// CreateAddress calls make_integrated_address with a daemon-chosen payment id.
func (c *RPCClient) CreateAddress(ctx context.Context) (model.IntegratedAddress, error) {
	var res struct {
		IntegratedAddress string `json:"integrated_address"`
		PaymentID         string `json:"payment_id"`
	}
	if err := c.call(ctx, "make_integrated_address", struct{}{}, &res); err != nil {
		return model.IntegratedAddress{}, err
	}
	id, err := model.ParsePaymentID(res.PaymentID)
	if err != nil {
		return model.IntegratedAddress{}, fmt.Errorf("make_integrated_address: %w: %v", ErrRejected, err)
	}
	return model.IntegratedAddress{Address: model.Address(res.IntegratedAddress), PaymentID: id}, nil
}

// Height calls get_height.
func (c *RPCClient) Height(ctx context.Context) (uint64, error) {
	var res struct {
		Height uint64 `json:"height"`
	}
	if err := c.call(ctx, "get_height", struct{}{}, &res); err != nil {
		return 0, err
	}
	return res.Height, nil
}

// Payments calls get_bulk_payments and derives confirmations from the current height.
func (c *RPCClient) Payments(ctx context.Context, ids []model.PaymentID, minHeight uint64) ([]model.Transfer, error) {
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.String()
	}
	params := map[string]interface{}{
		"payment_ids":      hexIDs,
		// min_block_height is exclusive on the wallet side.
		"min_block_height": minHeightExclusive(minHeight),
	}
	var res struct {
		Payments []struct {
			PaymentID   string `json:"payment_id"`
			TxHash      string `json:"tx_hash"`
			Amount      uint64 `json:"amount"`
			BlockHeight uint64 `json:"block_height"`
		} `json:"payments"`
	}
	if err := c.call(ctx, "get_bulk_payments", params, &res); err != nil {
		return nil, err
	}
	if len(res.Payments) == 0 {
		return nil, nil
	}

	height, err := c.Height(ctx)
	if err != nil {
		return nil, err
	}

	transfers := make([]model.Transfer, 0, len(res.Payments))
	for _, p := range res.Payments {
		id, err := model.ParsePaymentID(p.PaymentID)
		if err != nil {
			c.logger.Warn("wallet_rpc_bad_payment_id", zap.String("payment_id", p.PaymentID), zap.Error(err))
			continue
		}
		transfers = append(transfers, model.Transfer{
			PaymentID:     id,
			TxID:          p.TxHash,
			Amount:        model.Amount(p.Amount),
			Confirmations: depth(height, p.BlockHeight),
			Height:        p.BlockHeight,
		})
	}
	return transfers, nil
}

type transferEntry struct {
	TxID          string `json:"txid"`
	PaymentID     string `json:"payment_id"`
	Amount        uint64 `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
	Height        uint64 `json:"height"`
}

// Transfers calls get_transfers for incoming and pool transfers above the cursor height.
// The wallet returns everything in one response, so the page never has More set.
func (c *RPCClient) Transfers(ctx context.Context, cursor Cursor) (TransferPage, error) {
	params := map[string]interface{}{
		"in":               true,
		"pool":             true,
		"filter_by_height": true,
		// min_height is exclusive on the wallet side.
		"min_height": minHeightExclusive(uint64(cursor)),
	}
	var res struct {
		In   []transferEntry `json:"in"`
		Pool []transferEntry `json:"pool"`
	}
	if err := c.call(ctx, "get_transfers", params, &res); err != nil {
		return TransferPage{}, err
	}

	page := TransferPage{Next: cursor}
	for _, group := range [][]transferEntry{res.In, res.Pool} {
		for _, e := range group {
			id, err := model.ParsePaymentID(e.PaymentID)
			if err != nil || id.IsZero() {
				continue
			}
			page.Transfers = append(page.Transfers, model.Transfer{
				PaymentID:     id,
				TxID:          e.TxID,
				Amount:        model.Amount(e.Amount),
				Confirmations: e.Confirmations,
				Height:        e.Height,
			})
			if Cursor(e.Height) > page.Next {
				page.Next = Cursor(e.Height)
			}
		}
	}
	return page, nil
}

func minHeightExclusive(h uint64) uint64 {
	if h == 0 {
		return 0
	}
	return h - 1
}

func depth(chainHeight, txHeight uint64) uint64 {
	if txHeight == 0 || chainHeight <= txHeight {
		return 0
	}
	return chainHeight - txHeight
}

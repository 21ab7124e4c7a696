package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Client is the read surface of the ledger RPC node.
type Client interface {
	ListRecentActivity(ctx context.Context, wallet string, limit int) ([]ActivityRef, error)
	FetchActivityDetail(ctx context.Context, ref ActivityRef) (*ActivityEvent, error)
	ListTopHolders(ctx context.Context, limit int) ([]HolderInfo, error)
}

// RPCClient talks JSON-RPC to a ledger node over HTTP. It does no pacing or
// retrying of its own; wrap it with Throttled for that.
type RPCClient struct {
	httpClient *http.Client
	rpcURL     string
	tokenMint  string
	nextID     atomic.Int64
	logger     *zap.Logger
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func NewRPCClient(rpcURL, tokenMint string, timeout time.Duration, logger *zap.Logger) *RPCClient {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &RPCClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		rpcURL:    rpcURL,
		tokenMint: tokenMint,
		logger:    logger,
	}
}

func (c *RPCClient) ListRecentActivity(ctx context.Context, wallet string, limit int) ([]ActivityRef, error) {
	params := []any{wallet, map[string]any{"limit": limit}}

	var refs []ActivityRef
	if err := c.call(ctx, "getSignaturesForAddress", params, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *RPCClient) FetchActivityDetail(ctx context.Context, ref ActivityRef) (*ActivityEvent, error) {
	params := []any{ref.Signature, map[string]any{"encoding": "json", "maxSupportedTransactionVersion": 0}}

	var raw json.RawMessage
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		// Pruned from the node's history; callers treat nil as skippable.
		return nil, nil
	}

	return &ActivityEvent{
		Kind:      "transaction",
		Signature: ref.Signature,
		Slot:      ref.Slot,
		Payload:   raw,
		Timestamp: ref.BlockTime,
	}, nil
}

func (c *RPCClient) ListTopHolders(ctx context.Context, limit int) ([]HolderInfo, error) {
	params := []any{c.tokenMint, map[string]any{"commitment": "confirmed"}}

	var result struct {
		Value []struct {
			Address string `json:"address"`
			Amount  string `json:"uiAmountString"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenLargestAccounts", params, &result); err != nil {
		return nil, err
	}

	holders := make([]HolderInfo, 0, len(result.Value))
	for i, v := range result.Value {
		if limit > 0 && i >= limit {
			break
		}
		holders = append(holders, HolderInfo{
			Address: v.Address,
			Balance: v.Amount,
			Rank:    i + 1,
		})
	}
	return holders, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	c.logger.Debug("rpc call", zap.String("method", method))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("%w: reading body: %v", ErrUnavailable, readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, method)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == -32429 {
			return ErrRateLimited
		}
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: decoding result: %v", ErrUnavailable, err)
		}
	}
	return nil
}

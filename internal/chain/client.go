// Package chain is the ledger gateway: a thin JSON-RPC client for an
// object/event ledger exposing Sui-compatible methods.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// Client provides ledger RPC functionality. It is safe for concurrent use.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	timeout    time.Duration
	pageSize   int
	nextID     atomic.Uint64
}

// Config holds client configuration.
type Config struct {
	RPCURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
	// PageSize bounds each event page. Zero or above MaxEventPageSize uses
	// MaxEventPageSize.
	PageSize int
}

// NewClient creates a new ledger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > MaxEventPageSize {
		pageSize = MaxEventPageSize
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		httpClient: httpClient,
		timeout:    timeout,
		pageSize:   pageSize,
	}, nil
}

// =============================================================================
// Core RPC
// =============================================================================

// Call makes one JSON-RPC round trip bounded by the configured timeout.
// Transport failures and timeouts are wrapped in a TransientError.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &TransientError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Method: method, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response (status %d): %w", method, resp.StatusCode, err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// TransientError marks a failure that may succeed on a later attempt.
type TransientError struct {
	Method string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transport failure or timeout.
func IsTransient(err error) bool {
	var te *TransientError
	if stderrors.As(err, &te) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

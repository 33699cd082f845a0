// Package rpc implements a JSON-RPC 2.0 client for Bitcoin Core.
//
// # Design
//
// The client talks to a single endpoint. Calls are blocking with a fixed
// per-request timeout, and the response body is decoded regardless of the
// HTTP status code: Core reports RPC-level errors (method not found, block
// not available) with non-200 statuses and a JSON body, and those must be
// classified as RPC errors rather than transport failures.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/satwatch/satwatch/internal/indexing/metrics"
)

const defaultTimeout = 10 * time.Second

// Config holds connection settings for a Bitcoin Core endpoint.
type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// Client is a JSON-RPC 2.0 client bound to one endpoint.
type Client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a client from cfg. A zero Timeout falls back to the default.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint: cfg.URL,
		user:     cfg.User,
		password: cfg.Password,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call invokes method with params and returns the raw result payload.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	started := time.Now()
	result, err := c.call(ctx, method, params)
	metrics.ObserveRPC(method, err, time.Since(started))
	return result, err
}

// CallInto invokes method and unmarshals the result into out.
func (c *Client) CallInto(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("rpc call: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &TransportError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))}
	}

	return rpcResp.Result, nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package upstream implements the optional RPC_URL pass-through client
// (SPEC_FULL.md §3 "Domain Stack"): a resty client that forwards any
// JSON-RPC method this engine doesn't originate itself to a real Solana
// RPC endpoint, so a caller never sees "Method not found" for a read
// this mock legitimately has no opinion on (e.g. getVersion, getInflight
// cluster-wide stats). Adapted from the teacher's svmbase resty client
// construction (service/svmbase/svm.go's commented NewSVMHttpClientAll).
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-resty/resty/v2"
)

const (
	requestTimeout = 30 * time.Second
	retryCount     = 3
	retryWaitTime  = 500 * time.Millisecond
	retryMaxWait   = 2 * time.Second
)

// ErrDisabled is returned by Call when no upstream URL was configured.
var ErrDisabled = errors.New("upstream: no RPC fallback configured")

// envelope mirrors the JSON-RPC 2.0 request shape the teacher's RPC
// clients build for every method (service/svmbase, service/solana).
type envelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Error  *rpcError       `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Client forwards JSON-RPC calls to a real upstream Solana RPC endpoint.
// A nil *Client (no URL configured) makes Call always return ErrDisabled.
type Client struct {
	rest *resty.Client
}

// New builds a Client against baseURL, or returns nil if baseURL is
// empty: the engine runs standalone with no upstream fallback.
func New(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWait)

	rest.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
		log.Debug("upstream: request", "url", r.URL, "attempt", r.Attempt)
		return nil
	})
	rest.OnAfterResponse(func(c *resty.Client, r *resty.Response) error {
		if r.StatusCode() >= 500 {
			return fmt.Errorf("upstream: %s returned %d", r.Request.URL, r.StatusCode())
		}
		return nil
	})

	return &Client{rest: rest}
}

// Call forwards method/params to the upstream node and returns its raw
// JSON result, for the RPC dispatch table to hand back verbatim.
func (c *Client) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	body := envelope{Jsonrpc: "2.0", ID: 1, Method: method, Params: params}

	var resp response
	httpResp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		Post("/")
	if err != nil {
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("upstream: http status %d", httpResp.StatusCode())
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("upstream: RPC error: code=%d, message=%s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/omnibridge/omnibridge/pkg/logger"
)

// ErrNotConnected is returned when Request is called before Connect. This
// is a programmer error, not a transport failure.
var ErrNotConnected = errors.New("mcp client not connected: call Connect first")

// Request is one stateless remote action call: a method name, its
// parameters, and the originating chat context.
type Request struct {
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Context map[string]string      `json:"context,omitempty"`
}

// Response is the normalized outcome of a remote action. Data is present
// only on success, Error only on failure.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client speaks JSON-RPC 2.0 over HTTP POST to a remote action server.
// One outbound call per Request; no batching, no retry. Retrying here
// could duplicate side effects on a non-idempotent remote method, so a
// failure is simply reported back as a degraded Response.
type Client struct {
	mu      sync.RWMutex
	http    *resty.Client
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{timeout: timeout}
}

// Connect binds the client to a base address. Reachability is not checked
// here; the connection is proven lazily on the first Request.
func (c *Client) Connect(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.http = resty.New().
		SetBaseURL(url).
		SetTimeout(c.timeout).
		SetHeader("Content-Type", "application/json")
	logger.InfoCF("mcp", "MCP client connected", map[string]interface{}{
		"url": url,
	})
}

// Connected reports whether a base address is bound.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http != nil
}

// Request issues one outbound call. Transport failures and remote-reported
// errors are folded into Response{Success:false}; the only error return is
// ErrNotConnected.
func (c *Client) Request(ctx context.Context, req Request) (Response, error) {
	c.mu.RLock()
	httpc := c.http
	c.mu.RUnlock()

	if httpc == nil {
		return Response{}, ErrNotConnected
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	var rpcResp rpcResponse
	resp, err := httpc.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			JSONRPC: "2.0",
			ID:      uuid.NewString(),
			Method:  req.Method,
			Params:  params,
		}).
		SetResult(&rpcResp).
		Post("/rpc")
	if err != nil {
		logger.ErrorCF("mcp", "MCP request failed", map[string]interface{}{
			"method": req.Method,
			"error":  err.Error(),
		})
		return Response{Success: false, Error: err.Error()}, nil
	}

	if resp.IsError() {
		return Response{
			Success: false,
			Error:   fmt.Sprintf("mcp server returned status %d", resp.StatusCode()),
		}, nil
	}

	if rpcResp.Error != nil {
		msg := rpcResp.Error.Message
		if msg == "" {
			msg = "MCP request failed"
		}
		return Response{Success: false, Error: msg}, nil
	}

	var data interface{}
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &data); err != nil {
			return Response{Success: false, Error: fmt.Sprintf("decode result: %v", err)}, nil
		}
	}

	logger.DebugCF("mcp", "MCP request completed", map[string]interface{}{
		"method": req.Method,
	})
	return Response{Success: true, Data: data}, nil
}

// Disconnect clears the bound address. Safe to call multiple times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		c.http = nil
		logger.InfoC("mcp", "MCP client disconnected")
	}
}

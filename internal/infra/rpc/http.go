// Package rpc implements JSON-RPC 2.0 over HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/offerwatch/internal/indexing/metrics"
)

var (
	// ErrRateLimited is returned when the node answers 429 or reports throttling.
	ErrRateLimited = errors.New("rate limited")

	// ErrBlocked is returned when the node answers 403.
	ErrBlocked = errors.New("ip blocked")
)

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HealthStatus summarizes recent calls.
type HealthStatus struct {
	Available     bool
	LastSuccessAt time.Time
	LastFailureAt time.Time
	SuccessCount  int
	FailureCount  int
	AvgLatency    time.Duration
}

// HTTPClient makes JSON-RPC calls against a single endpoint.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
}

// NewHTTPClient creates a JSON-RPC client.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call invokes method and decodes the result into result.
func (c *HTTPClient) Call(ctx context.Context, method string, result any, params ...any) error {
	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(method).Inc()

	err := c.call(ctx, method, result, params)
	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(method).Observe(latency.Seconds())

	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		c.recordFailure()
		return fmt.Errorf("%s: %w", method, err)
	}
	c.recordSuccess(latency)
	return nil
}

func (c *HTTPClient) call(ctx context.Context, method string, result any, params []any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %q", ErrRateLimited, resp.Header.Get("Retry-After"))
	case http.StatusForbidden:
		return ErrBlocked
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if isThrottleMessage(string(data)) {
			return fmt.Errorf("%w: %s", ErrRateLimited, data)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, data)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		if isThrottleMessage(rpcResp.Error.Message) {
			return fmt.Errorf("%w: %s", ErrRateLimited, rpcResp.Error.Message)
		}
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

var throttlePatterns = []string{
	"rate limit",
	"too many requests",
	"exceeded",
	"throttl",
}

func isThrottleMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range throttlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (c *HTTPClient) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.Available = true
	c.health.LastSuccessAt = time.Now()
	c.health.SuccessCount++
	c.totalLatency += latency
	c.health.AvgLatency = c.totalLatency / time.Duration(c.health.SuccessCount)
}

func (c *HTTPClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.LastFailureAt = time.Now()
	c.health.FailureCount++
	// Down after repeated failures with no success for a minute.
	if c.health.FailureCount >= 3 && time.Since(c.health.LastSuccessAt) > time.Minute {
		c.health.Available = false
	}
}

// Health returns the client's health status.
func (c *HTTPClient) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

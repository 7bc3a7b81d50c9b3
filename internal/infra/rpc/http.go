package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	Chain   string // metrics label
	Name    string // provider label, e.g. "lcd" or "sidecar"
	BaseURL string
	Timeout time.Duration
	RPS     float64 // 0 disables rate limiting
	Burst   int
}

// HealthStatus is a snapshot of endpoint health.
type HealthStatus struct {
	Available     bool
	LastSuccessAt time.Time
	LastFailureAt time.Time
	SuccessCount  int
	FailureCount  int
	AvgLatency    time.Duration
}

// HTTPClient talks REST and JSON-RPC 2.0 to one endpoint.
type HTTPClient struct {
	chain      string
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Uint64

	mu     sync.RWMutex
	health HealthStatus

	Monitor *Monitor
}

// NewHTTPClient creates a client for cfg.BaseURL.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &HTTPClient{
		chain:   cfg.Chain,
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
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
		Monitor: NewMonitor(),
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

// BaseURL returns the endpoint this client talks to.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// GetJSON performs a GET on path with query and decodes the body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, "GET "+metricPath(path))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// Call makes a single JSON-RPC 2.0 call and decodes the result into out.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, req, method)
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		if c.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			c.Monitor.RecordThrottle(http.StatusTooManyRequests, "")
		}
		c.recordError(rpcResp.Error)
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("parse result: %w", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request, method string) ([]byte, error) {
	// Pre-call checks
	switch c.Monitor.Status() {
	case StatusThrottled, StatusBlocked:
		err := fmt.Errorf("provider throttled, retry after: %v", c.Monitor.RetryAfter())
		c.recordError(err)
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	metrics.RPCCallsTotal.WithLabelValues(c.chain, c.name, method).Inc()
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
		c.recordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(c.chain, c.name, method).Observe(latency.Seconds())

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		c.Monitor.RecordThrottle(http.StatusTooManyRequests, resp.Header.Get("Retry-After"))
		err := &StatusError{Code: resp.StatusCode, Body: "rate limited"}
		c.recordError(err)
		return nil, err
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		c.Monitor.RecordThrottle(http.StatusForbidden, "")
		err := &StatusError{Code: resp.StatusCode, Body: "ip blocked"}
		c.recordError(err)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read response: %w", err)
		c.recordError(err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.Monitor.DetectThrottlePattern(string(body)) {
			c.Monitor.RecordThrottle(http.StatusTooManyRequests, "")
		}
		err := &StatusError{Code: resp.StatusCode, Body: string(body)}
		// 404 is an answer, not an endpoint failure
		if resp.StatusCode != http.StatusNotFound {
			c.recordError(err)
		}
		return nil, err
	}

	c.Monitor.RecordRequest(latency)
	c.recordSuccess(latency)
	return body, nil
}

// Health returns a snapshot of the endpoint health.
func (c *HTTPClient) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.health
	h.AvgLatency = c.Monitor.AverageLatency()
	return h
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *HTTPClient) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.SuccessCount++
	c.health.LastSuccessAt = time.Now()
	c.health.Available = true
}

func (c *HTTPClient) recordError(err error) {
	metrics.RPCErrorsTotal.WithLabelValues(c.chain, c.name, string(ClassifyError(err))).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.FailureCount++
	c.health.LastFailureAt = time.Now()
	// Mark unavailable if too many recent failures
	if c.health.FailureCount > 5 && c.health.FailureCount > c.health.SuccessCount {
		c.health.Available = false
	}
}

// metricPath keeps label cardinality bounded by stripping numeric path segments.
func metricPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p != "" && strings.Trim(p, "0123456789") == "" {
			parts[i] = ":n"
		}
	}
	return strings.Join(parts, "/")
}

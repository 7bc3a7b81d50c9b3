package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestHTTPClient_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cosmos/tx/v1beta1/txs" {
			t.Errorf("expected path /cosmos/tx/v1beta1/txs, got %s", r.URL.Path)
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		if r.Method != http.MethodGet {
			t.Errorf("expected method GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("query"); got != "tx.height=42" {
			t.Errorf("expected query tx.height=42, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"total": "1"})
	}))
	defer server.Close()

	c := NewHTTPClient(ClientConfig{Chain: "test", Name: "lcd", BaseURL: server.URL + "/", Timeout: 5 * time.Second})

	var out struct {
		Total string `json:"total"`
	}
	err := c.GetJSON(context.Background(), "/cosmos/tx/v1beta1/txs", url.Values{"query": {"tx.height=42"}}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Total != "1" {
		t.Errorf("expected total 1, got %q", out.Total)
	}
	if h := c.Health(); h.SuccessCount != 1 || !h.Available {
		t.Errorf("unexpected health: %+v", h)
	}
}

func TestHTTPClient_GetJSON_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":5,"message":"proposal 9 doesn't exist"}`, http.StatusNotFound)
	}))
	defer server.Close()

	c := NewHTTPClient(ClientConfig{Chain: "test", Name: "lcd", BaseURL: server.URL})

	err := c.GetJSON(context.Background(), "/cosmos/gov/v1/proposals/9", nil, &struct{}{})
	if !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if h := c.Health(); h.FailureCount != 0 {
		t.Errorf("404 should not count as failure, got %d", h.FailureCount)
	}
}

func TestHTTPClient_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" || req["method"] != "system_health" {
			t.Errorf("unexpected request: %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"peers": 12, "isSyncing": false},
		})
	}))
	defer server.Close()

	c := NewHTTPClient(ClientConfig{Chain: "test", Name: "node", BaseURL: server.URL})

	var out struct {
		Peers     int  `json:"peers"`
		IsSyncing bool `json:"isSyncing"`
	}
	if err := c.Call(context.Background(), "system_health", nil, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Peers != 12 {
		t.Errorf("expected 12 peers, got %d", out.Peers)
	}
}

func TestHTTPClient_Call_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
	}))
	defer server.Close()

	c := NewHTTPClient(ClientConfig{Chain: "test", Name: "node", BaseURL: server.URL})

	err := c.Call(context.Background(), "nope", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("expected code -32601, got %d", rpcErr.Code)
	}
	if ClassifyError(err) != ErrorTypeClient {
		t.Errorf("expected client error type, got %s", ClassifyError(err))
	}
}

func TestHTTPClient_Throttled(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewHTTPClient(ClientConfig{Chain: "test", Name: "lcd", BaseURL: server.URL})

	err := c.GetJSON(context.Background(), "/blocks/1", nil, nil)
	if ClassifyError(err) != ErrorTypeThrottle {
		t.Fatalf("expected throttle error, got %v", err)
	}
	if c.Monitor.Status() != StatusThrottled {
		t.Errorf("expected throttled status, got %s", c.Monitor.Status())
	}
	if ra := c.Monitor.RetryAfter(); ra <= 0 || ra > 30*time.Second {
		t.Errorf("unexpected retry after: %v", ra)
	}

	// Second call is rejected before reaching the server
	if err := c.GetJSON(context.Background(), "/blocks/2", nil, nil); err == nil {
		t.Fatal("expected error while throttled")
	}
	if calls != 1 {
		t.Errorf("expected 1 server call, got %d", calls)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestMetricPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/blocks/123", "/blocks/:n"},
		{"/cosmos/gov/v1/proposals/7/votes", "/cosmos/gov/v1/proposals/:n/votes"},
		{"/blocks/head", "/blocks/head"},
	}
	for _, tt := range tests {
		if got := metricPath(tt.in); got != tt.want {
			t.Errorf("metricPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMonitor_DetectThrottlePattern(t *testing.T) {
	m := NewMonitor()
	if !m.DetectThrottlePattern("Rate Limit Exceeded for project") {
		t.Error("expected throttle pattern detected")
	}
	if m.DetectThrottlePattern("execution reverted") {
		t.Error("unexpected throttle pattern")
	}
}

func TestMonitor_Cooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMonitor()
	m.now = func() time.Time { return now }

	m.RecordThrottle(http.StatusForbidden, "")
	m.RecordThrottle(http.StatusTooManyRequests, "5")
	if m.Status() != StatusBlocked {
		t.Fatalf("a 429 must not downgrade an active block, got %s", m.Status())
	}
	if m.RetryAfter() != blockCooldown {
		t.Errorf("retry after = %v, want %v", m.RetryAfter(), blockCooldown)
	}

	now = now.Add(blockCooldown)
	if m.Status() != StatusHealthy || m.RetryAfter() != 0 {
		t.Errorf("expected cooldown over, got %s / %v", m.Status(), m.RetryAfter())
	}
}

func TestMonitor_AverageLatency(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < latencyWindow+10; i++ {
		m.RecordRequest(time.Second)
	}
	m.RecordRequest(time.Second + latencyWindow*time.Millisecond)
	if got, want := m.AverageLatency(), time.Second+time.Millisecond; got != want {
		t.Errorf("average = %v, want %v", got, want)
	}
	if m.Status() != StatusHealthy {
		t.Errorf("status = %s", m.Status())
	}
}

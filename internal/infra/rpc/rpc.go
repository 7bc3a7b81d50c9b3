// Package rpc provides the HTTP transport used by REST-style chain families.
//
// This package offers:
//   - HTTPClient: REST GET and JSON-RPC 2.0 POST against one endpoint
//   - Rate limiting per endpoint (golang.org/x/time/rate)
//   - Throttle detection (429, 403, provider error patterns) via Monitor
//   - Prometheus call/error/latency metrics labelled by chain and provider
//
// # Quick Start
//
//	client := rpc.NewHTTPClient(rpc.ClientConfig{
//	    Chain:   "cosmoshub",
//	    Name:    "lcd",
//	    BaseURL: "https://lcd.example.com",
//	    RPS:     10,
//	})
//
//	var latest struct{ Block struct{ Header struct{ Height string } } }
//	err := client.GetJSON(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", nil, &latest)
//
//	var health map[string]any
//	err = client.Call(ctx, "system_health", nil, &health)
package rpc

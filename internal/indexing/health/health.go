// Package health reports listener health over HTTP and the gRPC health protocol.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChainHealth contains health data for one listener.
type ChainHealth struct {
	ChainID     string       `json:"chain_id"`
	Status      SystemStatus `json:"status"`
	State       string       `json:"state"`
	Connected   bool         `json:"connected"`
	Watermark   uint64       `json:"watermark"`
	LatestBlock uint64       `json:"latest_block,omitempty"`
	BlockLag    uint64       `json:"block_lag"`
	Error       string       `json:"error,omitempty"`

	BlocksPerSecond float64    `json:"blocks_per_second,omitempty"`
	LastBlockAt     *time.Time `json:"last_block_at,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Chains       map[string]ChainHealth `json:"chains"`
}

// Aggregate returns the worst status of the report. No chains is healthy.
func Aggregate(chains map[string]ChainHealth) SystemStatus {
	status := StatusHealthy
	for _, c := range chains {
		if c.Status == StatusCritical {
			return StatusCritical
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

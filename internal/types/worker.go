package types

import "time"

// WorkerMetrics contains health metrics for the pose worker
type WorkerMetrics struct {
	Requests     uint64    `json:"requests"`
	Responses    uint64    `json:"responses"`
	Failures     uint64    `json:"failures"`
	Abandoned    uint64    `json:"abandoned"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	ProcessAlive bool      `json:"process_alive"`
	ModelReady   bool      `json:"model_ready"`
	ModelName    string    `json:"model_name,omitempty"`
}
